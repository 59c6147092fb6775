package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky fails the first n calls.
type flaky struct {
	failures int
	calls    int
	err      error
}

func (f *flaky) fetch() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestWithRetry_Attempts(t *testing.T) {
	offline := errors.New("upstream unreachable")

	tests := []struct {
		name      string
		cfg       Config
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{
			name:      "first fetch succeeds",
			cfg:       Config{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}},
			wantCalls: 1,
		},
		{
			name:      "recovers on last attempt",
			cfg:       Config{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond, 2 * time.Millisecond}},
			failures:  2,
			wantCalls: 3,
		},
		{
			name:      "gives up after max attempts",
			cfg:       Config{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}},
			failures:  10,
			wantCalls: 3,
			wantErr:   true,
		},
		{
			name:      "reuses last delay",
			cfg:       Config{MaxAttempts: 5, Delays: []time.Duration{time.Millisecond, time.Millisecond}},
			failures:  10,
			wantCalls: 5,
			wantErr:   true,
		},
		{
			name:      "zero attempts means one",
			cfg:       Config{},
			failures:  10,
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "no delays",
			cfg:       Config{MaxAttempts: 3},
			failures:  10,
			wantCalls: 3,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &flaky{failures: tt.failures, err: offline}

			err := WithRetry(context.Background(), tt.cfg, f.fetch)

			assert.Equal(t, tt.wantCalls, f.calls)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, offline)
			assert.Contains(t, err.Error(), "failed after")
		})
	}
}

func TestWithRetry_CancelDuringBackoff(t *testing.T) {
	cfg := Config{MaxAttempts: 10, Delays: []time.Duration{time.Second}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	f := &flaky{failures: 10, err: errors.New("timeout")}
	start := time.Now()
	err := WithRetry(ctx, cfg, f.fetch)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Equal(t, 1, f.calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWithRetry_DeadlineDuringBackoff(t *testing.T) {
	cfg := Config{MaxAttempts: 10, Delays: []time.Duration{50 * time.Millisecond}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := &flaky{failures: 10, err: errors.New("timeout")}
	err := WithRetry(ctx, cfg, f.fetch)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.calls)
}

func TestWithRetry_WaitsBetweenAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Delays: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}}

	f := &flaky{failures: 10, err: errors.New("error")}
	start := time.Now()
	_ = WithRetry(context.Background(), cfg, f.fetch)

	assert.Equal(t, 3, f.calls)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWithRetry_PermanentStops(t *testing.T) {
	cfg := Config{MaxAttempts: 5, Delays: []time.Duration{time.Millisecond}}
	badManifest := errors.New("bad manifest")

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return Permanent(badManifest)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, badManifest)
	assert.NotContains(t, err.Error(), "failed after")
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.delay(1))
	assert.Equal(t, 4*time.Second, cfg.delay(2))
	assert.Equal(t, 4*time.Second, cfg.delay(7))
	assert.Equal(t, time.Duration(0), Config{}.delay(1))
}
