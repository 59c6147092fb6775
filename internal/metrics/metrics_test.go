package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, m *Metrics, name string) []*dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()
		}
	}
	return nil
}

func TestCounters(t *testing.T) {
	m := New()

	m.CacheLookup("cache-first", "hit")
	m.CacheLookup("cache-first", "hit")
	m.SyncAttempt("sync-chat-messages", "failed")
	m.SetQueueDepth("chatQueue", 3)
	m.SetOnline(true)

	lookups := findMetric(t, m, "careerforge_offline_cache_lookups_total")
	require.Len(t, lookups, 1)
	assert.Equal(t, 2.0, lookups[0].GetCounter().GetValue())

	depth := findMetric(t, m, "careerforge_offline_outbox_depth")
	require.Len(t, depth, 1)
	assert.Equal(t, 3.0, depth[0].GetGauge().GetValue())

	online := findMetric(t, m, "careerforge_offline_remote_online")
	require.Len(t, online, 1)
	assert.Equal(t, 1.0, online[0].GetGauge().GetValue())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("network-first", "miss")
		m.CacheFetch("error")
		m.SyncAttempt("sync-user-data", "synced")
		m.ObserveDrain("sync-user-data", 0.1)
		m.SetQueueDepth("userDataQueue", 0)
		m.SetOnline(false)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheFetch("ok")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "careerforge_offline_cache_upstream_fetches_total")
}
