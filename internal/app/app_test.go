package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nark2019/careerforgeai-sub001/internal/config"
	"github.com/nark2019/careerforgeai-sub001/internal/storage"
)

// careerforge fakes the upstream application. While offline it drops every
// connection without answering.
type careerforge struct {
	offline atomic.Bool
	chats   atomic.Int32
}

func (u *careerforge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u.offline.Load() {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
	}
	switch r.URL.Path {
	case "/":
		_, _ = io.WriteString(w, "<html>dashboard</html>")
	case "/offline.html":
		_, _ = io.WriteString(w, "<html>offline</html>")
	case "/api/health":
		w.WriteHeader(http.StatusOK)
	case "/api/chat/messages":
		u.chats.Add(1)
		w.WriteHeader(http.StatusCreated)
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		Storage: config.StorageConfig{
			Path:    storage.MemoryPath,
			Version: storage.CurrentVersion,
		},
		Cache: config.CacheConfig{
			Backend:         "sqlite",
			Path:            filepath.Join(t.TempDir(), "cache.db"),
			Generation:      "careerforge-v1",
			UpstreamURL:     upstreamURL,
			Manifest:        []string{"/", "/offline.html"},
			FetchTimeout:    time.Second,
			FallbackPath:    "/offline.html",
			APIPrefix:       "/api/",
			InstallAttempts: 1,
		},
		Remote: config.RemoteConfig{
			BaseURL:        upstreamURL,
			RequestTimeout: time.Second,
		},
		Sync: config.SyncConfig{Concurrency: 1, ProbeInterval: time.Minute},
		Auth: config.AuthConfig{Tokens: []string{"admin"}},
		Log:  config.LogConfig{Level: "info", Format: "json"},
	}
}

func newTestApp(t *testing.T) (*App, *gin.Engine, *careerforge) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upstream := &careerforge{}
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	a, err := New(context.Background(), testConfig(t, srv.URL), "test")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close() // Ignore error in test
	})
	require.NoError(t, a.OpenCache(context.Background()))

	router, err := a.Router()
	require.NoError(t, err)
	return a, router, upstream
}

func serve(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestApp_OfflineLifecycle(t *testing.T) {
	a, router, upstream := newTestApp(t)

	// Before activation the proxy passes straight through.
	w := serve(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Offline-Cache"))

	w = serve(router, http.MethodPost, "/api/v1/admin/cache/install", "", "Authorization", "Bearer admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = serve(router, http.MethodPost, "/api/v1/admin/cache/activate", "", "Authorization", "Bearer admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, a.Cache.Claimed())

	upstream.offline.Store(true)

	w = serve(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>dashboard</html>", w.Body.String())
	assert.Equal(t, "hit", w.Header().Get("X-Offline-Cache"))

	w = serve(router, http.MethodGet, "/career-paths", "", "Accept", "text/html")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>offline</html>", w.Body.String())

	w = serve(router, http.MethodPost, "/api/v1/submit/sync-chat-messages", `{"token":"t","data":{"message":"hi"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	upstream.offline.Store(false)
	w = serve(router, http.MethodPost, "/api/v1/sync/sync-chat-messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"synced":1`)
	assert.Equal(t, int32(1), upstream.chats.Load())
}

func TestApp_ActivationSurvivesRestart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upstream := &careerforge{}
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	first, err := New(ctx, cfg, "test")
	require.NoError(t, err)
	require.NoError(t, first.OpenCache(ctx))
	manifest, err := first.ManifestURLs()
	require.NoError(t, err)
	require.NoError(t, first.Cache.Install(ctx, manifest))
	_, err = first.Cache.Activate(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	upstream.offline.Store(true)

	second, err := New(ctx, cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = second.Close() // Ignore error in test
	})
	require.NoError(t, second.OpenCache(ctx))
	assert.True(t, second.Cache.Claimed())

	router, err := second.Router()
	require.NoError(t, err)

	w := serve(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "<html>dashboard</html>", w.Body.String())
	assert.Equal(t, "hit", w.Header().Get("X-Offline-Cache"))
}

func TestApp_HealthAndMetrics(t *testing.T) {
	_, router, _ := newTestApp(t)

	w := serve(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cacheGeneration":"careerforge-v1"`)

	w = serve(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "careerforge_offline_remote_online")
}

func TestApp_AdminRejectsAnonymous(t *testing.T) {
	_, router, _ := newTestApp(t)

	w := serve(router, http.MethodPost, "/api/v1/admin/reset", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	a, _, _ := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
