package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "careerforge-offline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// inEmptyDir runs the test from a directory without a default config file.
func inEmptyDir(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

const validYAML = `
server:
  host: "0.0.0.0"
  port: 9090
  read_timeout: "5s"

storage:
  path: "/var/lib/careerforge/offline.db"

cache:
  backend: "minio"
  generation: "careerforge-v7"
  upstream_url: "https://app.example.com"
  manifest:
    - "/"
    - "/offline.html"
    - "https://cdn.example.com/app.js"

minio:
  endpoint: "https://minio.example.com"
  access_key: "access"
  secret_key: "secret"

sync:
  concurrency: 4
  probe_interval: "10s"

auth:
  tokens: ["admin-token"]

log:
  level: "debug"
  format: "text"
`

func TestLoad_ValidYAML(t *testing.T) {
	cfg, err := Load(writeYAML(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Server.TLSEnabled())

	assert.Equal(t, "/var/lib/careerforge/offline.db", cfg.Storage.Path)
	assert.Equal(t, 2, cfg.Storage.Version)

	assert.Equal(t, "minio", cfg.Cache.Backend)
	assert.Equal(t, "careerforge-v7", cfg.Cache.Generation)
	assert.Equal(t, "careerforge-offline-cache", cfg.Minio.Bucket)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Sync.ProbeInterval)
	assert.Equal(t, []string{"admin-token"}, cfg.Auth.Tokens)
	assert.Equal(t, "debug", cfg.Log.Level)

	urls, err := cfg.Cache.ManifestURLs()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://app.example.com/",
		"https://app.example.com/offline.html",
		"https://cdn.example.com/app.js",
	}, urls)
}

func TestLoad_ENVOverridesYAML(t *testing.T) {
	t.Setenv("SERVER_PORT", "3001")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("SYNC_CONCURRENCY", "2")

	cfg, err := Load(writeYAML(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
}

func TestLoad_ConfigPathEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeYAML(t, validYAML))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_NoFile_ENVOnly(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("CACHE_MANIFEST", "/, /offline.html")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "careerforge-offline.db", cfg.Storage.Path)
	assert.Equal(t, 1, cfg.Sync.Concurrency)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"/", "/offline.html"}, cfg.Cache.Manifest)
}

func TestLoad_ExplicitPathNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("CONFIG_PATH", "/nonexistent/careerforge-offline.yaml")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "bad port",
			env:     map[string]string{"SERVER_PORT": "70000"},
			wantErr: "server.port",
		},
		{
			name:    "half TLS",
			env:     map[string]string{"SERVER_TLS_CERT_FILE": "/tmp/cert.pem"},
			wantErr: "tls_key_file",
		},
		{
			name:    "unknown cache backend",
			env:     map[string]string{"CACHE_BACKEND": "redis"},
			wantErr: "backend must be sqlite or minio",
		},
		{
			name:    "minio without credentials",
			env:     map[string]string{"CACHE_BACKEND": "minio", "MINIO_ENDPOINT": "http://minio:9000"},
			wantErr: "access_key and secret_key",
		},
		{
			name:    "remote without scheme",
			env:     map[string]string{"REMOTE_BASE_URL": "careerforge.local"},
			wantErr: "remote.base_url",
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"SYNC_CONCURRENCY": "0"},
			wantErr: "sync.concurrency",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"LOG_LEVEL": "loud"},
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			env:     map[string]string{"LOG_FORMAT": "xml"},
			wantErr: "log.format",
		},
		{
			name:    "relative fallback path",
			env:     map[string]string{"CACHE_FALLBACK_PATH": "offline.html"},
			wantErr: "fallback_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inEmptyDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
