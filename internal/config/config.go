// Package config loads the daemon configuration from an optional YAML file
// and the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config is the root daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Minio   MinioConfig   `yaml:"minio"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"127.0.0.1"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
	TLSCertFile     string        `yaml:"tls_cert_file"    env:"SERVER_TLS_CERT_FILE"`
	TLSKeyFile      string        `yaml:"tls_key_file"     env:"SERVER_TLS_KEY_FILE"`
}

// StorageConfig selects the embedded store file.
type StorageConfig struct {
	Path    string `yaml:"path"    env:"STORAGE_PATH"    env-default:"careerforge-offline.db"`
	Version int    `yaml:"version" env:"STORAGE_VERSION" env-default:"2"`
}

// CacheConfig holds resource cache settings.
type CacheConfig struct {
	// Backend is "sqlite" or "minio".
	Backend      string        `yaml:"backend"       env:"CACHE_BACKEND"       env-default:"sqlite"`
	Path         string        `yaml:"path"          env:"CACHE_PATH"          env-default:"careerforge-cache.db"`
	Generation   string        `yaml:"generation"    env:"CACHE_GENERATION"    env-default:"careerforge-v1"`
	UpstreamURL  string        `yaml:"upstream_url"  env:"CACHE_UPSTREAM_URL"  env-default:"http://127.0.0.1:3000"`
	Manifest     []string      `yaml:"manifest"      env:"CACHE_MANIFEST"      env-separator:","`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"CACHE_FETCH_TIMEOUT" env-default:"10s"`
	FallbackPath string        `yaml:"fallback_path" env:"CACHE_FALLBACK_PATH" env-default:"/offline.html"`
	APIPrefix    string        `yaml:"api_prefix"    env:"CACHE_API_PREFIX"    env-default:"/api/"`

	// InstallAttempts bounds the retries of a failed installation.
	InstallAttempts int `yaml:"install_attempts" env:"CACHE_INSTALL_ATTEMPTS" env-default:"3"`
}

// MinioConfig holds the MinIO cache backend settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"   env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket"     env:"MINIO_BUCKET"     env-default:"careerforge-offline-cache"`
}

// RemoteConfig points at the CareerForge API.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"        env:"REMOTE_BASE_URL"        env-default:"http://127.0.0.1:3000"`
	HealthURL      string        `yaml:"health_url"      env:"REMOTE_HEALTH_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REMOTE_REQUEST_TIMEOUT" env-default:"15s"`
	AccessToken    string        `yaml:"access_token"    env:"REMOTE_ACCESS_TOKEN"`
}

// SyncConfig holds the sync coordinator settings.
type SyncConfig struct {
	Concurrency   int           `yaml:"concurrency"    env:"SYNC_CONCURRENCY"    env-default:"1"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"SYNC_PROBE_INTERVAL" env-default:"30s"`
}

// AuthConfig guards the admin routes.
type AuthConfig struct {
	Tokens       []string `yaml:"tokens"         env:"AUTH_API_TOKENS"      env-separator:","`
	TokensFile   string   `yaml:"tokens_file"    env:"AUTH_API_TOKENS_FILE" env-default:"/etc/careerforge-offline/api-tokens"`
	ClientCAFile string   `yaml:"client_ca_file" env:"AUTH_CLIENT_CA_FILE"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TLSEnabled reports whether both a certificate and a key are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// ManifestURLs resolves the manifest entries against UpstreamURL, so the
// manifest may list paths such as "/offline.html".
func (c CacheConfig) ManifestURLs() ([]string, error) {
	base, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("upstream_url: %w", err)
	}
	urls := make([]string, 0, len(c.Manifest))
	for _, entry := range c.Manifest {
		ref, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		urls = append(urls, base.ResolveReference(ref).String())
	}
	return urls, nil
}
