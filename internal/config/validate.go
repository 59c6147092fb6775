package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks the loaded configuration. Load calls it automatically.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Storage.Version <= 0 {
		return fmt.Errorf("storage.version must be > 0 (got %d)", c.Storage.Version)
	}

	if err := c.Cache.validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.Cache.Backend == "minio" {
		if err := c.Minio.validate(); err != nil {
			return fmt.Errorf("minio: %w", err)
		}
	}

	if err := validateURL(c.Remote.BaseURL); err != nil {
		return fmt.Errorf("remote.base_url: %w", err)
	}
	if c.Remote.HealthURL != "" {
		if err := validateURL(c.Remote.HealthURL); err != nil {
			return fmt.Errorf("remote.health_url: %w", err)
		}
	}

	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0 (got %d)", c.Sync.Concurrency)
	}
	if c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("sync.probe_interval must be > 0 (got %s)", c.Sync.ProbeInterval)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	return nil
}

func (c *CacheConfig) validate() error {
	switch c.Backend {
	case "sqlite", "minio":
	default:
		return fmt.Errorf("backend must be sqlite or minio (got %q)", c.Backend)
	}
	if strings.TrimSpace(c.Generation) == "" {
		return fmt.Errorf("generation is required")
	}
	if err := validateURL(c.UpstreamURL); err != nil {
		return fmt.Errorf("upstream_url: %w", err)
	}
	if !strings.HasPrefix(c.FallbackPath, "/") {
		return fmt.Errorf("fallback_path must start with / (got %q)", c.FallbackPath)
	}
	if c.InstallAttempts <= 0 {
		return fmt.Errorf("install_attempts must be > 0 (got %d)", c.InstallAttempts)
	}

	manifest := c.Manifest[:0]
	for _, entry := range c.Manifest {
		if entry = strings.TrimSpace(entry); entry != "" {
			manifest = append(manifest, entry)
		}
	}
	c.Manifest = manifest
	return nil
}

func (m *MinioConfig) validate() error {
	if m.Endpoint == "" {
		return fmt.Errorf("endpoint is required for the minio cache backend")
	}
	if m.AccessKey == "" || m.SecretKey == "" {
		return fmt.Errorf("access_key and secret_key are required for the minio cache backend")
	}
	if m.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https (got %q)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required (got %q)", raw)
	}
	return nil
}
