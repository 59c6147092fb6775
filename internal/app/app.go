// Package app wires the daemon's components together from a loaded
// configuration.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nark2019/careerforgeai-sub001/internal/api"
	"github.com/nark2019/careerforgeai-sub001/internal/auth"
	"github.com/nark2019/careerforgeai-sub001/internal/config"
	"github.com/nark2019/careerforgeai-sub001/internal/logging"
	"github.com/nark2019/careerforgeai-sub001/internal/metrics"
	"github.com/nark2019/careerforgeai-sub001/internal/outbox"
	"github.com/nark2019/careerforgeai-sub001/internal/remote"
	"github.com/nark2019/careerforgeai-sub001/internal/rescache"
	"github.com/nark2019/careerforgeai-sub001/internal/retry"
	"github.com/nark2019/careerforgeai-sub001/internal/storage"
	"github.com/nark2019/careerforgeai-sub001/internal/syncer"
)

// App holds the components of one daemon process.
type App struct {
	cfg     *config.Config
	version string

	Metrics     *metrics.Metrics
	Store       *storage.Store
	Credentials *auth.CredentialStore
	Remote      *remote.Client
	Sync        *syncer.Coordinator
	Monitor     *syncer.Monitor

	// Cache is nil until OpenCache succeeds.
	Cache *rescache.Cache

	validator *auth.Validator

	closers []func() error
}

// New opens the embedded store and builds the sync components. The resource
// cache is opened separately by OpenCache.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	a := &App{
		cfg:         cfg,
		version:     version,
		Metrics:     metrics.New(),
		Credentials: auth.NewCredentialStore(),
	}

	store, err := storage.Open(ctx, storage.Options{
		Path:    cfg.Storage.Path,
		Version: cfg.Storage.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	if cfg.Remote.AccessToken != "" {
		a.Credentials.SetAccessToken(cfg.Remote.AccessToken)
	}

	a.Remote = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.HealthURL, &http.Client{
		Timeout: cfg.Remote.RequestTimeout,
	})

	chat, err := outbox.New(store, storage.CollectionChatQueue)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	userData, err := outbox.New(store, storage.CollectionUserDataQueue)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	a.Sync, err = syncer.New(chat, userData, a.Remote, a.Credentials, syncer.Options{
		Concurrency:    cfg.Sync.Concurrency,
		RequestTimeout: cfg.Remote.RequestTimeout,
		Metrics:        a.Metrics,
	})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	a.Monitor = syncer.NewMonitor(a.Sync, a.Remote, cfg.Sync.ProbeInterval)

	return a, nil
}

// OpenCache opens the configured cache backend and the current generation.
func (a *App) OpenCache(ctx context.Context) error {
	var backend rescache.Backend
	switch a.cfg.Cache.Backend {
	case "minio":
		mb, err := rescache.NewMinioBackend(rescache.MinioOptions{
			Endpoint:  a.cfg.Minio.Endpoint,
			AccessKey: a.cfg.Minio.AccessKey,
			SecretKey: a.cfg.Minio.SecretKey,
			Bucket:    a.cfg.Minio.Bucket,
		})
		if err != nil {
			return err
		}
		if err := mb.EnsureBucket(ctx); err != nil {
			return err
		}
		backend = mb
	default:
		sb, err := rescache.NewSQLiteBackend(ctx, a.cfg.Cache.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sb.Close)
		backend = sb
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = a.cfg.Cache.InstallAttempts

	cache, err := rescache.New(backend, rescache.Options{
		Generation:   a.cfg.Cache.Generation,
		FetchTimeout: a.cfg.Cache.FetchTimeout,
		Retry:        retryCfg,
		Metrics:      a.Metrics,
	})
	if err != nil {
		return err
	}
	if _, err := cache.Resume(ctx); err != nil {
		return fmt.Errorf("failed to restore cache activation: %w", err)
	}
	a.Cache = cache
	return nil
}

// ManifestURLs returns the configured cache manifest as absolute URLs.
func (a *App) ManifestURLs() ([]string, error) {
	return a.cfg.Cache.ManifestURLs()
}

// Router builds the gin engine serving the HTTP API and, when the cache is
// open, the caching proxy to the upstream application.
func (a *App) Router() (*gin.Engine, error) {
	validator, err := auth.NewValidator(auth.ValidatorOptions{
		Tokens:       a.cfg.Auth.Tokens,
		TokensFile:   a.cfg.Auth.TokensFile,
		ClientCAFile: a.cfg.Auth.ClientCAFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth validator: %w", err)
	}
	a.validator = validator

	manifest, err := a.ManifestURLs()
	if err != nil {
		return nil, err
	}

	opts := api.Options{
		Store:        a.Store,
		Sync:         a.Sync,
		Connectivity: a.Monitor,
		Manifest:     manifest,
		Version:      a.version,
	}
	routes := api.RouteOptions{
		Admin:   validator.Middleware(),
		Metrics: a.Metrics.Handler(),
	}

	if a.Cache != nil {
		opts.Cache = a.Cache

		upstream, err := url.Parse(a.cfg.Cache.UpstreamURL)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream url: %w", err)
		}
		transport := rescache.NewTransport(a.Cache)
		transport.APIPrefix = a.cfg.Cache.APIPrefix
		transport.FallbackPath = a.cfg.Cache.FallbackPath
		routes.Proxy = api.NewProxy(upstream, transport)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger())
	api.SetupRoutes(router, api.NewHandler(opts), routes)
	return router, nil
}

// Serve runs the HTTP server and the connectivity monitor until ctx is done,
// then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	router, err := a.Router()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           router,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}
	if a.cfg.Server.TLSEnabled() && a.validator.IsClientCALoaded() {
		srv.TLSConfig = &tls.Config{
			ClientAuth: tls.VerifyClientCertIfGiven,
			ClientCAs:  a.validator.GetClientCAs(),
			MinVersion: tls.VersionTLS12,
		}
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		a.Monitor.Run(monitorCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"addr": srv.Addr,
			"tls":  a.cfg.Server.TLSEnabled(),
		}).Info("Starting careerforge-offline server")

		var err error
		if a.cfg.Server.TLSEnabled() {
			err = srv.ListenAndServeTLS(a.cfg.Server.TLSCertFile, a.cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stopMonitor()
			<-monitorDone
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	stopMonitor()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-monitorDone

	logrus.Info("Server exited")
	return nil
}

// Close releases every resource opened by New and OpenCache.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
