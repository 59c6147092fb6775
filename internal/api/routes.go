package api

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nark2019/careerforgeai-sub001/pkg/types"
)

// RouteOptions holds the optional parts of the router.
type RouteOptions struct {
	// Admin guards the admin routes. Nil leaves them open.
	Admin gin.HandlerFunc
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Proxy answers every route the API does not own.
	Proxy http.Handler
}

// SetupRoutes configures the API routes
func SetupRoutes(router *gin.Engine, handler *Handler, opts RouteOptions) {
	api := router.Group("/api/v1")
	{
		collections := api.Group("/collections/:collection")
		collections.PUT("/records", handler.PutRecord)
		collections.GET("/records", handler.ListRecords)
		collections.DELETE("/records", handler.ClearRecords)
		collections.GET("/records/:id", handler.GetRecord)
		collections.DELETE("/records/:id", handler.DeleteRecord)
		collections.POST("/dedupe", handler.Deduplicate)
		collections.POST("/fallback", handler.MirrorRecord)
		collections.GET("/fallback", handler.ListFallback)

		api.POST("/outbox/:queue", handler.Enqueue)
		api.GET("/outbox/:queue", handler.ListQueue)
		api.POST("/submit/:tag", handler.Submit)
		api.POST("/sync/:tag", handler.Sync)

		admin := api.Group("/admin")
		if opts.Admin != nil {
			admin.Use(opts.Admin)
		}
		admin.POST("/reset", handler.Reset)
		admin.POST("/cache/install", handler.InstallCache)
		admin.POST("/cache/activate", handler.ActivateCache)
	}

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	if opts.Proxy != nil {
		router.NoRoute(gin.WrapH(opts.Proxy))
	}
}

// NewProxy forwards requests to upstream through transport, normally the
// resource cache. Failures that the cache could not answer become 502s.
func NewProxy(upstream *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = upstream.Host
	}
	proxy.Transport = transport
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
		}).Warn("Upstream request failed")

		writeJSON(w, http.StatusBadGateway, types.ErrorResponse{
			Error:   "upstream unavailable",
			Message: err.Error(),
			Code:    http.StatusBadGateway,
		})
	}
	return proxy
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}
