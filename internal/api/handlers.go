package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nark2019/careerforgeai-sub001/internal/outbox"
	"github.com/nark2019/careerforgeai-sub001/internal/remote"
	"github.com/nark2019/careerforgeai-sub001/internal/rescache"
	"github.com/nark2019/careerforgeai-sub001/internal/storage"
	"github.com/nark2019/careerforgeai-sub001/internal/syncer"
	"github.com/nark2019/careerforgeai-sub001/pkg/types"
)

// RecordStore is the embedded store as seen by the API.
type RecordStore interface {
	Put(ctx context.Context, name storage.CollectionName, rec storage.Record) (storage.Record, error)
	Get(ctx context.Context, name storage.CollectionName, id string) (storage.Record, error)
	GetAll(ctx context.Context, name storage.CollectionName) ([]storage.Record, error)
	ListByTimestamp(ctx context.Context, name storage.CollectionName, newestFirst bool) ([]storage.Record, error)
	ListByCategory(ctx context.Context, name storage.CollectionName, category string) ([]storage.Record, error)
	Delete(ctx context.Context, name storage.CollectionName, id string) error
	Clear(ctx context.Context, name storage.CollectionName) error
	MirrorToFallback(ctx context.Context, name storage.CollectionName, rec storage.Record) error
	Fallback(ctx context.Context, name storage.CollectionName) ([]storage.Record, error)
	Deduplicate(ctx context.Context, name storage.CollectionName) (storage.DedupResult, error)
	Reset(ctx context.Context) error
	Version() int
}

// SyncCoordinator queues, submits and drains outbound mutations.
type SyncCoordinator interface {
	Queue(tag syncer.Tag) (*outbox.Queue, error)
	Enqueue(ctx context.Context, tag syncer.Tag, e outbox.Entry) (outbox.Entry, error)
	Submit(ctx context.Context, tag syncer.Tag, e outbox.Entry) (syncer.SubmitResult, error)
	Trigger(ctx context.Context, tag syncer.Tag) (syncer.DrainResult, error)
}

// CacheLifecycle installs and activates resource cache generations.
type CacheLifecycle interface {
	Generation() string
	Install(ctx context.Context, manifest []string) error
	Activate(ctx context.Context) ([]string, error)
}

// Connectivity reports the last observed remote reachability.
type Connectivity interface {
	Online() bool
}

// Options wires the handler to its collaborators. Cache and Connectivity
// may be nil.
type Options struct {
	Store        RecordStore
	Sync         SyncCoordinator
	Cache        CacheLifecycle
	Connectivity Connectivity
	// Manifest is installed when an install request names no URLs.
	Manifest []string
	Version  string
}

// Handler handles HTTP API requests
type Handler struct {
	store        RecordStore
	sync         SyncCoordinator
	cache        CacheLifecycle
	connectivity Connectivity
	manifest     []string
	version      string
	startedAt    time.Time
}

// NewHandler creates a new API handler
func NewHandler(opts Options) *Handler {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		store:        opts.Store,
		sync:         opts.Sync,
		cache:        opts.Cache,
		connectivity: opts.Connectivity,
		manifest:     opts.Manifest,
		version:      version,
		startedAt:    time.Now(),
	}
}

// PutRecord stores a record, replacing any record with the same id.
func (h *Handler) PutRecord(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}

	var rec storage.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		badRequest(c, err.Error())
		return
	}

	stored, err := h.store.Put(c.Request.Context(), name, rec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

// GetRecord returns one record by id.
func (h *Handler) GetRecord(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}

	rec, err := h.store.Get(c.Request.Context(), name, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListRecords returns every record of a collection. The query parameter
// category filters by the category index; order=timestamp sorts by the
// timestamp index, with direction=desc for newest first.
func (h *Handler) ListRecords(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		records []storage.Record
		err     error
	)
	switch order := c.DefaultQuery("order", "insertion"); {
	case c.Query("category") != "":
		records, err = h.store.ListByCategory(ctx, name, c.Query("category"))
	case order == "timestamp":
		records, err = h.store.ListByTimestamp(ctx, name, strings.EqualFold(c.Query("direction"), "desc"))
	case order == "insertion":
		records, err = h.store.GetAll(ctx, name)
	default:
		badRequest(c, "order must be timestamp or insertion")
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// DeleteRecord removes one record. Deleting an absent id succeeds.
func (h *Handler) DeleteRecord(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), name, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearRecords removes every record of a collection.
func (h *Handler) ClearRecords(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}

	if err := h.store.Clear(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MirrorRecord appends a record to the collection's fallback mirror.
func (h *Handler) MirrorRecord(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}

	var rec storage.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.store.MirrorToFallback(c.Request.Context(), name, rec); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListFallback returns the fallback mirror of a collection.
func (h *Handler) ListFallback(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}

	records, err := h.store.Fallback(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// Deduplicate collapses duplicate ids in a collection and its mirror.
func (h *Handler) Deduplicate(c *gin.Context) {
	name, ok := collectionParam(c)
	if !ok {
		return
	}

	result, err := h.store.Deduplicate(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Enqueue appends an entry to an outbox queue without attempting delivery.
func (h *Handler) Enqueue(c *gin.Context) {
	tag, ok := queueParam(c)
	if !ok {
		return
	}

	var req types.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	entry, err := h.sync.Enqueue(c.Request.Context(), tag, outbox.Entry{
		Token:         req.Token,
		Data:          req.Data,
		ComponentType: req.ComponentType,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, entry)
}

// ListQueue returns the pending entries of an outbox queue, oldest first.
func (h *Handler) ListQueue(c *gin.Context) {
	tag, ok := queueParam(c)
	if !ok {
		return
	}

	q, err := h.sync.Queue(tag)
	if err != nil {
		writeError(c, err)
		return
	}
	entries, err := q.ListPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Submit performs an offline-first write.
func (h *Handler) Submit(c *gin.Context) {
	tag, err := syncer.ParseTag(c.Param("tag"))
	if err != nil {
		writeError(c, err)
		return
	}

	var req types.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.sync.Submit(c.Request.Context(), tag, outbox.Entry{
		Token:         req.Token,
		Data:          req.Data,
		ComponentType: req.ComponentType,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, types.SubmitResponse{
		Tag:            string(tag),
		Queued:         result.Queued,
		EntryID:        result.Entry.ID,
		IdempotencyKey: result.Entry.IdempotencyKey,
	})
}

// Sync runs a drain pass for the tag, as a connectivity-restored signal does.
func (h *Handler) Sync(c *gin.Context) {
	tag, err := syncer.ParseTag(c.Param("tag"))
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.sync.Trigger(c.Request.Context(), tag)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.SyncResponse{
		Tag:       string(result.Tag),
		Attempted: result.Attempted,
		Synced:    result.Synced,
		Failed:    result.Failed,
		Pending:   result.Pending,
		FailedIDs: result.FailedIDs,
	})
}

// Reset destroys the embedded database and re-opens it empty.
func (h *Handler) Reset(c *gin.Context) {
	if err := h.store.Reset(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	logrus.WithField("client", c.ClientIP()).Warn("Embedded store reset over the API")
	c.Status(http.StatusNoContent)
}

// InstallCache populates the current cache generation.
func (h *Handler) InstallCache(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error: "resource cache disabled",
			Code:  http.StatusNotFound,
		})
		return
	}

	var req types.InstallRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	manifest := req.Manifest
	if len(manifest) == 0 {
		manifest = h.manifest
	}

	if err := h.cache.Install(c.Request.Context(), manifest); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generation": h.cache.Generation(),
		"installed":  len(manifest),
	})
}

// ActivateCache removes stale generations and starts serving from the cache.
func (h *Handler) ActivateCache(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error: "resource cache disabled",
			Code:  http.StatusNotFound,
		})
		return
	}

	deleted, err := h.cache.Activate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	c.JSON(http.StatusOK, types.ActivateResponse{
		Generation: h.cache.Generation(),
		Deleted:    deleted,
	})
}

// HealthCheck provides service health information
func (h *Handler) HealthCheck(c *gin.Context) {
	response := types.HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now(),
		Version:       h.version,
		Uptime:        time.Since(h.startedAt).Round(time.Second).String(),
		SchemaVersion: h.store.Version(),
		QueueDepth:    make(map[string]int, len(syncer.Tags)),
	}
	if h.cache != nil {
		response.Generation = h.cache.Generation()
	}

	for _, tag := range syncer.Tags {
		q, err := h.sync.Queue(tag)
		if err != nil {
			continue
		}
		depth, err := q.Depth(c.Request.Context())
		if err != nil {
			logrus.WithError(err).WithField("queue", q.Name()).Warn("Health check failed to read queue depth")
			response.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response.QueueDepth[string(q.Name())] = depth
	}

	// Offline is a normal operating mode; it only degrades the daemon.
	response.Online = h.connectivity == nil || h.connectivity.Online()
	if !response.Online {
		response.Status = "degraded"
	}
	c.JSON(http.StatusOK, response)
}

func collectionParam(c *gin.Context) (storage.CollectionName, bool) {
	name, err := storage.ParseCollectionName(c.Param("collection"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return name, true
}

func queueParam(c *gin.Context) (syncer.Tag, bool) {
	name, err := storage.ParseCollectionName(c.Param("queue"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	tag, err := syncer.TagForQueue(name)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return tag, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   "invalid request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}

// writeError maps domain errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	status, label := http.StatusInternalServerError, "internal error"

	var httpErr *remote.HTTPError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, label = http.StatusNotFound, "not found"
	case errors.Is(err, storage.ErrUnknownCollection),
		errors.Is(err, storage.ErrKindMismatch),
		errors.Is(err, storage.ErrInvalidRecord),
		errors.Is(err, storage.ErrNotDedupable),
		errors.Is(err, outbox.ErrNotAQueue),
		errors.Is(err, syncer.ErrUnknownTag),
		errors.Is(err, syncer.ErrInvalidEntry):
		status, label = http.StatusBadRequest, "invalid request"
	case errors.Is(err, storage.ErrStorageUnavailable):
		status, label = http.StatusServiceUnavailable, "storage unavailable"
	case errors.Is(err, rescache.ErrNetworkFailure),
		errors.Is(err, remote.ErrNetworkFailure),
		errors.As(err, &httpErr):
		status, label = http.StatusBadGateway, "upstream failure"
	}

	_ = c.Error(err)
	c.JSON(status, types.ErrorResponse{
		Error:   label,
		Message: err.Error(),
		Code:    status,
	})
}
