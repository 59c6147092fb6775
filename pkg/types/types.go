// Package types holds the wire types of the offline daemon's HTTP API.
package types

import (
	"encoding/json"
	"time"
)

// EnqueueRequest adds an entry to an outbox queue.
type EnqueueRequest struct {
	Token         string          `json:"token"`
	Data          json.RawMessage `json:"data" binding:"required"`
	ComponentType string          `json:"componentType,omitempty"`
}

// SubmitRequest performs an offline-first write: sent now when possible,
// queued otherwise.
type SubmitRequest struct {
	Token         string          `json:"token"`
	Data          json.RawMessage `json:"data" binding:"required"`
	ComponentType string          `json:"componentType,omitempty"`
}

// SubmitResponse reports where an offline-first write ended up.
type SubmitResponse struct {
	Tag            string `json:"tag"`
	Queued         bool   `json:"queued"`
	EntryID        int64  `json:"entryId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// SyncResponse is the outcome of one drain pass.
type SyncResponse struct {
	Tag       string  `json:"tag"`
	Attempted int     `json:"attempted"`
	Synced    int     `json:"synced"`
	Failed    int     `json:"failed"`
	Pending   int     `json:"pending"`
	FailedIDs []int64 `json:"failedIds,omitempty"`
}

// InstallRequest pre-populates the resource cache. An empty manifest uses
// the configured one.
type InstallRequest struct {
	Manifest []string `json:"manifest"`
}

// ActivateResponse lists the cache generations removed on activation.
type ActivateResponse struct {
	Generation string   `json:"generation"`
	Deleted    []string `json:"deleted"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	Online        bool           `json:"online"`
	SchemaVersion int            `json:"schemaVersion"`
	Generation    string         `json:"cacheGeneration,omitempty"`
	QueueDepth    map[string]int `json:"queueDepth,omitempty"`
}
