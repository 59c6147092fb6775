// Package remote is the client for the CareerForge write endpoints replayed
// by the sync coordinator.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNetworkFailure wraps every request that did not produce a response.
var ErrNetworkFailure = errors.New("network failure")

// HTTPError is a completed request the remote did not accept.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Writer submits mutations to the remote API.
type Writer interface {
	SubmitChatMessage(ctx context.Context, token, idempotencyKey string, data json.RawMessage) error
	SubmitUserData(ctx context.Context, token, idempotencyKey, componentType string, data json.RawMessage) error
}

// Client talks to the CareerForge API.
type Client struct {
	baseURL    string
	healthURL  string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. An empty healthURL probes
// baseURL + "/api/health".
func NewClient(baseURL, healthURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3000"
	}
	if healthURL == "" {
		healthURL = baseURL + "/api/health"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		healthURL:  healthURL,
		httpClient: httpClient,
	}
}

// SubmitChatMessage posts a chat message.
func (c *Client) SubmitChatMessage(ctx context.Context, token, idempotencyKey string, data json.RawMessage) error {
	return c.post(ctx, "/api/chat/messages", token, idempotencyKey, data)
}

// SubmitUserData posts a user-data record for componentType.
func (c *Client) SubmitUserData(ctx context.Context, token, idempotencyKey, componentType string, data json.RawMessage) error {
	if strings.TrimSpace(componentType) == "" {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "invalid_request", Message: "component type is required"}
	}
	return c.post(ctx, "/api/user-data/"+url.PathEscape(componentType), token, idempotencyKey, data)
}

// Probe reports whether the remote answers its health endpoint.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Correlation-Id", correlationID())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (c *Client) post(ctx context.Context, requestPath, token, idempotencyKey string, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+requestPath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("%w: read response: %w", ErrNetworkFailure, readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	if errPayload.Message == "" {
		errPayload.Message = errPayload.Error
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
	}
}

func correlationID() string {
	return uuid.New().String()
}
