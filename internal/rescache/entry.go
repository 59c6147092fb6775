// Package rescache is the versioned HTTP response cache and the transport
// that serves requests from it under the cache-first and network-first
// policies.
package rescache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is returned by Match when no entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")
	// ErrNetworkFailure wraps fetches that did not complete, including
	// timeouts and non-200 responses during installation.
	ErrNetworkFailure = errors.New("network failure")
)

// Entry is a stored copy of a response.
type Entry struct {
	Key      string      `json:"key"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// RequestKey returns the identity a request is cached under: the upper-case
// method and the URL without its fragment.
func RequestKey(method, rawURL string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if u, err := url.Parse(rawURL); err == nil {
		u.Fragment = ""
		u.RawFragment = ""
		rawURL = u.String()
	}
	return method + " " + rawURL
}

func keyFor(req *http.Request) string {
	return RequestKey(req.Method, req.URL.String())
}

// hopHeaders are not stored with an entry.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Set-Cookie",
}

func newEntry(req *http.Request, status int, header http.Header, body []byte, now time.Time) Entry {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
	return Entry{
		Key:      keyFor(req),
		Method:   strings.ToUpper(req.Method),
		URL:      req.URL.String(),
		Status:   status,
		Header:   h,
		Body:     body,
		StoredAt: now.UTC(),
	}
}

// Response rebuilds an *http.Response for req from the entry.
func (e Entry) Response(req *http.Request) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
