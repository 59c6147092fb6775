//go:build integration
// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DaemonClient handles HTTP communication with a running careerforge-offline.
type DaemonClient struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// Do sends a JSON request and decodes a JSON response into out when out is
// not nil. It returns the status code.
func (dc *DaemonClient) Do(method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, dc.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if dc.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+dc.adminToken)
	}

	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
