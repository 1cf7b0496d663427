// Package apiclient provides the REST client for the shuttle upload
// API. It is used by the upload engine and the shuttle CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout bounds the small JSON endpoints. Chunk and finalize
// requests are exempt: chunk bodies stream at link speed and finalize
// waits for the server to hash the whole blob, so only the caller's
// context bounds them.
const defaultTimeout = 30 * time.Second

// Client is the shuttle API client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	control  *http.Client
	transfer *http.Client
}

// New creates a new API client for the given server base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		control: &http.Client{
			Timeout: defaultTimeout,
		},
		transfer: &http.Client{},
	}
}

// BaseURL returns the server base URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doJSON performs a request with an optional JSON body and decodes the
// response into result.
func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.roundTrip(hc, req, result)
}

// roundTrip sends the request and decodes the response body into
// result. Statuses >= 400 come back as *APIError.
func (c *Client) roundTrip(hc *http.Client, req *http.Request, result any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, c.control, http.MethodGet, path, nil, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.doJSON(ctx, c.control, http.MethodPost, path, body, result)
}

// delete performs a DELETE request.
func (c *Client) delete(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, c.control, http.MethodDelete, path, nil, result)
}
