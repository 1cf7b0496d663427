package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// InitRequest declares a file to upload.
type InitRequest struct {
	Filename    string `json:"filename"`
	TotalSize   int64  `json:"totalSize"`
	TotalChunks int    `json:"totalChunks"`
}

// UploadSession is the server's answer to an init request. A resumed
// session carries the chunk indexes the server already holds.
type UploadSession struct {
	UploadID       string `json:"uploadId"`
	Status         string `json:"status"`
	UploadedChunks []int  `json:"uploadedChunks"`
}

// FinalizeResult is a committed upload: the server-side digest and, for
// ZIP archives, the entry names.
type FinalizeResult struct {
	Status     string   `json:"status"`
	UploadID   string   `json:"uploadId"`
	Hash       string   `json:"hash"`
	ZipContent []string `json:"zipContent"`
}

// UploadStatus is the server-side view of one upload session.
type UploadStatus struct {
	UploadID       string  `json:"uploadId"`
	Filename       string  `json:"filename"`
	Status         string  `json:"status"`
	TotalSize      int64   `json:"totalSize"`
	TotalChunks    int     `json:"totalChunks"`
	UploadedChunks []int   `json:"uploadedChunks"`
	ProgressPct    float64 `json:"progressPct"`
	FinalHash      string  `json:"finalHash,omitempty"`
	FailureReason  string  `json:"failureReason,omitempty"`
}

// UploadSummary is one row of the upload listing.
type UploadSummary struct {
	UploadID       string    `json:"uploadId"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	TotalSize      int64     `json:"totalSize"`
	TotalChunks    int       `json:"totalChunks"`
	ReceivedChunks int64     `json:"receivedChunks"`
	ProgressPct    float64   `json:"progressPct"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is the server health summary.
type HealthReport struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

type finalizeRequest struct {
	ClientHash string `json:"clientHash"`
}

type chunkResult struct {
	Success bool `json:"success"`
}

type listResult struct {
	Uploads []UploadSummary `json:"uploads"`
}

type cleanupResult struct {
	Cleaned int `json:"cleaned"`
}

// Init starts or resumes an upload session. The server matches sessions
// by (filename, totalSize); when one is still uploading, the returned
// session carries its ID and received chunks instead of a fresh one.
func (c *Client) Init(ctx context.Context, req InitRequest) (*UploadSession, error) {
	var session UploadSession
	if err := c.post(ctx, "/api/upload/init", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// PutChunk streams one chunk body to the server. offset is the absolute
// byte position of the chunk in the file and size its exact length; the
// server places bytes by offset and checks size against the declared
// file size. Re-sending an index overwrites the previous bytes.
func (c *Client) PutChunk(ctx context.Context, uploadID string, index int, offset, size int64, body io.Reader) error {
	path := fmt.Sprintf("/api/upload/%s/chunk/%d", uploadID, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Chunk-Offset", strconv.FormatInt(offset, 10))
	req.Header.Set("X-Chunk-Index", strconv.Itoa(index))

	var result chunkResult
	return c.roundTrip(c.transfer, req, &result)
}

// Finalize asks the server to verify and commit the upload. clientHash
// is an optional hex SHA-256 for the server to compare against; pass ""
// to skip the comparison. Conflicts for incomplete uploads and hash
// mismatches come back as *APIError with Missing or ServerHash set.
func (c *Client) Finalize(ctx context.Context, uploadID, clientHash string) (*FinalizeResult, error) {
	var result FinalizeResult
	path := fmt.Sprintf("/api/upload/%s/finalize", uploadID)
	if err := c.doJSON(ctx, c.transfer, http.MethodPost, path, finalizeRequest{ClientHash: clientHash}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status fetches the current state of one upload session.
func (c *Client) Status(ctx context.Context, uploadID string) (*UploadStatus, error) {
	var status UploadStatus
	if err := c.get(ctx, fmt.Sprintf("/api/upload/%s/status", uploadID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// List fetches all upload sessions. A non-empty status (e.g.
// "UPLOADING") filters to one lifecycle state.
func (c *Client) List(ctx context.Context, status string) ([]UploadSummary, error) {
	path := "/api/uploads"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var result listResult
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Uploads, nil
}

// Abort removes an upload session and its data in any state.
func (c *Client) Abort(ctx context.Context, uploadID string) error {
	return c.delete(ctx, "/api/upload/"+uploadID, nil)
}

// Cleanup triggers a stale-session sweep and reports how many sessions
// were removed.
func (c *Client) Cleanup(ctx context.Context) (int, error) {
	var result cleanupResult
	if err := c.delete(ctx, "/api/files", &result); err != nil {
		return 0, err
	}
	return result.Cleaned, nil
}

// Health fetches the server health report. A degraded server answers
// 503 with the same report body, so both 200 and 503 decode into a
// report rather than an error.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.control.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var report HealthReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &report, nil
}
