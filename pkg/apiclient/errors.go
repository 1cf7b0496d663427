package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is an error response from the upload API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`

	// Missing is set on finalize conflicts for incomplete uploads.
	Missing int64 `json:"missing,omitempty"`

	// ServerHash and ClientHash are set when finalize rejects a
	// checksum mismatch.
	ServerHash string `json:"serverHash,omitempty"`
	ClientHash string `json:"clientHash,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// IsNotFound returns true if the upload does not exist.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true if the upload was in the wrong state for the
// request.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsServerError returns true for 5xx responses. The upload engine
// treats these as transient and retries them.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// parseAPIError builds an APIError from an error response body. Bodies
// that are not the usual {"error": ...} shape are carried verbatim.
func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	if json.Unmarshal(body, apiErr) == nil && apiErr.Message != "" {
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
