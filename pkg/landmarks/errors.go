package landmarks

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoEndpoint is returned when the sidecar URL is missing.
	ErrNoEndpoint = errors.New("landmarks: endpoint required")

	// ErrClosed is returned when detecting on a closed detector.
	ErrClosed = errors.New("landmarks: detector closed")
)

// APIError represents an error response from the landmark sidecar.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("landmarks: sidecar error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true for overload and server-side errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}
