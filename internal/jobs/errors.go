// Package jobs runs the four job kinds end to end: report generation,
// cookie extraction, PDF-to-image conversion, and text extraction. One job
// owns one workspace; the workspace is gone by the time the job returns,
// on every path.
package jobs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/octacer/portal-agent/internal/artifacts"
	"github.com/octacer/portal-agent/internal/debugstore"
	"github.com/octacer/portal-agent/internal/fetch"
)

// ValidationError rejects malformed caller input before any resource is
// allocated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ResourceExhaustedError means the job's scratch directory could not be
// created. Fatal for this request only.
type ResourceExhaustedError struct {
	Cause error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("cannot allocate workspace: %v", e.Cause)
}

func (e *ResourceExhaustedError) Unwrap() error {
	return e.Cause
}

// DebugInfo links a failed job to its captured diagnostics.
type DebugInfo struct {
	DebugID string   `json:"debug_id"`
	Files   []string `json:"files"`
}

// AutomationError is a failed external call (browser sequence or document
// conversion), optionally carrying a debug session with diagnostics.
type AutomationError struct {
	Stage   string
	Timeout bool
	Debug   *DebugInfo
	Cause   error
}

func (e *AutomationError) Error() string {
	if e.Debug != nil {
		return fmt.Sprintf("automation failed at %s (debug session %s): %v", e.Stage, e.Debug.DebugID, e.Cause)
	}
	return fmt.Sprintf("automation failed at %s: %v", e.Stage, e.Cause)
}

func (e *AutomationError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps job errors onto HTTP status codes. NotFound and Expired
// are deliberately distinct: a served-and-expired artifact is 410, an
// unknown one 404.
func HTTPStatus(err error) int {
	var validationErr *ValidationError
	var downloadErr *fetch.Error
	switch {
	case errors.As(err, &validationErr), errors.As(err, &downloadErr):
		return http.StatusBadRequest
	case errors.Is(err, artifacts.ErrNotFound), errors.Is(err, debugstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, artifacts.ErrExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
