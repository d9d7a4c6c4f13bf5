package core

// errors.go defines the run error taxonomy. Every error the orchestrator
// returns is one of these (or a context error on cancellation), so callers
// can branch with errors.As instead of matching strings.

import (
	"errors"
	"fmt"
)

// ErrTargetBusy is returned when a run is requested for a target that
// already has one in flight.
var ErrTargetBusy = errors.New("target busy: a run is already in progress")

// ErrRunNotFound is returned when a run id is unknown or has expired.
var ErrRunNotFound = errors.New("run not found")

// ErrUnknownTarget is returned when no target is configured under an id.
var ErrUnknownTarget = errors.New("unknown target")

// AuthError is a login handshake failure. Rejected distinguishes a server
// refusing the credentials from a transport failure.
type AuthError struct {
	URL      string
	Rejected bool
	Err      error
}

func (e *AuthError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("authentication rejected by %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("authentication failed: cannot reach %s: %v", e.URL, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SourceError is a failure reading records from a source.
type SourceError struct {
	Ref string
	Err error
}

func (e *SourceError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("source read failed: %v", e.Err)
	}
	return fmt.Sprintf("source read failed at %s: %v", e.Ref, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// MappingError is a record whose cells cannot be coerced to the configured kinds.
type MappingError struct {
	Ref   string
	Field string
	Err   error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping failed at %s, field %s: %v", e.Ref, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// SubmitError is a failed submission. Status is the HTTP status when the
// server answered; Rejected is set when a 2xx response re-rendered the
// form with validation errors.
type SubmitError struct {
	TargetID string
	Ref      string
	Status   int
	Rejected bool
	Err      error
}

func (e *SubmitError) Error() string {
	where := e.TargetID
	if e.Ref != "" {
		where += " (" + e.Ref + ")"
	}
	switch {
	case e.Rejected:
		return fmt.Sprintf("submission rejected for %s: %v", where, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("submission failed for %s: status %d: %v", where, e.Status, e.Err)
	default:
		return fmt.Sprintf("submission failed for %s: %v", where, e.Err)
	}
}

func (e *SubmitError) Unwrap() error { return e.Err }
