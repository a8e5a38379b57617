package internaltypes

import "errors"

var (
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrNotFound      = errors.New("not found")
)

// Session errors.
var (
	// ErrAuthUnavailable means no credential could be acquired. Fatal for the
	// current round only.
	ErrAuthUnavailable = errors.New("authentication unavailable")
	ErrAuthExpired     = errors.New("credential expired")
)

// Probe errors.
var (
	ErrTransient = errors.New("transient upstream failure")
	ErrConflict  = errors.New("selection conflict")
)
