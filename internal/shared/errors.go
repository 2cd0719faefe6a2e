package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorMissing indicates an administrative request without actor identity.
	ErrActorMissing = errors.New("actor identity required")
)
