package pck

import "errors"

// Error kinds returned by the engine, per the taxonomy of the error handling
// design: NotFound/Unauthorized/Forbidden surface to callers as typed
// errors; Unavailable marks a transient store/LLM failure; Invariant marks a
// programmer error (e.g. appending an event to a completed trajectory) and
// is fatal — it should be logged, not retried.
var (
	ErrNotFound     = errors.New("pck: not found")
	ErrUnauthorized = errors.New("pck: unauthorized")
	ErrForbidden    = errors.New("pck: forbidden")
	ErrUnavailable  = errors.New("pck: unavailable")
	ErrInvariant    = errors.New("pck: invariant violation")
)
