package storage

import "errors"

// ErrUnavailable is returned when the durable store cannot be reached.
// Callers treat it as a gate condition, not a computation failure.
var ErrUnavailable = errors.New("storage unavailable")
