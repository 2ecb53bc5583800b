package engine

import "errors"

// ErrNotFound is returned when a referenced session, trainer slot, or
// registration does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvariantViolation indicates an operation would break a capacity or
// ordering invariant. It signals a logic bug and is never retried.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrContention is returned after the engine exhausts its internal retries
// on transactional conflicts. Callers may retry the whole operation.
var ErrContention = errors.New("transaction contention")

// ErrCodeSpaceExhausted is returned when code generation keeps colliding.
// Practically unreachable given the code space, but handled rather than
// assumed impossible.
var ErrCodeSpaceExhausted = errors.New("code space exhausted")

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers should retry with backoff.
var ErrUnavailable = errors.New("store unavailable")

// ErrForged is returned for a check-in payload that fails authentication or
// does not match the stored registration state.
var ErrForged = errors.New("forged check-in payload")
