package sale

import "errors"

// Every failure surfaced by the sale module wraps exactly one of these
// sentinels so the dispatcher can map it to a response code with errors.Is
// instead of matching message text.
var (
	// ErrValidation covers malformed arguments: non-positive prices, wrong
	// deposit multiples, duplicate identifiers.
	ErrValidation = errors.New("sale: validation failed")
	// ErrUnauthorized is returned when the caller is not the seller/buyer the
	// operation requires, or the witness check fails.
	ErrUnauthorized = errors.New("sale: unauthorized")
	// ErrInvalidState is returned when an operation is attempted from the
	// wrong lifecycle state.
	ErrInvalidState = errors.New("sale: invalid state")
	// ErrNotFound is returned when no sale exists under the identifier.
	ErrNotFound = errors.New("sale: not found")
	// ErrCorrupted is returned when a stored record fails the id-matches-key
	// integrity check.
	ErrCorrupted = errors.New("sale: record corrupted")
	// ErrPersistence is returned when the backing store rejects a write, for
	// example when the storage stake quota is not met.
	ErrPersistence = errors.New("sale: persistence failure")
)
