package vigil

import "errors"

// Sentinel errors surfaced to API callers. Anything else coming out of the
// service is an internal fault and is logged, never shown verbatim.
var (
	// ErrNotFound covers targets, folders and events that do not exist,
	// or that the caller is not allowed to know exist.
	ErrNotFound = errors.New("vigil: not found")

	// ErrUnauthorized is returned when the principal can see the resource
	// but may not perform the operation on it.
	ErrUnauthorized = errors.New("vigil: operation not permitted")

	// ErrInvalidInput flags admission failures: bad enum values,
	// oversized descriptions, malformed extraction configs.
	ErrInvalidInput = errors.New("vigil: invalid input")

	// ErrAlreadySubscribed is returned on a duplicate subscribe.
	ErrAlreadySubscribed = errors.New("vigil: already subscribed to this target")

	// ErrSlugTaken is returned when a requested public slug is already in
	// use by another public target.
	ErrSlugTaken = errors.New("vigil: public slug already in use")
)
