package models

import "errors"

// Classified pipeline error kinds. Steps wrap the underlying cause with
// fmt.Errorf("%w: ...") so call sites can match with errors.Is.
var (
	// ErrInputFetch - price/news input could not be fetched; degrade where possible
	ErrInputFetch = errors.New("input fetch failed")

	// ErrModelInvocation - transport-level model failure after bounded retries
	ErrModelInvocation = errors.New("model invocation failed")

	// ErrModelOutputValidation - model output stayed malformed after the repair retry
	ErrModelOutputValidation = errors.New("model output validation failed")

	// ErrStorageConstraint - unique-key violation; expected on duplicate runs
	ErrStorageConstraint = errors.New("storage constraint violation")

	// ErrStorageUnavailable - the store cannot be reached or the write failed outright
	ErrStorageUnavailable = errors.New("storage unavailable")
)
