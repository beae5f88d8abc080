package types

import "errors"

// Error taxonomy for the retrieval engine. Each tier classifies failures
// against these sentinels to decide whether to retry, fall through to the
// next tier, or surface the error to the caller.
var (
	// ErrTransient marks retriable I/O failures: network blips, rate
	// limits, store timeouts. A tier absorbing ErrTransient falls through
	// to the next tier.
	ErrTransient = errors.New("transient failure")

	// ErrPermanentInput marks malformed or empty input that will never
	// succeed on retry: empty text, wrong embedding dimensionality,
	// missing required metadata.
	ErrPermanentInput = errors.New("permanent input error")

	// ErrCapacity marks resource exhaustion (connection pool, batch
	// limits) where backoff is required before retrying.
	ErrCapacity = errors.New("capacity exhausted")

	// ErrUpstream marks a failure of the caller-supplied fresh-fetch
	// operation. Always surfaced verbatim to the caller.
	ErrUpstream = errors.New("upstream fetch failed")

	// ErrNotFound is returned when a cache lookup declines: the entry is
	// absent, expired, or older than the requested maximum age. Callers
	// treat all three identically.
	ErrNotFound = errors.New("not found")
)

// IsTransient reports whether err should be absorbed by falling through to
// the next retrieval tier.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanentInput reports whether err is a non-retriable input error.
func IsPermanentInput(err error) bool {
	return errors.Is(err, ErrPermanentInput)
}

// IsNotFound reports whether err is a cache-tier decline.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
