// Package providers holds the error taxonomy shared by the external
// provider gateways.
package providers

import "errors"

var (
	// ErrProviderUnavailable marks a network or 5xx failure from an
	// external provider. Retried a bounded number of times before it
	// surfaces as job failure.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderTimeout marks a snapshot poll exceeding its maximum wait.
	// Terminal - no further retries.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrInvalidTarget marks a malformed input URL or target spec.
	// Terminal, not retried.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrNotFound marks a provider-side "snapshot not found" poll reply.
	// Permanent failure, no further polling.
	ErrNotFound = errors.New("snapshot not found")

	// ErrParsePayload marks an unparsable provider reply. Terminal, but the
	// raw text is preserved alongside for diagnosis.
	ErrParsePayload = errors.New("unparsable provider payload")
)
