package cloud

import "errors"

// Sentinel errors for cloud operations. Use errors.Is to match.
var (
	// ErrUnauthorized is returned when the cloud rejects the session
	// (HTTP 401 or 403). The stored auth headers are no longer usable.
	ErrUnauthorized = errors.New("cloud: unauthorized")

	// ErrRequest is returned for any other failed API call.
	ErrRequest = errors.New("cloud: request failed")

	// ErrNotLoggedIn is returned by operations that need auth headers
	// before a login has completed.
	ErrNotLoggedIn = errors.New("cloud: not logged in")

	// ErrNoMFAFactor is returned when the account offers no usable
	// second factor.
	ErrNoMFAFactor = errors.New("cloud: no usable MFA factor")

	// ErrUnknownTransport is returned for an unrecognised event stream transport.
	ErrUnknownTransport = errors.New("cloud: unknown transport")
)
