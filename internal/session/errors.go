package session

import "errors"

var (
	// ErrAuthFailure is returned when a login could not be started or
	// completed. The session is left unauthenticated.
	ErrAuthFailure = errors.New("session: authentication failed")

	// ErrNotAuthenticated is returned by operations that need an
	// authenticated client.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrReloginSuperseded is returned by Relogin.Complete when the session
	// changed since the relogin began.
	ErrReloginSuperseded = errors.New("session: relogin superseded")
)
