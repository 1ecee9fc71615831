package mailbox

import "errors"

var (
	// ErrIncompleteConfig is returned by Start when a required IMAP field is
	// empty. The poller stays disabled.
	ErrIncompleteConfig = errors.New("mailbox: incomplete IMAP configuration")

	// ErrTransport wraps IMAP connection, login and command failures.
	ErrTransport = errors.New("mailbox: IMAP transport error")

	// errSuperseded ends a loop whose generation is no longer current.
	errSuperseded = errors.New("mailbox: loop superseded")
)
