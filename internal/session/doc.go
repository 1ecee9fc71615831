// Package session owns the authenticated Arlo cloud client.
//
// Manager implements the login state machine. A stored token logs in
// directly; otherwise a password login waits in awaiting_mfa until a code
// arrives through SubmitCode (typed by the user) or a mailbox relogin.
// Once authenticated, setup runs in the background: device discovery,
// event stream subscription, and the stream refresh interval.
//
// Manager also implements mailbox.Session so the mailbox poller can force a
// fresh login and roll it back if no code arrives.
package session
