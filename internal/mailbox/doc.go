// Package mailbox answers Arlo MFA challenges from an IMAP inbox.
//
// When the IMAP strategy is selected, the Poller forces a fresh Arlo login
// every IntervalDays days. Each cycle asks the session manager to start an
// MFA login, then polls the mailbox once a second for a new message from the
// Arlo sender. The first six-digit code found on its own line in a
// text/html part completes the login. If the mailbox fails mid-cycle the
// previous session is restored and the loop waits for the next interval.
//
// Messages already present when the poller starts are never examined.
package mailbox
