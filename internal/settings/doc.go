// Package settings holds the link's user settings and persisted session
// state, and routes setting changes to the components they affect.
//
// Values live in a flat key/value Storage (the settings table). Store adds
// typed accessors with write-back defaults and seals the persisted Arlo auth
// headers when a token key is configured. Facade is the surface used by the
// HTTP API: List renders the settings form for the current MFA strategy and
// Put validates a change, stores it, and tells the session manager or the
// mailbox poller what to do.
//
// Routing of Put:
//
//	arlo_mfa_code     submit the code to the pending login
//	force_reauth      drop the session and log in again
//	plugin_verbosity  switch the log level
//	arlo_transport    reconnect the event stream
//	mfa_strategy      start or stop the mailbox poller
//	refresh_interval  retime the event stream refresh
//	imap_mfa_*        restart the mailbox poller
//	anything else     drop the session and log in again
package settings
