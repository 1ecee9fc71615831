// Package cloud is the Arlo cloud session used by the link.
//
// It covers the three things the rest of the link needs from the cloud:
//   - password login with an emailed MFA code, or a restore from persisted
//     auth headers
//   - the device list
//   - the event stream, over MQTT (primary) or SSE (secondary), with an
//     optional periodic reconnect
//
// The event payloads themselves are passed through undecoded beyond their
// routing fields.
//
// Authorization failures (HTTP 401/403) wrap ErrUnauthorized so callers can
// tell a dead session from a transient network error:
//
//	if errors.Is(err, cloud.ErrUnauthorized) {
//	    // drop stored headers and log in again
//	}
package cloud
