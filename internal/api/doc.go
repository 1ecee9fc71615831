// Package api provides the HTTP REST API and WebSocket server of the Arlo
// link.
//
// It exposes the settings form, the cloud session status, the host device
// tree, the discovery index and the audit trail to the Gray Logic admin UI.
// Device, session and cloud events stream over a WebSocket.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every route under /api/v1 except /health and /metrics requires an HS256
// bearer token signed with security.jwt.secret. WebSocket clients exchange
// their token for a single-use ticket first.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
