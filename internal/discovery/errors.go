package discovery

import "errors"

var (
	// ErrDiscovery is returned when a pass is aborted. No root notification
	// is emitted for an aborted pass.
	ErrDiscovery = errors.New("discovery: pass aborted")

	// ErrNotAuthenticated is returned when Discover is called without a client.
	ErrNotAuthenticated = errors.New("discovery: client not connected")

	// ErrOrphanDevice marks a camera whose parent hub is unknown.
	ErrOrphanDevice = errors.New("discovery: parent hub not found")

	// ErrDeviceNotFound is returned for a native ID missing from the index.
	ErrDeviceNotFound = errors.New("discovery: device not found")
)
