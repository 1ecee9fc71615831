package registry

import "errors"

// Domain errors for the registry package.
//
//	if errors.Is(err, registry.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a native ID is not registered.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrInvalidManifest is returned when a manifest fails validation.
	ErrInvalidManifest = errors.New("registry: invalid manifest")
)
