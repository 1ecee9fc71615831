// Package discovery reconciles the Arlo cloud device list into the host
// device tree.
//
// Hubs (basestations and sirens) sit at the root. Cameras and doorbells sit
// under their hub; a standalone camera (deviceId == parentId) is its own hub
// and sits at the root. A camera whose hub is not in the list is an orphan
// and is skipped. Basestations provide a built-in siren child.
//
// A pass announces each device as it goes with DeviceDiscovered, then sets
// each provider's complete child list with DevicesChanged, and ends with the
// root list. The root list is only sent when every earlier step succeeded.
package discovery
