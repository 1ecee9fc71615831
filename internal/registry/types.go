package registry

import (
	"fmt"
	"slices"
)

// Type classifies a device in the host tree.
type Type string

const (
	TypeHub      Type = "hub"
	TypeCamera   Type = "camera"
	TypeDoorbell Type = "doorbell"
	TypeSiren    Type = "siren"
)

// Interfaces a device can expose to the host.
const (
	InterfaceDeviceProvider = "DeviceProvider"
	InterfaceCamera         = "Camera"
	InterfaceMotionSensor   = "MotionSensor"
	InterfaceBinarySensor   = "BinarySensor"
	InterfaceBattery        = "Battery"
	InterfaceOnOff          = "OnOff"
	InterfaceSettings       = "Settings"
)

// Manufacturer is reported in every manifest's info block.
const Manufacturer = "Arlo"

// Info is the descriptive part of a manifest.
type Info struct {
	Model        string `json:"model,omitempty"`
	Serial       string `json:"serialNumber,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// Manifest is the exported descriptor of one device.
//
// ProviderNativeID names the parent device; "" places the device at the
// root of the tree.
type Manifest struct {
	NativeID         string   `json:"nativeId"`
	ProviderNativeID string   `json:"providerNativeId,omitempty"`
	Name             string   `json:"name"`
	Type             Type     `json:"type"`
	Interfaces       []string `json:"interfaces"`
	Info             Info     `json:"info"`
}

// DeepCopy returns an independent copy of m.
func (m *Manifest) DeepCopy() *Manifest {
	if m == nil {
		return nil
	}
	out := *m
	out.Interfaces = slices.Clone(m.Interfaces)
	return &out
}

// HasInterface reports whether the manifest declares iface.
func (m *Manifest) HasInterface(iface string) bool {
	return slices.Contains(m.Interfaces, iface)
}

// Validate checks the fields the registry relies on.
func (m *Manifest) Validate() error {
	if m.NativeID == "" {
		return fmt.Errorf("%w: native id is required", ErrInvalidManifest)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidManifest, m.NativeID)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: %s: type is required", ErrInvalidManifest, m.NativeID)
	}
	if m.ProviderNativeID == m.NativeID {
		return fmt.Errorf("%w: %s: device cannot be its own provider", ErrInvalidManifest, m.NativeID)
	}
	return nil
}

// ChangeKind describes what a Change did to the tree.
type ChangeKind string

const (
	ChangeDiscovered ChangeKind = "discovered"
	ChangeRemoved    ChangeKind = "removed"
	ChangeChildren   ChangeKind = "children"
)

// Change is reported to the registry's change listener.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	NativeID string     `json:"nativeId,omitempty"`
	Parent   string     `json:"parent,omitempty"`
	Count    int        `json:"count,omitempty"`
}
