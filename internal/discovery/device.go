package discovery

import (
	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/registry"
)

// Kind is the closed set of local device kinds.
type Kind int

const (
	KindHub Kind = iota
	KindCamera
	KindDoorbell
)

func (k Kind) String() string {
	switch k {
	case KindHub:
		return "hub"
	case KindCamera:
		return "camera"
	case KindDoorbell:
		return "doorbell"
	default:
		return "unknown"
	}
}

// sirenSuffix names the built-in siren child of a basestation.
const sirenSuffix = ".siren"

// Device is the local object built for one remote device.
type Device struct {
	Kind   Kind
	Remote cloud.RemoteDevice

	// Hub is the device's parent hub. Hubs and standalone cameras carry
	// themselves.
	Hub cloud.RemoteDevice
}

// NativeID returns the device's ID in the host tree.
func (d *Device) NativeID() string {
	return d.Remote.DeviceID
}

// Interfaces returns the host interfaces the device exposes.
func (d *Device) Interfaces() []string {
	switch d.Kind {
	case KindHub:
		ifaces := []string{registry.InterfaceDeviceProvider, registry.InterfaceSettings}
		if d.Remote.Category() == cloud.CategorySiren {
			ifaces = append(ifaces, registry.InterfaceOnOff)
		}
		return ifaces
	case KindDoorbell:
		return []string{
			registry.InterfaceCamera, registry.InterfaceMotionSensor,
			registry.InterfaceBinarySensor, registry.InterfaceBattery, registry.InterfaceSettings,
		}
	default:
		ifaces := []string{registry.InterfaceCamera, registry.InterfaceMotionSensor}
		// Arlo Q models are mains powered.
		switch d.Remote.Category() {
		case cloud.CategoryArloQ, cloud.CategoryArloQS:
		default:
			ifaces = append(ifaces, registry.InterfaceBattery)
		}
		return append(ifaces, registry.InterfaceSettings)
	}
}

func (d *Device) manifestType() registry.Type {
	switch d.Kind {
	case KindHub:
		if d.Remote.Category() == cloud.CategorySiren {
			return registry.TypeSiren
		}
		return registry.TypeHub
	case KindDoorbell:
		return registry.TypeDoorbell
	default:
		return registry.TypeCamera
	}
}

// Manifest returns the device's descriptor. The provider is left empty; the
// engine stages it under the right parent.
func (d *Device) Manifest() registry.Manifest {
	name := d.Remote.DeviceName
	if name == "" {
		name = d.Remote.DeviceID
	}
	return registry.Manifest{
		NativeID:   d.Remote.DeviceID,
		Name:       name,
		Type:       d.manifestType(),
		Interfaces: d.Interfaces(),
		Info: registry.Info{
			Model:        d.Remote.ModelID,
			Serial:       d.Remote.DeviceID,
			Manufacturer: registry.Manufacturer,
		},
	}
}

// BuiltinChildren returns the manifests of devices the device provides
// itself. A basestation exposes its siren.
func (d *Device) BuiltinChildren() []registry.Manifest {
	if d.Kind != KindHub || d.Remote.Category() != cloud.CategoryBasestation {
		return nil
	}
	m := d.Manifest()
	return []registry.Manifest{{
		NativeID:         d.Remote.DeviceID + sirenSuffix,
		ProviderNativeID: d.Remote.DeviceID,
		Name:             m.Name + " Siren",
		Type:             registry.TypeSiren,
		Interfaces:       []string{registry.InterfaceOnOff},
		Info:             m.Info,
	}}
}
