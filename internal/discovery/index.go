package discovery

import (
	"fmt"

	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
)

// Index holds the devices known from one discovery pass. Local devices are
// built lazily and never rebuilt while their entry is present.
type Index struct {
	hubs    map[string]cloud.RemoteDevice
	cameras map[string]cloud.RemoteDevice
	devices map[string]*Device

	hubOrder    []string
	cameraOrder []string
}

func newIndex() *Index {
	return &Index{
		hubs:    make(map[string]cloud.RemoteDevice),
		cameras: make(map[string]cloud.RemoteDevice),
		devices: make(map[string]*Device),
	}
}

func (idx *Index) hasHub(id string) bool {
	_, ok := idx.hubs[id]
	return ok
}

// addHub reports false if the hub is already present.
func (idx *Index) addHub(d cloud.RemoteDevice) bool {
	if idx.hasHub(d.DeviceID) {
		return false
	}
	idx.hubs[d.DeviceID] = d
	idx.hubOrder = append(idx.hubOrder, d.DeviceID)
	return true
}

// addCamera reports false if the camera is already present.
func (idx *Index) addCamera(d cloud.RemoteDevice) bool {
	if _, ok := idx.cameras[d.DeviceID]; ok {
		return false
	}
	idx.cameras[d.DeviceID] = d
	idx.cameraOrder = append(idx.cameraOrder, d.DeviceID)
	return true
}

// device returns the memoised device for id or builds it.
func (idx *Index) device(id string) (*Device, error) {
	if d, ok := idx.devices[id]; ok {
		return d, nil
	}
	d, err := idx.createDevice(id)
	if err != nil {
		return nil, err
	}
	idx.devices[id] = d
	return d, nil
}

// createDevice builds the local device for id. A camera entry wins over a
// hub entry, so a standalone camera is built as a camera.
func (idx *Index) createDevice(id string) (*Device, error) {
	remote, isCamera := idx.cameras[id]
	if !isCamera {
		hub, ok := idx.hubs[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return &Device{Kind: KindHub, Remote: hub, Hub: hub}, nil
	}

	hub, ok := idx.hubs[remote.ParentID]
	if !ok {
		return nil, fmt.Errorf("%w: camera %s, hub %s", ErrOrphanDevice, id, remote.ParentID)
	}
	kind := KindCamera
	if remote.Category() == cloud.CategoryDoorbell {
		kind = KindDoorbell
	}
	return &Device{Kind: kind, Remote: remote, Hub: hub}, nil
}

func (idx *Index) subscriptions() []cloud.Subscription {
	subs := make([]cloud.Subscription, 0, len(idx.cameraOrder))
	for _, id := range idx.cameraOrder {
		cam := idx.cameras[id]
		hub, ok := idx.hubs[cam.ParentID]
		if !ok {
			continue
		}
		subs = append(subs, cloud.Subscription{Hub: hub, Device: cam})
	}
	return subs
}

// Snapshot is a copy of the index for callers outside the engine.
type Snapshot struct {
	Hubs    []cloud.RemoteDevice `json:"hubs"`
	Cameras []cloud.RemoteDevice `json:"cameras"`
	Built   int                  `json:"built"`
}

func (idx *Index) snapshot() Snapshot {
	s := Snapshot{
		Hubs:    make([]cloud.RemoteDevice, 0, len(idx.hubOrder)),
		Cameras: make([]cloud.RemoteDevice, 0, len(idx.cameraOrder)),
		Built:   len(idx.devices),
	}
	for _, id := range idx.hubOrder {
		s.Hubs = append(s.Hubs, idx.hubs[id])
	}
	for _, id := range idx.cameraOrder {
		s.Cameras = append(s.Cameras, idx.cameras[id])
	}
	return s
}
