package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-arlo/internal/registry"
)

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the host device registry the engine announces devices to.
// *registry.Registry implements it.
type Registry interface {
	DeviceDiscovered(ctx context.Context, m registry.Manifest) error
	DevicesChanged(ctx context.Context, parent string, manifests []registry.Manifest) error
}

// Metrics receives a summary of each pass. May be nil.
type Metrics interface {
	RecordDiscovery(s influxdb.DiscoveryStats)
}

// Engine maps the flat cloud device list into the host device tree.
//
// The index built by a pass replaces the previous one when the pass starts
// and stays in place if the pass is aborted part way.
//
// Thread Safety:
//   - Discover calls are serialised.
//   - Lookups are safe for concurrent use, including during a pass.
type Engine struct {
	registry Registry
	logger   Logger
	metrics  Metrics

	passMu sync.Mutex

	mu    sync.RWMutex
	index *Index
}

// NewEngine creates an Engine with an empty index.
func NewEngine(reg Registry) *Engine {
	return &Engine{
		registry: reg,
		logger:   noopLogger{},
		index:    newIndex(),
	}
}

// SetLogger sets the logger.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetMetrics sets the metrics sink.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// stager groups manifests by provider in first-seen order.
type stager struct {
	parents []string
	byID    map[string][]registry.Manifest
}

func (s *stager) add(parent string, m registry.Manifest) {
	if s.byID == nil {
		s.byID = make(map[string][]registry.Manifest)
	}
	if _, ok := s.byID[parent]; !ok {
		s.parents = append(s.parents, parent)
	}
	s.byID[parent] = append(s.byID[parent], m)
}

// Discover runs one pass: it lists hubs and cameras, rebuilds the index,
// announces every device to the registry one at a time, then replaces each
// provider's child list and finally the root list.
//
// Returns an error wrapping ErrDiscovery if a cloud call or a registry call
// fails; the cloud error (for example cloud.ErrUnauthorized) is wrapped too.
func (e *Engine) Discover(ctx context.Context, client cloud.Client) error {
	if client == nil {
		return ErrNotAuthenticated
	}

	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := time.Now()
	stats := influxdb.DiscoveryStats{}
	err := e.discover(ctx, client, &stats)
	stats.Duration = time.Since(start)
	stats.Failed = err != nil
	if e.metrics != nil {
		e.metrics.RecordDiscovery(stats)
	}
	return err
}

func (e *Engine) discover(ctx context.Context, client cloud.Client, stats *influxdb.DiscoveryStats) error {
	e.logger.Info("discovering devices")

	hubs, err := client.ListDevices(ctx, cloud.HubCategories...)
	if err != nil {
		return fmt.Errorf("%w: listing hubs: %w", ErrDiscovery, err)
	}
	cameras, err := client.ListDevices(ctx, cloud.CameraCategories...)
	if err != nil {
		return fmt.Errorf("%w: listing cameras: %w", ErrDiscovery, err)
	}

	idx := newIndex()
	e.mu.Lock()
	e.index = idx
	e.mu.Unlock()

	var staged stager
	announce := func(d *Device, parent string) error {
		m := d.Manifest()
		m.ProviderNativeID = parent
		staged.add(parent, m)
		if err := e.registry.DeviceDiscovered(ctx, m); err != nil {
			return fmt.Errorf("%w: announcing %s: %w", ErrDiscovery, m.NativeID, err)
		}
		for _, child := range d.BuiltinChildren() {
			staged.add(child.ProviderNativeID, child)
			if err := e.registry.DeviceDiscovered(ctx, child); err != nil {
				return fmt.Errorf("%w: announcing %s: %w", ErrDiscovery, child.NativeID, err)
			}
		}
		return nil
	}

	for _, hub := range hubs {
		e.logger.Debug("adding hub", "native_id", hub.DeviceID, "model", hub.ModelID)
		if !e.addHub(idx, hub) {
			e.logger.Info("skipping hub as it has already been added", "native_id", hub.DeviceID, "model", hub.ModelID)
			continue
		}
		d, err := e.device(idx, hub.DeviceID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDiscovery, err)
		}
		e.logger.Debug("hub interfaces", "native_id", hub.DeviceID, "interfaces", d.Interfaces())
		if err := announce(d, ""); err != nil {
			return err
		}
		stats.Hubs++
	}
	e.logger.Info("discovered hubs", "count", len(hubs))

	for _, cam := range cameras {
		e.logger.Debug("adding camera", "native_id", cam.DeviceID, "model", cam.ModelID)
		if !cam.Standalone() && !idx.hasHub(cam.ParentID) {
			e.logger.Info("skipping camera because its basestation was not found",
				"native_id", cam.DeviceID, "model", cam.ModelID, "parent", cam.ParentID, "error", ErrOrphanDevice)
			stats.Orphans++
			continue
		}
		if !e.addCamera(idx, cam) {
			e.logger.Info("skipping camera as it has already been added", "native_id", cam.DeviceID, "model", cam.ModelID)
			continue
		}
		d, err := e.device(idx, cam.DeviceID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDiscovery, err)
		}
		e.logger.Debug("camera interfaces", "native_id", cam.DeviceID, "interfaces", d.Interfaces())

		parent := cam.ParentID
		if cam.Standalone() {
			parent = ""
		}
		if err := announce(d, parent); err != nil {
			return err
		}
		stats.Usable++
	}
	stats.Cameras = len(cameras)

	if stats.Usable != len(cameras) {
		e.logger.Warn("discovered cameras, some are unusable", "count", len(cameras), "usable", stats.Usable)
	} else {
		e.logger.Info("discovered cameras", "count", len(cameras), "usable", stats.Usable)
	}

	for _, parent := range staged.parents {
		if parent == "" {
			continue
		}
		if err := e.registry.DevicesChanged(ctx, parent, staged.byID[parent]); err != nil {
			return fmt.Errorf("%w: updating children of %s: %w", ErrDiscovery, parent, err)
		}
	}

	root := staged.byID[""]
	if root == nil {
		root = []registry.Manifest{}
	}
	if err := e.registry.DevicesChanged(ctx, "", root); err != nil {
		return fmt.Errorf("%w: updating root devices: %w", ErrDiscovery, err)
	}
	return nil
}

func (e *Engine) addHub(idx *Index, d cloud.RemoteDevice) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return idx.addHub(d)
}

// addCamera registers a camera, and a standalone camera as its own hub.
func (e *Engine) addCamera(idx *Index, d cloud.RemoteDevice) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !idx.addCamera(d) {
		return false
	}
	if d.Standalone() {
		idx.addHub(d)
	}
	return true
}

func (e *Engine) device(idx *Index, nativeID string) (*Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return idx.device(nativeID)
}

// Device returns the local device for nativeID, building it on first use.
// Returns ErrDeviceNotFound for IDs missing from the index and
// ErrOrphanDevice for a camera whose hub is missing.
func (e *Engine) Device(nativeID string) (*Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.device(nativeID)
}

// Subscriptions returns a (hub, camera) pair for every camera in the index,
// in discovery order.
func (e *Engine) Subscriptions() []cloud.Subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.subscriptions()
}

// MaterializeCameras builds the local device of every indexed camera and
// returns how many exist.
func (e *Engine) MaterializeCameras() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, id := range e.index.cameraOrder {
		if _, err := e.index.device(id); err != nil {
			e.logger.Warn("cannot create camera device", "native_id", id, "error", err)
			continue
		}
		n++
	}
	return n
}

// Snapshot returns a copy of the current index.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.snapshot()
}
