package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the Registry.
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

// Publisher mirrors registry contents onto the bus as retained messages.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any) error
	ClearRetained(topic string) error
}

// Registry is the host device tree the discovery engine reports into.
//
// Manifests are persisted through a Repository, cached in memory and, when a
// Publisher is set, mirrored to retained MQTT topics. Publish failures are
// logged and never fail the registry operation; a reconnecting subscriber
// picks up the persisted state on the next discovery pass.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Manifest
	cacheMu sync.RWMutex

	// writeMu serialises tree mutations so a DevicesChanged diff is computed
	// against a stable child set.
	writeMu sync.Mutex

	logger    Logger
	publisher Publisher
	onChange  func(Change)
	topics    mqtt.Topics
}

// NewRegistry creates a registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Manifest),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher enables MQTT mirroring. Nil disables it.
func (r *Registry) SetPublisher(p Publisher) {
	r.publisher = p
}

// SetOnChange registers a listener called after every tree change.
func (r *Registry) SetOnChange(fn func(Change)) {
	r.onChange = fn
}

// RefreshCache reloads all manifests from the repository.
// This should be called on startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	manifests, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading manifests: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Manifest, len(manifests))
	for i := range manifests {
		r.cache[manifests[i].NativeID] = manifests[i].DeepCopy()
	}

	r.logger.Info("registry cache refreshed", "count", len(manifests))
	return nil
}

// DeviceDiscovered records one device without touching its siblings.
// An existing manifest with the same native ID is replaced.
func (r *Registry) DeviceDiscovered(ctx context.Context, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Upsert(ctx, &m); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.cache[m.NativeID] = m.DeepCopy()
	r.cacheMu.Unlock()

	r.publish(r.topics.DeviceManifest(m.NativeID), m)
	r.logger.Debug("device discovered", "native_id", m.NativeID, "provider", m.ProviderNativeID)
	r.notify(Change{Kind: ChangeDiscovered, NativeID: m.NativeID, Parent: m.ProviderNativeID})
	return nil
}

// DevicesChanged makes manifests the complete child list of parent ("" for
// the root). Every listed manifest is re-parented under parent and stored;
// previous children missing from the list are removed along with their
// descendants.
func (r *Registry) DevicesChanged(ctx context.Context, parent string, manifests []Manifest) error {
	for i := range manifests {
		manifests[i].ProviderNativeID = parent
		if err := manifests[i].Validate(); err != nil {
			return err
		}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	keep := make(map[string]bool, len(manifests))
	for i := range manifests {
		m := manifests[i]
		keep[m.NativeID] = true
		if err := r.repo.Upsert(ctx, &m); err != nil {
			return err
		}
		r.cacheMu.Lock()
		r.cache[m.NativeID] = m.DeepCopy()
		r.cacheMu.Unlock()
		r.publish(r.topics.DeviceManifest(m.NativeID), m)
	}

	previous, err := r.repo.ListByProvider(ctx, parent)
	if err != nil {
		return fmt.Errorf("listing children of %q: %w", parent, err)
	}
	removed := 0
	for _, child := range previous {
		if keep[child.NativeID] {
			continue
		}
		n, err := r.removeTree(ctx, child.NativeID)
		if err != nil {
			return err
		}
		removed += n
	}

	ids := make([]string, 0, len(manifests))
	for _, m := range manifests {
		ids = append(ids, m.NativeID)
	}
	sort.Strings(ids)
	r.publish(r.topics.DeviceChildren(parent), ids)

	r.logger.Info("devices changed", "parent", parentLabel(parent), "count", len(manifests), "removed", removed)
	r.notify(Change{Kind: ChangeChildren, Parent: parent, Count: len(manifests)})
	return nil
}

// removeTree deletes nativeID and everything below it. Returns the number
// of devices removed.
func (r *Registry) removeTree(ctx context.Context, nativeID string) (int, error) {
	children, err := r.repo.ListByProvider(ctx, nativeID)
	if err != nil {
		return 0, fmt.Errorf("listing children of %q: %w", nativeID, err)
	}
	removed := 0
	for _, child := range children {
		n, err := r.removeTree(ctx, child.NativeID)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if err := r.repo.Delete(ctx, nativeID); err != nil {
		return removed, err
	}
	r.cacheMu.Lock()
	delete(r.cache, nativeID)
	r.cacheMu.Unlock()

	r.clear(r.topics.DeviceManifest(nativeID))
	if len(children) > 0 {
		r.clear(r.topics.DeviceChildren(nativeID))
	}
	r.logger.Info("device removed", "native_id", nativeID)
	r.notify(Change{Kind: ChangeRemoved, NativeID: nativeID})
	return removed + 1, nil
}

// Get returns a copy of the manifest for nativeID.
func (r *Registry) Get(ctx context.Context, nativeID string) (*Manifest, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[nativeID]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	m, err := r.repo.Get(ctx, nativeID)
	if err != nil {
		return nil, err
	}
	r.cacheMu.Lock()
	r.cache[nativeID] = m.DeepCopy()
	r.cacheMu.Unlock()
	return m, nil
}

// List returns copies of every manifest, ordered by native ID.
func (r *Registry) List() []Manifest {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Manifest, 0, len(r.cache))
	for _, m := range r.cache {
		out = append(out, *m.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NativeID < out[j].NativeID })
	return out
}

// Children returns copies of parent's direct children ("" for root).
func (r *Registry) Children(parent string) []Manifest {
	var out []Manifest
	for _, m := range r.List() {
		if m.ProviderNativeID == parent {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of cached manifests.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

func (r *Registry) publish(topic string, v any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishJSON(topic, v); err != nil {
		r.logger.Warn("registry publish failed", "topic", topic, "error", err)
	}
}

func (r *Registry) clear(topic string) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.ClearRetained(topic); err != nil {
		r.logger.Warn("registry clear failed", "topic", topic, "error", err)
	}
}

func (r *Registry) notify(c Change) {
	if r.onChange != nil {
		r.onChange(c)
	}
}

func parentLabel(parent string) string {
	if parent == "" {
		return mqtt.RootParent
	}
	return parent
}
