package registry

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
)

// MockRepository is an in-memory Repository.
type MockRepository struct {
	mu        sync.Mutex
	manifests map[string]*Manifest

	upsertErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{manifests: make(map[string]*Manifest)}
}

func (m *MockRepository) Get(_ context.Context, id string) (*Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if got, ok := m.manifests[id]; ok {
		return got.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Manifest, 0, len(m.manifests))
	for _, got := range m.manifests {
		out = append(out, *got.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NativeID < out[j].NativeID })
	return out, nil
}

func (m *MockRepository) ListByProvider(ctx context.Context, provider string) ([]Manifest, error) {
	all, _ := m.List(ctx)
	var out []Manifest
	for _, got := range all {
		if got.ProviderNativeID == provider {
			out = append(out, got)
		}
	}
	return out, nil
}

func (m *MockRepository) Upsert(_ context.Context, man *Manifest) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[man.NativeID] = man.DeepCopy()
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.manifests[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.manifests, id)
	return nil
}

// fakePublisher records retained publishes and clears.
type fakePublisher struct {
	mu      sync.Mutex
	topics  map[string]any
	cleared []string
	err     error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{topics: make(map[string]any)}
}

func (p *fakePublisher) PublishJSON(topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics[topic] = v
	return nil
}

func (p *fakePublisher) ClearRetained(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.topics, topic)
	p.cleared = append(p.cleared, topic)
	return nil
}

func testManifest(id, parent string, typ Type) Manifest {
	return Manifest{
		NativeID:         id,
		ProviderNativeID: parent,
		Name:             "Device " + id,
		Type:             typ,
		Interfaces:       []string{InterfaceCamera},
		Info:             Info{Model: "VMC4040P", Serial: id, Manufacturer: Manufacturer},
	}
}

func nativeIDs(ms []Manifest) []string {
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.NativeID)
	}
	return ids
}

func TestDeviceDiscovered(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	pub := newFakePublisher()
	reg.SetPublisher(pub)

	var changes []Change
	reg.SetOnChange(func(c Change) { changes = append(changes, c) })

	ctx := context.Background()
	if err := reg.DeviceDiscovered(ctx, testManifest("H1", "", TypeHub)); err != nil {
		t.Fatalf("DeviceDiscovered(H1) error = %v", err)
	}
	if err := reg.DeviceDiscovered(ctx, testManifest("C1", "H1", TypeCamera)); err != nil {
		t.Fatalf("DeviceDiscovered(C1) error = %v", err)
	}

	if reg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reg.Count())
	}
	got, err := reg.Get(ctx, "C1")
	if err != nil {
		t.Fatalf("Get(C1) error = %v", err)
	}
	if got.ProviderNativeID != "H1" {
		t.Errorf("C1 provider = %q, want H1", got.ProviderNativeID)
	}
	if _, ok := pub.topics["arlolink/device/C1/manifest"]; !ok {
		t.Error("C1 manifest not published")
	}
	if len(changes) != 2 || changes[0].Kind != ChangeDiscovered {
		t.Errorf("changes = %+v", changes)
	}
}

func TestDeviceDiscovered_Invalid(t *testing.T) {
	reg := NewRegistry(NewMockRepository())

	tests := []struct {
		name string
		m    Manifest
	}{
		{"no id", Manifest{Name: "x", Type: TypeHub}},
		{"no name", Manifest{NativeID: "A", Type: TypeHub}},
		{"no type", Manifest{NativeID: "A", Name: "x"}},
		{"own provider", Manifest{NativeID: "A", ProviderNativeID: "A", Name: "x", Type: TypeHub}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.DeviceDiscovered(context.Background(), tt.m)
			if !errors.Is(err, ErrInvalidManifest) {
				t.Errorf("DeviceDiscovered() error = %v, want ErrInvalidManifest", err)
			}
		})
	}
}

func TestDeviceDiscovered_KeepsSiblings(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	ctx := context.Background()

	for _, id := range []string{"H1", "H2"} {
		if err := reg.DeviceDiscovered(ctx, testManifest(id, "", TypeHub)); err != nil {
			t.Fatalf("DeviceDiscovered(%s) error = %v", id, err)
		}
	}
	if err := reg.DeviceDiscovered(ctx, testManifest("H3", "", TypeHub)); err != nil {
		t.Fatalf("DeviceDiscovered(H3) error = %v", err)
	}

	if got := nativeIDs(reg.Children("")); !reflect.DeepEqual(got, []string{"H1", "H2", "H3"}) {
		t.Errorf("root children = %v, want [H1 H2 H3]", got)
	}
}

func TestDevicesChanged_RemovesMissingSubtree(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	pub := newFakePublisher()
	reg.SetPublisher(pub)
	ctx := context.Background()

	seed := []Manifest{
		testManifest("H1", "", TypeHub),
		testManifest("H2", "", TypeHub),
		testManifest("C1", "H1", TypeCamera),
		testManifest("C2", "H2", TypeCamera),
		testManifest("H2.siren", "H2", TypeSiren),
	}
	for _, m := range seed {
		if err := reg.DeviceDiscovered(ctx, m); err != nil {
			t.Fatalf("DeviceDiscovered(%s) error = %v", m.NativeID, err)
		}
	}

	// H2 disappears from the root: it and its children go.
	if err := reg.DevicesChanged(ctx, "", []Manifest{testManifest("H1", "", TypeHub)}); err != nil {
		t.Fatalf("DevicesChanged() error = %v", err)
	}

	if got := nativeIDs(reg.List()); !reflect.DeepEqual(got, []string{"C1", "H1"}) {
		t.Errorf("List() = %v, want [C1 H1]", got)
	}
	for _, topic := range []string{
		"arlolink/device/H2/manifest",
		"arlolink/device/C2/manifest",
		"arlolink/device/H2.siren/manifest",
		"arlolink/device/H2/children",
	} {
		if _, ok := pub.topics[topic]; ok {
			t.Errorf("retained %s not cleared", topic)
		}
	}
	if got := pub.topics["arlolink/device/root/children"]; !reflect.DeepEqual(got, []string{"H1"}) {
		t.Errorf("root children topic = %v, want [H1]", got)
	}
}

func TestDevicesChanged_Reparents(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	ctx := context.Background()

	if err := reg.DeviceDiscovered(ctx, testManifest("C1", "", TypeCamera)); err != nil {
		t.Fatalf("DeviceDiscovered() error = %v", err)
	}
	if err := reg.DevicesChanged(ctx, "H1", []Manifest{testManifest("C1", "", TypeCamera)}); err != nil {
		t.Fatalf("DevicesChanged() error = %v", err)
	}

	got, err := reg.Get(ctx, "C1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ProviderNativeID != "H1" {
		t.Errorf("provider = %q, want H1", got.ProviderNativeID)
	}
}

func TestDevicesChanged_RepositoryError(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	repo.upsertErr = errors.New("disk full")

	err := reg.DevicesChanged(context.Background(), "", []Manifest{testManifest("H1", "", TypeHub)})
	if err == nil {
		t.Fatal("DevicesChanged() error = nil, want repository error")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d after failed change, want 0", reg.Count())
	}
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	pub := newFakePublisher()
	pub.err = errors.New("not connected")
	reg.SetPublisher(pub)

	if err := reg.DeviceDiscovered(context.Background(), testManifest("H1", "", TypeHub)); err != nil {
		t.Errorf("DeviceDiscovered() error = %v, want nil with failing publisher", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	ctx := context.Background()
	if err := reg.DeviceDiscovered(ctx, testManifest("H1", "", TypeHub)); err != nil {
		t.Fatalf("DeviceDiscovered() error = %v", err)
	}

	got, _ := reg.Get(ctx, "H1")
	got.Interfaces[0] = "Tampered"

	again, _ := reg.Get(ctx, "H1")
	if again.Interfaces[0] != InterfaceCamera {
		t.Error("cache mutated through returned manifest")
	}

	if _, err := reg.Get(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRefreshCache(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()
	m := testManifest("H1", "", TypeHub)
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	reg := NewRegistry(repo)
	if reg.Count() != 0 {
		t.Fatalf("Count() before refresh = %d", reg.Count())
	}
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() after refresh = %d, want 1", reg.Count())
	}
}
