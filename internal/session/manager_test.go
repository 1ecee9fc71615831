package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-arlo/internal/settings"
	"github.com/nerrad567/gray-logic-arlo/migrations"
)

const testCode = "123456"

// fakeClient is a scripted cloud.Client.
type fakeClient struct {
	id string

	loginErr  error
	tokenErr  error
	resumeErr error

	mu           sync.Mutex
	token        cloud.Token
	userID       string
	logins       int
	tokenLogins  int
	unsubscribes int
	subs         []cloud.Subscription
	refresh      int
}

func (c *fakeClient) Login(_ context.Context, _, _ string) (cloud.Resume, error) {
	c.mu.Lock()
	c.logins++
	c.mu.Unlock()
	if c.loginErr != nil {
		return nil, c.loginErr
	}
	return func(_ context.Context, code string) error {
		if c.resumeErr != nil {
			return c.resumeErr
		}
		if code != testCode {
			return fmt.Errorf("%w: wrong code", cloud.ErrUnauthorized)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.token = cloud.Token{"Authorization": "tok-" + c.id}
		c.userID = "user-1"
		return nil
	}, nil
}

func (c *fakeClient) LoginWithToken(_ context.Context, userID string, token cloud.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenLogins++
	if c.tokenErr != nil {
		return c.tokenErr
	}
	c.token = token.Clone()
	c.userID = userID
	return nil
}

func (c *fakeClient) Token() cloud.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.Clone()
}

func (c *fakeClient) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *fakeClient) Subscribe(_ context.Context, subs []cloud.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = subs
	return nil
}

func (c *fakeClient) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes++
}

func (c *fakeClient) ListDevices(context.Context, ...cloud.Category) ([]cloud.RemoteDevice, error) {
	return nil, nil
}

func (c *fakeClient) SetEventRefreshInterval(minutes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh = minutes
}

func (c *fakeClient) snapshot() (logins, tokenLogins, unsubscribes, refresh int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logins, c.tokenLogins, c.unsubscribes, c.refresh
}

type fakeDiscoverer struct {
	mu    sync.Mutex
	errs  []error // returned by successive Discover calls; nil afterwards
	calls int
	made  int
}

func (d *fakeDiscoverer) Discover(context.Context, cloud.Client) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return err
	}
	return nil
}

func (d *fakeDiscoverer) Subscriptions() []cloud.Subscription {
	hub := cloud.RemoteDevice{DeviceID: "H1", ParentID: "H1", DeviceType: "basestation"}
	cam := cloud.RemoteDevice{DeviceID: "C1", ParentID: "H1", DeviceType: "camera"}
	return []cloud.Subscription{{Hub: hub, Device: cam}}
}

func (d *fakeDiscoverer) MaterializeCameras() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.made++
	return 1
}

func (d *fakeDiscoverer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeMetrics struct {
	mu          sync.Mutex
	transitions []string
	logins      []string
}

func (f *fakeMetrics) RecordSessionState(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, from+">"+to)
}

func (f *fakeMetrics) RecordLogin(method string, ok bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, fmt.Sprintf("%s:%v", method, ok))
}

func (f *fakeMetrics) RecordMFACode(string) {}

type fixture struct {
	store      *settings.Store
	manager    *Manager
	discoverer *fakeDiscoverer
	metrics    *fakeMetrics

	mu      sync.Mutex
	clients []*fakeClient
	// configure adjusts each new client; n counts from 1.
	configure func(n int, c *fakeClient)
	factErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	f := &fixture{
		store:      settings.NewStore(settings.NewSQLiteStorage(db.DB), settings.StoreOptions{}),
		discoverer: &fakeDiscoverer{},
		metrics:    &fakeMetrics{},
	}
	f.manager = New(Options{
		Store:      f.store,
		NewClient:  f.newClient,
		Discoverer: f.discoverer,
		Metrics:    f.metrics,
	})
	t.Cleanup(f.manager.Close)
	return f
}

func (f *fixture) newClient(cloud.Transport) (cloud.Client, error) {
	if f.factErr != nil {
		return nil, f.factErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{id: fmt.Sprint(len(f.clients) + 1)}
	if f.configure != nil {
		f.configure(len(f.clients)+1, c)
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fixture) client(t *testing.T, n int) *fakeClient {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) < n {
		t.Fatalf("only %d clients created, want client %d", len(f.clients), n)
	}
	return f.clients[n-1]
}

func (f *fixture) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fixture) withCredentials(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	if err := f.store.Set(ctx, settings.KeyUsername, "owner@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(ctx, settings.KeyPassword, "pw"); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) withToken(t *testing.T) *fixture {
	t.Helper()
	if err := f.store.SaveAuth(context.Background(), cloud.Token{"Authorization": "stored"}, "user-1"); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) storedToken(t *testing.T) cloud.Token {
	t.Helper()
	token, _, err := f.store.AuthToken(context.Background())
	if err != nil {
		t.Fatalf("AuthToken() error = %v", err)
	}
	return token
}

func TestClient_NoCredentials(t *testing.T) {
	f := newFixture(t)

	if c := f.manager.Client(context.Background()); c != nil {
		t.Fatalf("Client() = %v, want nil", c)
	}
	if got := f.manager.State(); got != StateUnauthenticated {
		t.Errorf("State() = %s", got)
	}
	if n := f.clientCount(); n != 0 {
		t.Errorf("%d clients created without credentials", n)
	}
}

func TestClient_AwaitingMFAWithoutCode(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if c := f.manager.Client(ctx); c != nil {
			t.Fatalf("call %d: Client() = %v, want nil", i, c)
		}
		if got := f.manager.State(); got != StateAwaitingMFA {
			t.Fatalf("call %d: State() = %s, want awaiting_mfa", i, got)
		}
	}
	if logins, _, _, _ := f.client(t, 1).snapshot(); logins != 1 {
		t.Errorf("logins = %d, want 1", logins)
	}
	if n := f.clientCount(); n != 1 {
		t.Errorf("clients created = %d, want 1", n)
	}
}

func TestClient_CancelCode(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	ctx := context.Background()

	f.manager.Client(ctx)
	f.manager.SubmitCode("")

	if c := f.manager.Client(ctx); c != nil {
		t.Fatalf("Client() = %v after cancel", c)
	}
	if got := f.manager.State(); got != StateUnauthenticated {
		t.Errorf("State() = %s, want unauthenticated", got)
	}
	if f.manager.Status().CodePending {
		t.Error("cancel code still pending")
	}
}

func TestClient_MFACompletes(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	ctx := context.Background()

	f.manager.Client(ctx)
	f.manager.SubmitCode(testCode)

	c := f.manager.Client(ctx)
	if c == nil {
		t.Fatal("Client() = nil after code")
	}
	if got := f.manager.State(); got != StateAuthenticated {
		t.Fatalf("State() = %s", got)
	}
	f.manager.waitSetup()

	fc := f.client(t, 1)
	if f.discoverer.callCount() != 1 {
		t.Errorf("discover calls = %d", f.discoverer.callCount())
	}
	if _, _, _, refresh := fc.snapshot(); refresh != settings.DefaultRefreshInterval {
		t.Errorf("refresh interval = %d", refresh)
	}
	fc.mu.Lock()
	subs := fc.subs
	fc.mu.Unlock()
	if !reflect.DeepEqual(subs, f.discoverer.Subscriptions()) {
		t.Errorf("subscriptions = %+v", subs)
	}
	if token := f.storedToken(t); token["Authorization"] != "tok-1" {
		t.Errorf("stored token = %v", token)
	}
	if got := f.manager.Client(ctx); got != c {
		t.Error("authenticated Client() returned a different client")
	}
}

func TestClient_WrongCode(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	ctx := context.Background()

	f.manager.Client(ctx)
	f.manager.SubmitCode("000000")

	if c := f.manager.Client(ctx); c != nil {
		t.Fatalf("Client() = %v with a wrong code", c)
	}
	if got := f.manager.State(); got != StateUnauthenticated {
		t.Errorf("State() = %s", got)
	}
	if token := f.storedToken(t); token != nil {
		t.Errorf("token stored after failed login: %v", token)
	}
}

func TestClient_StoredToken(t *testing.T) {
	f := newFixture(t).withCredentials(t).withToken(t)

	c := f.manager.Client(context.Background())
	if c == nil {
		t.Fatal("Client() = nil with a stored token")
	}
	if got := f.manager.State(); got != StateAuthenticated {
		t.Errorf("State() = %s", got)
	}
	logins, tokenLogins, _, _ := f.client(t, 1).snapshot()
	if logins != 0 || tokenLogins != 1 {
		t.Errorf("logins = %d, token logins = %d", logins, tokenLogins)
	}
	if c.UserID() != "user-1" {
		t.Errorf("UserID() = %q", c.UserID())
	}
}

func TestClient_StoredTokenRejected(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantToken bool
	}{
		{"unauthorized clears the token", fmt.Errorf("%w: 401", cloud.ErrUnauthorized), false},
		{"network error keeps the token", fmt.Errorf("%w: timeout", cloud.ErrRequest), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t).withCredentials(t).withToken(t)
			f.configure = func(_ int, c *fakeClient) { c.tokenErr = tt.err }

			if c := f.manager.Client(context.Background()); c != nil {
				t.Fatalf("Client() = %v", c)
			}
			if got := f.manager.State(); got != StateUnauthenticated {
				t.Errorf("State() = %s", got)
			}
			if got := f.storedToken(t) != nil; got != tt.wantToken {
				t.Errorf("token kept = %v, want %v", got, tt.wantToken)
			}
		})
	}
}

func TestClient_FactoryError(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	f.factErr = cloud.ErrUnknownTransport
	f.manager.SubmitCode(testCode)

	if c := f.manager.Client(context.Background()); c != nil {
		t.Fatalf("Client() = %v", c)
	}
	if f.manager.Status().CodePending {
		t.Error("code kept after construction error")
	}
}

func TestSetup_UnauthorizedLogsInAgain(t *testing.T) {
	f := newFixture(t).withCredentials(t).withToken(t)
	f.discoverer.errs = []error{fmt.Errorf("listing: %w", cloud.ErrUnauthorized)}

	if c := f.manager.Client(context.Background()); c == nil {
		t.Fatal("Client() = nil")
	}
	f.manager.waitSetup()

	if got := f.manager.State(); got != StateAwaitingMFA {
		t.Fatalf("State() = %s, want awaiting_mfa", got)
	}
	if token := f.storedToken(t); token != nil {
		t.Errorf("token kept after rejection: %v", token)
	}
	if _, _, unsubs, _ := f.client(t, 1).snapshot(); unsubs == 0 {
		t.Error("rejected client not unsubscribed")
	}
	if logins, _, _, _ := f.client(t, 2).snapshot(); logins != 1 {
		t.Errorf("second client logins = %d", logins)
	}
}

func TestSetup_OtherErrorKeepsSession(t *testing.T) {
	f := newFixture(t).withCredentials(t).withToken(t)
	f.discoverer.errs = []error{errors.New("registry unavailable")}

	f.manager.Client(context.Background())
	f.manager.waitSetup()

	if got := f.manager.State(); got != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", got)
	}
	if f.storedToken(t) == nil {
		t.Error("token cleared on a non-auth setup failure")
	}
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t).withCredentials(t).withToken(t)
	ctx := context.Background()

	f.manager.Client(ctx)
	f.manager.waitSetup()
	f.manager.SubmitCode(testCode)
	f.manager.Invalidate(ctx)

	if got := f.manager.State(); got != StateUnauthenticated {
		t.Errorf("State() = %s", got)
	}
	if f.storedToken(t) != nil {
		t.Error("token kept after Invalidate")
	}
	if f.manager.Status().CodePending {
		t.Error("code kept after Invalidate")
	}
	if _, _, unsubs, _ := f.client(t, 1).snapshot(); unsubs != 1 {
		t.Errorf("unsubscribes = %d", unsubs)
	}
}

func TestReconnect_KeepsCodeAndToken(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	ctx := context.Background()

	f.manager.Client(ctx)
	f.manager.SubmitCode(testCode)
	f.manager.Reconnect(ctx)

	if got := f.manager.State(); got != StateUnauthenticated {
		t.Errorf("State() = %s", got)
	}
	if !f.manager.Status().CodePending {
		t.Error("pending code dropped by Reconnect")
	}
	if _, _, unsubs, _ := f.client(t, 1).snapshot(); unsubs != 1 {
		t.Errorf("unsubscribes = %d", unsubs)
	}

	// The next call logs in afresh on a new client.
	f.manager.Client(ctx)
	if f.clientCount() != 2 {
		t.Errorf("clients = %d, want 2", f.clientCount())
	}
}

func TestSetRefreshInterval(t *testing.T) {
	f := newFixture(t).withCredentials(t).withToken(t)

	f.manager.SetRefreshInterval(5) // no client yet
	f.manager.Client(context.Background())
	f.manager.waitSetup()
	f.manager.SetRefreshInterval(15)

	if _, _, _, refresh := f.client(t, 1).snapshot(); refresh != 15 {
		t.Errorf("refresh = %d, want 15", refresh)
	}
}

func TestStateTransitionsRecorded(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	var seen []State
	f.manager.onState = func(s State) { seen = append(seen, s) }
	ctx := context.Background()

	f.manager.Client(ctx)
	f.manager.SubmitCode(testCode)
	f.manager.Client(ctx)
	f.manager.waitSetup()

	want := []State{StateAwaitingMFA, StateAuthenticated}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("OnState = %v, want %v", seen, want)
	}
	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	if !reflect.DeepEqual(f.metrics.transitions, []string{"unauthenticated>awaiting_mfa", "awaiting_mfa>authenticated"}) {
		t.Errorf("transitions = %v", f.metrics.transitions)
	}
	if !reflect.DeepEqual(f.metrics.logins, []string{"password:true"}) {
		t.Errorf("logins = %v", f.metrics.logins)
	}
}

func TestRediscover(t *testing.T) {
	f := newFixture(t).withCredentials(t)
	ctx := context.Background()

	if err := f.manager.Rediscover(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Rediscover() error = %v, want ErrNotAuthenticated", err)
	}

	f.withToken(t)
	f.manager.Client(ctx)
	f.manager.waitSetup()
	if err := f.manager.Rediscover(ctx); err != nil {
		t.Fatalf("Rediscover() error = %v", err)
	}
	if got := f.discoverer.callCount(); got != 2 {
		t.Errorf("discover calls = %d, want 2", got)
	}
}
