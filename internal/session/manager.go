package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/settings"
)

// Logger defines the logging interface used by the Manager.
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

// Store is the persisted state the session reads and writes.
// *settings.Store implements it.
type Store interface {
	Credentials(ctx context.Context) (username, password string, err error)
	Transport(ctx context.Context) (string, error)
	RefreshInterval(ctx context.Context) (int, error)
	AuthToken(ctx context.Context) (cloud.Token, string, error)
	SaveAuth(ctx context.Context, token cloud.Token, userID string) error
	ClearAuth(ctx context.Context) error
	SnapshotAuth(ctx context.Context) (settings.AuthSnapshot, error)
	RestoreAuth(ctx context.Context, snap settings.AuthSnapshot) error
}

// Discoverer reconciles the cloud device list after login.
type Discoverer interface {
	Discover(ctx context.Context, client cloud.Client) error

	// Subscriptions returns the (hub, device) pairs of the last pass.
	Subscriptions() []cloud.Subscription

	// MaterializeCameras builds the local device of every known camera and
	// returns how many exist.
	MaterializeCameras() int
}

// Metrics receives session telemetry. May be nil.
type Metrics interface {
	RecordSessionState(from, to string)
	RecordLogin(method string, ok bool, d time.Duration)
	RecordMFACode(source string)
}

// ClientFactory builds an unauthenticated cloud client for a transport.
type ClientFactory func(transport cloud.Transport) (cloud.Client, error)

// Options configures a Manager.
type Options struct {
	Store      Store
	NewClient  ClientFactory
	Discoverer Discoverer
	Logger     Logger
	Metrics    Metrics

	// OnState is called with the new state on every transition, with the
	// session lock held. It must not call back into the Manager.
	OnState func(State)
}

// Manager owns the authenticated cloud client and drives the login state
// machine:
//
//	unauthenticated -> awaiting_mfa -> authenticated
//
// awaiting_mfa falls back to unauthenticated on a cancel code or a failed
// resume; authenticated falls back on invalidation or an authorization
// failure during setup.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Calls that log in hold the
//     session lock for the duration of the login.
//   - Post-login setup runs on its own goroutine and only touches the session
//     if the phase it started in is still current.
type Manager struct {
	store      Store
	newClient  ClientFactory
	discoverer Discoverer
	logger     Logger
	metrics    Metrics
	onState    func(State)

	mu    sync.Mutex
	phase phase
	code  *string // nil unset, "" cancel
	epoch uint64

	ctx     context.Context
	cancel  context.CancelFunc
	setupWG sync.WaitGroup
}

// New creates an unauthenticated Manager. Nothing happens until Client is
// called.
func New(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:      opts.Store,
		newClient:  opts.NewClient,
		discoverer: opts.Discoverer,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		onState:    opts.OnState,
		phase:      unauthenticated{},
		ctx:        ctx,
		cancel:     cancel,
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// setPhaseLocked switches phase and starts a new epoch.
func (m *Manager) setPhaseLocked(p phase) {
	from := m.phase.state()
	m.phase = p
	m.epoch++

	to := p.state()
	if from == to {
		return
	}
	m.logger.Info("session state changed", "from", from, "to", to)
	if m.metrics != nil {
		m.metrics.RecordSessionState(string(from), string(to))
	}
	if m.onState != nil {
		m.onState(to)
	}
}

// Client returns the authenticated client, advancing the login as far as
// the current state allows. It returns nil while no authenticated client is
// available: credentials missing, a code still pending, or a failed login.
func (m *Manager) Client(ctx context.Context) cloud.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientLocked(ctx)
}

func (m *Manager) clientLocked(ctx context.Context) cloud.Client {
	switch p := m.phase.(type) {
	case awaitingMFA:
		return m.resumeLocked(ctx, p)
	case authenticated:
		return p.c
	default:
		return m.loginLocked(ctx)
	}
}

func (m *Manager) resumeLocked(ctx context.Context, p awaitingMFA) cloud.Client {
	if m.code == nil {
		m.logger.Debug("waiting for MFA code")
		return nil
	}
	code := *m.code
	m.code = nil

	if code == "" {
		m.logger.Info("MFA login cancelled")
		p.c.Unsubscribe()
		m.setPhaseLocked(unauthenticated{})
		return nil
	}

	start := time.Now()
	err := p.resume(ctx, code)
	m.recordLogin("password", err == nil, start)
	if err != nil {
		m.logger.Error("completing MFA login", "error", fmt.Errorf("%w: %w", ErrAuthFailure, err))
		p.c.Unsubscribe()
		m.setPhaseLocked(unauthenticated{})
		return nil
	}

	if err := m.store.SaveAuth(ctx, p.c.Token(), p.c.UserID()); err != nil {
		m.logger.Error("persisting auth headers", "error", err)
	}
	m.logger.Info("logged in to Arlo", "user_id", p.c.UserID())
	m.setPhaseLocked(authenticated{c: p.c})
	m.startSetupLocked(p.c)
	return p.c
}

func (m *Manager) loginLocked(ctx context.Context) cloud.Client {
	username, password, err := m.store.Credentials(ctx)
	if err != nil {
		m.logger.Error("reading credentials", "error", err)
		return nil
	}
	if username == "" || password == "" {
		m.logger.Info("Arlo username or password not set, waiting for settings")
		return nil
	}

	transport, err := m.store.Transport(ctx)
	if err != nil {
		m.logger.Error("reading transport", "error", err)
		return nil
	}
	client, err := m.newClient(cloud.Transport(transport))
	if err != nil {
		m.logger.Error("creating cloud client", "transport", transport, "error", err)
		m.code = nil
		return nil
	}

	token, userID, err := m.store.AuthToken(ctx)
	if err != nil {
		m.logger.Warn("ignoring stored auth headers", "error", err)
		token = nil
	}

	if token != nil {
		m.logger.Info("logging in with stored auth headers", "user_id", userID)
		start := time.Now()
		err := client.LoginWithToken(ctx, userID, token)
		m.recordLogin("token", err == nil, start)
		if err != nil {
			if errors.Is(err, cloud.ErrUnauthorized) {
				m.logger.Warn("stored auth headers rejected, clearing them")
				if err := m.store.ClearAuth(ctx); err != nil {
					m.logger.Error("clearing auth headers", "error", err)
				}
			} else {
				m.logger.Error("logging in with stored auth headers", "error", err)
			}
			m.code = nil
			return nil
		}
		m.setPhaseLocked(authenticated{c: client})
		m.startSetupLocked(client)
		return client
	}

	m.logger.Info("starting Arlo login", "transport", transport)
	start := time.Now()
	resume, err := client.Login(ctx, username, password)
	if err != nil {
		m.recordLogin("password", false, start)
		m.logger.Error("starting Arlo login", "error", fmt.Errorf("%w: %w", ErrAuthFailure, err))
		m.code = nil
		return nil
	}
	m.setPhaseLocked(awaitingMFA{c: client, resume: resume})
	m.logger.Info("MFA code requested, waiting for it to be entered")
	return nil
}

func (m *Manager) recordLogin(method string, ok bool, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordLogin(method, ok, time.Since(start))
	}
}

// SubmitCode stores the MFA code for the pending login. An empty code
// cancels it on the next call to Client.
func (m *Manager) SubmitCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = &code
	if code != "" && m.metrics != nil {
		m.metrics.RecordMFACode("manual")
	}
}

// Invalidate drops the session and forgets the persisted auth headers. The
// next call to Client starts a fresh login.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked(ctx)
}

func (m *Manager) invalidateLocked(ctx context.Context) {
	if c := m.phase.client(); c != nil {
		c.Unsubscribe()
	}
	m.code = nil
	m.setPhaseLocked(unauthenticated{})
	if err := m.store.ClearAuth(ctx); err != nil {
		m.logger.Error("clearing auth headers", "error", err)
	}
}

// Reconnect drops the client so the next call to Client builds one for the
// current transport. The persisted auth headers and any pending code are
// kept.
func (m *Manager) Reconnect(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.phase.client(); c != nil {
		c.Unsubscribe()
	}
	m.setPhaseLocked(unauthenticated{})
}

// SetRefreshInterval applies a new event stream refresh interval to the live
// client, if any.
func (m *Manager) SetRefreshInterval(minutes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.phase.(authenticated); ok {
		m.logger.Info("setting event stream refresh interval", "minutes", minutes)
		p.c.SetEventRefreshInterval(minutes)
	}
}

// State returns the current phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase.state()
}

// Status returns the current phase with its details.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{State: m.phase.state(), CodePending: m.code != nil}
	if p, ok := m.phase.(authenticated); ok {
		s.UserID = p.c.UserID()
	}
	return s
}

// Close stops any running setup and closes the event stream.
func (m *Manager) Close() {
	m.cancel()
	m.setupWG.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.phase.client(); c != nil {
		c.Unsubscribe()
	}
}

// waitSetup blocks until every started setup has finished.
func (m *Manager) waitSetup() {
	m.setupWG.Wait()
}

func (m *Manager) startSetupLocked(client cloud.Client) {
	epoch := m.epoch
	m.setupWG.Add(1)
	go func() {
		defer m.setupWG.Done()
		m.runSetup(m.ctx, epoch, client)
	}()
}

func (m *Manager) runSetup(ctx context.Context, epoch uint64, client cloud.Client) {
	if err := m.CompleteSetup(ctx, client); err != nil {
		m.setupFailed(ctx, epoch, err)
	}
}

// setupFailed handles a setup error. A rejected session is dropped and a
// fresh login started, unless the session has moved on since setup began.
func (m *Manager) setupFailed(ctx context.Context, epoch uint64, err error) {
	if !errors.Is(err, cloud.ErrUnauthorized) {
		m.logger.Error("post-login setup failed", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		m.logger.Debug("discarding setup result of a replaced session")
		return
	}
	m.logger.Warn("session rejected during setup, logging in again", "error", err)
	m.invalidateLocked(ctx)
	m.clientLocked(ctx)
}

// Rediscover reruns setup on the authenticated client. Returns
// ErrNotAuthenticated when there is none.
func (m *Manager) Rediscover(ctx context.Context) error {
	m.mu.Lock()
	p, ok := m.phase.(authenticated)
	epoch := m.epoch
	m.mu.Unlock()
	if !ok {
		return ErrNotAuthenticated
	}

	err := m.CompleteSetup(ctx, p.c)
	if err != nil {
		m.setupFailed(ctx, epoch, err)
	}
	return err
}

// CompleteSetup discovers devices, subscribes the client to their events,
// builds the camera devices, and applies the event stream refresh interval.
//
// Errors wrapping cloud.ErrUnauthorized mean the session itself was
// rejected.
func (m *Manager) CompleteSetup(ctx context.Context, client cloud.Client) error {
	if m.discoverer != nil {
		if err := m.discoverer.Discover(ctx, client); err != nil {
			return fmt.Errorf("discovering devices: %w", err)
		}
		subs := m.discoverer.Subscriptions()
		if err := client.Subscribe(ctx, subs); err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
		n := m.discoverer.MaterializeCameras()
		m.logger.Debug("camera devices ready", "count", n, "subscriptions", len(subs))
	}

	minutes, err := m.store.RefreshInterval(ctx)
	if err != nil {
		return fmt.Errorf("reading refresh interval: %w", err)
	}
	client.SetEventRefreshInterval(minutes)
	return nil
}
