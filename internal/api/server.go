package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-arlo/internal/audit"
	"github.com/nerrad567/gray-logic-arlo/internal/discovery"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arlo/internal/registry"
	"github.com/nerrad567/gray-logic-arlo/internal/session"
	"github.com/nerrad567/gray-logic-arlo/internal/settings"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SettingsService lists and changes link settings.
// *settings.Facade implements it.
type SettingsService interface {
	List(ctx context.Context) ([]settings.Setting, error)
	Put(ctx context.Context, key, value string) error
}

// SessionService reports the cloud session and reruns discovery.
// *session.Manager implements it.
type SessionService interface {
	Status() session.Status
	Rediscover(ctx context.Context) error
}

// DeviceRegistry is the read side of the host device tree.
// *registry.Registry implements it.
type DeviceRegistry interface {
	Get(ctx context.Context, nativeID string) (*registry.Manifest, error)
	List() []registry.Manifest
	Children(parent string) []registry.Manifest
	Count() int
}

// DiscoveryIndex exposes the index of the last discovery pass.
// *discovery.Engine implements it.
type DiscoveryIndex interface {
	Snapshot() discovery.Snapshot
}

// AuditLog records and lists audit trail entries.
// *audit.SQLiteRepository implements it.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Settings  SettingsService
	Session   SessionService
	Registry  DeviceRegistry
	Discovery DiscoveryIndex
	Audit     AuditLog     // optional: records setting changes and discovery runs
	MQTT      *mqtt.Client // optional: relays cloud events to WebSocket clients
	Version   string
}

// Server is the HTTP API server of the link.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	settings  SettingsService
	session   SessionService
	registry  DeviceRegistry
	discovery DiscoveryIndex
	audit     AuditLog
	mqtt      *mqtt.Client
	version   string
	startTime time.Time

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub exists from here on, so events can be broadcast before
// Start is called. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings service is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Discovery == nil {
		return nil, fmt.Errorf("discovery index is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		settings:  deps.Settings,
		session:   deps.Session,
		registry:  deps.Registry,
		discovery: deps.Discovery,
		audit:     deps.Audit,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Hub returns the WebSocket hub used for live events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to relayed cloud events when MQTT
// is configured, and launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	if err := s.subscribeDeviceEvents(); err != nil {
		s.logger.Warn("failed to subscribe to device events for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
