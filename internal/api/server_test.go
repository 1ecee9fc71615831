package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-arlo/internal/audit"
	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/discovery"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arlo/internal/registry"
	"github.com/nerrad567/gray-logic-arlo/internal/session"
	"github.com/nerrad567/gray-logic-arlo/internal/settings"
	"github.com/nerrad567/gray-logic-arlo/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeSettings struct {
	mu     sync.Mutex
	list   []settings.Setting
	puts   []string
	putErr error
}

func (f *fakeSettings) List(context.Context) ([]settings.Setting, error) {
	return f.list, nil
}

func (f *fakeSettings) Put(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, key+"="+value)
	return nil
}

type fakeSession struct {
	status        session.Status
	rediscoverErr error
	rediscovers   int
}

func (f *fakeSession) Status() session.Status { return f.status }

func (f *fakeSession) Rediscover(context.Context) error {
	f.rediscovers++
	return f.rediscoverErr
}

type fakeIndex struct {
	snap discovery.Snapshot
}

func (f *fakeIndex) Snapshot() discovery.Snapshot { return f.snap }

type testDeps struct {
	settings *fakeSettings
	session  *fakeSession
	index    *fakeIndex
	registry *registry.Registry
	audit    *audit.SQLiteRepository
}

// testServer creates a Server with a real device registry backed by in-memory SQLite.
func testServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	deps := &testDeps{
		settings: &fakeSettings{list: []settings.Setting{
			{Group: settings.GroupGeneral, Key: settings.KeyUsername, Title: "Arlo Username", Value: "owner@example.com"},
			{Group: settings.GroupGeneral, Key: settings.KeyMFAStrategy, Title: "Two Factor Strategy", Value: "Manual"},
		}},
		session:  &fakeSession{status: session.Status{State: session.StateAuthenticated, UserID: "user-1"}},
		index:    &fakeIndex{},
		registry: registry.NewRegistry(registry.NewSQLiteRepository(db.DB)),
		audit:    audit.NewSQLiteRepository(db.DB),
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:    log,
		Settings:  deps.settings,
		Session:   deps.session,
		Registry:  deps.registry,
		Discovery: deps.index,
		Audit:     deps.audit,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, deps
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := IssueToken(testSecret, "admin", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return "Bearer " + token
}

// do runs one request through the router with a valid bearer token.
func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", bearer(t))
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, w.Body.String())
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Discard()
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without services should fail")
	}
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "ok" || body["version"] != "test" || body["session"] != "authenticated" {
		t.Errorf("body = %v", body)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "my-id")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "my-id" {
		t.Errorf("X-Request-ID = %q, want my-id", got)
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID assigned")
	}
}

func TestRecoverPanic(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body Error
	decode(t, w, &body)
	if body.Code != ErrCodeInternal {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	srv, _ := testServer(t)

	big := `{"value":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := do(t, srv, http.MethodPut, "/api/v1/settings/"+settings.KeyUsername, big)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an oversized body", w.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/settings", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	expiredToken, _ := expired.SignedString([]byte(testSecret)) //nolint:errcheck // test fixture

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ //nolint:errcheck // test fixture
		Subject: "admin",
	}).SignedString([]byte(testSecret))

	otherKey, err := IssueToken("another-secret-key-at-least-32-characters", "admin", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic YWRtaW46YWRtaW4="},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong key", "Bearer " + otherKey},
		{"expired", "Bearer " + expiredToken},
		{"no expiry", "Bearer " + noExpiry},
	}

	srv, _ := testServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestValidateToken_Subject(t *testing.T) {
	token, err := IssueToken(testSecret, "installer", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	sub, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if sub != "installer" {
		t.Errorf("subject = %q, want installer", sub)
	}

	if _, err := IssueToken("", "installer", time.Minute); err == nil {
		t.Error("IssueToken() with empty secret should fail")
	}
}

func TestListSettings(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Settings []settings.Setting `json:"settings"`
		Count    int                `json:"count"`
	}
	decode(t, w, &body)
	if body.Count != 2 || body.Settings[1].Key != settings.KeyMFAStrategy {
		t.Errorf("body = %+v", body)
	}
}

func TestPutSetting(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		body       string
		putErr     error
		wantStatus int
		wantPut    string
	}{
		{"string", settings.KeyMFACode, `{"value":"123456"}`, nil, http.StatusOK, "arlo_mfa_code=123456"},
		{"number", settings.KeyRefreshInterval, `{"value":30}`, nil, http.StatusOK, "refresh_interval=30"},
		{"boolean", settings.KeyForceReauth, `{"value":true}`, nil, http.StatusOK, "force_reauth=true"},
		{"null clears", settings.KeyMFACode, `{"value":null}`, nil, http.StatusOK, "arlo_mfa_code="},
		{"object rejected", settings.KeyMFACode, `{"value":{"a":1}}`, nil, http.StatusBadRequest, ""},
		{"invalid json", settings.KeyMFACode, `{`, nil, http.StatusBadRequest, ""},
		{"unknown key", "nope", `{"value":"x"}`, fmt.Errorf("%w: nope", settings.ErrUnknownSetting), http.StatusNotFound, ""},
		{"invalid value", settings.KeyIMAPPort, `{"value":"-1"}`, fmt.Errorf("%w: port", settings.ErrInvalidSetting), http.StatusBadRequest, ""},
		{"store failure", settings.KeyUsername, `{"value":"x"}`, errors.New("disk full"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := testServer(t)
			deps.settings.putErr = tt.putErr

			w := do(t, srv, http.MethodPut, "/api/v1/settings/"+tt.key, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			var got string
			if len(deps.settings.puts) == 1 {
				got = deps.settings.puts[0]
			}
			if got != tt.wantPut {
				t.Errorf("put = %q, want %q", got, tt.wantPut)
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status session.Status
	decode(t, w, &status)
	if status.State != session.StateAuthenticated || status.UserID != "user-1" {
		t.Errorf("status = %+v", status)
	}
}

func TestRunDiscovery(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"not authenticated", session.ErrNotAuthenticated, http.StatusConflict},
		{"cloud failure", fmt.Errorf("%w: listing hubs: %w", discovery.ErrDiscovery, cloud.ErrUnauthorized), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := testServer(t)
			deps.session.rediscoverErr = tt.err
			deps.index.snap = discovery.Snapshot{
				Hubs:    []cloud.RemoteDevice{{DeviceID: "H1", ParentID: "H1", DeviceType: "basestation"}},
				Cameras: []cloud.RemoteDevice{},
			}

			w := do(t, srv, http.MethodPost, "/api/v1/discovery", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if deps.session.rediscovers != 1 {
				t.Errorf("rediscovers = %d, want 1", deps.session.rediscovers)
			}
			if tt.err == nil {
				var snap discovery.Snapshot
				decode(t, w, &snap)
				if len(snap.Hubs) != 1 || snap.Hubs[0].DeviceID != "H1" {
					t.Errorf("snapshot = %+v", snap)
				}
			}
		})
	}
}

func seedDevices(t *testing.T, reg *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	hub := registry.Manifest{NativeID: "H1", Name: "Base", Type: registry.TypeHub, Interfaces: []string{registry.InterfaceDeviceProvider}}
	cam := registry.Manifest{NativeID: "C1", ProviderNativeID: "H1", Name: "Porch", Type: registry.TypeCamera, Interfaces: []string{registry.InterfaceCamera}}
	for _, m := range []registry.Manifest{hub, cam} {
		if err := reg.DeviceDiscovered(ctx, m); err != nil {
			t.Fatalf("DeviceDiscovered(%s) error: %v", m.NativeID, err)
		}
	}
}

func TestAuditTrail(t *testing.T) {
	srv, _ := testServer(t)

	if w := do(t, srv, http.MethodPut, "/api/v1/settings/"+settings.KeyPassword, `{"value":"hunter2"}`); w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/api/v1/discovery", ""); w.Code != http.StatusOK {
		t.Fatalf("POST discovery status = %d", w.Code)
	}
	// Rejected changes are not recorded.
	srv.settings.(*fakeSettings).putErr = settings.ErrUnknownSetting
	do(t, srv, http.MethodPut, "/api/v1/settings/nope", `{"value":"x"}`)

	w := do(t, srv, http.MethodGet, "/api/v1/audit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET audit status = %d", w.Code)
	}
	var all audit.ListResult
	decode(t, w, &all)
	if all.Total != 2 {
		t.Fatalf("total = %d, want 2", all.Total)
	}
	if strings.Contains(fmt.Sprint(all.Entries), "hunter2") {
		t.Error("audit trail contains a setting value")
	}

	w = do(t, srv, http.MethodGet, "/api/v1/audit?entity_type=setting", "")
	var filtered audit.ListResult
	decode(t, w, &filtered)
	if len(filtered.Entries) != 1 {
		t.Fatalf("entries = %+v, want 1", filtered.Entries)
	}
	e := filtered.Entries[0]
	if e.Action != audit.ActionSettingChanged || e.EntityID != settings.KeyPassword || e.UserID != "admin" || e.Source != audit.SourceAPI {
		t.Errorf("entry = %+v", e)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/audit?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestAuditTrail_Disabled(t *testing.T) {
	srv, _ := testServer(t)
	srv.audit = nil

	w := do(t, srv, http.MethodGet, "/api/v1/audit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var res audit.ListResult
	decode(t, w, &res)
	if res.Total != 0 || len(res.Entries) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestDevices(t *testing.T) {
	srv, deps := testServer(t)
	seedDevices(t, deps.registry)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantIDs    []string
	}{
		{"list", "/api/v1/devices", http.StatusOK, []string{"C1", "H1"}},
		{"root filter", "/api/v1/devices?parent=root", http.StatusOK, []string{"H1"}},
		{"parent filter", "/api/v1/devices?parent=H1", http.StatusOK, []string{"C1"}},
		{"children", "/api/v1/devices/H1/children", http.StatusOK, []string{"C1"}},
		{"root children", "/api/v1/devices/root/children", http.StatusOK, []string{"H1"}},
		{"leaf children", "/api/v1/devices/C1/children", http.StatusOK, []string{}},
		{"children of unknown", "/api/v1/devices/X9/children", http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantIDs == nil {
				return
			}
			var body struct {
				Devices  []registry.Manifest `json:"devices"`
				Children []registry.Manifest `json:"children"`
			}
			decode(t, w, &body)
			list := body.Devices
			if strings.HasSuffix(tt.path, "/children") {
				list = body.Children
			}
			ids := make([]string, 0, len(list))
			for _, m := range list {
				ids = append(ids, m.NativeID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	srv, deps := testServer(t)
	seedDevices(t, deps.registry)

	w := do(t, srv, http.MethodGet, "/api/v1/devices/C1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var m registry.Manifest
	decode(t, w, &m)
	if m.Name != "Porch" || m.ProviderNativeID != "H1" {
		t.Errorf("manifest = %+v", m)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/devices/X9", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv, deps := testServer(t)
	seedDevices(t, deps.registry)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var m SystemMetrics
	decode(t, w, &m)
	if m.Devices.Total != 2 || m.Session.State != session.StateAuthenticated || m.MQTT.Connected {
		t.Errorf("metrics = %+v", m)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv, _ := testServer(t)

	ticket := srv.tickets.issue("admin")
	if entry, ok := srv.tickets.consume(ticket); !ok || entry.subject != "admin" {
		t.Fatalf("first consume = %+v, %v", entry, ok)
	}
	if _, ok := srv.tickets.consume(ticket); ok {
		t.Error("ticket accepted twice")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	srv, _ := testServer(t)

	srv.tickets.tickets["old"] = ticketEntry{expiresAt: time.Now().Add(-time.Second)}
	srv.tickets.clean()
	if _, ok := srv.tickets.consume("old"); ok {
		t.Error("expired ticket accepted")
	}
}

func TestWebSocket_RejectsMissingTicket(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/api/v1/ws", "/api/v1/ws?ticket=unknown"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.buildRouter().ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
		}
	}
}

func TestWebSocket_Broadcast(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil) //nolint:errcheck // static request
	req.Header.Set("Authorization", bearer(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelSession}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("ack = %+v", ack)
	}

	// Not subscribed: must not arrive before the session event.
	srv.Hub().Broadcast(ChannelDevices, registry.Change{Kind: registry.ChangeDiscovered, NativeID: "H1"})
	srv.Hub().Broadcast(ChannelSession, map[string]string{"state": "awaiting_mfa"})

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelSession {
		t.Errorf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any) //nolint:errcheck // checked below
	if payload["state"] != "awaiting_mfa" {
		t.Errorf("payload = %v", event.Payload)
	}
}

// dialWS exchanges a bearer token for a ticket and connects to the hub.
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil) //nolint:errcheck // static request
	req.Header.Set("Authorization", bearer(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws?ticket="+ticket.Ticket, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	return ws
}

func TestWebSocket_Messages(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()
	ws := dialWS(t, ts)

	tests := []struct {
		name     string
		send     WSMessage
		wantType string
	}{
		{"ping", WSMessage{Type: WSTypePing, ID: "p1"}, WSTypeResponse},
		{"subscribe", WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{ChannelDevices}}}, WSTypeResponse},
		{"unsubscribe", WSMessage{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{Channels: []string{ChannelDevices}}}, WSTypeResponse},
		{"empty channels", WSMessage{Type: WSTypeSubscribe, ID: "s2"}, WSTypeError},
		{"unknown type", WSMessage{Type: "bogus", ID: "b1"}, WSTypeError},
	}
	for _, tt := range tests {
		if err := ws.WriteJSON(tt.send); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		var got WSMessage
		if err := ws.ReadJSON(&got); err != nil {
			t.Fatalf("%s: read: %v", tt.name, err)
		}
		if got.Type != tt.wantType || got.ID != tt.send.ID {
			t.Errorf("%s: reply = %+v, want type %s id %s", tt.name, got, tt.wantType, tt.send.ID)
		}
	}

	// Unsubscribed from devices: only the session event arrives.
	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "s3", Payload: WSSubscribePayload{Channels: []string{ChannelSession}}}); err != nil {
		t.Fatal(err)
	}
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	srv.Hub().Broadcast(ChannelDevices, map[string]string{"native_id": "H1"})
	srv.Hub().Broadcast(ChannelSession, map[string]string{"state": "authenticated"})
	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatal(err)
	}
	if event.EventType != ChannelSession {
		t.Errorf("event = %+v, want %s", event, ChannelSession)
	}
}

func TestHub_RunDisconnectsClients(t *testing.T) {
	srv, _ := testServer(t)
	hub := NewHub(logging.Discard())
	srv.hub = hub
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	ws := dialWS(t, ts)
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	cancel()
	<-done
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("connection still open after hub stopped")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after Run returned", hub.ClientCount())
	}
}

func TestSettingValue(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{`"abc"`, "abc", true},
		{`""`, "", true},
		{`90`, "90", true},
		{`false`, "false", true},
		{`null`, "", true},
		{``, "", true},
		{`[1]`, "", false},
		{`{"a":1}`, "", false},
	}
	for _, tt := range tests {
		got, ok := settingValue(json.RawMessage(tt.raw))
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("settingValue(%s) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}
