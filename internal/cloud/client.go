package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseSize caps API response bodies.
	maxResponseSize = 4 << 20

	headerAuthorization = "Authorization"
	headerAuthVersion   = "Auth-Version"
	headerSource        = "Source"

	webSource = "arloCamWeb"
)

// Logger is the logging interface used by the cloud client.
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

// Options configures an HTTPClient.
type Options struct {
	// BaseURL is the REST API root, e.g. https://myapi.arlo.com.
	BaseURL string

	// AuthURL is the OCAPI authentication root, e.g. https://ocapi-app.arlo.com.
	AuthURL string

	// StreamBroker is the MQTT-over-websocket broker used by TransportMQTT.
	StreamBroker string

	Transport Transport

	// Timeout bounds each REST request. Defaults to 30s.
	Timeout time.Duration

	// OnEvent receives every event stream message. May be nil.
	OnEvent func(Event)

	Logger Logger

	// HTTP overrides the HTTP client (tests).
	HTTP *http.Client
}

// HTTPClient implements Client against the Arlo cloud.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type HTTPClient struct {
	opts   Options
	http   *http.Client
	logger Logger

	mu      sync.RWMutex
	headers Token
	userID  string

	streamMu sync.Mutex
	stream   eventStream
	subs     []Subscription
	refresh  *refresher
	interval int
}

// NewHTTPClient creates an unauthenticated client.
//
// Returns ErrUnknownTransport if opts.Transport is not MQTT or SSE.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	switch opts.Transport {
	case TransportMQTT, TransportSSE:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, opts.Transport)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &HTTPClient{
		opts:    opts,
		http:    httpClient,
		logger:  logger,
		headers: Token{headerAuthVersion: "2", headerSource: webSource},
	}, nil
}

// Token returns a copy of the current auth headers.
func (c *HTTPClient) Token() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers.Clone()
}

// UserID returns the logged in user ID, or "" before login.
func (c *HTTPClient) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *HTTPClient) authorized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers[headerAuthorization] != ""
}

// envelope is the myapi response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// do sends a JSON request and decodes the response body into out.
// A 401 or 403 maps to ErrUnauthorized.
func (c *HTTPClient) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding body: %w", ErrRequest, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequest, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrRequest, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: status %d", ErrUnauthorized, method, url, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s %s: status %d", ErrRequest, method, url, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrRequest, err)
	}
	return nil
}

// ListDevices returns every device whose category is in categories.
// With no categories, every device is returned.
func (c *HTTPClient) ListDevices(ctx context.Context, categories ...Category) ([]RemoteDevice, error) {
	if !c.authorized() {
		return nil, ErrNotLoggedIn
	}

	var env envelope
	if err := c.do(ctx, http.MethodGet, c.opts.BaseURL+"/hmsweb/v2/users/devices", nil, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: device list rejected", ErrRequest)
	}

	var all []RemoteDevice
	if err := json.Unmarshal(env.Data, &all); err != nil {
		return nil, fmt.Errorf("%w: decoding devices: %w", ErrRequest, err)
	}
	if len(categories) == 0 {
		return all, nil
	}

	want := make(map[Category]bool, len(categories))
	for _, cat := range categories {
		want[cat] = true
	}
	devices := make([]RemoteDevice, 0, len(all))
	for _, d := range all {
		if want[d.Category()] {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

var _ Client = (*HTTPClient)(nil)
