package cloud

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	streamConnectTimeout = 15 * time.Second
	streamQoS            = 0
)

// eventStream is one connection to the cloud event feed.
type eventStream interface {
	Connect(ctx context.Context) error
	Close()
}

// Subscribe opens the event stream and registers the link with each hub.
// Any previous stream is closed first.
func (c *HTTPClient) Subscribe(ctx context.Context, subs []Subscription) error {
	if !c.authorized() {
		return ErrNotLoggedIn
	}

	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	c.closeStreamLocked()

	stream := c.newStream(subs)
	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("opening %s event stream: %w", c.opts.Transport, err)
	}
	c.stream = stream
	c.subs = append([]Subscription(nil), subs...)

	for hubID, devices := range groupByHub(subs) {
		if err := c.notifySubscribe(ctx, hubID, devices); err != nil {
			c.closeStreamLocked()
			return err
		}
	}

	c.startRefreshLocked()
	c.logger.Info("event stream subscribed", "transport", c.opts.Transport, "devices", len(subs))
	return nil
}

// Unsubscribe closes the event stream. Safe to call more than once.
func (c *HTTPClient) Unsubscribe() {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.closeStreamLocked()
	c.subs = nil
}

func (c *HTTPClient) closeStreamLocked() {
	if c.refresh != nil {
		c.refresh.stop()
		c.refresh = nil
	}
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}

// SetEventRefreshInterval reconnects the stream every minutes minutes while
// subscribed. Zero disables.
func (c *HTTPClient) SetEventRefreshInterval(minutes int) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if minutes < 0 {
		minutes = 0
	}
	c.interval = minutes
	if c.refresh != nil {
		c.refresh.stop()
		c.refresh = nil
	}
	c.startRefreshLocked()
}

func (c *HTTPClient) startRefreshLocked() {
	if c.interval <= 0 || c.stream == nil {
		return
	}
	c.refresh = startRefresher(time.Duration(c.interval)*time.Minute, c.reconnectStream)
}

// reconnectStream swaps the live stream for a fresh connection.
func (c *HTTPClient) reconnectStream() {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if c.stream == nil {
		return
	}
	c.logger.Debug("refreshing event stream", "transport", c.opts.Transport)

	c.stream.Close()
	stream := c.newStream(c.subs)
	ctx, cancel := context.WithTimeout(context.Background(), streamConnectTimeout)
	defer cancel()
	if err := stream.Connect(ctx); err != nil {
		c.logger.Error("event stream refresh failed", "error", err)
		c.stream = nil
		return
	}
	c.stream = stream
}

func (c *HTTPClient) newStream(subs []Subscription) eventStream {
	c.mu.RLock()
	headers := c.headers.Clone()
	userID := c.userID
	c.mu.RUnlock()

	deliver := func(raw []byte) {
		ev, ok := parseEvent(raw)
		if !ok {
			return
		}
		c.logger.Debug("event received", "from", ev.From, "resource", ev.Resource)
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}

	if c.opts.Transport == TransportMQTT {
		return &mqttStream{
			broker:  c.opts.StreamBroker,
			userID:  userID,
			headers: headers,
			topics:  mqttTopics(subs),
			deliver: deliver,
		}
	}
	return &sseStream{
		url:     c.opts.BaseURL + "/hmsweb/client/subscribe",
		headers: headers,
		http:    c.streamHTTP(),
		deliver: deliver,
	}
}

// streamHTTP returns an HTTP client without a total timeout, since the SSE
// response body stays open indefinitely.
func (c *HTTPClient) streamHTTP() *http.Client {
	if c.opts.HTTP != nil {
		return c.opts.HTTP
	}
	return &http.Client{}
}

// notifySubscribe tells a hub to forward events for devices to this session.
func (c *HTTPClient) notifySubscribe(ctx context.Context, hubID string, devices []string) error {
	userID := c.UserID()
	body := map[string]any{
		"action":          "set",
		"resource":        "subscriptions/" + userID + "_web",
		"publishResponse": false,
		"properties":      map[string]any{"devices": devices},
		"from":            userID + "_web",
		"to":              hubID,
		"transId":         "web!" + uuid.NewString(),
	}
	if err := c.do(ctx, http.MethodPost, c.opts.BaseURL+"/hmsweb/users/devices/notify/"+hubID, body, nil); err != nil {
		return fmt.Errorf("subscribing to hub %s: %w", hubID, err)
	}
	return nil
}

// groupByHub maps hub IDs to the device IDs subscribed through them.
func groupByHub(subs []Subscription) map[string][]string {
	out := make(map[string][]string)
	for _, s := range subs {
		out[s.Hub.DeviceID] = append(out[s.Hub.DeviceID], s.Device.DeviceID)
	}
	return out
}

// parseEvent decodes one stream payload. Keepalives and non-JSON lines
// are dropped.
func parseEvent(raw []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, false
	}
	if ev.From == "" && ev.Resource == "" {
		return Event{}, false
	}
	ev.Raw = append(json.RawMessage(nil), raw...)
	return ev, true
}

// =============================================================================
// SSE transport
// =============================================================================

type sseStream struct {
	url     string
	headers Token
	http    *http.Client
	deliver func([]byte)

	cancel context.CancelFunc
	done   chan struct{}
}

// Connect opens the stream and starts reading it in the background. The
// connection outlives ctx; Close ends it.
func (s *sseStream) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := s.http.Do(req)
		ch <- result{resp, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	if res.err != nil {
		cancel()
		return res.err
	}
	if res.resp.StatusCode == http.StatusUnauthorized || res.resp.StatusCode == http.StatusForbidden {
		res.resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: event stream status %d", ErrUnauthorized, res.resp.StatusCode)
	}
	if res.resp.StatusCode != http.StatusOK {
		res.resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: event stream status %d", ErrRequest, res.resp.StatusCode)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		defer res.resp.Body.Close()
		scanner := bufio.NewScanner(res.resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data:"); ok {
				s.deliver([]byte(strings.TrimSpace(data)))
			}
		}
	}()
	return nil
}

func (s *sseStream) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// =============================================================================
// MQTT transport
// =============================================================================

type mqttStream struct {
	broker  string
	userID  string
	headers Token
	topics  []string
	deliver func([]byte)

	client pahomqtt.Client
}

// mqttTopics lists one wildcard per distinct hub cloud ID.
func mqttTopics(subs []Subscription) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, s := range subs {
		xcloud := s.Hub.XCloudID
		if xcloud == "" || seen[xcloud] {
			continue
		}
		seen[xcloud] = true
		topics = append(topics, fmt.Sprintf("d/%s/out/#", xcloud))
	}
	return topics
}

func (m *mqttStream) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(m.broker)
	opts.SetClientID(fmt.Sprintf("user_%s_%s", m.userID, uuid.NewString()[:8]))
	opts.SetUsername(m.userID)
	opts.SetPassword(m.headers[headerAuthorization])
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(streamConnectTimeout)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	opts.SetHTTPHeaders(http.Header{"Origin": {"https://my.arlo.com"}})

	topics := m.topics
	deliver := m.deliver
	opts.SetOnConnectHandler(func(cl pahomqtt.Client) {
		for _, topic := range topics {
			cl.Subscribe(topic, streamQoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
				deliver(msg.Payload())
			})
		}
	})

	m.client = pahomqtt.NewClient(opts)
	token := m.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		m.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	return nil
}

func (m *mqttStream) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}

// =============================================================================
// Refresh loop
// =============================================================================

type refresher struct {
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func startRefresher(every time.Duration, fn func()) *refresher {
	r := &refresher{stopCh: make(chan struct{})}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				// fn takes streamMu, which stop's caller may hold; run it
				// detached so stop never waits on it.
				go fn()
			}
		}
	}()
	return r
}

func (r *refresher) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
