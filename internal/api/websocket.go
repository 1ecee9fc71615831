package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/mqtt"
)

// Event channels clients can subscribe to.
const (
	// ChannelDevices carries registry.Change values.
	ChannelDevices = "device.changed"

	// ChannelSession carries session state transitions.
	ChannelSession = "session.state"

	// ChannelEvents carries cloud events relayed from the event stream.
	ChannelEvents = "device.event"
)

// WebSocket message types. Clients send subscribe, unsubscribe and ping;
// the server answers with response or error and pushes event.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsQueueSize is the number of outbound messages buffered per client.
// A client that falls further behind misses events.
const wsQueueSize = 64

// WSMessage is a message exchanged with a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers reach the API through the admin UI's origin; CORS covers it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans events out to connected WebSocket clients by channel.
type Hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsConn]struct{}
}

// wsConn is one connected client. queue is never closed; done tells the
// writer to send a close frame and drop the connection.
type wsConn struct {
	conn    *websocket.Conn
	subject string
	queue   chan []byte
	done    chan struct{}
	once    sync.Once

	mu       sync.RWMutex
	channels map[string]bool
}

// NewHub creates a hub with no clients.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsConn]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsConn]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

// Broadcast queues payload for every client subscribed to channel.
// It never blocks.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subscribed(channel) && !c.enqueue(data) {
			h.logger.Debug("websocket client queue full, event dropped", "channel", channel, "subject", c.subject)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

func (c *wsConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *wsConn) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}

// subscribeDeviceEvents relays cloud events published on the local bus to
// clients subscribed to ChannelEvents.
func (s *Server) subscribeDeviceEvents() error {
	if s.mqtt == nil {
		return nil
	}
	topic := mqtt.Topics{}.AllDeviceEvents()
	return s.mqtt.Subscribe(topic, 0, func(t string, payload []byte) error {
		var event map[string]any
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.Warn("dropping malformed device event", "topic", t, "error", err)
			return nil
		}
		s.hub.Broadcast(ChannelEvents, event)
		return nil
	})
}

// handleWebSocket upgrades the connection. Clients authenticate with a
// ticket from POST /auth/ws-ticket, passed as the ticket query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		conn:     conn,
		subject:  entry.subject,
		queue:    make(chan []byte, wsQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]bool),
	}
	s.hub.add(c)

	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop handles client messages until the connection fails.
func (s *Server) readLoop(c *wsConn) {
	defer s.hub.remove(c)

	keepalive := time.Duration(s.wsCfg.PingInterval+s.wsCfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(keepalive)) }
	extend("") //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // as above

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
			continue
		}
		switch msg.Type {
		case WSTypeSubscribe, WSTypeUnsubscribe:
			s.changeChannels(c, msg)
		case WSTypePing:
			c.reply(msg.ID, WSTypeResponse, map[string]string{"pong": msg.ID})
		default:
			c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
		}
	}
}

func (s *Server) changeChannels(c *wsConn, msg WSMessage) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &sub)
	}
	if err != nil || len(sub.Channels) == 0 {
		c.reply(msg.ID, WSTypeError, map[string]string{"message": msg.Type + " needs a channels list"})
		return
	}

	on := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if on {
			c.channels[ch] = true
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{msg.Type + "d": sub.Channels})
}

// writeLoop sends queued messages and keepalive pings until the client is
// shut down. It owns closing the connection, which ends readLoop.
func (s *Server) writeLoop(c *wsConn) {
	ping := time.NewTicker(time.Duration(s.wsCfg.PingInterval) * time.Second)
	defer ping.Stop()
	defer c.conn.Close()
	writeWait := time.Duration(s.wsCfg.PongTimeout) * time.Second

	for {
		var err error
		select {
		case <-c.done:
			//nolint:errcheck // best effort; the connection is closing
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case data := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // surfaces on write
			err = c.conn.WriteMessage(websocket.TextMessage, data)
		case <-ping.C:
			err = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			s.hub.remove(c)
			return
		}
	}
}
