package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arlo/internal/api"
	"github.com/nerrad567/gray-logic-arlo/internal/audit"
	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arlo/internal/registry"
	"github.com/nerrad567/gray-logic-arlo/internal/session"
)

// stateBufferSize bounds session transitions queued for publishing.
const stateBufferSize = 16

// busPublisher is the part of the MQTT client the relay publishes with.
type busPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, v any) error
}

// auditRecorder stores session transitions in the audit trail.
type auditRecorder interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// broadcaster is the WebSocket hub.
type broadcaster interface {
	Broadcast(channel string, payload any)
}

// deviceEvent is the payload relayed on arlolink/device/{id}/event.
type deviceEvent struct {
	DeviceID string          `json:"device_id"`
	Resource string          `json:"resource"`
	Action   string          `json:"action,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// sessionEvent is the retained payload on arlolink/session/state.
type sessionEvent struct {
	State     session.State `json:"state"`
	Timestamp string        `json:"timestamp"`
}

// eventRelay fans session, registry and cloud events out to the local bus
// and the WebSocket hub.
//
// Session transitions arrive with the session lock held, so they are queued
// and published from run.
type eventRelay struct {
	bus    busPublisher
	log    *logging.Logger
	topics mqtt.Topics
	states chan session.State
	audit  auditRecorder // optional

	mu  sync.RWMutex
	hub broadcaster
}

func newEventRelay(bus busPublisher, log *logging.Logger) *eventRelay {
	return &eventRelay{
		bus:    bus,
		log:    log,
		states: make(chan session.State, stateBufferSize),
	}
}

func (r *eventRelay) setHub(h broadcaster) {
	r.mu.Lock()
	r.hub = h
	r.mu.Unlock()
}

func (r *eventRelay) broadcast(channel string, payload any) {
	r.mu.RLock()
	h := r.hub
	r.mu.RUnlock()
	if h != nil {
		h.Broadcast(channel, payload)
	}
}

// run publishes queued session transitions until ctx is cancelled.
func (r *eventRelay) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.states:
			ev := sessionEvent{State: s, Timestamp: time.Now().UTC().Format(time.RFC3339)}
			if err := r.bus.PublishJSON(r.topics.SessionState(), ev); err != nil {
				r.log.Warn("publishing session state", "state", s, "error", err)
			}
			r.broadcast(api.ChannelSession, ev)
			r.recordState(ctx, s)
		}
	}
}

func (r *eventRelay) recordState(ctx context.Context, s session.State) {
	if r.audit == nil {
		return
	}
	err := r.audit.Create(ctx, &audit.Entry{
		Action:     audit.ActionSessionState,
		EntityType: audit.EntitySession,
		Source:     audit.SourceSession,
		Details:    map[string]any{"state": string(s)},
	})
	if err != nil {
		r.log.Warn("recording session state", "state", s, "error", err)
	}
}

// sessionState queues a transition. It never blocks.
func (r *eventRelay) sessionState(s session.State) {
	select {
	case r.states <- s:
	default:
		r.log.Warn("session state queue full, dropping transition", "state", s)
	}
}

func (r *eventRelay) deviceChanged(c registry.Change) {
	r.broadcast(api.ChannelDevices, c)
}

// cloudEvent relays one event stream message. WebSocket clients receive it
// back through the API's bus subscription; when the bus cannot take it, it
// goes to the hub directly.
func (r *eventRelay) cloudEvent(ev cloud.Event) {
	msg := deviceEvent{
		DeviceID: ev.From,
		Resource: ev.Resource,
		Action:   ev.Action,
		Payload:  ev.Raw,
	}
	if ev.From == "" {
		r.broadcast(api.ChannelEvents, msg)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("encoding cloud event", "resource", ev.Resource, "error", err)
		return
	}
	if err := r.bus.Publish(r.topics.DeviceEvent(ev.From), payload, 0, false); err != nil {
		r.log.Debug("relaying cloud event over MQTT", "device_id", ev.From, "error", err)
		r.broadcast(api.ChannelEvents, msg)
	}
}
