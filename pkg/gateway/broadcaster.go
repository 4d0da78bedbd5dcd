package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Events pushed to authenticated clients.
const (
	EventTick                = "tick"
	EventToolsChanged        = "tools.changed"
	EventShutdown            = "server.shutdown"
	EventInvocationCompleted = "invocation.completed"
)

// Delivery counts the outcome of one published event.
type Delivery struct {
	Sent   int
	Failed int
}

// EventBroadcaster pushes events to authenticated WebSocket clients. Every
// event carries a sequence number that is increasing across all targets.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends an event to every authenticated client.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) Delivery {
	return b.publish(EventMessage{Event: event, Data: data}, nil)
}

// BroadcastTyped sends msg to every authenticated client, filling in the
// sequence and timestamp when unset.
func (b *EventBroadcaster) BroadcastTyped(msg EventMessage) Delivery {
	return b.publish(msg, nil)
}

// SendToCaller sends an event to the connections authenticated as
// callerID, except the one with id skipClientID.
func (b *EventBroadcaster) SendToCaller(callerID, skipClientID, event string, data interface{}) Delivery {
	if callerID == "" {
		return Delivery{}
	}
	return b.publish(EventMessage{Event: event, Data: data}, func(c *Client) bool {
		return c.CallerID == callerID && c.ID != skipClientID
	})
}

func (b *EventBroadcaster) publish(msg EventMessage, match func(*Client) bool) Delivery {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = b.seq.Add(1)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal event")
		return Delivery{}
	}

	if match == nil {
		match = func(*Client) bool { return true }
	}

	var d Delivery
	for _, client := range b.clients.Select(match) {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().Err(err).Str("clientId", client.ID).Str("event", msg.Event).Msg("Event delivery failed")
			d.Failed++
			continue
		}
		d.Sent++
	}

	if d.Sent+d.Failed > 0 {
		b.logger.Debug().
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Int("sent", d.Sent).
			Int("failed", d.Failed).
			Msg("Event published")
	}
	return d
}
