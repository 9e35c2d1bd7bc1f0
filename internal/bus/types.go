package bus

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Channel string      `json:"channel,omitempty"` // fan-out channel (e.g. "agent:{id}"); empty = all
	Name    string      `json:"name"`              // event name (protocol.Event* constants)
	Payload interface{} `json:"payload,omitempty"`
}

// AgentChannel returns the fan-out channel name for one tenant.
func AgentChannel(agentID string) string { return "agent:" + agentID }

// Cache invalidation kind constants.
const (
	CacheKindAgent  = "agent"
	CacheKindRouter = "router"
	CacheKindReply  = "reply"
)

// CacheInvalidatePayload signals cache layers to evict stale entries.
// Used with protocol.EventCacheInvalidate events.
type CacheInvalidatePayload struct {
	Kind string `json:"kind"` // CacheKind* constants
	Key  string `json:"key"`  // agent id, rule name, etc. Empty = invalidate all
}

// MessageEvent is the payload of message.new events.
type MessageEvent struct {
	MessageID string `json:"message_id"`
	AgentID   string `json:"agent_id"`
	Contact   string `json:"contact"`
	Direction string `json:"direction"` // "inbound" or "outbound"
	Type      string `json:"type"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// DeliveryStatusEvent is the payload of delivery.status events.
type DeliveryStatusEvent struct {
	MessageID  string `json:"message_id,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	To         string `json:"to,omitempty"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SessionStateEvent is the payload of session.state events.
type SessionStateEvent struct {
	AgentID    string  `json:"agent_id"`
	Contact    string  `json:"contact"`
	State      string  `json:"state"`
	Agent      string  `json:"agent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server, the delivery queue and agents to decouple from concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
