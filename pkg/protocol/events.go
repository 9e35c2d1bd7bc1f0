package protocol

// ProtocolVersion is bumped when event payload shapes change incompatibly.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	// New inbound or outbound message persisted (payload: MessageEvent).
	EventMessageNew = "message.new"

	// Outbound delivery outcome (payload: DeliveryStatusEvent).
	EventDeliveryStatus = "delivery.status"

	// Conversation state changed after a routed reply or a payment event.
	EventSessionState = "session.state"

	// Server is shutting down.
	EventShutdown = "shutdown"

	// Cache invalidation events (internal, not forwarded to WS clients).
	EventCacheInvalidate = "cache.invalidate"
)

// Delivery status values carried in delivery.status events.
const (
	DeliveryQueued    = "queued"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)
