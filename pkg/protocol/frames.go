package protocol

import "time"

// FrameTypeEvent is the only frame type the server pushes.
const FrameTypeEvent = "event"

// EventFrame is the wire envelope for server-to-client events.
type EventFrame struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"` // tenant fan-out channel, usually "agent:{id}"
	Name    string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	Seq     int64       `json:"seq,omitempty"`
	TS      int64       `json:"ts"`
}

// NewEvent builds an event frame stamped with the current time.
func NewEvent(channel, name string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Channel: channel,
		Name:    name,
		Payload: payload,
		TS:      time.Now().UnixMilli(),
	}
}
