// Package sessions holds conversation session keys and their lifecycle.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{channel}:direct:{peerId}
//
// Example:
//
//	agent:7f3c:whatsapp:direct:5215512345678
package sessions

import (
	"fmt"
	"strings"
)

// ChannelWhatsApp is the only channel this service answers on.
const ChannelWhatsApp = "whatsapp"

// Key identifies one (agent, end-user) conversation.
type Key struct {
	AgentID string
	Contact string // end-user channel address
}

// String returns the canonical session key.
func (k Key) String() string {
	return BuildSessionKey(k.AgentID, ChannelWhatsApp, k.Contact)
}

// BuildSessionKey builds the canonical direct-message session key.
func BuildSessionKey(agentID, channel, peerID string) string {
	return fmt.Sprintf("agent:%s:%s:direct:%s", agentID, channel, peerID)
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" || parts[1] == "" {
		return "", ""
	}
	return parts[1], parts[2]
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, bool) {
	agentID, rest := ParseSessionKey(s)
	if agentID == "" {
		return Key{}, false
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[1] != "direct" || parts[2] == "" {
		return Key{}, false
	}
	return Key{AgentID: agentID, Contact: parts[2]}, true
}
