// Package channels holds helpers shared by messaging channel integrations:
// sender allowlists, webhook rate limiting and log-safe text truncation.
package channels

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// ChannelWhatsApp is the only channel this gateway speaks.
const ChannelWhatsApp = "whatsapp"

// AllowList gates inbound senders. An empty list allows everyone.
type AllowList struct {
	entries []string
}

// NewAllowList normalizes the configured addresses.
func NewAllowList(entries []string) *AllowList {
	a := &AllowList{}
	for _, e := range entries {
		if n := NormalizeAddress(e); n != "" {
			a.entries = append(a.entries, n)
		}
	}
	return a
}

// HasAllowList returns true if an allowlist is configured (non-empty).
func (a *AllowList) HasAllowList() bool { return a != nil && len(a.entries) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist.
// Addresses compare without formatting, so "+57 300-123" matches "57300123".
func (a *AllowList) IsAllowed(sender string) bool {
	if !a.HasAllowList() {
		return true
	}
	s := NormalizeAddress(sender)
	for _, allowed := range a.entries {
		if s == allowed {
			return true
		}
	}
	return false
}

// NormalizeAddress strips everything but digits from a phone-style address.
// Non-numeric ids are returned trimmed and otherwise untouched.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	var b strings.Builder
	for _, r := range addr {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return addr
		}
	}
	return b.String()
}

// Truncate shortens s to maxWidth display columns, appending "..." if truncated.
// Width-aware so emoji and CJK text in log previews don't overflow.
func Truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "...")
}
