package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AgentConfig is the per-tenant runtime configuration of one sales agent.
type AgentConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BusinessName string `json:"business_name"`

	// ChannelAddress is the WhatsApp phone-number id inbound webhooks are addressed to.
	ChannelAddress string `json:"channel_address"`
	DisplayPhone   string `json:"display_phone,omitempty"`
	AccessToken    string `json:"access_token,omitempty"`

	AutoReply         bool          `json:"auto_reply"`
	BusinessHours     BusinessHours `json:"business_hours"`
	OutOfHoursMessage string        `json:"out_of_hours_message,omitempty"`

	// ResponseTimeTargetSec is the soft latency target; overruns are logged.
	ResponseTimeTargetSec int `json:"response_time_target_sec,omitempty"`
	// MaxConcurrent caps simultaneous in-flight replies for this tenant (0 = unlimited).
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	Persona      string `json:"persona,omitempty"`
	ProductNotes string `json:"product_notes,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ResponseTimeTarget returns the soft latency target as a duration.
func (a *AgentConfig) ResponseTimeTarget() time.Duration {
	return time.Duration(a.ResponseTimeTargetSec) * time.Second
}

// BusinessHours describes when the agent answers automatically.
// An empty Start/End means always open.
type BusinessHours struct {
	Start    string   `json:"start,omitempty"` // "09:00"
	End      string   `json:"end,omitempty"`   // "18:00"
	Timezone string   `json:"timezone,omitempty"`
	Days     []string `json:"days,omitempty"` // "mon".."sun"; empty = every day
}

// WithinBusinessHours reports whether t falls inside the configured window.
// Malformed hours are treated as always open.
func (a *AgentConfig) WithinBusinessHours(t time.Time) bool {
	bh := a.BusinessHours
	if bh.Start == "" || bh.End == "" {
		return true
	}
	if bh.Timezone != "" {
		if loc, err := time.LoadLocation(bh.Timezone); err == nil {
			t = t.In(loc)
		}
	}
	if len(bh.Days) > 0 {
		day := strings.ToLower(t.Weekday().String()[:3])
		found := false
		for _, d := range bh.Days {
			if strings.ToLower(d) == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	start, err1 := parseClock(bh.Start)
	end, err2 := parseClock(bh.End)
	if err1 != nil || err2 != nil {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// window wraps midnight
	return now >= start || now < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return h*60 + m, nil
}

// AgentConfigStore is the source of truth for agent configuration.
type AgentConfigStore interface {
	GetAgentConfig(ctx context.Context, id string) (*AgentConfig, error)
	GetAgentConfigByAddress(ctx context.Context, address string) (*AgentConfig, error)
	PutAgentConfig(ctx context.Context, cfg *AgentConfig) error
}
