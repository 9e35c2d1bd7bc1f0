package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Phone numbers are often pasted as bare numbers.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the salesclaw gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Router    RouterConfig    `json:"router"`
	Queue     QueueConfig     `json:"queue"`
	Cache     CacheConfig     `json:"cache"`
	Sessions  SessionsConfig  `json:"sessions"`
	FollowUp  FollowUpConfig  `json:"follow_up"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env SALESCLAW_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// per-sender inbound webhook budget; 0 disables the limiter
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`
}

// DatabaseConfig selects the persistence backend.
// PostgresDSN is NEVER read from config.json (secret), only from env SALESCLAW_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver"` // "postgres", "sqlite" or "memory"
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// ProvidersConfig holds LLM provider credentials.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `json:"openai"`
}

// OpenAIConfig configures any OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	APIKey      string  `json:"-"` // from env SALESCLAW_OPENAI_API_KEY only
	APIBase     string  `json:"api_base,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutSec  int     `json:"timeout_sec"`
}

// RouterConfig tunes the smart router.
type RouterConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	RulesFile           string  `json:"rules_file,omitempty"` // json5 keyword rules, hot-reloaded
	HistoryTurns        int     `json:"history_turns"`
	ClassifierModel     string  `json:"classifier_model,omitempty"`
}

// QueueConfig tunes the outbound delivery queue.
type QueueConfig struct {
	MaxRetries   int `json:"max_retries"`
	RetryDelayMs int `json:"retry_delay_ms"`
}

// RetryDelay returns the fixed retry delay as a duration.
func (q QueueConfig) RetryDelay() time.Duration {
	return time.Duration(q.RetryDelayMs) * time.Millisecond
}

// CacheConfig tunes the in-process caches.
type CacheConfig struct {
	ReplyTTLSec       int `json:"reply_ttl_sec"`
	MaxEntries        int `json:"max_entries"`
	SweepIntervalSec  int `json:"sweep_interval_sec"`
	AgentConfigTTLSec int `json:"agent_config_ttl_sec"`
	LocalTTLSec       int `json:"local_ttl_sec"`
	DedupTTLSec       int `json:"dedup_ttl_sec"`
}

// SessionsConfig controls conversation session lifetime.
type SessionsConfig struct {
	InactivityTimeoutMin int `json:"inactivity_timeout_min"`
}

// InactivityTimeout returns the session inactivity threshold.
func (s SessionsConfig) InactivityTimeout() time.Duration {
	return time.Duration(s.InactivityTimeoutMin) * time.Minute
}

// FollowUpConfig controls post-purchase re-engagement.
type FollowUpConfig struct {
	DelayMin      int    `json:"delay_min"`
	SweepSchedule string `json:"sweep_schedule"` // cron expression for the recovery sweep
	Message       string `json:"message,omitempty"`
}

// TelemetryConfig configures OpenTelemetry OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ReplyTTL returns the TTL for memoized replies.
func (c CacheConfig) ReplyTTL() time.Duration { return seconds(c.ReplyTTLSec) }

// SweepInterval returns the expired-entry purge interval.
func (c CacheConfig) SweepInterval() time.Duration { return seconds(c.SweepIntervalSec) }

// AgentConfigTTL returns the shared-tier TTL for agent configs.
func (c CacheConfig) AgentConfigTTL() time.Duration { return seconds(c.AgentConfigTTLSec) }

// LocalTTL returns the process-local tier TTL for agent configs.
func (c CacheConfig) LocalTTL() time.Duration { return seconds(c.LocalTTLSec) }

// DedupTTL returns how long inbound message ids are remembered.
func (c CacheConfig) DedupTTL() time.Duration { return seconds(c.DedupTTLSec) }
