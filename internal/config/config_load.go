package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"
)

// DefaultFollowUpMessage is sent when a follow-up task fires and no override is configured.
const DefaultFollowUpMessage = "¡Hola! ¿Cómo te ha ido con tu compra? Si necesitas algo más, aquí estamos para ayudarte."

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18890,
			RateLimitRPM: 30,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "salesclaw.db",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				APIBase:    "https://graph.facebook.com",
				APIVersion: "v21.0",
				SendRPS:    20,
				TimeoutSec: 15,
			},
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
				MaxTokens:   512,
				TimeoutSec:  30,
			},
		},
		Router: RouterConfig{
			ConfidenceThreshold: 0.8,
			HistoryTurns:        6,
		},
		Queue: QueueConfig{
			MaxRetries:   3,
			RetryDelayMs: 2000,
		},
		Cache: CacheConfig{
			ReplyTTLSec:       300,
			MaxEntries:        10000,
			SweepIntervalSec:  60,
			AgentConfigTTLSec: 300,
			LocalTTLSec:       30,
			DedupTTLSec:       1200,
		},
		Sessions: SessionsConfig{
			InactivityTimeoutMin: 24 * 60,
		},
		FollowUp: FollowUpConfig{
			DelayMin:      24 * 60,
			SweepSchedule: "* * * * *",
			Message:       DefaultFollowUpMessage,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "salesclaw",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// Secrets
	envStr("SALESCLAW_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("SALESCLAW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("SALESCLAW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("SALESCLAW_WHATSAPP_VERIFY_TOKEN", &c.Channels.WhatsApp.VerifyToken)
	envStr("SALESCLAW_WHATSAPP_APP_SECRET", &c.Channels.WhatsApp.AppSecret)

	envStr("SALESCLAW_HOST", &c.Gateway.Host)
	if v := os.Getenv("SALESCLAW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("SALESCLAW_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	envStr("SALESCLAW_DB_DRIVER", &c.Database.Driver)
	envStr("SALESCLAW_SQLITE_PATH", &c.Database.SQLitePath)
	// A DSN without an explicit driver means postgres.
	if c.Database.PostgresDSN != "" && os.Getenv("SALESCLAW_DB_DRIVER") == "" {
		c.Database.Driver = "postgres"
	}

	envStr("SALESCLAW_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("SALESCLAW_MODEL", &c.Providers.OpenAI.Model)
	envStr("SALESCLAW_ROUTER_RULES_FILE", &c.Router.RulesFile)
	envStr("SALESCLAW_WHATSAPP_API_BASE", &c.Channels.WhatsApp.APIBase)

	envInt("SALESCLAW_QUEUE_MAX_RETRIES", &c.Queue.MaxRetries)
	envInt("SALESCLAW_QUEUE_RETRY_DELAY_MS", &c.Queue.RetryDelayMs)
	envInt("SALESCLAW_SESSION_INACTIVITY_MIN", &c.Sessions.InactivityTimeoutMin)
	envInt("SALESCLAW_FOLLOWUP_DELAY_MIN", &c.FollowUp.DelayMin)

	// Telemetry
	envStr("SALESCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SALESCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("SALESCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("SALESCLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SALESCLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Validate checks value ranges that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres":
		if c.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("database.driver=postgres requires SALESCLAW_POSTGRES_DSN"))
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for the sqlite driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if t := c.Router.ConfidenceThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("router.confidence_threshold must be in (0,1], got %v", t))
	}
	if c.Queue.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("queue.max_retries must be >= 1, got %d", c.Queue.MaxRetries))
	}
	if c.Queue.RetryDelayMs < 0 {
		errs = append(errs, errors.New("queue.retry_delay_ms must not be negative"))
	}
	if c.Sessions.InactivityTimeoutMin <= 0 {
		errs = append(errs, errors.New("sessions.inactivity_timeout_min must be positive"))
	}
	if expr := c.FollowUp.SweepSchedule; expr != "" && !gronx.New().IsValid(expr) {
		errs = append(errs, fmt.Errorf("follow_up.sweep_schedule %q is not a valid cron expression", expr))
	}
	if p := c.Telemetry.Protocol; p != "" && p != "grpc" && p != "http" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http, got %q", p))
	}
	return errors.Join(errs...)
}

// Hash returns a short SHA-256 fingerprint of the non-secret config, logged at startup.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
