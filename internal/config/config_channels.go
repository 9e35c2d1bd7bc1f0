package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// WhatsAppConfig configures the WhatsApp Cloud API gateway and webhook.
// Per-tenant access tokens live on the agent config record, not here.
type WhatsAppConfig struct {
	APIBase     string `json:"api_base"`
	APIVersion  string `json:"api_version"`
	VerifyToken string `json:"-"` // from env SALESCLAW_WHATSAPP_VERIFY_TOKEN only
	AppSecret   string `json:"-"` // from env SALESCLAW_WHATSAPP_APP_SECRET only
	// outbound sends per second across all tenants
	SendRPS    float64             `json:"send_rps"`
	TimeoutSec int                 `json:"timeout_sec"`
	AllowFrom  FlexibleStringSlice `json:"allow_from,omitempty"` // empty = everyone
}
