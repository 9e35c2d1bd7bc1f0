// Package whatsapp talks to the WhatsApp Cloud API: outbound sends through
// Client and inbound delivery through the Webhook handler.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/salesclaw/internal/config"
)

const maxErrorBody = 2048

// Sender identifies the tenant-side WhatsApp number a message goes out from.
type Sender struct {
	PhoneNumberID string
	AccessToken   string
}

// APIError is a non-2xx response from the Cloud API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api: status %d: %s", e.Status, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsTransient reports whether err is worth retrying. Transport errors are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return !errors.Is(err, context.Canceled)
}

// Client is a lightweight Cloud API client using net/http.
// Sends across all tenants share one rate limiter.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Cloud API client from config.
func NewClient(cfg config.WhatsAppConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.SendRPS > 0 {
		limit = rate.Limit(cfg.SendRPS)
		burst = max(1, int(cfg.SendRPS))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIBase, "/"),
		version:    cfg.APIVersion,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers a text message and returns the Cloud API message id (wamid).
func (c *Client) SendText(ctx context.Context, from Sender, to, body string) (string, error) {
	p := textPayload{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text"}
	p.Text.Body = body

	var resp sendResponse
	if err := c.post(ctx, from, p, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", errors.New("whatsapp api: send response carried no message id")
	}
	return resp.Messages[0].ID, nil
}

// MarkRead flips the blue ticks on an inbound message.
func (c *Client) MarkRead(ctx context.Context, from Sender, messageID string) error {
	body := map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return c.post(ctx, from, body, nil)
}

func (c *Client) post(ctx context.Context, from Sender, body, out interface{}) error {
	if from.PhoneNumberID == "" {
		return errors.New("whatsapp api: sender phone number id is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp rate limit: %w", err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, from.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+from.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("whatsapp decode: %w", err)
	}
	return nil
}
