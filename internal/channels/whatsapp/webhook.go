package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/salesclaw/internal/channels"
	"github.com/nextlevelbuilder/salesclaw/internal/config"
)

// WebhookPath is where the Cloud API delivers callbacks.
const WebhookPath = "/webhook/whatsapp"

const maxWebhookBody = 1 << 20

// ErrSignatureMismatch is returned when X-Hub-Signature-256 does not match the body.
var ErrSignatureMismatch = errors.New("whatsapp webhook: signature mismatch")

// InboundMessage is one end-user message extracted from a webhook envelope.
type InboundMessage struct {
	SenderAddress    string // end-user wa_id
	RecipientAddress string // tenant phone_number_id
	MessageID        string
	Timestamp        int64 // seconds
	Type             string
	Body             string
	SenderName       string
}

// StatusUpdate is a delivery receipt for an outbound message.
type StatusUpdate struct {
	DeliveryID       string // wamid returned by SendText
	RecipientAddress string // tenant phone_number_id
	Contact          string
	Status           string // sent, delivered, read, failed
	Timestamp        int64
	Error            string
}

// MessageHandler consumes inbound messages.
type MessageHandler interface {
	HandleIncoming(ctx context.Context, msg InboundMessage)
}

// StatusHandler consumes delivery receipts.
type StatusHandler interface {
	HandleStatus(ctx context.Context, st StatusUpdate)
}

// Webhook serves the Cloud API verification handshake and event callbacks.
// Each message is dispatched on its own goroutine after the 200 ack.
type Webhook struct {
	verifyToken string
	appSecret   string
	allow       *channels.AllowList
	limiter     *channels.WebhookRateLimiter
	messages    MessageHandler
	statuses    StatusHandler

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewWebhook creates the webhook handler. statuses and limiter may be nil.
func NewWebhook(cfg config.WhatsAppConfig, messages MessageHandler, statuses StatusHandler, limiter *channels.WebhookRateLimiter) *Webhook {
	return &Webhook{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		allow:       channels.NewAllowList(cfg.AllowFrom),
		limiter:     limiter,
		messages:    messages,
		statuses:    statuses,
		baseCtx:     context.Background(),
	}
}

// Start sets the context dispatched handlers run under. Cancelling it
// cancels in-flight message processing.
func (w *Webhook) Start(ctx context.Context) {
	w.mu.Lock()
	w.baseCtx = ctx
	w.mu.Unlock()
}

// Wait blocks until every dispatched message has been handled.
func (w *Webhook) Wait() { w.wg.Wait() }

// RegisterRoutes mounts the webhook on mux.
func (w *Webhook) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+WebhookPath, w.handleVerify)
	mux.HandleFunc("POST "+WebhookPath, w.handleEvent)
}

func (w *Webhook) handleVerify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || w.verifyToken == "" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(w.verifyToken)) {
		slog.Warn("whatsapp: webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	rw.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(rw, q.Get("hub.challenge"))
}

func (w *Webhook) handleEvent(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}
	if err := VerifySignature(w.appSecret, r.Header.Get("X-Hub-Signature-256"), body); err != nil {
		slog.Warn("whatsapp: webhook signature rejected", "error", err)
		http.Error(rw, "invalid signature", http.StatusUnauthorized)
		return
	}

	msgs, statuses, err := ParseEnvelope(body)
	if err != nil {
		slog.Warn("whatsapp: malformed webhook envelope", "error", err)
		http.Error(rw, "malformed envelope", http.StatusBadRequest)
		return
	}

	// Ack first; the Cloud API retries anything slower than a few seconds.
	rw.WriteHeader(http.StatusOK)

	w.mu.Lock()
	ctx := w.baseCtx
	w.mu.Unlock()

	for _, st := range statuses {
		if w.statuses != nil {
			w.statuses.HandleStatus(ctx, st)
		}
	}
	for _, m := range msgs {
		if !w.allow.IsAllowed(m.SenderAddress) {
			slog.Debug("whatsapp: sender not in allowlist", "sender", m.SenderAddress)
			continue
		}
		if w.limiter != nil && !w.limiter.Allow(m.RecipientAddress+":"+m.SenderAddress) {
			slog.Warn("whatsapp: sender rate limited", "sender", m.SenderAddress, "message_id", m.MessageID)
			continue
		}
		w.wg.Add(1)
		go func(m InboundMessage) {
			defer w.wg.Done()
			w.messages.HandleIncoming(ctx, m)
		}(m)
	}
}

// VerifySignature checks the sha256=<hex> HMAC header against body.
// An empty secret disables verification.
func VerifySignature(secret, header string, body []byte) error {
	if secret == "" {
		return nil
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrSignatureMismatch
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []rawMessage `json:"messages"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		RecipientID string `json:"recipient_id"`
		Errors      []struct {
			Code  int    `json:"code"`
			Title string `json:"title"`
		} `json:"errors"`
	} `json:"statuses"`
}

type rawMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    *media `json:"image"`
	Video    *media `json:"video"`
	Document *media `json:"document"`
}

type media struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// ParseEnvelope extracts messages and delivery receipts from a webhook body.
// Unknown message types are returned with an empty body.
func ParseEnvelope(body []byte) ([]InboundMessage, []StatusUpdate, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, err
	}

	var msgs []InboundMessage
	var statuses []StatusUpdate
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				msgs = append(msgs, InboundMessage{
					SenderAddress:    m.From,
					RecipientAddress: v.Metadata.PhoneNumberID,
					MessageID:        m.ID,
					Timestamp:        parseUnix(m.Timestamp),
					Type:             m.Type,
					Body:             m.body(),
					SenderName:       names[m.From],
				})
			}
			for _, s := range v.Statuses {
				st := StatusUpdate{
					DeliveryID:       s.ID,
					RecipientAddress: v.Metadata.PhoneNumberID,
					Contact:          s.RecipientID,
					Status:           s.Status,
					Timestamp:        parseUnix(s.Timestamp),
				}
				if len(s.Errors) > 0 {
					st.Error = s.Errors[0].Title
				}
				statuses = append(statuses, st)
			}
		}
	}
	return msgs, statuses, nil
}

func (m rawMessage) body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	case m.Image != nil:
		return m.Image.Caption
	case m.Video != nil:
		return m.Video.Caption
	case m.Document != nil:
		return m.Document.Caption
	}
	return ""
}

func parseUnix(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
