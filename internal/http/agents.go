package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

var validate = validator.New()

// AgentsHandler manages agent configuration records.
type AgentsHandler struct {
	agents store.AgentConfigStore
	token  string
	msgBus bus.EventPublisher // for cache invalidation events (nil = no events)
}

// NewAgentsHandler creates a handler for agent management endpoints.
func NewAgentsHandler(agents store.AgentConfigStore, token string, msgBus bus.EventPublisher) *AgentsHandler {
	return &AgentsHandler{agents: agents, token: token, msgBus: msgBus}
}

// RegisterRoutes registers all agent management routes on the given mux.
func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agents/{id}", h.authMiddleware(h.handleGet))
	mux.HandleFunc("PUT /v1/agents/{id}", h.authMiddleware(h.handlePut))
	mux.HandleFunc("POST /v1/agents/{id}/invalidate", h.authMiddleware(h.handleInvalidate))
}

func (h *AgentsHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return requireToken(h.token, next)
}

// agentRequest is the writable part of an agent config.
type agentRequest struct {
	Name                  string              `json:"name" validate:"required,max=128"`
	BusinessName          string              `json:"business_name" validate:"max=128"`
	ChannelAddress        string              `json:"channel_address" validate:"required,numeric"`
	DisplayPhone          string              `json:"display_phone,omitempty"`
	AccessToken           string              `json:"access_token,omitempty"`
	AutoReply             *bool               `json:"auto_reply,omitempty"`
	BusinessHours         store.BusinessHours `json:"business_hours"`
	OutOfHoursMessage     string              `json:"out_of_hours_message,omitempty"`
	ResponseTimeTargetSec int                 `json:"response_time_target_sec,omitempty" validate:"gte=0"`
	MaxConcurrent         int                 `json:"max_concurrent,omitempty" validate:"gte=0"`
	Persona               string              `json:"persona,omitempty"`
	ProductNotes          string              `json:"product_notes,omitempty"`
}

func (h *AgentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ag, err := h.agents.GetAgentConfig(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	maskAccessToken(ag)
	writeJSON(w, http.StatusOK, ag)
}

func (h *AgentsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isValidSlug(id) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent id must be a valid slug (lowercase letters, numbers, hyphens only)"})
		return
	}

	var req agentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	existing, err := h.agents.GetAgentConfig(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	created := existing == nil

	ag := &store.AgentConfig{
		ID:                    id,
		Name:                  req.Name,
		BusinessName:          req.BusinessName,
		ChannelAddress:        req.ChannelAddress,
		DisplayPhone:          req.DisplayPhone,
		AccessToken:           req.AccessToken,
		AutoReply:             true,
		BusinessHours:         req.BusinessHours,
		OutOfHoursMessage:     req.OutOfHoursMessage,
		ResponseTimeTargetSec: req.ResponseTimeTargetSec,
		MaxConcurrent:         req.MaxConcurrent,
		Persona:               req.Persona,
		ProductNotes:          req.ProductNotes,
		UpdatedAt:             time.Now().UTC(),
	}
	if req.AutoReply != nil {
		ag.AutoReply = *req.AutoReply
	}
	// An omitted token keeps the stored one so masked reads can be written back.
	if existing != nil && (ag.AccessToken == "" || ag.AccessToken == maskedToken) {
		ag.AccessToken = existing.AccessToken
	}

	if err := h.agents.PutAgentConfig(r.Context(), ag); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.emitCacheInvalidate(bus.CacheKindAgent, id)
	slog.Info("http: agent config saved", "agent_id", id, "created", created)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	maskAccessToken(ag)
	writeJSON(w, status, ag)
}

func (h *AgentsHandler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "*" {
		id = ""
	}
	h.emitCacheInvalidate(bus.CacheKindAgent, id)
	writeJSON(w, http.StatusAccepted, map[string]string{"ok": "true"})
}

// emitCacheInvalidate broadcasts a cache invalidation event if msgBus is set.
func (h *AgentsHandler) emitCacheInvalidate(kind, key string) {
	emitCacheInvalidate(h.msgBus, kind, key)
}

func emitCacheInvalidate(msgBus bus.EventPublisher, kind, key string) {
	if msgBus == nil {
		return
	}
	msgBus.Broadcast(bus.Event{
		Name:    protocol.EventCacheInvalidate,
		Payload: bus.CacheInvalidatePayload{Kind: kind, Key: key},
	})
}

const maskedToken = "***"

func maskAccessToken(ag *store.AgentConfig) {
	if ag.AccessToken != "" {
		ag.AccessToken = maskedToken
	}
}

func isValidSlug(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}
	return !strings.HasPrefix(s, "-") && !strings.HasSuffix(s, "-")
}

// requireToken rejects requests whose bearer token does not match token.
// An empty token disables the check.
func requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && extractBearerToken(r) != token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// decodeAndValidate decodes the JSON body into dst and runs struct validation.
// It writes a 400 and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
