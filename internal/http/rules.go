package http

import (
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
)

// RulesHandler exposes the router's rule registry.
// Only rules created through this API can be replaced or deleted here;
// builtin and file rules are owned by the binary and the rules file.
type RulesHandler struct {
	registry *router.Registry
	token    string
	msgBus   bus.EventPublisher
}

// NewRulesHandler creates a handler for routing rule endpoints.
func NewRulesHandler(registry *router.Registry, token string, msgBus bus.EventPublisher) *RulesHandler {
	return &RulesHandler{registry: registry, token: token, msgBus: msgBus}
}

// RegisterRoutes registers rule routes on the given mux.
func (h *RulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/router/rules", requireToken(h.token, h.handleList))
	mux.HandleFunc("PUT /v1/router/rules/{name}", requireToken(h.token, h.handlePut))
	mux.HandleFunc("DELETE /v1/router/rules/{name}", requireToken(h.token, h.handleDelete))
}

func (h *RulesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": h.registry.List()})
}

func (h *RulesHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if src := h.sourceOf(name); src != "" && src != router.SourceAPI {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "rule " + name + " is managed by " + src})
		return
	}

	var rule router.KeywordRule
	rule.RuleName = name
	if !decodeAndValidate(w, r, &rule) {
		return
	}
	rule.RuleName = name
	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	h.registry.Register(router.SourceAPI, &rule)
	emitCacheInvalidate(h.msgBus, bus.CacheKindRouter, name)
	slog.Info("http: routing rule saved", "rule", name)
	writeJSON(w, http.StatusOK, router.RuleInfo{Name: name, Source: router.SourceAPI, Rule: &rule})
}

func (h *RulesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	switch src := h.sourceOf(name); src {
	case "":
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
		return
	case router.SourceAPI:
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "rule " + name + " is managed by " + src})
		return
	}

	h.registry.Remove(name)
	emitCacheInvalidate(h.msgBus, bus.CacheKindRouter, name)
	slog.Info("http: routing rule deleted", "rule", name)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RulesHandler) sourceOf(name string) string {
	for _, info := range h.registry.List() {
		if info.Name == name {
			return info.Source
		}
	}
	return ""
}
