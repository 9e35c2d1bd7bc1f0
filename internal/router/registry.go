package router

import (
	"log/slog"
	"sync"
)

// Rule sources.
const (
	SourceBuiltin = "builtin"
	SourceFile    = "file"
	SourceAPI     = "api"
)

// RuleInfo describes one registered rule.
type RuleInfo struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Rule   any    `json:"rule,omitempty"` // *KeywordRule for file and api rules
}

type registryEntry struct {
	source string
	rule   Rule
}

// Registry is an ordered, named rule list that can change at runtime.
// Registering an existing name replaces the rule in place and keeps its position.
type Registry struct {
	mu      sync.RWMutex
	entries []registryEntry
}

// NewRegistry creates a registry preloaded with rules under SourceBuiltin.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{}
	for _, rule := range rules {
		r.Register(SourceBuiltin, rule)
	}
	return r
}

// Register adds or replaces a rule.
func (r *Registry) Register(source string, rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.rule.Name() == rule.Name() {
			r.entries[i] = registryEntry{source: source, rule: rule}
			return
		}
	}
	r.entries = append(r.entries, registryEntry{source: source, rule: rule})
}

// Remove deletes a rule by name and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.rule.Name() == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Sync makes source's rules exactly rules: stale ones are removed, the rest registered.
func (r *Registry) Sync(source string, rules []Rule) {
	keep := make(map[string]bool, len(rules))
	for _, rule := range rules {
		keep[rule.Name()] = true
	}

	r.mu.Lock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.source == source && !keep[e.rule.Name()] {
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	r.mu.Unlock()

	for _, rule := range rules {
		r.Register(source, rule)
	}
}

// List returns the rules in evaluation order.
func (r *Registry) List() []RuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RuleInfo, 0, len(r.entries))
	for _, e := range r.entries {
		info := RuleInfo{Name: e.rule.Name(), Source: e.source}
		if kr, ok := e.rule.(*KeywordRule); ok {
			info.Rule = kr
		}
		out = append(out, info)
	}
	return out
}

// Evaluate runs rules in order. It returns the first result whose confidence
// reaches threshold, or nil plus every sub-threshold result as hints.
func (r *Registry) Evaluate(rc RoutingContext, threshold float64) (winner *RoutingResult, hints []RoutingResult) {
	r.mu.RLock()
	entries := make([]registryEntry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	for _, e := range entries {
		res := safeEvaluate(e.rule, rc)
		if res == nil {
			continue
		}
		res.Rule = e.rule.Name()
		if res.Confidence >= threshold && res.Agent.Valid() && res.State.Valid() {
			return res, nil
		}
		hints = append(hints, *res)
	}
	return nil, hints
}

// safeEvaluate treats a panicking rule as an abstention.
func safeEvaluate(rule Rule, rc RoutingContext) (res *RoutingResult) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("router: rule panicked", "rule", rule.Name(), "panic", p)
			res = nil
		}
	}()
	return rule.Evaluate(rc)
}
