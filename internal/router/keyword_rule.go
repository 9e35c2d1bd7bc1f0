package router

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/titanous/json5"
)

var validate = validator.New()

// KeywordRule is a data-defined rule: when the message contains any keyword
// (whole words, case and accent insensitive) and the session state is one of
// States (any state when empty), it proposes Agent/State with Confidence.
type KeywordRule struct {
	RuleName        string   `json:"name" validate:"required,max=64"`
	Agent           Agent    `json:"agent" validate:"required,oneof=greeter qualifier product_expert objection_handler closer payment follow_up"`
	State           State    `json:"state" validate:"required,oneof=greeting qualifying product_discovery objection_handling closing payment follow_up follow_up_completed"`
	Confidence      float64  `json:"confidence" validate:"gte=0,lte=1"`
	Keywords        []string `json:"keywords" validate:"required,min=1,dive,required"`
	States          []State  `json:"states,omitempty" validate:"dive,oneof=greeting qualifying product_discovery objection_handling closing payment follow_up follow_up_completed"`
	MaxMessageCount int      `json:"max_message_count,omitempty" validate:"gte=0"`
	Reason          string   `json:"reason,omitempty"`

	phrases phraseSet
}

// Validate checks the rule definition and prepares it for matching.
func (k *KeywordRule) Validate() error {
	if err := validate.Struct(k); err != nil {
		return fmt.Errorf("rule %q: %w", k.RuleName, err)
	}
	k.phrases = newPhraseSet(k.Keywords...)
	return nil
}

func (k *KeywordRule) Name() string { return k.RuleName }

func (k *KeywordRule) Evaluate(rc RoutingContext) *RoutingResult {
	if k.MaxMessageCount > 0 && rc.MessageCount > k.MaxMessageCount {
		return nil
	}
	if len(k.States) > 0 && !stateIn(rc.CurrentState, k.States...) {
		return nil
	}
	phrases := k.phrases
	if phrases == nil {
		phrases = newPhraseSet(k.Keywords...)
	}
	p := phrases.match(normalize(rc.Message))
	if p == "" {
		return nil
	}
	reason := k.Reason
	if reason == "" {
		reason = fmt.Sprintf("keyword %q", p)
	}
	return &RoutingResult{Agent: k.Agent, State: k.State, Confidence: k.Confidence, Reason: reason}
}

// rulesFile is the on-disk shape of the keyword rules file.
type rulesFile struct {
	Rules []*KeywordRule `json:"rules"`
}

// ParseRules decodes and validates a JSON5 rules document.
func ParseRules(data []byte) ([]*KeywordRule, error) {
	var f rulesFile
	if err := json5.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	seen := make(map[string]bool, len(f.Rules))
	var errs []string
	for _, r := range f.Rules {
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if seen[r.RuleName] {
			errs = append(errs, fmt.Sprintf("duplicate rule name %q", r.RuleName))
		}
		seen[r.RuleName] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid rules: %s", strings.Join(errs, "; "))
	}
	return f.Rules, nil
}

// LoadRulesFile reads and validates a rules file.
func LoadRulesFile(path string) ([]*KeywordRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// AsRules converts keyword rules to the Rule interface.
func AsRules(krs []*KeywordRule) []Rule {
	out := make([]Rule, 0, len(krs))
	for _, k := range krs {
		out = append(out, k)
	}
	return out
}
