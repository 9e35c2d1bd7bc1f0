package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/nextlevelbuilder/salesclaw/internal/providers"
)

// Classifier is the model-backed fallback used when no rule is confident enough.
type Classifier interface {
	Classify(ctx context.Context, rc RoutingContext, hints []RoutingResult) (RoutingResult, error)
}

// ErrNoJSONObject is returned when the model reply contains no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in classifier reply")

const classifierSystemPrompt = `You route messages in a WhatsApp sales conversation to the right sales persona.
Reply with ONLY a JSON object: {"agent": "...", "state": "...", "confidence": 0.0-1.0, "reason": "..."}.`

var classifierPrompt = template.Must(template.New("classify").Parse(`Agents: greeter, qualifier, product_expert, objection_handler, closer, payment, follow_up.
States: greeting, qualifying, product_discovery, objection_handling, closing, payment, follow_up, follow_up_completed.
Funnel: greeting -> qualifying -> product_discovery <-> objection_handling -> closing -> payment -> follow_up -> follow_up_completed.

Current state: {{.Ctx.CurrentState}}
Message number in session: {{.Ctx.MessageCount}}
{{- if .Ctx.History}}
Recent conversation:
{{- range .Ctx.History}}
{{.Role}}: {{.Text}}
{{- end}}
{{- end}}
{{- if .Hints}}
Rule hints (below confidence threshold):
{{- range .Hints}}
- {{.Rule}}: agent={{.Agent}} state={{.State}} confidence={{printf "%.2f" .Confidence}} ({{.Reason}})
{{- end}}
{{- end}}

Customer message:
{{.Ctx.Message}}`))

// classifierOutput is the strict schema the model reply must satisfy.
type classifierOutput struct {
	Agent      string   `json:"agent" validate:"required,oneof=greeter qualifier product_expert objection_handler closer payment follow_up"`
	State      string   `json:"state" validate:"required,oneof=greeting qualifying product_discovery objection_handling closing payment follow_up follow_up_completed"`
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Reason     string   `json:"reason" validate:"required"`
}

// LLMClassifier asks a chat model to classify the message.
type LLMClassifier struct {
	provider providers.Provider
	model    string
}

// NewLLMClassifier creates a classifier. An empty model uses the provider default.
func NewLLMClassifier(p providers.Provider, model string) *LLMClassifier {
	return &LLMClassifier{provider: p, model: model}
}

// RenderPrompt renders the user prompt for rc.
func RenderPrompt(rc RoutingContext, hints []RoutingResult) (string, error) {
	var buf bytes.Buffer
	err := classifierPrompt.Execute(&buf, struct {
		Ctx   RoutingContext
		Hints []RoutingResult
	}{rc, hints})
	if err != nil {
		return "", fmt.Errorf("render classifier prompt: %w", err)
	}
	return buf.String(), nil
}

func (c *LLMClassifier) Classify(ctx context.Context, rc RoutingContext, hints []RoutingResult) (RoutingResult, error) {
	prompt, err := RenderPrompt(rc, hints)
	if err != nil {
		return RoutingResult{}, err
	}
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.model,
		Messages: []providers.Message{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: providers.Float64(0),
		MaxTokens:   200,
		JSONMode:    true,
	})
	if err != nil {
		return RoutingResult{}, fmt.Errorf("classifier call: %w", err)
	}
	return ParseClassification(resp.Content)
}

// ParseClassification extracts and validates the JSON object in a model reply.
// Surrounding prose and fenced-code markers are tolerated.
func ParseClassification(reply string) (RoutingResult, error) {
	raw, err := extractJSONObject(reply)
	if err != nil {
		return RoutingResult{}, err
	}
	var out classifierOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return RoutingResult{}, fmt.Errorf("decode classifier reply: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return RoutingResult{}, fmt.Errorf("invalid classifier reply: %w", err)
	}
	return RoutingResult{
		Agent:      Agent(out.Agent),
		State:      State(out.State),
		Confidence: *out.Confidence,
		Reason:     strings.TrimSpace(out.Reason),
	}, nil
}

func extractJSONObject(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return s[start : end+1], nil
}
