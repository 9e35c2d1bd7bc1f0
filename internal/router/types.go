// Package router classifies inbound messages into {agent, next state, confidence, reason}.
//
// Deterministic rules run first in registration order; the first result whose
// confidence reaches the threshold wins and the model classifier is skipped.
// Otherwise the model classifier decides, with sub-threshold rule results
// passed along as hints. Route never fails: classifier errors collapse into a
// low-confidence fallback.
package router

import "github.com/nextlevelbuilder/salesclaw/internal/store"

// State is a conversation state. The set is closed.
type State string

const (
	StateGreeting          State = "greeting"
	StateQualifying        State = "qualifying"
	StateProductDiscovery  State = "product_discovery"
	StateObjectionHandling State = "objection_handling"
	StateClosing           State = "closing"
	StatePayment           State = "payment"
	StateFollowUp          State = "follow_up"
	StateFollowUpCompleted State = "follow_up_completed"
)

// States lists every valid state in funnel order.
var States = []State{
	StateGreeting, StateQualifying, StateProductDiscovery, StateObjectionHandling,
	StateClosing, StatePayment, StateFollowUp, StateFollowUpCompleted,
}

// Valid reports whether s belongs to the closed state set.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Agent names a persona the orchestrator can answer as.
type Agent string

const (
	AgentGreeter          Agent = "greeter"
	AgentQualifier        Agent = "qualifier"
	AgentProductExpert    Agent = "product_expert"
	AgentObjectionHandler Agent = "objection_handler"
	AgentCloser           Agent = "closer"
	AgentPayment          Agent = "payment"
	AgentFollowUp         Agent = "follow_up"
)

// Agents lists every valid agent.
var Agents = []Agent{
	AgentGreeter, AgentQualifier, AgentProductExpert, AgentObjectionHandler,
	AgentCloser, AgentPayment, AgentFollowUp,
}

// Valid reports whether a belongs to the closed agent set.
func (a Agent) Valid() bool {
	for _, v := range Agents {
		if a == v {
			return true
		}
	}
	return false
}

// Turn is one line of the chat-history digest.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// RoutingContext is the input to classification.
type RoutingContext struct {
	AgentID      string               `json:"agent_id,omitempty"`
	Message      string               `json:"message"`
	CurrentState State                `json:"current_state"`
	History      []Turn               `json:"history,omitempty"`
	Payload      store.SessionPayload `json:"payload"`
	MessageCount int                  `json:"message_count"` // 1-based ordinal of Message in the session
}

// RoutingResult is the output of classification.
type RoutingResult struct {
	Agent      Agent   `json:"agent"`
	State      State   `json:"state"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	// Rule is the deterministic rule that produced the result; empty for the classifier.
	Rule string `json:"rule,omitempty"`
}

// FallbackConfidence is the confidence of the result returned when classification fails.
const FallbackConfidence = 0.3

// Fallback returns the result used when the classifier errors or its output is rejected.
func Fallback(current State) RoutingResult {
	if !current.Valid() {
		current = StateGreeting
	}
	return RoutingResult{Agent: AgentGreeter, State: current, Confidence: FallbackConfidence, Reason: "fallback"}
}
