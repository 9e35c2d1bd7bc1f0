package orchestrator

import "github.com/nextlevelbuilder/salesclaw/internal/router"

// personas describe how each routed agent should answer.
var personas = map[router.Agent]string{
	router.AgentGreeter: "Welcome the customer warmly, introduce the business in one sentence " +
		"and ask what they are looking for.",
	router.AgentQualifier: "Ask short questions to understand the customer's need, budget and timing. " +
		"One question per message.",
	router.AgentProductExpert: "Answer product questions precisely using the catalog notes. " +
		"Never invent prices, stock or features that are not in the notes.",
	router.AgentObjectionHandler: "Acknowledge the customer's concern, then address it with concrete value " +
		"or alternatives. Do not pressure.",
	router.AgentCloser: "The customer is ready to buy. Confirm the product and quantity, summarize the total " +
		"and explain the next step to pay.",
	router.AgentPayment: "The customer is in the middle of paying. Help with payment questions only " +
		"and remind them that confirmation arrives automatically once the payment clears.",
	router.AgentFollowUp: "Check in after the purchase, ask about their experience and offer help.",
}

func personaFor(a router.Agent) string {
	if p, ok := personas[a]; ok {
		return p
	}
	return personas[router.AgentGreeter]
}
