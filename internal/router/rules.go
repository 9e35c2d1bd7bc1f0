package router

import "fmt"

// Rule is a deterministic classifier. Evaluate returns nil to abstain.
// Implementations must be pure functions of the context.
type Rule interface {
	Name() string
	Evaluate(rc RoutingContext) *RoutingResult
}

// RuleFunc adapts a function to Rule.
type RuleFunc struct {
	RuleName string
	Fn       func(rc RoutingContext) *RoutingResult
}

func (r RuleFunc) Name() string                              { return r.RuleName }
func (r RuleFunc) Evaluate(rc RoutingContext) *RoutingResult { return r.Fn(rc) }

// Built-in rule names.
const (
	RulePaymentLock     = "payment_lock"
	RuleGreeting        = "greeting"
	RulePurchaseIntent  = "purchase_intent"
	RuleObjection       = "objection"
	RuleProductQuestion = "product_question"
)

var (
	greetingPhrases = newPhraseSet(
		"hola", "holi", "buenas", "buen dia", "buenos dias", "buenas tardes", "buenas noches",
		"que tal", "saludos", "hey", "hi", "hello", "good morning", "good afternoon",
	)
	purchasePhrases = newPhraseSet(
		"quiero comprar", "lo compro", "lo quiero", "me lo llevo", "me la llevo", "quiero pagar",
		"como pago", "donde pago", "hacer el pedido", "hacer un pedido", "quiero ordenar",
		"quiero pedir", "comprar", "i want to buy", "buy it", "purchase", "checkout",
	)
	objectionPhrases = newPhraseSet(
		"muy caro", "caro", "costoso", "carisimo", "no estoy seguro", "no estoy segura",
		"lo voy a pensar", "lo pensare", "dejame pensarlo", "mas barato", "descuento",
		"no me convence", "too expensive", "expensive", "not sure", "discount",
	)
	productPhrases = newPhraseSet(
		"precio", "precios", "cuanto cuesta", "cuanto vale", "cuanto sale", "catalogo",
		"productos", "modelos", "tallas", "colores", "disponible", "tienen", "venden",
		"price", "catalog", "products", "available", "how much",
	)
)

// BuiltinRules returns the default rule list in evaluation order.
func BuiltinRules() []Rule {
	return []Rule{
		RuleFunc{RulePaymentLock, paymentLock},
		RuleFunc{RuleGreeting, greeting},
		RuleFunc{RulePurchaseIntent, purchaseIntent},
		RuleFunc{RuleObjection, objection},
		RuleFunc{RuleProductQuestion, productQuestion},
	}
}

// paymentLock keeps a session in payment on the payment agent whatever the message says.
// Only an external confirmation event moves the session out of payment.
func paymentLock(rc RoutingContext) *RoutingResult {
	if rc.CurrentState != StatePayment {
		return nil
	}
	return &RoutingResult{Agent: AgentPayment, State: StatePayment, Confidence: 1.0, Reason: "session is awaiting payment"}
}

func greeting(rc RoutingContext) *RoutingResult {
	if rc.MessageCount > 2 {
		return nil
	}
	if p := greetingPhrases.match(normalize(rc.Message)); p != "" {
		return &RoutingResult{Agent: AgentGreeter, State: StateGreeting, Confidence: 0.95,
			Reason: fmt.Sprintf("greeting %q in opening turns", p)}
	}
	return nil
}

func purchaseIntent(rc RoutingContext) *RoutingResult {
	p := purchasePhrases.match(normalize(rc.Message))
	if p == "" {
		return nil
	}
	if stateIn(rc.CurrentState, StateProductDiscovery, StateObjectionHandling) {
		return &RoutingResult{Agent: AgentCloser, State: StateClosing, Confidence: 0.9,
			Reason: fmt.Sprintf("purchase intent %q during %s", p, rc.CurrentState)}
	}
	// Buying talk before the product is settled: hint only.
	return &RoutingResult{Agent: AgentCloser, State: StateClosing, Confidence: 0.6,
		Reason: fmt.Sprintf("purchase intent %q outside discovery", p)}
}

func objection(rc RoutingContext) *RoutingResult {
	if !stateIn(rc.CurrentState, StateProductDiscovery, StateClosing, StateObjectionHandling) {
		return nil
	}
	if p := objectionPhrases.match(normalize(rc.Message)); p != "" {
		return &RoutingResult{Agent: AgentObjectionHandler, State: StateObjectionHandling, Confidence: 0.85,
			Reason: fmt.Sprintf("objection %q", p)}
	}
	return nil
}

func productQuestion(rc RoutingContext) *RoutingResult {
	if p := productPhrases.match(normalize(rc.Message)); p != "" {
		return &RoutingResult{Agent: AgentProductExpert, State: StateProductDiscovery, Confidence: 0.7,
			Reason: fmt.Sprintf("product question %q", p)}
	}
	return nil
}
