package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultThreshold is the rule confidence that short-circuits the classifier.
const DefaultThreshold = 0.8

const defaultClassifierTimeout = 20 * time.Second

var tracer = otel.Tracer("github.com/nextlevelbuilder/salesclaw/internal/router")

// Router combines the rule registry with the model classifier.
type Router struct {
	rules      *Registry
	classifier Classifier
	threshold  float64
	timeout    time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithThreshold sets the short-circuit confidence.
func WithThreshold(t float64) Option { return func(r *Router) { r.threshold = t } }

// WithClassifierTimeout bounds each classifier call.
func WithClassifierTimeout(d time.Duration) Option { return func(r *Router) { r.timeout = d } }

// New creates a router. classifier may be nil, in which case unmatched
// messages get the fallback result.
func New(rules *Registry, classifier Classifier, opts ...Option) *Router {
	r := &Router{
		rules:      rules,
		classifier: classifier,
		threshold:  DefaultThreshold,
		timeout:    defaultClassifierTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rules exposes the registry for runtime edits.
func (r *Router) Rules() *Registry { return r.rules }

// Route classifies rc. It never fails.
func (r *Router) Route(ctx context.Context, rc RoutingContext) RoutingResult {
	ctx, span := tracer.Start(ctx, "router.route")
	defer span.End()

	winner, hints := r.rules.Evaluate(rc, r.threshold)
	if winner != nil {
		span.SetAttributes(attribute.String("router.rule", winner.Rule))
		r.annotate(span, *winner)
		slog.Debug("router: rule matched", "agent_id", rc.AgentID, "rule", winner.Rule,
			"agent", winner.Agent, "state", winner.State, "confidence", winner.Confidence)
		return *winner
	}

	if r.classifier == nil {
		res := Fallback(rc.CurrentState)
		r.annotate(span, res)
		return res
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cctx, cspan := tracer.Start(cctx, "router.classify")
	res, err := r.classify(cctx, rc, hints)
	if err != nil {
		cspan.RecordError(err)
		cspan.SetStatus(codes.Error, err.Error())
	}
	cspan.End()

	if err != nil {
		slog.Warn("router: classifier failed, using fallback", "agent_id", rc.AgentID, "error", err)
		res = Fallback(rc.CurrentState)
	}
	r.annotate(span, res)
	return res
}

// classify converts a classifier panic into an error.
func (r *Router) classify(ctx context.Context, rc RoutingContext, hints []RoutingResult) (res RoutingResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("router: classifier panicked", "agent_id", rc.AgentID, "panic", p)
			err = fmt.Errorf("classifier panic: %v", p)
		}
	}()
	return r.classifier.Classify(ctx, rc, hints)
}

func (r *Router) annotate(span trace.Span, res RoutingResult) {
	span.SetAttributes(
		attribute.String("router.agent", string(res.Agent)),
		attribute.String("router.state", string(res.State)),
		attribute.Float64("router.confidence", res.Confidence),
	)
}
