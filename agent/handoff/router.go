package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/agent/runtime"
	"github.com/BaSui01/agentrelay/registry"
	"github.com/BaSui01/agentrelay/types"
)

// DefaultConversationID is used when a turn names no conversation.
const DefaultConversationID = "default"

// ForwardPolicy decides what a failed forward does to the turn.
type ForwardPolicy string

const (
	// ForwardPropagate fails the whole turn with an upstream error.
	ForwardPropagate ForwardPolicy = "propagate"
	// ForwardDegrade returns the first agent's reply with a soft error.
	ForwardDegrade ForwardPolicy = "degrade"
)

// Turn outcomes reported to the Observer.
const (
	OutcomeDirect          = "direct"
	OutcomeTransferred     = "transferred"
	OutcomeUnknownTarget   = "unknown_target"
	OutcomeTrackerDegraded = "tracker_degraded"
	OutcomeForwardDegraded = "forward_degraded"
	OutcomeNotFound        = "not_found"
	OutcomeUpstreamError   = "upstream_error"
	OutcomeInvalid         = "invalid"
)

// Resolver looks up agents by name.
type Resolver interface {
	Get(ctx context.Context, name string) (*types.AgentRecord, error)
}

// Runtime is the part of the runtime client the router uses.
type Runtime interface {
	Respond(ctx context.Context, port int, conversationID, text string) (json.RawMessage, error)
	Tracker(ctx context.Context, port int, conversationID string) (*runtime.Tracker, error)
}

// Observer receives turn outcomes, e.g. a metrics collector.
type Observer interface {
	ObserveTurn(outcome string, duration time.Duration)
}

// TurnResult is the outcome of one conversational turn.
type TurnResult struct {
	Transferred       bool            `json:"transferred"`
	From              string          `json:"from,omitempty"`
	To                string          `json:"to,omitempty"`
	OriginalResponse  json.RawMessage `json:"originalResponse,omitempty"`
	ForwardedResponse json.RawMessage `json:"forwardedResponse,omitempty"`
	Response          json.RawMessage `json:"response,omitempty"`
	Tracker           json.RawMessage `json:"tracker,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Router routes turns and completes handoffs. It holds no per-turn state.
type Router struct {
	resolver Resolver
	runtime  Runtime
	policy   ForwardPolicy
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewRouter creates a router. An unknown policy falls back to propagate.
func NewRouter(resolver Resolver, rt Runtime, policy ForwardPolicy, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy != ForwardDegrade {
		policy = ForwardPropagate
	}
	return &Router{
		resolver: resolver,
		runtime:  rt,
		policy:   policy,
		tracer:   otel.Tracer("github.com/BaSui01/agentrelay/agent/handoff"),
		logger:   logger.With(zap.String("component", "handoff_router")),
	}
}

// WithObserver attaches an observer.
func (r *Router) WithObserver(o Observer) *Router {
	r.observer = o
	return r
}

// Route runs one turn against agentName.
func (r *Router) Route(ctx context.Context, agentName, conversationID, text string) (result *TurnResult, err error) {
	if conversationID == "" {
		conversationID = DefaultConversationID
	}

	ctx, span := r.tracer.Start(ctx, "handoff.turn", trace.WithAttributes(
		attribute.String("agent.name", agentName),
		attribute.String("conversation.id", conversationID),
	))
	start := time.Now()
	outcome := OutcomeDirect
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("turn.outcome", outcome))
		span.End()
		if r.observer != nil {
			r.observer.ObserveTurn(outcome, time.Since(start))
		}
	}()

	rec, err := r.resolve(ctx, agentName)
	if err != nil {
		outcome = outcomeFor(err)
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		outcome = OutcomeInvalid
		return nil, types.NewError(types.ErrInvalidRequest, "text must not be empty").
			WithAgent(agentName).
			WithHTTPStatus(http.StatusBadRequest)
	}

	response, err := r.respond(ctx, "handoff.respond", rec, conversationID, text)
	if err != nil {
		outcome = OutcomeUpstreamError
		return nil, err
	}

	tracker, err := r.tracker(ctx, rec, conversationID)
	if err != nil {
		outcome = OutcomeTrackerDegraded
		r.logger.Warn("tracker unavailable, returning reply without handoff",
			zap.String("agent", agentName),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return &TurnResult{Response: response}, nil
	}

	target, ok := tracker.TransferTarget()
	if !ok {
		return &TurnResult{Response: response, Tracker: tracker.Raw}, nil
	}
	span.SetAttributes(attribute.String("handoff.target", target))

	targetRec, err := r.resolve(ctx, target)
	if err != nil {
		if !types.IsCode(err, types.ErrNotFound) {
			outcome = outcomeFor(err)
			return nil, err
		}
		outcome = OutcomeUnknownTarget
		r.logger.Info("transfer target not registered",
			zap.String("agent", agentName),
			zap.String("target", target),
		)
		return &TurnResult{
			Response: response,
			Tracker:  tracker.Raw,
			Error:    fmt.Sprintf("transfer target %s not found", target),
		}, nil
	}

	forwarded, err := r.respond(ctx, "handoff.forward", targetRec, conversationID, text)
	if err != nil {
		if r.policy == ForwardDegrade {
			outcome = OutcomeForwardDegraded
			r.logger.Warn("forward failed, returning original reply",
				zap.String("agent", agentName),
				zap.String("target", target),
				zap.Error(err),
			)
			return &TurnResult{
				Response: response,
				Tracker:  tracker.Raw,
				Error:    fmt.Sprintf("forward to %s failed: %v", target, err),
			}, nil
		}
		outcome = OutcomeUpstreamError
		return nil, err
	}

	outcome = OutcomeTransferred
	r.logger.Info("conversation handed off",
		zap.String("from", agentName),
		zap.String("to", target),
		zap.String("conversation_id", conversationID),
	)
	return &TurnResult{
		Transferred:       true,
		From:              agentName,
		To:                target,
		OriginalResponse:  response,
		ForwardedResponse: forwarded,
		Tracker:           tracker.Raw,
	}, nil
}

func (r *Router) resolve(ctx context.Context, name string) (*types.AgentRecord, error) {
	rec, err := r.resolver.Get(ctx, name)
	if err != nil {
		return nil, registry.ToError(name, err)
	}
	return rec, nil
}

func (r *Router) respond(ctx context.Context, spanName string, rec *types.AgentRecord, conversationID, text string) (json.RawMessage, error) {
	ctx, span := r.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("agent.name", rec.Name),
		attribute.Int("agent.port", rec.DialoguePort),
	))
	defer span.End()

	reply, err := r.runtime.Respond(ctx, rec.DialoguePort, conversationID, text)
	if err != nil {
		err = upstreamFailure(rec.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return reply, nil
}

func (r *Router) tracker(ctx context.Context, rec *types.AgentRecord, conversationID string) (*runtime.Tracker, error) {
	ctx, span := r.tracer.Start(ctx, "handoff.tracker", trace.WithAttributes(
		attribute.String("agent.name", rec.Name),
	))
	defer span.End()

	tr, err := r.runtime.Tracker(ctx, rec.DialoguePort, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return tr, nil
}

// upstreamFailure tags a runtime error with the agent it came from and keeps
// the timeout/error distinction of the client.
func upstreamFailure(agent string, err error) error {
	if typed, ok := types.AsError(err); ok &&
		(typed.Code == types.ErrUpstreamError || typed.Code == types.ErrUpstreamTimeout) {
		cp := *typed
		cp.Agent = agent
		cp.Message = fmt.Sprintf("agent %q: %s", agent, typed.Message)
		if cp.HTTPStatus == 0 {
			cp.HTTPStatus = http.StatusBadGateway
		}
		return &cp
	}
	return types.NewUpstreamError(agent, err).WithHTTPStatus(http.StatusBadGateway)
}

func outcomeFor(err error) string {
	if types.IsCode(err, types.ErrNotFound) {
		return OutcomeNotFound
	}
	return OutcomeUpstreamError
}
