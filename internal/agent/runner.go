// Package agent implements the query orchestration pipeline.
//
// The pipeline executes in a fixed sequence: validate shape → compliance
// gate → route to product and intent → clarify if needed → fetch the
// official source → generate candidate bullets → citation gate. Only the
// three terminal outcomes (refusal, clarification, validated answer) ever
// leave this package; raw generation output does not.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/feegate-io/feegate/internal/knowledge"
	"github.com/feegate-io/feegate/internal/llm"
	feegateotel "github.com/feegate-io/feegate/internal/otel"
	"github.com/feegate-io/feegate/internal/policy"
	"github.com/feegate-io/feegate/internal/requestctx"
	"github.com/feegate-io/feegate/internal/router"
	"github.com/feegate-io/feegate/internal/scenario"
	"github.com/feegate-io/feegate/internal/validator"
)

var tracer = feegateotel.Tracer("github.com/feegate-io/feegate/internal/agent")

// Runner executes the full query pipeline.
type Runner struct {
	engine        *policy.Engine
	router        *router.Router
	scenarios     *scenario.Registry
	fetcher       *knowledge.Fetcher
	provider      llm.Provider
	promptVersion string
}

// RunnerConfig holds the dependencies for constructing a Runner.
type RunnerConfig struct {
	Engine        *policy.Engine
	Router        *router.Router
	Scenarios     *scenario.Registry
	Fetcher       *knowledge.Fetcher
	Provider      llm.Provider
	PromptVersion string
}

// NewRunner creates a pipeline runner with the given dependencies.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		engine:        cfg.Engine,
		router:        cfg.Router,
		scenarios:     cfg.Scenarios,
		fetcher:       cfg.Fetcher,
		provider:      cfg.Provider,
		promptVersion: cfg.PromptVersion,
	}
}

// Run executes the pipeline for a fresh query:
//
//  1. Validate query shape
//  2. Compliance gate (deterministic refusal matrix)
//  3. Route to approved product + fee intent
//  4. Return a clarification prompt when the intent has open clarifiers
//  5. Fetch the official source (cache fallback on failure)
//  6. Generate candidate bullets
//  7. Citation gate
//
// A refusal is a successful run with Kind == OutcomeRefusal; the error return
// is reserved for system faults (fetch exhaustion without cache, generation
// failure, a citation-gate trip).
func (r *Runner) Run(ctx context.Context, q *Query) (*Outcome, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, correlationID := r.begin(ctx, q.UserID)
	ctx, span := tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.Bool("force_refresh", q.ForceRefresh),
		))
	defer span.End()

	start := time.Now()
	log.Info().
		Str("correlation_id", correlationID).
		Str("user_id", q.UserID).
		Func(feegateotel.LogTraceFields(ctx)).
		Msg("query_received")

	if decision := r.engine.Evaluate(q.RawQuery); decision != nil {
		span.SetAttributes(attribute.String("refusal.reason_code", string(decision.ReasonCode)))
		log.Info().
			Str("correlation_id", correlationID).
			Str("reason_code", string(decision.ReasonCode)).
			Str("rule_version", decision.RuleVersion).
			Msg("query_refused")
		return &Outcome{Kind: OutcomeRefusal, CorrelationID: correlationID, Refusal: decision}, nil
	}

	routed, err := r.router.Route(q.RawQuery, q.ForceRefresh)
	if err != nil {
		decision := r.routingRefusal(err)
		if decision == nil {
			span.RecordError(err)
			return nil, fmt.Errorf("routing query: %w", err)
		}
		span.SetAttributes(attribute.String("refusal.reason_code", string(decision.ReasonCode)))
		log.Info().
			Str("correlation_id", correlationID).
			Str("reason_code", string(decision.ReasonCode)).
			Msg("query_refused")
		return &Outcome{Kind: OutcomeRefusal, CorrelationID: correlationID, Refusal: decision}, nil
	}

	if routed.ClarificationNeeded {
		span.SetAttributes(attribute.String("clarification.intent", routed.Intent))
		return &Outcome{
			Kind:          OutcomeClarification,
			CorrelationID: correlationID,
			Intent:        routed.Intent,
			Clarification: &ClarificationPrompt{
				Intent:           routed.Intent,
				Question:         routed.ClarificationQuestion,
				ClarifierVersion: routed.ClarifierVersion,
				TargetURL:        routed.TargetURL,
				ProductName:      routed.TargetProductName,
			},
		}, nil
	}

	outcome, err := r.answer(ctx, routed, correlationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.Info().
		Str("correlation_id", correlationID).
		Dur("duration", time.Since(start)).
		Str("intent", routed.Intent).
		Msg("query_answered")
	return outcome, nil
}

// ResumeRequest carries a clarification answer back into the pipeline.
type ResumeRequest struct {
	UserID            string `json:"user_id"`
	Intent            string `json:"intent"`
	TargetURL         string `json:"target_url"`
	ProductName       string `json:"target_product_name"`
	ClarifierVersion  string `json:"clarifier_version"`
	ClarifierResponse string `json:"clarifier_response"`
	ForceRefresh      bool   `json:"force_refresh"`
}

// Resume continues a clarified query. The answer's clarifier version must
// match the registry in force; a stale version yields ErrStaleVersion and the
// caller must re-clarify rather than have the answer silently reinterpreted.
func (r *Runner) Resume(ctx context.Context, req *ResumeRequest) (*Outcome, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if err := r.scenarios.CheckVersion(req.ClarifierVersion); err != nil {
		return nil, err
	}
	if !r.scenarios.Registered(req.Intent) {
		return nil, &ValidationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q", req.Intent)}
	}

	ctx, correlationID := r.begin(ctx, req.UserID)
	ctx, span := tracer.Start(ctx, "agent.resume",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.String("clarification.intent", req.Intent),
		))
	defer span.End()

	// The target pair is caller-supplied on resume; it must be re-checked
	// against the catalog or the allow-list means nothing here.
	if err := r.router.CheckProduct(req.ProductName, req.TargetURL); err != nil {
		decision := &r.engine.Refuse(policy.ReasonUnknownSource).Decision
		span.SetAttributes(attribute.String("refusal.reason_code", string(decision.ReasonCode)))
		log.Warn().
			Str("correlation_id", correlationID).
			Str("target_url", req.TargetURL).
			Err(err).
			Msg("resume_target_rejected")
		return &Outcome{Kind: OutcomeRefusal, CorrelationID: correlationID, Refusal: decision}, nil
	}

	routed := &router.RoutedRequest{
		OriginalQuery:     req.ClarifierResponse,
		TargetProductName: req.ProductName,
		TargetURL:         req.TargetURL,
		Intent:            req.Intent,
		ForceRefresh:      req.ForceRefresh,
	}

	outcome, err := r.answer(ctx, routed, correlationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return outcome, nil
}

// answer runs the fetch → generate → validate tail of the pipeline.
func (r *Runner) answer(ctx context.Context, routed *router.RoutedRequest, correlationID string) (*Outcome, error) {
	result, err := r.fetcher.Fetch(ctx, routed.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", routed.TargetURL, err)
	}

	if result.ContentChanged {
		log.Info().
			Str("correlation_id", correlationID).
			Str("user_id", requestctx.UserID(ctx)).
			Str("url", routed.TargetURL).
			Str("content_hash", result.Packet.ContentHash).
			Msg("source_content_changed")
	}

	bullets, err := r.provider.GenerateBullets(ctx, result.Packet, routed.Intent)
	if err != nil {
		return nil, fmt.Errorf("generating explanation: %w", err)
	}

	resp, err := validator.Validate(bullets, result.Packet, r.promptVersion)
	if err != nil {
		var citErr *validator.CitationError
		if errors.As(err, &citErr) {
			log.Error().
				Str("correlation_id", correlationID).
				Str("bullet", citErr.Bullet).
				Msg("citation_gate_tripped")
		}
		return nil, fmt.Errorf("validating explanation: %w", err)
	}
	resp.Degraded = result.Degraded()

	return &Outcome{
		Kind:          OutcomeAnswer,
		CorrelationID: correlationID,
		Intent:        routed.Intent,
		Answer:        resp,
		ContentHash:   result.Packet.ContentHash,
	}, nil
}

// routingRefusal maps routing failures onto their fixed-message refusals.
// Unknown errors return nil, meaning the failure is a system fault.
func (r *Runner) routingRefusal(err error) *policy.RefusalDecision {
	switch {
	case errors.Is(err, router.ErrUnknownProduct):
		return &r.engine.Refuse(policy.ReasonUnknownSource).Decision
	case errors.Is(err, router.ErrUnknownIntent):
		return &r.engine.Refuse(policy.ReasonUndocumentedFee).Decision
	default:
		return nil
	}
}

// begin stamps the context with the correlation ID and user ID, reusing a
// correlation ID already set by upstream middleware.
func (r *Runner) begin(ctx context.Context, userID string) (context.Context, string) {
	correlationID := requestctx.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = "corr_" + uuid.New().String()[:12]
		ctx = requestctx.SetCorrelationID(ctx, correlationID)
	}
	ctx = requestctx.SetUserID(ctx, userID)
	return ctx, correlationID
}
