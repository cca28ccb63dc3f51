package agent

import (
	"github.com/feegate-io/feegate/internal/policy"
	"github.com/feegate-io/feegate/internal/validator"
)

// OutcomeKind labels the three terminal shapes a query can resolve to.
// Every pipeline run ends in exactly one of them; there is no fourth shape
// where unvalidated text reaches a caller.
type OutcomeKind string

const (
	OutcomeRefusal       OutcomeKind = "refusal"
	OutcomeClarification OutcomeKind = "clarification"
	OutcomeAnswer        OutcomeKind = "answer"
)

// ClarificationPrompt asks the user to resolve an ambiguity before the
// pipeline proceeds. The version tag must be echoed back with the answer.
type ClarificationPrompt struct {
	Intent           string `json:"intent"`
	Question         string `json:"question"`
	ClarifierVersion string `json:"clarifier_version"`
	TargetURL        string `json:"target_url"`
	ProductName      string `json:"target_product_name"`
}

// Outcome is the structured result of a pipeline run. Exactly one of
// Refusal, Clarification, or Answer is set, matching Kind.
type Outcome struct {
	Kind          OutcomeKind                  `json:"kind"`
	CorrelationID string                       `json:"correlation_id"`
	Intent        string                       `json:"intent,omitempty"`
	Refusal       *policy.RefusalDecision      `json:"refusal,omitempty"`
	Clarification *ClarificationPrompt         `json:"clarification,omitempty"`
	Answer        *validator.ValidatedResponse `json:"answer,omitempty"`
	// ContentHash is the hash of the knowledge packet an answer was grounded
	// in. Empty for refusals and clarifications.
	ContentHash string `json:"content_hash,omitempty"`
}
