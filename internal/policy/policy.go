// Package policy implements the deterministic compliance gate.
//
// Every query passes through the refusal matrix before any routing, fetching,
// or generation happens. The matrix is pure data: versioned keyword tables
// embedded at build time, evaluated with case-insensitive substring matching
// in a fixed priority order. Identical input always yields an identical
// decision — there is no learned state and no runtime mutation.
package policy

import "fmt"

// ReasonCode identifies why a query was refused. The set is closed: a new
// code requires a rule-table update, never a runtime addition.
type ReasonCode string

const (
	ReasonComparison      ReasonCode = "COMPARISON"
	ReasonAdvice          ReasonCode = "ADVICE"
	ReasonPerformance     ReasonCode = "PERFORMANCE"
	ReasonHypothetical    ReasonCode = "HYPOTHETICAL"
	ReasonPII             ReasonCode = "PII"
	ReasonOutOfScope      ReasonCode = "OUT_OF_SCOPE"
	ReasonUndocumentedFee ReasonCode = "UNDOCUMENTED_FEE"
	ReasonUnknownSource   ReasonCode = "UNKNOWN_SOURCE"
)

// knownReasons is the closed reason-code set. Rule tables referencing any
// other code fail validation at load time.
var knownReasons = map[ReasonCode]bool{
	ReasonComparison:      true,
	ReasonAdvice:          true,
	ReasonPerformance:     true,
	ReasonHypothetical:    true,
	ReasonPII:             true,
	ReasonOutOfScope:      true,
	ReasonUndocumentedFee: true,
	ReasonUnknownSource:   true,
}

// Valid reports whether c is a registered reason code.
func (c ReasonCode) Valid() bool {
	return knownReasons[c]
}

// RefusalDecision is a deterministic policy outcome: a reason code paired
// with its fixed regulatory message, plus the rule-table version that
// produced it for audit provenance.
type RefusalDecision struct {
	ReasonCode        ReasonCode `json:"reason_code"`
	RegulatoryMessage string     `json:"regulatory_message"`
	RuleVersion       string     `json:"rule_version"`
}

// RefusalError wraps a RefusalDecision as an error for pipeline propagation.
// A refusal is an expected business outcome, not a system fault: callers
// unwrap it into a structured result and must never surface it as a crash.
type RefusalError struct {
	Decision RefusalDecision
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("refused (%s): %s", e.Decision.ReasonCode, e.Decision.RegulatoryMessage)
}
