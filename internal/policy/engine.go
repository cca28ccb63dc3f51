package policy

import (
	"fmt"
	"strings"
)

// Engine evaluates queries against the refusal matrix.
// Stateless and safe for concurrent use: the table is never mutated.
type Engine struct {
	table *RuleTable
}

// NewEngine creates an engine backed by the given rule table.
func NewEngine(table *RuleTable) *Engine {
	return &Engine{table: table}
}

// NewDefaultEngine creates an engine backed by the embedded rule table.
func NewDefaultEngine() (*Engine, error) {
	table, err := DefaultRuleTable()
	if err != nil {
		return nil, fmt.Errorf("loading embedded rule table: %w", err)
	}
	return NewEngine(table), nil
}

// MustNewEngine is like NewDefaultEngine but panics on error. The embedded
// table is expected to always validate.
func MustNewEngine() *Engine {
	e, err := NewDefaultEngine()
	if err != nil {
		panic(fmt.Sprintf("policy.NewDefaultEngine: %v", err))
	}
	return e
}

// RuleVersion returns the version tag of the loaded rule table.
func (e *Engine) RuleVersion() string {
	return e.table.Version
}

// Evaluate checks a query against the refusal matrix and returns a decision,
// or nil when the query may proceed. Checks run in fixed priority order and
// short-circuit on the first match:
//
//  1. PII heuristic (sensitive-term substrings)
//  2. Forbidden categories, in table order
func (e *Engine) Evaluate(queryText string) *RefusalDecision {
	lower := strings.ToLower(queryText)

	for _, term := range e.table.PIITerms {
		if strings.Contains(lower, term) {
			d := e.table.Decision(ReasonPII)
			return &d
		}
	}

	for _, cat := range e.table.Categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				d := e.table.Decision(cat.Code)
				return &d
			}
		}
	}

	return nil
}

// Refuse builds a refusal for a code decided outside the keyword scan
// (router rejections: UNKNOWN_SOURCE, UNDOCUMENTED_FEE). The message still
// comes from the fixed table so refusal text stays uniform.
func (e *Engine) Refuse(code ReasonCode) *RefusalError {
	return &RefusalError{Decision: e.table.Decision(code)}
}
