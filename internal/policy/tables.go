package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/feegate-io/feegate/rules"
)

// RuleTable is the parsed refusal matrix. Immutable after load; a version
// bump requires a new table, not an in-place edit.
type RuleTable struct {
	Version    string                `yaml:"version"`
	PIITerms   []string              `yaml:"pii_terms"`
	Categories []CategoryRule        `yaml:"categories"`
	Messages   map[ReasonCode]string `yaml:"messages"`
}

// CategoryRule is one forbidden category with its keyword set. Categories are
// evaluated in declaration order.
type CategoryRule struct {
	Code     ReasonCode `yaml:"code"`
	Keywords []string   `yaml:"keywords"`
}

// ParseRuleTable parses and validates refusal-matrix YAML.
func ParseRuleTable(data []byte) (*RuleTable, error) {
	var rt RuleTable
	if err := yaml.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("parsing rule table YAML: %w", err)
	}
	if err := rt.validate(); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	return &rt, nil
}

// DefaultRuleTable returns the embedded refusal matrix.
func DefaultRuleTable() (*RuleTable, error) {
	return ParseRuleTable(rules.RefusalYAML())
}

// validate enforces the closed-set invariants: every category code is
// registered, every registered code has exactly one message, and no message
// references an unknown code.
func (rt *RuleTable) validate() error {
	if rt.Version == "" {
		return fmt.Errorf("missing version")
	}
	seen := make(map[ReasonCode]bool, len(rt.Categories))
	for _, cat := range rt.Categories {
		if !cat.Code.Valid() {
			return fmt.Errorf("unknown category code %q", cat.Code)
		}
		if seen[cat.Code] {
			return fmt.Errorf("duplicate category %q", cat.Code)
		}
		seen[cat.Code] = true
		if len(cat.Keywords) == 0 {
			return fmt.Errorf("category %q has no keywords", cat.Code)
		}
	}
	for code := range rt.Messages {
		if !code.Valid() {
			return fmt.Errorf("message for unknown code %q", code)
		}
	}
	for code := range knownReasons {
		if rt.Messages[code] == "" {
			return fmt.Errorf("code %q has no regulatory message", code)
		}
	}
	return nil
}

// Message returns the fixed regulatory message for a reason code.
func (rt *RuleTable) Message(code ReasonCode) string {
	return rt.Messages[code]
}

// Decision builds a RefusalDecision for code, stamped with the table version.
func (rt *RuleTable) Decision(code ReasonCode) RefusalDecision {
	return RefusalDecision{
		ReasonCode:        code,
		RegulatoryMessage: rt.Messages[code],
		RuleVersion:       rt.Version,
	}
}
