package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_ForbiddenCategories(t *testing.T) {
	engine := MustNewEngine()

	tests := []struct {
		name     string
		query    string
		wantCode ReasonCode
	}{
		{
			name:     "comparison",
			query:    "Is HDFC Mid Cap better than Nippon?",
			wantCode: ReasonComparison,
		},
		{
			name:     "comparison uppercase",
			query:    "COMPARE hdfc with edelweiss",
			wantCode: ReasonComparison,
		},
		{
			name:     "advice",
			query:    "Should I buy this fund?",
			wantCode: ReasonAdvice,
		},
		{
			name:     "performance",
			query:    "What are the 5-year returns?",
			wantCode: ReasonPerformance,
		},
		{
			name:     "hypothetical",
			query:    "What if I had invested 1 lakh last year?",
			wantCode: ReasonHypothetical,
		},
		{
			name:     "out of scope",
			query:    "What is the fund size of HDFC Mid Cap?",
			wantCode: ReasonOutOfScope,
		},
		{
			name:     "pii",
			query:    "My PAN is ABCDE1234F, what is the exit load?",
			wantCode: ReasonPII,
		},
		{
			name:     "pii wins over category keywords",
			query:    "My aadhar says I should compare funds",
			wantCode: ReasonPII,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := engine.Evaluate(tt.query)
			require.NotNil(t, decision, "query should be refused")
			assert.Equal(t, tt.wantCode, decision.ReasonCode)
			assert.NotEmpty(t, decision.RegulatoryMessage)
			assert.Equal(t, engine.RuleVersion(), decision.RuleVersion)
		})
	}
}

func TestEvaluate_FixedMessagePerCategory(t *testing.T) {
	engine := MustNewEngine()

	// The same category must always carry the same fixed regulatory message,
	// regardless of which keyword or surrounding text triggered it.
	d1 := engine.Evaluate("is this better than that")
	d2 := engine.Evaluate("HOW DOES IT COMPARE???")
	require.NotNil(t, d1)
	require.NotNil(t, d2)
	assert.Equal(t, ReasonComparison, d1.ReasonCode)
	assert.Equal(t, d1.RegulatoryMessage, d2.RegulatoryMessage)
	assert.Contains(t, d1.RegulatoryMessage, "SEBI")
}

func TestEvaluate_CleanQueriesProceed(t *testing.T) {
	engine := MustNewEngine()

	clean := []string{
		"What is the exit load for HDFC Mid Cap Fund?",
		"Explain the expense ratio charges.",
		"How much stamp duty applies?",
	}
	for _, q := range clean {
		assert.Nil(t, engine.Evaluate(q), "query %q should proceed", q)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	engine := MustNewEngine()

	for i := 0; i < 10; i++ {
		d := engine.Evaluate("should i invest in this fund")
		require.NotNil(t, d)
		assert.Equal(t, ReasonAdvice, d.ReasonCode)
	}
}

func TestParseRuleTable_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown category code",
			yaml:    "version: \"1.0\"\ncategories:\n  - code: NONSENSE\n    keywords: [x]\n",
			wantErr: "unknown category code",
		},
		{
			name:    "missing version",
			yaml:    "categories: []\n",
			wantErr: "missing version",
		},
		{
			name:    "category without keywords",
			yaml:    "version: \"1.0\"\ncategories:\n  - code: ADVICE\n    keywords: []\n",
			wantErr: "no keywords",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleTable([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultRuleTable_EveryCodeHasOneMessage(t *testing.T) {
	table, err := DefaultRuleTable()
	require.NoError(t, err)

	for code := range knownReasons {
		assert.NotEmpty(t, table.Message(code), "code %s must have a message", code)
	}
	assert.Len(t, table.Messages, len(knownReasons))
}

func TestRefuse_RouterCodes(t *testing.T) {
	engine := MustNewEngine()

	err := engine.Refuse(ReasonUnknownSource)
	require.Error(t, err)
	assert.Equal(t, ReasonUnknownSource, err.Decision.ReasonCode)
	assert.Contains(t, err.Error(), "UNKNOWN_SOURCE")
}
