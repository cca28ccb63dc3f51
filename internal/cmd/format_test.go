package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/feegate-io/feegate/internal/agent"
	"github.com/feegate-io/feegate/internal/audit"
	"github.com/feegate-io/feegate/internal/policy"
	"github.com/feegate-io/feegate/internal/validator"
)

func TestRenderOutcome_Refusal(t *testing.T) {
	buf := new(bytes.Buffer)
	renderOutcome(buf, &agent.Outcome{
		Kind: agent.OutcomeRefusal,
		Refusal: &policy.RefusalDecision{
			ReasonCode:        policy.ReasonComparison,
			RegulatoryMessage: "No comparisons.",
		},
	})
	out := buf.String()
	assert.Contains(t, out, "COMPARISON")
	assert.Contains(t, out, "No comparisons.")
}

func TestRenderOutcome_Clarification(t *testing.T) {
	buf := new(bytes.Buffer)
	renderOutcome(buf, &agent.Outcome{
		Kind: agent.OutcomeClarification,
		Clarification: &agent.ClarificationPrompt{
			Question: "Is this for SIP or Lumpsum?",
		},
	})
	assert.Contains(t, buf.String(), "Is this for SIP or Lumpsum?")
}

func TestRenderOutcome_Answer(t *testing.T) {
	buf := new(bytes.Buffer)
	renderOutcome(buf, &agent.Outcome{
		Kind:   agent.OutcomeAnswer,
		Intent: "EXIT_LOAD",
		Answer: &validator.ValidatedResponse{
			AnswerText: "Here are the fees explained:",
			Bullets: []validator.Bullet{
				{Text: "Exit load is 1% within 1 year.", CitationURL: "https://groww.in/x"},
			},
			LastCheckedStr: "Last checked: 2026-08-29",
			DisclaimerText: validator.DisclaimerText,
			Degraded:       true,
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Exit load is 1% within 1 year.")
	assert.Contains(t, out, "https://groww.in/x")
	assert.Contains(t, out, "Last checked: 2026-08-29")
	assert.Contains(t, out, "served from cache")
	assert.Contains(t, out, validator.DisclaimerText)
}

func TestRenderAnswerText(t *testing.T) {
	outcome := &agent.Outcome{
		Kind: agent.OutcomeAnswer,
		Answer: &validator.ValidatedResponse{
			Bullets: []validator.Bullet{
				{Text: "First."},
				{Text: "Second."},
			},
		},
	}
	assert.Equal(t, "- First.\n- Second.", renderAnswerText(outcome))
	assert.Equal(t, "", renderAnswerText(&agent.Outcome{}))
}

func TestRenderAuditList(t *testing.T) {
	buf := new(bytes.Buffer)
	renderAuditList(buf, []audit.Entry{
		{
			ID:                  "entry-1",
			Timestamp:           time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
			Actor:               "user-1",
			ActionType:          audit.ActionSaveNotes,
			ContentHashSnapshot: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
	})
	out := buf.String()
	assert.Contains(t, out, "entry-1")
	assert.Contains(t, out, "user-1")
	assert.Contains(t, out, audit.ActionSaveNotes)
	assert.Contains(t, out, "aaaaaaaaaaaa…")
}

func TestRenderVerifyResult(t *testing.T) {
	buf := new(bytes.Buffer)
	renderVerifyResult(buf, "entry-1", true)
	assert.Contains(t, buf.String(), "VALID")

	buf.Reset()
	renderVerifyResult(buf, "entry-1", false)
	assert.Contains(t, buf.String(), "INVALID")
}
