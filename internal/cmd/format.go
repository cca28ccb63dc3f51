package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/feegate-io/feegate/internal/agent"
	"github.com/feegate-io/feegate/internal/audit"
)

// renderOutcome writes a pipeline outcome to w (testable).
func renderOutcome(w io.Writer, outcome *agent.Outcome) {
	switch outcome.Kind {
	case agent.OutcomeRefusal:
		fmt.Fprintf(w, "✗ Refused [%s]\n\n%s\n", outcome.Refusal.ReasonCode, outcome.Refusal.RegulatoryMessage)
	case agent.OutcomeClarification:
		fmt.Fprintf(w, "? %s\n", outcome.Clarification.Question)
	case agent.OutcomeAnswer:
		a := outcome.Answer
		fmt.Fprintf(w, "%s\n\n", a.AnswerText)
		for _, b := range a.Bullets {
			fmt.Fprintf(w, "  • %s\n    [%s]\n", b.Text, b.CitationURL)
		}
		fmt.Fprintf(w, "\n%s\n", a.LastCheckedStr)
		if a.Degraded {
			fmt.Fprintln(w, "(served from cache: the official source was unreachable)")
		}
		fmt.Fprintf(w, "\n%s\n", a.DisclaimerText)
	}
}

// renderAnswerText flattens a validated answer into plain lines for action
// payloads (notes, email drafts).
func renderAnswerText(outcome *agent.Outcome) string {
	if outcome.Answer == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range outcome.Answer.Bullets {
		sb.WriteString("- " + b.Text + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderAnswerScenario names the fee category for action payloads.
func renderAnswerScenario(outcome *agent.Outcome) string {
	return outcome.Intent
}

// renderAuditList writes ledger entries to w (testable).
func renderAuditList(w io.Writer, entries []audit.Entry) {
	fmt.Fprintf(w, "Audit Entries (showing %d):\n\n", len(entries))
	for i := range entries {
		e := &entries[i]
		fmt.Fprintf(w, "  %s | %s | %s | %s | hash=%s\n",
			e.ID,
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Actor,
			e.ActionType,
			truncateHash(e.ContentHashSnapshot),
		)
	}
}

func truncateHash(h string) string {
	if len(h) > 12 {
		return h[:12] + "…"
	}
	if h == "" {
		return "-"
	}
	return h
}

// renderVerifyResult writes verify outcome to w (testable).
func renderVerifyResult(w io.Writer, entryID string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Entry %s: signature VALID (HMAC-SHA256 intact)\n", entryID)
	} else {
		fmt.Fprintf(w, "✗ Entry %s: signature INVALID (possible tampering)\n", entryID)
	}
}
