package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/feegate-io/feegate/internal/agent"
	"github.com/feegate-io/feegate/internal/audit"
	"github.com/feegate-io/feegate/internal/config"
)

var (
	askUser         string
	askForceRefresh bool
	askSaveNotes    bool
	askEmailSupport bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Ask a fee question against official fee schedules",
	Long: `Runs a single fee question through the full pipeline: compliance gate,
product routing, source fetch, generation, and the citation gate.

When the question needs clarification (e.g. SIP vs Lumpsum for exit load),
the clarifying question is printed and one line is read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "cli", "Opaque user identifier recorded in logs and audit entries")
	askCmd.Flags().BoolVar(&askForceRefresh, "force-refresh", false, "Bypass nothing: fetches are always live, but mark the request refresh-intent for logs")
	askCmd.Flags().BoolVar(&askSaveNotes, "save-notes", false, "After an answer, append it to the notes file (recorded in the audit ledger)")
	askCmd.Flags().BoolVar(&askEmailSupport, "email-support", false, "After an answer, draft a support email (recorded in the audit ledger)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	ctx, span := tracer.Start(ctx, "ask",
		trace.WithAttributes(attribute.String("user_id", askUser)))
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner, closer, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	outcome, err := runner.Run(ctx, &agent.Query{
		RawQuery:     args[0],
		UserID:       askUser,
		ForceRefresh: askForceRefresh,
	})
	if err != nil {
		return err
	}

	if outcome.Kind == agent.OutcomeClarification {
		outcome, err = resumeInteractively(ctx, cmd, runner, outcome)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	renderOutcome(out, outcome)

	if outcome.Kind == agent.OutcomeAnswer && (askSaveNotes || askEmailSupport) {
		return executeApprovedActions(ctx, cmd, cfg, outcome, args[0])
	}
	return nil
}

// resumeInteractively prints the clarifying question, reads one line from
// stdin, and resumes the pipeline with the answer.
func resumeInteractively(ctx context.Context, cmd *cobra.Command, runner *agent.Runner, outcome *agent.Outcome) (*agent.Outcome, error) {
	c := outcome.Clarification
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n> ", c.Question)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return nil, fmt.Errorf("clarification required but no answer provided: %s", c.Question)
	}
	answer := strings.TrimSpace(scanner.Text())
	if answer == "" {
		return nil, fmt.Errorf("clarification required but no answer provided: %s", c.Question)
	}

	return runner.Resume(ctx, &agent.ResumeRequest{
		UserID:            askUser,
		Intent:            c.Intent,
		TargetURL:         c.TargetURL,
		ProductName:       c.ProductName,
		ClarifierVersion:  c.ClarifierVersion,
		ClarifierResponse: answer,
		ForceRefresh:      askForceRefresh,
	})
}

// executeApprovedActions records and runs the actions the user approved via
// flags. The flag itself is the consent; the minted token binds that consent
// to the specific action tag in the ledger.
func executeApprovedActions(ctx context.Context, cmd *cobra.Command, cfg *config.Config, outcome *agent.Outcome, query string) error {
	ledger, verifier, err := openLedger(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer ledger.Close()

	var actions []string
	if askSaveNotes {
		actions = append(actions, audit.ActionSaveNotes)
	}
	if askEmailSupport {
		actions = append(actions, audit.ActionEmailSupport)
	}

	for _, action := range actions {
		result, err := ledger.RecordAndExecute(ctx, &audit.ActionRequest{
			Action: action,
			Payload: map[string]any{
				"query":    query,
				"scenario": renderAnswerScenario(outcome),
				"answer":   renderAnswerText(outcome),
			},
			ApprovalToken:         verifier.MintToken(action),
			IdempotencyKey:        uuid.NewString(),
			Actor:                 askUser,
			ContentHashSnapshot:   outcome.ContentHash,
			PromptVersionSnapshot: outcome.Answer.PromptVersion,
		})
		if err != nil {
			return fmt.Errorf("executing %s: %w", action, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n[%s] recorded in audit ledger (entry %s)\n", action, result.EntryID)
	}
	return nil
}
