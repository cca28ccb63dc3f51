package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/feegate-io/feegate/internal/audit"
)

var (
	auditActor  string
	auditAction string
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the action audit ledger",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit ledger entries",
	RunE:  auditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [entry-id]",
	Short: "Verify the HMAC signature of a ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

func init() {
	auditListCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor (user ID)")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action type")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum entries to show")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditLedger(emailOut io.Writer) (*audit.Ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	ledger, _, err := openLedger(cfg, emailOut)
	return ledger, err
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	ledger, err := openAuditLedger(os.Stdout)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.List(ctx, auditActor, auditAction, time.Time{}, time.Time{}, auditLimit)
	if err != nil {
		return fmt.Errorf("querying audit ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No audit entries found.")
		return nil
	}
	renderAuditList(cmd.OutOrStdout(), entries)
	return nil
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	entryID := args[0]

	ledger, err := openAuditLedger(os.Stdout)
	if err != nil {
		return err
	}
	defer ledger.Close()

	valid, err := ledger.VerifyEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("verifying entry: %w", err)
	}
	renderVerifyResult(cmd.OutOrStdout(), entryID, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", entryID)
	}
	return nil
}
