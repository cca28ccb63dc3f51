package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/feegate-io/feegate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage feegate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		renderConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// renderConfig writes resolved configuration to w with the signing key
// redacted (testable).
func renderConfig(w io.Writer, cfg *config.Config) {
	signingKey := "(set)"
	if cfg.UsingDefaultSigningKey() {
		signingKey = "(generated default — set FEEGATE_SIGNING_KEY for production)"
	}
	fmt.Fprintf(w, "data_dir:               %s\n", cfg.DataDir)
	fmt.Fprintf(w, "signing_key:            %s\n", signingKey)
	fmt.Fprintf(w, "fetch_timeout_seconds:  %d\n", int(cfg.FetchTimeout.Seconds()))
	fmt.Fprintf(w, "provider:               %s\n", cfg.Provider)
	fmt.Fprintf(w, "ollama_base_url:        %s\n", cfg.OllamaBaseURL)
	fmt.Fprintf(w, "prompt_version:         %s\n", cfg.PromptVersion)
}
