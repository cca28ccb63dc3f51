package cmd

import (
	"fmt"
	"io"

	"github.com/feegate-io/feegate/internal/agent"
	"github.com/feegate-io/feegate/internal/audit"
	"github.com/feegate-io/feegate/internal/config"
	"github.com/feegate-io/feegate/internal/knowledge"
	"github.com/feegate-io/feegate/internal/llm"
	"github.com/feegate-io/feegate/internal/policy"
	"github.com/feegate-io/feegate/internal/router"
	"github.com/feegate-io/feegate/internal/scenario"
)

// loadConfig resolves config and prepares the data directory.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKey()
	return cfg, nil
}

// buildRunner assembles the full query pipeline from config. The returned
// closer releases the knowledge cache.
func buildRunner(cfg *config.Config) (*agent.Runner, io.Closer, error) {
	engine, err := policy.NewDefaultEngine()
	if err != nil {
		return nil, nil, fmt.Errorf("loading refusal rules: %w", err)
	}

	scenarios, err := scenario.NewDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("loading clarifier registry: %w", err)
	}

	rtr, err := router.NewDefault(scenarios)
	if err != nil {
		return nil, nil, fmt.Errorf("loading product catalog: %w", err)
	}

	cache, err := knowledge.NewSQLiteCache(cfg.CacheDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening knowledge cache: %w", err)
	}

	provider, err := llm.NewProvider(cfg.Provider, cfg.OllamaBaseURL)
	if err != nil {
		cache.Close()
		return nil, nil, fmt.Errorf("configuring generation provider: %w", err)
	}

	runner := agent.NewRunner(agent.RunnerConfig{
		Engine:        engine,
		Router:        rtr,
		Scenarios:     scenarios,
		Fetcher:       knowledge.NewFetcher(cache, knowledge.WithTimeout(cfg.FetchTimeout)),
		Provider:      provider,
		PromptVersion: cfg.PromptVersion,
	})
	return runner, cache, nil
}

// openLedger opens the audit ledger with the default executors. Email drafts
// are written to emailOut.
func openLedger(cfg *config.Config, emailOut io.Writer) (*audit.Ledger, *audit.HMACVerifier, error) {
	verifier, err := audit.NewHMACVerifier(cfg.SigningKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating approval verifier: %w", err)
	}
	ledger, err := audit.NewLedger(
		cfg.AuditDBPath(),
		cfg.SigningKey,
		verifier,
		audit.DefaultExecutors(cfg.NotesPath(), emailOut),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit ledger: %w", err)
	}
	return ledger, verifier, nil
}
