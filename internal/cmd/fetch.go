package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/feegate-io/feegate/internal/knowledge"
	"github.com/feegate-io/feegate/internal/router"
	"github.com/feegate-io/feegate/internal/scenario"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Fetch an approved source into the knowledge cache",
	Long: `Fetches one official fee-schedule URL, normalizes it, and stores the
resulting knowledge packet. The URL must sit on the approved domain list;
anything else is rejected before a single byte is fetched.

With no argument, every product in the catalog is fetched (cache warm-up).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	ctx, span := tracer.Start(ctx, "fetch")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scenarios, err := scenario.NewDefault()
	if err != nil {
		return fmt.Errorf("loading clarifier registry: %w", err)
	}
	rtr, err := router.NewDefault(scenarios)
	if err != nil {
		return fmt.Errorf("loading product catalog: %w", err)
	}

	var urls []string
	if len(args) == 1 {
		if err := rtr.CheckURL(args[0]); err != nil {
			return fmt.Errorf("rejecting URL: %w", err)
		}
		urls = []string{args[0]}
	} else {
		urls = rtr.ProductURLs()
	}

	cache, err := knowledge.NewSQLiteCache(cfg.CacheDBPath())
	if err != nil {
		return fmt.Errorf("opening knowledge cache: %w", err)
	}
	defer cache.Close()

	fetcher := knowledge.NewFetcher(cache, knowledge.WithTimeout(cfg.FetchTimeout))

	var failed int
	for _, url := range urls {
		result, err := fetcher.Fetch(ctx, url)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", url, err)
			continue
		}
		span.SetAttributes(attribute.String("fetch.last_state", string(result.State)))
		marker := "✓"
		if result.Degraded() {
			marker = "~"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n  state=%s attempts=%d changed=%t hash=%s\n",
			marker, url, result.State, result.Attempts, result.ContentChanged, result.Packet.ContentHash[:12])
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(urls))
	}
	return nil
}
