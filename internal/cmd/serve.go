package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/feegate-io/feegate/internal/server"
)

var (
	servePort      int
	serveGlobalRPM int
	serveCallerRPM int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feegate HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().IntVar(&serveGlobalRPM, "global-rpm", 600, "Global requests/minute budget (0 disables limiting)")
	serveCmd.Flags().IntVar(&serveCallerRPM, "caller-rpm", 60, "Per-caller requests/minute budget")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner, closer, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ledger, _, err := openLedger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var opts []server.Option
	if serveGlobalRPM > 0 {
		opts = append(opts, server.WithRateLimiter(server.NewRateLimiter(serveGlobalRPM, serveCallerRPM)))
	}
	srv := server.NewServer(runner, ledger, opts...)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("provider", cfg.Provider).
		Str("data_dir", cfg.DataDir).
		Msg("feegate_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
