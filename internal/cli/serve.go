package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GilMM/caseflow/internal/api"
	"github.com/GilMM/caseflow/internal/config"
	"github.com/GilMM/caseflow/internal/ingest"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/mailbox"
	"github.com/GilMM/caseflow/internal/metrics"
	"github.com/GilMM/caseflow/internal/store"
	"github.com/GilMM/caseflow/internal/telegram"
	"github.com/GilMM/caseflow/internal/vault"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the Caseflow server",
	Long: `Start the HTTP server and the scheduled poll sweep loop.

The server exposes the ingest webhooks, dispatch endpoints, and admin
operations, and runs mailbox poll sweeps on the configured interval.

Example:
  caseflow serve --config config.yaml --db ./data/caseflow.db`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 30*time.Second, "Shutdown timeout")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Printf("Starting Caseflow server (config=%s db=%s)", globalFlags.Config, globalFlags.DBPath)
	}

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}

	app, err := buildApp(cfg, globalFlags.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server, cfg.API, api.Dependencies{
		Store:       app.store,
		Vault:       app.vault,
		Factory:     app.factory,
		Pipeline:    app.pipeline,
		Coordinator: app.coordinator,
		RelayAuth:   app.relayAuth,
		SheetAuth:   app.sheetAuth,
		Metrics:     app.metrics,
		Logger:      app.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scheduled sweeps run in-process alongside the HTTP surface.
	go app.coordinator.Start(ctx)

	// Config hot reload: a changed file is re-validated and swapped in;
	// a broken edit keeps the previous config.
	loader.SetOnChange(func(updated *config.Config) {
		app.logger.Info("configuration reloaded", "version", updated.Version)
	})
	go func() {
		if err := loader.Watch(ctx); err != nil {
			app.logger.Warn("config watcher stopped", "error", err.Error())
		}
	}()

	setupGracefulShutdown(server, cancel, serveFlags.Timeout)

	log.Printf("Starting Caseflow HTTP server on %s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	log.Printf("Database: %s (WAL mode enabled)", globalFlags.DBPath)

	if err := server.Run(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// setupGracefulShutdown stops the sweep loop and drains the server on
// SIGINT/SIGTERM. An interrupted sync pass is safe: its cursor is only
// written after a completed pass, so the next sweep resumes it.
func setupGracefulShutdown(server *api.Server, cancel context.CancelFunc, timeout time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)

		cancel()

		ctx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}

		log.Println("Graceful shutdown completed")
		os.Exit(0)
	}()
}

// app bundles the wired pipeline shared by serve and sweep.
type app struct {
	store       store.Store
	vault       *vault.Vault
	factory     mailbox.Factory
	pipeline    *ingest.Pipeline
	coordinator *ingest.Coordinator
	relayAuth   *ingest.RelayAuthenticator
	sheetAuth   *ingest.SheetAuthenticator
	metrics     *metrics.Metrics
	logger      *logging.Logger
}

func buildApp(cfg *config.Config, dbPath string) (*app, error) {
	logger := logging.NewLogger(logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)))
	m := metrics.NewMetrics("caseflow")

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	v, err := vault.NewVault(s, cfg.Vault, logger, m)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	factory := mailbox.Factory(mailbox.NewGmailProvider)
	creator := ingest.NewCaseCreator(s, ingest.NewContactResolver(s, logger), logger, m)
	engine := ingest.NewEngine(s, v, factory, creator, cfg.Ingest, logger, m)
	coordinator := ingest.NewCoordinator(s, engine, cfg.Ingest, logger)
	if cfg.Telegram.Enabled {
		coordinator.SetNotifier(telegram.NewNotifier(cfg.Telegram))
	}

	return &app{
		store:       s,
		vault:       v,
		factory:     factory,
		pipeline:    ingest.NewPipeline(s, creator, logger),
		coordinator: coordinator,
		relayAuth:   ingest.NewRelayAuthenticator(cfg.Ingest.RelaySigningKey, m),
		sheetAuth:   ingest.NewSheetAuthenticator(s, m),
		metrics:     m,
		logger:      logger,
	}, nil
}
