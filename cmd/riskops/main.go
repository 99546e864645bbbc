// Command riskops is the dependency and CI/CD risk analysis server binary.
//
// Subcommands:
//
//	serve    — HTTP server: webhook receiver, analysis API, alert delivery
//	analyze  — one-shot analysis of a repository, result printed as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// Embeds the IANA timezone database in the binary so that
	// time.LoadLocation works inside distroless containers that have no
	// /usr/share/zoneinfo.
	_ "time/tzdata"

	// Automatically sets GOMEMLIMIT from the cgroup memory limit so that
	// the Go GC triggers before the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/spf13/cobra"

	"github.com/scarson/riskops/internal/api"
	"github.com/scarson/riskops/internal/config"
	"github.com/scarson/riskops/internal/explain"
	"github.com/scarson/riskops/internal/gh"
	"github.com/scarson/riskops/internal/notify"
	"github.com/scarson/riskops/internal/osv"
	"github.com/scarson/riskops/internal/pipeline"
	"github.com/scarson/riskops/internal/risk"
	"github.com/scarson/riskops/internal/store"
	"github.com/scarson/riskops/internal/webhook"
	"github.com/scarson/riskops/internal/workflows"
)

func main() {
	root := &cobra.Command{
		Use:   "riskops",
		Short: "RiskOps — dependency and CI/CD workflow risk analysis",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		analyzeCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook receiver and analysis API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(cfg.DataDir, store.Options{
		MaxEvents:           cfg.MaxEvents,
		MaxHistoryPerRepo:   cfg.MaxHistoryPerRepo,
		AnalysisReplayLimit: cfg.AnalysisReplayLimit,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	runner := buildRunner(cfg, st)

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("alert delivery: %w", err)
	}
	if dispatcher != nil {
		runner.OnCompletion(dispatcher.OnAnalysis)
		defer dispatcher.Wait()
	}

	explainer := explain.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)

	wh := webhook.NewHandler(cfg.WebhookSecret, st, runner.Dispatch)
	srvAPI := api.NewServer(st, cfg, runner, explainer, wh)

	// Explicit timeouts required to prevent Slowloris attacks. WriteTimeout
	// intentionally omitted; synchronous analysis runs can outlast any fixed
	// write budget and are already bounded by the request context.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srvAPI.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop() // release signal notification
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// ── analyze ───────────────────────────────────────────────────────────────────

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <repo-url>",
		Short: "Run one analysis and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.DataDir, store.Options{
		MaxEvents:           cfg.MaxEvents,
		MaxHistoryPerRepo:   cfg.MaxHistoryPerRepo,
		AnalysisReplayLimit: cfg.AnalysisReplayLimit,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	runner := buildRunner(cfg, st)

	res, err := runner.Run(cmd.Context(), args[0], "cli")
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// ── helpers ───────────────────────────────────────────────────────────────────

// buildRunner wires the scan, score, and workflow-audit components into a
// pipeline runner. Shared between serve and the one-shot analyze command.
func buildRunner(cfg *config.Config, st *store.Store) *pipeline.Runner {
	osvClient := osv.New(cfg.OSVTimeout)
	engine := risk.NewEngine(osvClient, risk.DefaultLists(), cfg.ScoreMaxConcurrent)
	ghClient := gh.New(cfg.GitHubAPIBase, cfg.GitHubToken, nil)
	analyzer := workflows.NewAnalyzer(ghClient)
	return pipeline.NewRunner(ghClient, engine, analyzer, st, cfg.DefaultBranch)
}

// buildDispatcher constructs alert delivery from config. Returns nil when no
// channel is configured.
func buildDispatcher(cfg *config.Config) (*notify.Dispatcher, error) {
	var webhookCfg *notify.WebhookConfig
	if cfg.AlertWebhookURL != "" {
		webhookCfg = &notify.WebhookConfig{
			URL:           cfg.AlertWebhookURL,
			SigningSecret: cfg.AlertWebhookSecret,
		}
	}

	var recipients []string
	for _, r := range strings.Split(cfg.AlertEmailTo, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}

	if webhookCfg == nil && len(recipients) == 0 {
		return nil, nil
	}

	var client *http.Client
	if webhookCfg != nil {
		var err error
		client, err = notify.BuildSafeClient()
		if err != nil {
			return nil, fmt.Errorf("build delivery client: %w", err)
		}
	}

	smtp := notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		TLS:      cfg.SMTPTLS,
	}

	return notify.NewDispatcher(client, webhookCfg, smtp, recipients), nil
}

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
