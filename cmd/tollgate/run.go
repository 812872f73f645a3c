package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/proxy/handlers"
	"mercator-hq/tollgate/pkg/server"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
	"mercator-hq/tollgate/pkg/tokens"
	"mercator-hq/tollgate/pkg/upstream"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Tollgate broker",
	Long: `Start the Tollgate broker with the specified configuration.

The server listens on the configured address, authenticates callers, checks
their budgets, forwards metered calls upstream with a pooled credential and
records the usage.

Examples:
  # Start with default config
  tollgate run

  # Start with custom config
  tollgate run --config /etc/tollgate/tollgate.yaml

  # Override listen address
  tollgate run --listen 0.0.0.0:8080

  # Validate config without starting server
  tollgate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Initialize(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, "", err.Error())
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, "", err.Error())
	}

	logger, err := logging.New(logging.FromConfig(&cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError(cfgFile, "telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	printBanner(out, cfg)

	if err := serve(ctx, cfg, logger, out); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// serve builds every component leaf-first and blocks until the server
// stops.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Fprintf(out, "✓ Storage opened (%s, sessions: %s)\n", cfg.Storage.Backend, cfg.Sessions.Backend)

	dir, err := directory.NewFile(cfg.Directory.Path, cfg.Directory.Debounce, logger)
	if err != nil {
		return fmt.Errorf("failed to load directory: %w", err)
	}
	defer dir.Close()
	if config.Enabled(cfg.Directory.Watch, true) {
		if err := dir.Watch(ctx); err != nil {
			logger.Warn("directory hot reload disabled", "error", err)
		}
	}
	orgs, workspaces, users := dir.Counts()
	fmt.Fprintf(out, "✓ Directory loaded (%d organizations, %d workspaces, %d users)\n", orgs, workspaces, users)

	svc, err := newServices(cfg, store, collector, logger)
	if err != nil {
		return err
	}
	evaluator := svc.evaluator(cfg, dir, logger)

	sweeper := session.NewSweeper(svc.sessions, cfg.Sessions.SweepSchedule)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	up, err := upstream.NewClient(upstream.Config{
		BaseURL:             cfg.Upstream.BaseURL,
		ChatPath:            cfg.Upstream.ChatPath,
		CompletionsPath:     cfg.Upstream.CompletionsPath,
		Timeout:             cfg.Upstream.Timeout,
		AuthHeader:          cfg.Upstream.AuthHeader,
		Headers:             cfg.Upstream.Headers,
		MaxIdleConns:        cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Upstream.IdleConnTimeout,
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}
	defer up.Close()

	dispatcher, err := dispatch.New(dispatch.Config{
		Ledger:         svc.ledger,
		Budget:         evaluator,
		Directory:      dir,
		Credentials:    svc.pool,
		Upstream:       up,
		Estimator:      tokens.NewEstimator(cfg.Tokens.Models),
		FallbackAPIKey: cfg.Upstream.APIKey,
		Observer:       collector,
		Tracer:         tracer,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway,
	})
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	for name, p := range store.pingers {
		checker.RegisterCheck(name, health.PingCheck(p))
	}
	checker.RegisterNonCritical("upstream", health.UpstreamCheck(func() upstream.Health {
		h := up.Health()
		collector.UpdateUpstreamHealth(h)
		return h
	}))

	metricsHandler := collector.Handler()
	if !collector.Enabled() {
		metricsHandler = nil
	}

	router := server.NewRouter(server.RouterConfig{
		Server:      &cfg.Server,
		Health:      &cfg.Telemetry.Health,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Handlers: server.Handlers{
			Proxy:   handlers.NewProxyHandler(dispatcher, logger),
			Usage:   handlers.NewUsageHandler(dispatcher, svc.ledger, evaluator, dir, logger),
			Pool:    handlers.NewPoolHandler(svc.pool, dir, logger),
			Session: handlers.NewSessionHandler(svc.sessions, dir, verifier, logger),
		},
		Authenticate: auth.Middleware(verifier, svc.sessions, logger),
		Checker:      checker,
		Metrics:      metricsHandler,
		Version:      health.VersionHandler(Version, GitCommit, BuildDate),
		Recorder:     collector,
		Logger:       logger,
	})

	srv := server.NewServer(&cfg.Server, router, logger)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Health.LivenessPath)
	if metricsHandler != nil {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

func printBanner(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Tollgate v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("upstream configured", "base_url", cfg.Upstream.BaseURL, "fallback_key", cfg.Upstream.APIKey != "")
	if cfg.Telemetry.Tracing.Enabled {
		slog.Debug("tracing enabled", "endpoint", cfg.Telemetry.Tracing.Endpoint)
	}
}
