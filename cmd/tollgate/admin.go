package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/storage"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// outputFormat is shared by the pool, usage and session commands.
var outputFormat string

func addOutputFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", string(cli.FormatText), "output format (text, json)")
}

// loadConfig reads cfgFile with environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, "", err.Error())
	}
	return cfg, nil
}

// adminEnv is what an administrative command operates on: the stores of a
// running deployment, opened directly rather than through the HTTP API.
type adminEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *backend
	svc    *services
}

func openAdmin(ctx context.Context, cmd *cobra.Command) (*adminEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == storage.BackendMemory {
		return nil, cli.NewConfigError(cfgFile, "storage.backend",
			"administrative commands need a persistent backend (sqlite or postgres)")
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:         level,
		Format:        string(logging.FormatText),
		RedactSecrets: true,
		Writer:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc, err := newServices(cfg, store, nil, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &adminEnv{cfg: cfg, logger: logger, store: store, svc: svc}, nil
}

func (a *adminEnv) Close() error {
	return a.store.Close()
}

// directory loads the directory file once, without watching it.
func (a *adminEnv) directory() (*directory.File, error) {
	dir, err := directory.NewFile(a.cfg.Directory.Path, 0, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}
	return dir, nil
}

// withAdmin adapts fn into a cobra RunE that opens and closes the stores.
func withAdmin(name string, fn func(cmd *cobra.Command, args []string, env *adminEnv) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := openAdmin(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := fn(cmd, args, env); err != nil {
			return cli.NewCommandError(name, err)
		}
		return nil
	}
}

func printResult(cmd *cobra.Command, v any) error {
	f, err := cli.NewFormatter(cli.OutputFormat(outputFormat))
	if err != nil {
		return err
	}
	return f.FormatTo(cmd.OutOrStdout(), v)
}

// parseTimeFlag parses an RFC3339 flag value; empty yields the zero time.
func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be RFC3339, e.g. 2026-03-01T00:00:00Z: %w", name, err)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
