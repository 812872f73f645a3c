package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/config"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

const testDirectory = `organizations:
  - id: acme
    name: Acme
    status: active
    monthly_token_budget: 1000
  - id: globex
    name: Globex
    status: active
workspaces:
  - id: research
    organization_id: acme
    monthly_token_budget: 500
    daily_token_budget: 100
users:
  - id: alice
    organization_id: acme
    role: member
    api_access_enabled: true
  - id: dave
    organization_id: acme
    role: member
    api_access_enabled: true
  - id: carol
    organization_id: globex
    role: member
    api_access_enabled: true
`

// writeConfig writes a sqlite-backed configuration and directory file into
// a temporary directory and returns the configuration path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	dirPath := filepath.Join(dir, "directory.yaml")
	require.NoError(t, os.WriteFile(dirPath, []byte(testDirectory), 0o600))

	cfg := `server:
  listen_address: 127.0.0.1:0
upstream:
  base_url: http://127.0.0.1:1
storage:
  backend: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "tollgate.db") + `
auth:
  jwt_secret: ` + testSecret + `
directory:
  path: ` + dirPath + `
  watch: false
telemetry:
  logging:
    level: error
` + extra

	cfgPath := filepath.Join(dir, "tollgate.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath
}

// execute runs the root command with args and the given configuration.
// Flags are reset first since the commands are package globals.
func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	return executeWithInput(t, cfgPath, "", args...)
}

func executeWithInput(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)

	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}

	out := &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// openTestServices opens the stores of cfgPath directly, for seeding.
func openTestServices(t *testing.T, cfgPath string) *services {
	t.Helper()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgPath)
	require.NoError(t, err)

	store, err := openBackend(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, err := newServices(cfg, store, nil, discardLogger())
	require.NoError(t, err)
	return svc
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
}

// resetFlags restores every flag of cmd and its subcommands to its default
// and clears Changed, so required-flag checks apply on every run.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
