package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/pool"
)

var poolFlags struct {
	org    string
	id     string
	name   string
	secret string
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage organization credential pools",
	Long: `Manage the upstream credentials an organization shares among its users.

Commands operate directly on the configured storage backend and may be run
while the broker is serving traffic.`,
}

var poolAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a credential to a pool",
	Long: `Add a credential to an organization's pool.

Pass --secret - to read the secret from the first line of stdin instead of
the command line. A ${secret:name} reference is resolved through the
configured secrets directory or TOLLGATE_SECRET_* variables.

Examples:
  echo "$KEY" | tollgate pool add --org acme --name "team key" --secret -
  tollgate pool add --org acme --secret '${secret:acme-team-key}'`,
	Args: cobra.NoArgs,
	RunE: withAdmin("pool add", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		secret, err := readSecret(cmd.InOrStdin(), poolFlags.secret)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		secret, err = config.SecretResolver(&env.cfg.Secrets).Resolve(ctx, secret)
		if err != nil {
			return err
		}
		id, err := env.svc.pool.AddToPool(ctx, poolFlags.org, pool.Credential{
			ID:          poolFlags.id,
			Secret:      secret,
			DisplayName: poolFlags.name,
		})
		if err != nil {
			return err
		}
		entry, err := env.svc.pool.Get(ctx, id)
		if err != nil {
			return err
		}
		return printResult(cmd, entryList{entry})
	}),
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries of a pool",
	Args:  cobra.NoArgs,
	RunE: withAdmin("pool list", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		entries, err := env.svc.pool.List(cmd.Context(), poolFlags.org)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []*pool.Entry{}
		}
		return printResult(cmd, entryList(entries))
	}),
}

var poolRemoveCmd = &cobra.Command{
	Use:   "remove ENTRY_ID",
	Short: "Remove an available entry from a pool",
	Args:  cobra.ExactArgs(1),
	RunE: withAdmin("pool remove", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		if err := env.svc.pool.RemoveFromPool(cmd.Context(), poolFlags.org, args[0]); err != nil {
			return err
		}
		return printResult(cmd, fmt.Sprintf("removed %s", args[0]))
	}),
}

var poolAssignCmd = &cobra.Command{
	Use:   "assign USER_ID...",
	Short: "Assign pooled credentials to users",
	Long: `Assign a credential from the organization's pool to each user in turn.

Users outside the organization are skipped. Users that cannot be served
because the pool ran out are reported as failures.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withAdmin("pool assign", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		dir, err := env.directory()
		if err != nil {
			return err
		}
		defer dir.Close()

		progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "users")
		report := assignUsers(cmd.Context(), env.svc.pool, dir, poolFlags.org, dedupe(args), progress)
		return printResult(cmd, report)
	}),
}

// entryCommand builds the release, revoke and archive subcommands, which
// differ only in the transition they apply.
func entryCommand(use, short string, apply func(a *pool.Allocator) func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ENTRY_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withAdmin("pool "+use, func(cmd *cobra.Command, args []string, env *adminEnv) error {
			ctx := cmd.Context()
			entry, err := env.svc.pool.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if entry.OrganizationID != poolFlags.org {
				return fmt.Errorf("%w: %s is not in the pool of %s", pool.ErrEntryNotFound, args[0], poolFlags.org)
			}
			if err := apply(env.svc.pool)(ctx, args[0]); err != nil {
				return err
			}
			if entry, err = env.svc.pool.Get(ctx, args[0]); err != nil {
				return err
			}
			return printResult(cmd, entryList{entry})
		}),
	}
}

func init() {
	rootCmd.AddCommand(poolCmd)
	addOutputFlag(poolCmd)

	poolCmd.PersistentFlags().StringVar(&poolFlags.org, "org", "", "organization id")
	_ = poolCmd.MarkPersistentFlagRequired("org")

	poolAddCmd.Flags().StringVar(&poolFlags.secret, "secret", "", "credential secret, or - to read it from stdin")
	poolAddCmd.Flags().StringVar(&poolFlags.id, "id", "", "credential identifier (default: fingerprint of the secret)")
	poolAddCmd.Flags().StringVar(&poolFlags.name, "name", "", "display name")
	_ = poolAddCmd.MarkFlagRequired("secret")

	poolCmd.AddCommand(
		poolAddCmd,
		poolListCmd,
		poolRemoveCmd,
		poolAssignCmd,
		entryCommand("release", "Return an assigned entry to the pool",
			func(a *pool.Allocator) func(context.Context, string) error { return a.Release }),
		entryCommand("revoke", "Revoke an entry so it is never allocated again",
			func(a *pool.Allocator) func(context.Context, string) error { return a.Revoke }),
		entryCommand("archive", "Archive an entry",
			func(a *pool.Allocator) func(context.Context, string) error { return a.Archive }),
	)
}

// assignUsers allocates one credential per user, reporting progress.
func assignUsers(ctx context.Context, alloc *pool.Allocator, dir directory.Directory, orgID string, userIDs []string, progress cli.ProgressReporter) *assignReport {
	report := &assignReport{
		Assigned: []pool.Assignment{},
		Failed:   []pool.Failure{},
	}
	fail := func(userID, reason string) {
		report.Failed = append(report.Failed, pool.Failure{UserID: userID, Reason: reason})
	}

	progress.Start(len(userIDs))
	defer progress.Finish()

	for _, userID := range userIDs {
		progress.Increment()

		user, err := dir.User(ctx, userID)
		switch {
		case directory.IsNotFound(err):
			fail(userID, "user not found")
			continue
		case err != nil:
			fail(userID, err.Error())
			continue
		case user.OrganizationID != orgID:
			fail(userID, fmt.Sprintf("user is not a member of organization %s", orgID))
			continue
		}

		ref, err := alloc.Allocate(ctx, orgID, userID)
		switch {
		case err != nil:
			fail(userID, err.Error())
		case ref == nil:
			fail(userID, "no available credential in pool")
		default:
			report.Assigned = append(report.Assigned, pool.Assignment{UserID: userID, EntryID: ref.EntryID})
		}
	}
	return report
}

// readSecret returns flag, or the first line of stdin when flag is "-".
func readSecret(stdin io.Reader, flag string) (string, error) {
	if flag != "-" {
		return flag, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", errors.New("no secret on stdin")
	}
	return secret, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type entryList []*pool.Entry

func (l entryList) Table() cli.Table {
	t := cli.Table{Headers: []string{"ID", "CREDENTIAL", "NAME", "STATE", "ASSIGNED_TO", "VERSION", "UPDATED"}}
	for _, e := range l {
		t.Rows = append(t.Rows, []string{
			e.ID,
			e.CredentialID,
			orDash(e.DisplayName),
			string(e.State),
			orDash(e.AssignedTo),
			formatInt(e.Version),
			formatTime(e.UpdatedAt),
		})
	}
	return t
}

type assignReport struct {
	Assigned []pool.Assignment `json:"assigned"`
	Failed   []pool.Failure    `json:"failed"`
}

func (r *assignReport) Table() cli.Table {
	t := cli.Table{Headers: []string{"USER", "RESULT", "DETAIL"}}
	for _, a := range r.Assigned {
		t.Rows = append(t.Rows, []string{a.UserID, "assigned", a.EntryID})
	}
	for _, f := range r.Failed {
		t.Rows = append(t.Rows, []string{f.UserID, "failed", f.Reason})
	}
	return t
}
