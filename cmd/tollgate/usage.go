package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/ledger"
)

var usageFlags struct {
	scope       string
	id          string
	from        string
	to          string
	resetDay    int
	granularity string
	limit       int

	user      string
	org       string
	workspace string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect the usage ledger",
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the usage rollup of a user, workspace or organization",
	Long: `Show the usage rollup of a scope over a window.

The window defaults to the current billing month, which starts on
--reset-day in the budget timezone.

Examples:
  tollgate usage show --scope organization --id acme
  tollgate usage show --scope user --id alice --granularity day \
    --from 2026-03-01T00:00:00Z --to 2026-04-01T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: withAdmin("usage show", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		scope, window, err := usageQuery(env)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		report := &usageReport{Scope: scope, Window: window}
		if report.Usage, err = env.svc.ledger.Rollup(ctx, scope, window); err != nil {
			return err
		}
		if usageFlags.granularity != "" {
			report.Buckets, err = env.svc.ledger.Buckets(ctx, scope, window, ledger.Granularity(usageFlags.granularity))
			if err != nil {
				return err
			}
		}
		return printResult(cmd, report)
	}),
}

var usageHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List usage records of a scope, newest first",
	Args:  cobra.NoArgs,
	RunE: withAdmin("usage history", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		scope, window, err := usageQuery(env)
		if err != nil {
			return err
		}
		if usageFlags.limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}
		records, err := env.svc.ledger.History(cmd.Context(), scope, window, usageFlags.limit)
		if err != nil {
			return err
		}
		if records == nil {
			records = []*ledger.UsageRecord{}
		}
		return printResult(cmd, recordList(records))
	}),
}

var usageLimitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the budgets that apply to a user",
	Long: `Show the organization and workspace budgets that apply to a user's
calls, with consumption in the current periods.`,
	Args: cobra.NoArgs,
	RunE: withAdmin("usage limits", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		dir, err := env.directory()
		if err != nil {
			return err
		}
		defer dir.Close()

		evaluator := env.svc.evaluator(env.cfg, dir, env.logger)
		statuses, err := evaluator.Limits(cmd.Context(), usageFlags.user, usageFlags.org, usageFlags.workspace)
		if err != nil {
			return err
		}
		if statuses == nil {
			statuses = []budget.LimitStatus{}
		}
		return printResult(cmd, limitList(statuses))
	}),
}

func init() {
	rootCmd.AddCommand(usageCmd)
	addOutputFlag(usageCmd)

	for _, c := range []*cobra.Command{usageShowCmd, usageHistoryCmd} {
		c.Flags().StringVar(&usageFlags.scope, "scope", string(ledger.ScopeUser), "scope kind (user, workspace, organization)")
		c.Flags().StringVar(&usageFlags.id, "id", "", "scope id")
		c.Flags().StringVar(&usageFlags.from, "from", "", "window start (RFC3339)")
		c.Flags().StringVar(&usageFlags.to, "to", "", "window end (RFC3339)")
		c.Flags().IntVar(&usageFlags.resetDay, "reset-day", 1, "first day of the billing month for the default window")
		_ = c.MarkFlagRequired("id")
	}
	usageShowCmd.Flags().StringVar(&usageFlags.granularity, "granularity", "", "bucket the rollup by hour or day")
	usageHistoryCmd.Flags().IntVar(&usageFlags.limit, "limit", 50, "maximum number of records")

	usageLimitsCmd.Flags().StringVar(&usageFlags.user, "user", "", "user id")
	usageLimitsCmd.Flags().StringVar(&usageFlags.org, "org", "", "organization id (default: the user's organization)")
	usageLimitsCmd.Flags().StringVar(&usageFlags.workspace, "workspace", "", "workspace id")
	_ = usageLimitsCmd.MarkFlagRequired("user")

	usageCmd.AddCommand(usageShowCmd, usageHistoryCmd, usageLimitsCmd)
}

// usageQuery resolves the scope and window flags.
func usageQuery(env *adminEnv) (ledger.Scope, ledger.Window, error) {
	kind, err := ledger.ParseScopeKind(usageFlags.scope)
	if err != nil {
		return ledger.Scope{}, ledger.Window{}, err
	}
	scope := ledger.Scope{Kind: kind, ID: usageFlags.id}

	window := ledger.MonthWindow(env.svc.ledger.Now(), env.svc.location, usageFlags.resetDay)
	from, err := parseTimeFlag("from", usageFlags.from)
	if err != nil {
		return ledger.Scope{}, ledger.Window{}, err
	}
	to, err := parseTimeFlag("to", usageFlags.to)
	if err != nil {
		return ledger.Scope{}, ledger.Window{}, err
	}
	if !from.IsZero() {
		window.Start = from
	}
	if !to.IsZero() {
		window.End = to
	}
	return scope, window, nil
}

type usageReport struct {
	Scope   ledger.Scope    `json:"scope"`
	Window  ledger.Window   `json:"window"`
	Usage   ledger.Rollup   `json:"usage"`
	Buckets []ledger.Bucket `json:"buckets,omitempty"`
}

func (r *usageReport) Table() cli.Table {
	t := cli.Table{Headers: []string{"START", "INPUT", "OUTPUT", "TOTAL", "REQUESTS", "SUCCESS_RATE"}}
	row := func(start string, u ledger.Rollup) []string {
		return []string{
			start,
			formatInt(u.InputTokens),
			formatInt(u.OutputTokens),
			formatInt(u.TotalTokens),
			formatInt(u.RequestCount),
			fmt.Sprintf("%.1f%%", u.SuccessRate*100),
		}
	}
	for _, b := range r.Buckets {
		t.Rows = append(t.Rows, row(formatTime(b.Start), b.Rollup))
	}
	t.Rows = append(t.Rows, row("total", r.Usage))
	return t
}

type recordList []*ledger.UsageRecord

func (l recordList) Table() cli.Table {
	t := cli.Table{Headers: []string{"TIME", "ID", "USER", "ENDPOINT", "MODEL", "INPUT", "OUTPUT", "TOTAL", "SUCCESS", "SOURCE"}}
	for _, r := range l {
		t.Rows = append(t.Rows, []string{
			formatTime(r.Timestamp),
			r.ID,
			r.UserID,
			orDash(r.Endpoint),
			orDash(r.Model),
			formatInt(r.InputTokens),
			formatInt(r.OutputTokens),
			formatInt(r.TotalTokens),
			fmt.Sprintf("%t", r.Success),
			string(r.Source),
		})
	}
	return t
}

type limitList []budget.LimitStatus

func (l limitList) Table() cli.Table {
	t := cli.Table{Headers: []string{"SCOPE", "ID", "PERIOD", "LIMIT", "USED", "REMAINING", "USED_PCT", "RESETS"}}
	for _, s := range l {
		limit, remaining := formatInt(s.Limit), formatInt(s.Remaining)
		if s.Unlimited {
			limit, remaining = "unlimited", "-"
		}
		t.Rows = append(t.Rows, []string{
			string(s.Scope),
			s.ScopeID,
			orDash(string(s.Period)),
			limit,
			formatInt(s.Used),
			remaining,
			fmt.Sprintf("%.1f%%", s.Percentage*100),
			formatTime(s.ResetAt),
		})
	}
	return t
}
