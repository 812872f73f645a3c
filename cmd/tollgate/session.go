package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and terminate account sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show ACCOUNT_ID",
	Short: "Show the active session of an account",
	Args:  cobra.ExactArgs(1),
	RunE: withAdmin("session show", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		s, err := env.svc.sessions.Active(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, &sessionView{AccountID: args[0], Active: s != nil, Session: s})
	}),
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear ACCOUNT_ID",
	Short: "Log an account out of its active session",
	Args:  cobra.ExactArgs(1),
	RunE: withAdmin("session clear", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		if err := env.svc.sessions.ClearSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		return printResult(cmd, fmt.Sprintf("session of %s cleared", args[0]))
	}),
}

var sessionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Terminate every expired session",
	Long: `Terminate every expired session once. The broker does the same on
sessions.sweep_schedule; this is for deployments that disable the schedule.`,
	Args: cobra.NoArgs,
	RunE: withAdmin("session sweep", func(cmd *cobra.Command, args []string, env *adminEnv) error {
		n, err := env.svc.sessions.SweepExpired(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd, fmt.Sprintf("%d expired sessions terminated", n))
	}),
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	addOutputFlag(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd, sessionSweepCmd)
}

type sessionView struct {
	AccountID string           `json:"account_id"`
	Active    bool             `json:"active"`
	Session   *session.Session `json:"session,omitempty"`
}

func (v *sessionView) Table() cli.Table {
	t := cli.Table{Headers: []string{"ACCOUNT", "SESSION", "CREATED", "LAST_ACTIVITY", "EXPIRES", "CLIENT_IP"}}
	if v.Session == nil {
		t.Rows = append(t.Rows, []string{v.AccountID, "-", "-", "-", "-", "-"})
		return t
	}
	s := v.Session
	t.Rows = append(t.Rows, []string{
		v.AccountID,
		s.ID,
		formatTime(s.CreatedAt),
		formatTime(s.LastActivityAt),
		formatTime(s.ExpiresAt),
		orDash(s.ClientIP),
	})
	return t
}
