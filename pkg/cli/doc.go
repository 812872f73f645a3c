/*
Package cli provides helpers shared by the tollgate commands.

Output Formatting:

Administrative commands (pool, usage, session) print either an aligned
table or JSON. Results that implement Tabular render as a table in text
mode; anything else falls back to fmt formatting:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(cmd.OutOrStdout(), result)

Progress Reporting:

Bulk operations such as assigning credentials to a list of users report
progress on stderr:

	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "users")
	progress.Start(len(userIDs))
	for range userIDs {
		// assign
		progress.Increment()
	}
	progress.Finish()

Signal Handling:

The run command derives its root context from SIGINT/SIGTERM:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
