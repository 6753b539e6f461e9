/*
Package cli provides helpers shared by the llamachat commands.

Output Formatting:

Tabular results (user listings and the like) render as aligned text, JSON
or CSV:

	table := &cli.Table{Headers: []string{"ID", "USERNAME"}}
	table.Append("1", "alice")
	if err := cli.NewFormatter(cli.FormatText).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Errors:

ConfigError and CommandError carry enough context for main to pick an exit
code with ExitCode.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
	// ctx is cancelled on SIGINT or SIGTERM
*/
package cli
