/*
Package cli provides helpers shared by the switchboard commands.

Output Formatting:

Command results render as an aligned text table, CSV or indented JSON:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	table := cli.Table{Headers: []string{"CLIENT", "CONVERSATION"}}
	table.Append("user-1", "conv-1")
	return cli.Write(os.Stdout, format, records, table)

JSON output encodes the data value; text and CSV output render the table.

Errors:

ConfigError and CommandError carry the failing field or command. ExitCode
maps them to process exit codes.

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
	// ctx is cancelled on SIGINT or SIGTERM
*/
package cli
