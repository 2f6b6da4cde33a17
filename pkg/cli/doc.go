/*
Package cli holds the shared plumbing of the charon subcommands: result
formatting, progress reporting, signal handling, and command error
types.

Result Formatting:

Commands render their result in the format chosen by a --format flag:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Progress Reporting:

Long-running commands draw an in-place progress bar:

	progress := cli.NewProgressReporter(os.Stdout)
	progress.Start(total)
	for i := int64(0); i < total; i++ {
		// Do work
		progress.Update(i + 1)
	}
	progress.Finish()

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx := cli.SetupSignalHandler()
	// Use ctx for operations that should stop on shutdown
*/
package cli
