package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"stratos-hq/charon/pkg/accesslog"
	"stratos-hq/charon/pkg/cli"
	"stratos-hq/charon/pkg/config"
)

var logsFlags struct {
	limit  int
	format string
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the connection access log",
	Long: `Print recent records from the SQLite access log, newest first.

Examples:
  # Show the 20 most recent connections
  charon logs

  # Show more records as JSON
  charon logs --limit 100 --format json`,
	RunE: queryLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVar(&logsFlags.limit, "limit", 20, "maximum records to print")
	logsCmd.Flags().StringVar(&logsFlags.format, "format", "text", "output format: text, json")
}

func queryLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	if !cfg.AccessLog.Enabled {
		return cli.NewConfigError("access_log.enabled", "access logging is disabled")
	}

	store, err := accesslog.OpenStore(cfg.AccessLog.Path)
	if err != nil {
		return cli.NewCommandError("logs", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := store.Recent(ctx, logsFlags.limit)
	if err != nil {
		return cli.NewCommandError("logs", err)
	}
	if len(records) == 0 {
		fmt.Println("no access log records")
		return nil
	}

	if cli.OutputFormat(logsFlags.format) == cli.FormatJSON {
		formatter := cli.NewFormatter(cli.FormatJSON)
		return formatter.FormatTo(os.Stdout, records)
	}

	for _, rec := range records {
		fmt.Printf("%s  %-7s  %-15s  %-10s  %-20s  %s  in=%dB out=%dB  %s\n",
			rec.Time.Format(time.RFC3339),
			rec.Mode,
			rec.ClientAddr,
			rec.Identity,
			rec.Target,
			rec.Status,
			rec.BytesIn,
			rec.BytesOut,
			rec.Duration.Round(time.Millisecond),
		)
	}
	return nil
}
