package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"stratos-hq/charon/pkg/cli"
	"stratos-hq/charon/pkg/config"
	"stratos-hq/charon/pkg/server"
	"stratos-hq/charon/pkg/telemetry/logging"
)

var runFlags struct {
	listen   string
	logLevel string
	dryRun   bool
	watch    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the proxy server",
	Long: `Start the proxy server with the specified configuration.

The server listens on the configured address and serves all connections
with the protocol engine selected by proxy.mode.

Examples:
  # Start with default config
  charon run

  # Start with custom config
  charon run --config /etc/charon/config.yaml

  # Override listen address
  charon run --listen 0.0.0.0:8080

  # Validate config without starting server
  charon run --dry-run

  # Reload credentials and allow-lists when the config file changes
  charon run --watch`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listen, "listen", "l", "", "override listen address (host:port)")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "apply hot-reloadable config changes at runtime")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listen != "" {
		host, portStr, err := net.SplitHostPort(runFlags.listen)
		if err != nil {
			return cli.NewConfigError("listen", fmt.Sprintf("invalid listen address %q: %v", runFlags.listen, err))
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return cli.NewConfigError("listen", fmt.Sprintf("invalid listen port %q", portStr))
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if _, err := logging.Setup(cfg.Telemetry.Logging, nil); err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	srv, err := server.New(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	// Cancelled on SIGINT/SIGTERM; the server drains and returns.
	ctx := cli.SetupSignalHandler()

	if runFlags.watch {
		watcher, err := config.NewWatcher(cfgFile, slog.Default())
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer watcher.Stop()
		go func() {
			if err := watcher.Watch(ctx, srv.Reload); err != nil {
				slog.Error("configuration watcher stopped", "error", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}
