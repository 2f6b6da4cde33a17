package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "charon",
	Short: "Charon - multi-mode proxy server",
	Long: `Charon is a multi-mode proxy server.

One configured mode serves all connections:
  - forward: HTTP/HTTPS forward proxying with CONNECT tunnels
  - reverse: weighted load balancing across backend target groups
  - socks5:  SOCKS5 (RFC 1928) with optional username/password auth

All modes share TLS termination, basic authentication, per-client rate
limiting, response caching, Prometheus metrics, and a SQLite-backed
access log.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
