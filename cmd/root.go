// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/netmon/internal/config"
)

const version = "0.1.0"

// NewRootCmd builds the command tree. Running the root command without a
// subcommand starts the monitor.
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "netmon",
		Short: "netmon - per-packet traffic monitor built on XDP",
		Long: `netmon inspects traffic at the earliest point of the receive path without
disturbing delivery. An XDP probe turns every IPv4 packet into a fixed-size
event; per-CPU consumers filter, decode and print them.

Display modes:
  basic     protocol, addresses, ports and size
  hex       offset, hex and ASCII of the payload prefix
  text      the payload as text when it is mostly printable
  protocol  HTTP request/status lines and headers, DNS questions
  json      one JSON object per event`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(configFile, cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional, NETMON_* env vars and flags override it)")
	config.RegisterFlags(rootCmd.Flags())

	rootCmd.AddCommand(newMonitorCmd(&configFile))
	rootCmd.AddCommand(newValidateCmd(&configFile))
	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd().Execute()
}
