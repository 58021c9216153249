package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/netmon/internal/config"
)

func newValidateCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective settings",
		Long: `Load the configuration file, environment and flags exactly as the monitor
does, then print the merged result as YAML without attaching anything.

Examples:
  netmon validate -c /etc/netmon/netmon.yaml
  NETMON_FILTER_DST_PORT=53 netmon validate -c netmon.yaml -m protocol`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(*configFile, cmd)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runValidate(configFile string, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "INVALID: %v\n", err)
		return err
	}

	out, err := yaml.Marshal(cfg.Settings())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "VALID: backend=%s filter=%q mode=%s output=%s\n",
		cfg.Capture.Backend, cfg.FilterSpec().String(), cfg.Mode(), cfg.Output.Type)
	_, err = w.Write(out)
	return err
}
