package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/daemon"
)

func newMonitorCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Capture and print events until interrupted",
		Long: `
Attach the probe and print one unit per matching event.

Examples:
  netmon monitor -i eth0                              # basic lines for all IPv4 traffic
  netmon monitor -i eth0 -p tcp --dst-port 443 -m hex # TLS traffic as hex dumps
  netmon monitor -i eth0 -p udp --dst-port 53 -m protocol
  netmon monitor --backend pcap --pcap trace.pcap -m json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(*configFile, cmd)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runMonitor(configFile string, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	return d.Run()
}
