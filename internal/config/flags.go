package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/netmon/internal/core"
)

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"iface":         "netmon.capture.interface",
	"backend":       "netmon.capture.backend",
	"payload-bytes": "netmon.capture.payload_bytes",
	"object":        "netmon.capture.xdp.object",
	"attach-mode":   "netmon.capture.xdp.attach_mode",
	"pcap":          "netmon.capture.pcap.path",
	"protocol":      "netmon.filter.protocol",
	"src-ip":        "netmon.filter.src_ip",
	"dst-ip":        "netmon.filter.dst_ip",
	"src-port":      "netmon.filter.src_port",
	"dst-port":      "netmon.filter.dst_port",
	"mode":          "netmon.display.mode",
	"output":        "netmon.output.type",
	"log-level":     "netmon.log.level",
}

// RegisterFlags adds the monitor flags to fs. Unset flags never override
// the file or the environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("iface", "i", "", "network interface to monitor")
	fs.String("backend", "", "capture backend: xdp|afpacket|pcap")
	fs.Int("payload-bytes", 0, fmt.Sprintf("payload bytes captured per packet (1-%d)", core.PayloadCapacity))
	fs.String("object", "", "compiled XDP probe object")
	fs.String("attach-mode", "", "XDP attach mode: auto|native|generic|offload")
	fs.String("pcap", "", "pcap file to replay (pcap backend)")
	fs.StringP("protocol", "p", "", "protocol filter: tcp|udp|icmp|all")
	fs.String("src-ip", "", "source IPv4 address filter")
	fs.String("dst-ip", "", "destination IPv4 address filter")
	fs.Uint16("src-port", 0, "source port filter")
	fs.Uint16("dst-port", 0, "destination port filter")
	fs.StringP("mode", "m", "", "display mode: basic|hex|text|protocol|json")
	fs.String("output", "", "event output: stdout|file|kafka")
	fs.String("log-level", "", "log level: trace|debug|info|warn|error")
}

// bindFlags binds the flags of fs that were set on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("%w: bind flag --%s: %w", core.ErrConfigInvalid, f.Name, bindErr)
		}
	})
	return err
}
