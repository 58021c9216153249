package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/render"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netmon.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, "xdp", cfg.Capture.Backend)
	assert.Equal(t, core.DefaultPayloadBytes, cfg.Capture.PayloadBytes)
	assert.Equal(t, "auto", cfg.Capture.XDP.AttachMode)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.AFPacket.PollTimeout)
	assert.Equal(t, "stdout", cfg.Output.Type)
	assert.Equal(t, 5*time.Second, cfg.Daemon.ShutdownTimeout)
	assert.True(t, cfg.FilterSpec().IsEmpty())
	assert.Equal(t, render.ModeBasic, cfg.Mode())
	assert.Equal(t, core.DefaultPayloadBytes, cfg.ProbeConfig().PayloadBytes)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
netmon:
  capture:
    interface: "ens5"
    backend: "afpacket"
    payload_bytes: 256
    afpacket:
      workers: 4
      poll_timeout: "250ms"
  filter:
    protocol: "tcp"
    dst_ip: "10.0.0.2"
    dst_port: 443
  display:
    mode: "json"
  output:
    type: "kafka"
    kafka:
      brokers: ["k1:9092", "k2:9092"]
      topic: "events"
      compression: "lz4"
  log:
    level: "debug"
    format: "json"
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "ens5", cfg.Capture.Interface)
	assert.Equal(t, "afpacket", cfg.Capture.Backend)
	assert.Equal(t, 256, cfg.Capture.PayloadBytes)
	assert.Equal(t, 4, cfg.Capture.AFPacket.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.AFPacket.PollTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Output.Kafka.Brokers)
	assert.Equal(t, render.ModeJSON, cfg.Mode())

	spec := cfg.FilterSpec()
	assert.Equal(t, core.ProtocolTCP, spec.Protocol)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), spec.DstIP)
	assert.False(t, spec.SrcIP.IsValid())
	assert.Equal(t, uint16(443), spec.DstPort)

	netmon, ok := cfg.Settings()["netmon"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, netmon, "capture")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
netmon:
  filter:
    dst_port: 80
`)
	t.Setenv("NETMON_FILTER_DST_PORT", "8080")
	t.Setenv("NETMON_DISPLAY_MODE", "hex")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), cfg.FilterSpec().DstPort)
	assert.Equal(t, render.ModeHex, cfg.Mode())
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("NETMON_FILTER_PROTOCOL", "udp")

	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--protocol", "icmp", "--src-ip", "192.168.8.34", "-m", "text", "--payload-bytes", "64"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, core.ProtocolICMP, cfg.FilterSpec().Protocol)
	assert.Equal(t, netip.MustParseAddr("192.168.8.34"), cfg.FilterSpec().SrcIP)
	assert.Equal(t, render.ModeText, cfg.Mode())
	assert.Equal(t, 64, cfg.Capture.PayloadBytes)
	// Untouched flags keep the defaults.
	assert.Equal(t, "eth0", cfg.Capture.Interface)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"payload too large": "netmon:\n  capture:\n    payload_bytes: 257\n",
		"negative payload":  "netmon:\n  capture:\n    payload_bytes: -1\n",
		"bad protocol":      "netmon:\n  filter:\n    protocol: sctp\n",
		"bad mode":          "netmon:\n  display:\n    mode: fancy\n",
		"ipv6 filter":       "netmon:\n  filter:\n    src_ip: \"2001:db8::1\"\n",
		"bad address":       "netmon:\n  filter:\n    dst_ip: \"10.0.0\"\n",
		"bad backend":       "netmon:\n  capture:\n    backend: dpdk\n",
		"pcap without path": "netmon:\n  capture:\n    backend: pcap\n",
		"kafka no brokers":  "netmon:\n  output:\n    type: kafka\n",
		"bad compression":   "netmon:\n  output:\n    type: kafka\n    kafka:\n      brokers: [k:9092]\n      compression: zstd\n",
		"bad attach mode":   "netmon:\n  capture:\n    xdp:\n      attach_mode: turbo\n",
		"bad log level":     "netmon:\n  log:\n    level: loud\n",
		"bad log format":    "netmon:\n  log:\n    format: xml\n",
		"size bounds":       "netmon:\n  filter:\n    min_size: 100\n    max_size: 10\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"), nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
