package source

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/loader"
	"firestige.xyz/netmon/internal/source/xdp"
)

func load(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := t.TempDir() + "/netmon.yaml"
	require.NoError(t, writeFile(path, yaml))
	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	return cfg
}

func TestNewSelectsBackend(t *testing.T) {
	tests := map[string]string{
		"xdp": `
netmon:
  capture:
    interface: eth1
    xdp:
      attach_mode: generic
`,
		"afpacket": `
netmon:
  capture:
    interface: eth1
    backend: afpacket
    afpacket:
      workers: 2
`,
		"pcap": `
netmon:
  capture:
    backend: pcap
    pcap:
      path: /tmp/replay.pcap
`,
	}
	for want, yaml := range tests {
		t.Run(want, func(t *testing.T) {
			s, err := New(load(t, yaml))
			require.NoError(t, err)
			assert.Equal(t, want, s.Name())
		})
	}
}

func TestXDPOptionsFollowConfig(t *testing.T) {
	cfg := load(t, `
netmon:
  capture:
    interface: eth1
    payload_bytes: 200
    xdp:
      attach_mode: native
      object: /opt/netmon/probe.o
  filter:
    protocol: udp
    dst_port: 53
`)
	s, err := New(cfg)
	require.NoError(t, err)
	opts := s.(*xdp.Source).Options()

	assert.Equal(t, "eth1", opts.Interface)
	assert.Equal(t, "/opt/netmon/probe.o", opts.ObjectPath)
	assert.Equal(t, loader.ModeNative, opts.Mode)
	assert.Equal(t, 200, opts.Probe.PayloadBytes)
	assert.Equal(t, core.ProtocolUDP, opts.Filter.Protocol)
	assert.Equal(t, uint16(53), opts.Filter.DstPort)
	assert.Nil(t, s.Channel(), "no channel before Start")
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Capture.Backend = "dpdk"
	_, err := New(cfg)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
