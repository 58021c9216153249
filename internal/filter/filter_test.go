package filter

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/probe"
	"firestige.xyz/netmon/internal/probe/probetest"
)

func event(proto core.Protocol, src string, sport uint16, dst string, dport uint16, size uint32) *core.Event {
	s, _ := core.AddrToUint32(netip.MustParseAddr(src))
	d, _ := core.AddrToUint32(netip.MustParseAddr(dst))
	return &core.Event{Record: core.Record{
		Protocol:  proto,
		SrcAddr:   s,
		DstAddr:   d,
		SrcPort:   sport,
		DstPort:   dport,
		PacketLen: size,
	}}
}

func TestEmptySpecMatchesEverything(t *testing.T) {
	f := New(Spec{})
	assert.Empty(t, f.Predicates())
	assert.True(t, f.Match(event(core.ProtocolTCP, "1.1.1.1", 1, "2.2.2.2", 2, 60)))
	assert.True(t, f.Match(event(core.ProtocolICMP, "1.1.1.1", 0, "2.2.2.2", 0, 98)))
	assert.True(t, f.Match(event(47, "1.1.1.1", 0, "2.2.2.2", 0, 98)))
	assert.Equal(t, "any", Spec{}.String())
}

func TestProtocolAndPort(t *testing.T) {
	f := New(Spec{Protocol: core.ProtocolTCP, DstPort: 443})

	assert.True(t, f.Match(event(core.ProtocolTCP, "10.0.0.1", 50000, "10.0.0.2", 443, 60)))
	assert.False(t, f.Match(event(core.ProtocolTCP, "10.0.0.1", 50000, "10.0.0.2", 80, 60)))
	assert.False(t, f.Match(event(core.ProtocolUDP, "10.0.0.1", 50000, "10.0.0.2", 443, 60)))
}

func TestPortPredicateRejectsPortlessProtocols(t *testing.T) {
	f := New(Spec{SrcPort: 53})
	assert.False(t, f.Match(event(core.ProtocolICMP, "10.0.0.1", 0, "10.0.0.2", 0, 98)))
	assert.True(t, f.Match(event(core.ProtocolUDP, "10.0.0.1", 53, "10.0.0.2", 40000, 98)))
}

func TestAddressPredicates(t *testing.T) {
	f := New(Spec{SrcIP: netip.MustParseAddr("192.168.1.10"), DstIP: netip.MustParseAddr("8.8.8.8")})
	assert.True(t, f.Match(event(core.ProtocolUDP, "192.168.1.10", 1, "8.8.8.8", 53, 80)))
	assert.False(t, f.Match(event(core.ProtocolUDP, "192.168.1.11", 1, "8.8.8.8", 53, 80)))
	assert.False(t, f.Match(event(core.ProtocolUDP, "192.168.1.10", 1, "8.8.4.4", 53, 80)))

	// An IPv4-mapped address selects the same host.
	mapped := New(Spec{SrcIP: netip.MustParseAddr("::ffff:192.168.1.10")})
	assert.True(t, mapped.Match(event(core.ProtocolUDP, "192.168.1.10", 1, "8.8.8.8", 53, 80)))
}

func TestSizePredicate(t *testing.T) {
	f := New(Spec{MinSize: 100, MaxSize: 200})
	assert.False(t, f.Match(event(core.ProtocolUDP, "1.1.1.1", 1, "2.2.2.2", 2, 99)))
	assert.True(t, f.Match(event(core.ProtocolUDP, "1.1.1.1", 1, "2.2.2.2", 2, 100)))
	assert.True(t, f.Match(event(core.ProtocolUDP, "1.1.1.1", 1, "2.2.2.2", 2, 200)))
	assert.False(t, f.Match(event(core.ProtocolUDP, "1.1.1.1", 1, "2.2.2.2", 2, 201)))

	open := New(Spec{MinSize: 100})
	assert.True(t, open.Match(event(core.ProtocolUDP, "1.1.1.1", 1, "2.2.2.2", 2, 9000)))
}

func TestEvaluationOrderDoesNotChangeResult(t *testing.T) {
	spec := Spec{
		Protocol: core.ProtocolTCP,
		SrcIP:    netip.MustParseAddr("10.0.0.1"),
		DstIP:    netip.MustParseAddr("10.0.0.2"),
		SrcPort:  1234,
		DstPort:  443,
		MinSize:  40,
		MaxSize:  1500,
	}
	base := New(spec)
	require.Len(t, base.Predicates(), 6)

	events := []*core.Event{
		event(core.ProtocolTCP, "10.0.0.1", 1234, "10.0.0.2", 443, 60),
		event(core.ProtocolTCP, "10.0.0.1", 1234, "10.0.0.2", 443, 20),
		event(core.ProtocolTCP, "10.0.0.9", 1234, "10.0.0.2", 443, 60),
		event(core.ProtocolUDP, "10.0.0.1", 1234, "10.0.0.2", 443, 60),
		event(core.ProtocolTCP, "10.0.0.1", 1235, "10.0.0.2", 443, 60),
		event(core.ProtocolTCP, "10.0.0.1", 1234, "10.0.0.3", 80, 60),
		event(core.ProtocolICMP, "10.0.0.1", 0, "10.0.0.2", 0, 60),
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		preds := append([]Predicate(nil), base.Predicates()...)
		rng.Shuffle(len(preds), func(a, b int) { preds[a], preds[b] = preds[b], preds[a] })
		shuffled := &Filter{spec: spec, preds: preds}
		for _, ev := range events {
			assert.Equal(t, base.Match(ev), shuffled.Match(ev))
		}
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Spec{}.Validate())
	assert.ErrorIs(t, Spec{SrcIP: netip.MustParseAddr("2001:db8::1")}.Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Spec{DstIP: netip.MustParseAddr("fe80::1")}.Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Spec{MinSize: 10, MaxSize: 5}.Validate(), core.ErrConfigInvalid)
}

func TestSpecString(t *testing.T) {
	s := Spec{Protocol: core.ProtocolTCP, DstIP: netip.MustParseAddr("10.0.0.2"), DstPort: 443}
	assert.Equal(t, "proto=tcp dst=10.0.0.2 dport=443", s.String())
}

func runFilter(t *testing.T, raw []bpf.RawInstruction, frame []byte) int {
	t.Helper()
	insns, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	vm, err := bpf.NewVM(insns)
	require.NoError(t, err)
	n, err := vm.Run(frame)
	require.NoError(t, err)
	return n
}

func TestCompileMatchesUserSpace(t *testing.T) {
	payload := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	frames := map[string][]byte{
		"tcp 443":    probetest.TCP("10.0.0.1", 40000, "10.0.0.2", 443, payload).Build(),
		"tcp 80":     probetest.TCP("10.0.0.1", 40000, "10.0.0.2", 80, payload).Build(),
		"udp 443":    probetest.UDP("10.0.0.1", 40000, "10.0.0.2", 443, payload).Build(),
		"udp dns":    probetest.UDP("10.0.0.3", 53, "10.0.0.1", 40000, payload).Build(),
		"icmp":       probetest.ICMP("10.0.0.1", "10.0.0.2", payload).Build(),
		"other host": probetest.TCP("10.9.9.9", 40000, "10.0.0.2", 443, payload).Build(),
	}
	fragment := probetest.UDP("10.0.0.1", 40000, "10.0.0.2", 443, payload)
	fragment.FragOffset = 10
	fragmentFrame := fragment.Build()

	specs := []Spec{
		{},
		{Protocol: core.ProtocolTCP},
		{Protocol: core.ProtocolTCP, DstPort: 443},
		{DstPort: 443},
		{SrcPort: 53},
		{SrcIP: netip.MustParseAddr("10.0.0.1")},
		{DstIP: netip.MustParseAddr("10.0.0.2"), Protocol: core.ProtocolICMP},
		{MinSize: 80},
		{MaxSize: 80},
	}

	for _, spec := range specs {
		raw, err := spec.Compile(65535)
		require.NoError(t, err, spec.String())
		f := New(spec)
		for name, frame := range frames {
			var ev core.Event
			require.NoError(t, probe.Parse(frame, 128, &ev.Record), name)
			want := f.Match(&ev)
			got := runFilter(t, raw, frame) > 0
			assert.Equal(t, want, got, "spec %q frame %q", spec, name)
		}
		assert.Zero(t, runFilter(t, raw, fragmentFrame), "fragments are rejected: %q", spec)
	}
}

func TestKernelBlock(t *testing.T) {
	assert.False(t, Spec{}.Kernel().Enabled)

	k := Spec{Protocol: core.ProtocolUDP, DstIP: netip.MustParseAddr("8.8.8.8"), DstPort: 53, MaxSize: 512}.Kernel()
	assert.True(t, k.Enabled)
	assert.Equal(t, core.ProtocolUDP, k.Protocol)
	assert.Equal(t, uint32(0x08080808), k.DstAddr)
	assert.Zero(t, k.SrcAddr)
	assert.Equal(t, uint16(53), k.DstPort)

	b := k.AppendBinary(nil)
	require.Len(t, b, KernelSize)
	assert.Equal(t, byte(1), b[0])
	assert.Equal(t, byte(17), b[1])
}
