package probe

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/probe/probetest"
	"firestige.xyz/netmon/internal/transport"
)

func TestParseTCP(t *testing.T) {
	payload := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
	f := probetest.TCP("10.0.0.1", 51000, "10.0.0.2", 80, payload)
	frame := f.Build()

	var rec core.Record
	require.NoError(t, Parse(frame, 128, &rec))

	assert.Equal(t, core.ProtocolTCP, rec.Protocol)
	assert.Equal(t, uint32(0x0A000001), rec.SrcAddr)
	assert.Equal(t, uint32(0x0A000002), rec.DstAddr)
	assert.Equal(t, uint16(51000), rec.SrcPort)
	assert.Equal(t, uint16(80), rec.DstPort)
	assert.Equal(t, uint32(len(frame)), rec.PacketLen)
	assert.Equal(t, "PA", core.FormatTCPFlags(rec.TCPFlags))
	assert.Equal(t, payload, rec.PayloadBytes())
}

func TestParseTCPOptionsShiftPayload(t *testing.T) {
	f := probetest.TCP("10.0.0.1", 1, "10.0.0.2", 2, []byte("after-options-payload"))
	f.TCPOptions = []layers.TCPOption{
		{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
		{OptionType: layers.TCPOptionKindNop},
		{OptionType: layers.TCPOptionKindNop},
		{OptionType: layers.TCPOptionKindNop},
		{OptionType: layers.TCPOptionKindNop},
	}
	var rec core.Record
	require.NoError(t, Parse(f.Build(), 128, &rec))
	assert.Equal(t, "after-options-payload", string(rec.PayloadBytes()))
}

func TestParseUDP(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 40)
	var rec core.Record
	require.NoError(t, Parse(probetest.UDP("192.168.1.10", 5353, "224.0.0.251", 53, payload).Build(), 128, &rec))
	assert.Equal(t, core.ProtocolUDP, rec.Protocol)
	assert.Equal(t, uint16(5353), rec.SrcPort)
	assert.Equal(t, uint16(53), rec.DstPort)
	assert.Zero(t, rec.TCPFlags)
	assert.Equal(t, payload, rec.PayloadBytes())
}

func TestParseICMP(t *testing.T) {
	data := []byte("ping-payload-0123456789")
	var rec core.Record
	require.NoError(t, Parse(probetest.ICMP("10.1.1.1", "10.1.1.2", data).Build(), 128, &rec))
	assert.Equal(t, core.ProtocolICMP, rec.Protocol)
	assert.Zero(t, rec.SrcPort)
	assert.Zero(t, rec.DstPort)
	// The ICMP header is taken as 4 bytes, so identifier and sequence lead
	// the payload.
	assert.Equal(t, append([]byte{0x00, 0x01, 0x00, 0x01}, data...), rec.PayloadBytes())
}

func TestParseExcludesLinkPadding(t *testing.T) {
	f := probetest.UDP("10.0.0.1", 1000, "10.0.0.2", 2000, []byte("hi"))
	frame := append(f.Build(), make([]byte, 24)...)

	var rec core.Record
	require.NoError(t, Parse(frame, 128, &rec))
	assert.Equal(t, "hi", string(rec.PayloadBytes()))
	assert.Equal(t, uint32(len(frame)), rec.PacketLen)
}

func TestParsePayloadBounds(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1000)
	frame := probetest.UDP("10.0.0.1", 1, "10.0.0.2", 2, payload).Build()

	tests := []struct {
		max  int
		want uint32
	}{
		{max: 1, want: 1},
		{max: 16, want: 16},
		{max: 128, want: 128},
		{max: 256, want: 256},
		{max: 4096, want: core.PayloadCapacity},
		{max: 0, want: 0},
	}
	for _, tt := range tests {
		var rec core.Record
		require.NoError(t, Parse(frame, tt.max, &rec))
		assert.Equal(t, tt.want, rec.PayloadLen, "max=%d", tt.max)
		assert.LessOrEqual(t, rec.PayloadLen, uint32(core.PayloadCapacity))
	}

	short := probetest.UDP("10.0.0.1", 1, "10.0.0.2", 2, bytes.Repeat([]byte("y"), 30)).Build()
	var rec core.Record
	require.NoError(t, Parse(short, 128, &rec))
	assert.Equal(t, uint32(30), rec.PayloadLen)
}

func TestParseRejects(t *testing.T) {
	tcp := probetest.TCP("10.0.0.1", 1, "10.0.0.2", 2, []byte("payload-bytes-here")).Build()

	fragment := probetest.UDP("10.0.0.1", 1, "10.0.0.2", 2, bytes.Repeat([]byte("z"), 32))
	fragment.Flags = layers.IPv4MoreFragments

	later := probetest.UDP("10.0.0.1", 1, "10.0.0.2", 2, bytes.Repeat([]byte("z"), 32))
	later.FragOffset = 185

	arp := append([]byte(nil), tcp...)
	arp[12], arp[13] = 0x08, 0x06

	badIHL := append([]byte(nil), tcp...)
	badIHL[14] = 0x44

	badDoff := append([]byte(nil), tcp...)
	badDoff[14+20+12] = 0x40

	tests := map[string][]byte{
		"empty":           nil,
		"short ethernet":  tcp[:10],
		"not ipv4":        arp,
		"short ipv4":      tcp[:14+12],
		"bad ihl":         badIHL,
		"short tcp":       tcp[:14+20+10],
		"bad data offset": badDoff,
		"more fragments":  fragment.Build(),
		"fragment offset": later.Build(),
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			rec := core.Record{SrcPort: 7}
			err := Parse(frame, 128, &rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrCaptureParse))
			assert.Equal(t, uint16(7), rec.SrcPort, "record must be untouched")
		})
	}
}

func TestProbeHandle(t *testing.T) {
	ch, err := transport.NewLocal(2, 2)
	require.NoError(t, err)
	p := New(ch, Config{PayloadBytes: 8})

	good := probetest.UDP("10.0.0.1", 1, "10.0.0.2", 2, []byte("0123456789abcdef")).Build()

	// Every frame passes, whatever happens to it.
	assert.Equal(t, VerdictPass, p.Handle(1, good))
	assert.Equal(t, VerdictPass, p.Handle(1, good))
	assert.Equal(t, VerdictPass, p.Handle(1, good)) // ring full
	assert.Equal(t, VerdictPass, p.Handle(1, []byte{0x01}))
	assert.Equal(t, VerdictPass, p.Handle(0, good))

	assert.Equal(t, Stats{Emitted: 3, Skipped: 1, Overflow: 1}, p.Stats())
	assert.Equal(t, []uint64{0, 1}, ch.Drops())

	var rec core.Record
	require.NoError(t, ch.Streams()[1].Read(context.Background(), &rec))
	assert.Equal(t, "01234567", string(rec.PayloadBytes()))
}

func TestProbeDefaultsPayloadBytes(t *testing.T) {
	ch, err := transport.NewLocal(1, 4)
	require.NoError(t, err)
	p := New(ch, Config{})

	frame := probetest.UDP("10.0.0.1", 1, "10.0.0.2", 2, bytes.Repeat([]byte("q"), 500)).Build()
	p.Handle(0, frame)

	var rec core.Record
	require.NoError(t, ch.Streams()[0].Read(context.Background(), &rec))
	assert.Equal(t, uint32(core.DefaultPayloadBytes), rec.PayloadLen)
}

func TestProbeHandleLenUsesWireLength(t *testing.T) {
	ch, err := transport.NewLocal(1, 4)
	require.NoError(t, err)
	p := New(ch, Config{PayloadBytes: 64})

	frame := probetest.TCP("10.0.0.1", 1, "10.0.0.2", 2, bytes.Repeat([]byte("s"), 200)).Build()
	snap := frame[:80]

	p.HandleLen(0, snap, len(frame))
	p.HandleLen(0, frame, 10)

	var rec core.Record
	require.NoError(t, ch.Streams()[0].Read(context.Background(), &rec))
	assert.Equal(t, uint32(len(frame)), rec.PacketLen)
	assert.Equal(t, uint32(80-14-20-20), rec.PayloadLen)

	require.NoError(t, ch.Streams()[0].Read(context.Background(), &rec))
	assert.Equal(t, uint32(len(frame)), rec.PacketLen, "a wire length below the frame is ignored")
}
