package render

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netmon/internal/core"
)

var ts = time.Date(2024, 5, 17, 13, 4, 5, 678_000_000, time.Local)

func newEvent(proto core.Protocol, src string, sport uint16, dst string, dport uint16, payload []byte) *core.Event {
	s, _ := core.AddrToUint32(netip.MustParseAddr(src))
	d, _ := core.AddrToUint32(netip.MustParseAddr(dst))
	ev := &core.Event{
		Record: core.Record{
			Protocol:  proto,
			SrcAddr:   s,
			DstAddr:   d,
			SrcPort:   sport,
			DstPort:   dport,
			PacketLen: uint32(54 + len(payload)),
		},
		CPU:       3,
		Timestamp: ts,
	}
	ev.PayloadLen = uint32(copy(ev.Record.Payload[:], payload))
	return ev
}

func render(t *testing.T, mode Mode, ev *core.Event) (string, error) {
	t.Helper()
	out, err := New(mode).Render(nil, ev)
	require.True(t, strings.HasSuffix(string(out), "\n"), "units are newline terminated")
	return string(out), err
}

func TestParseMode(t *testing.T) {
	for name, want := range map[string]Mode{
		"":         ModeBasic,
		"basic":    ModeBasic,
		"HEX":      ModeHex,
		"text":     ModeText,
		"protocol": ModeProtocol,
		" json ":   ModeJSON,
	} {
		got, err := ParseMode(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseMode("pretty")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Equal(t, "protocol", ModeProtocol.String())
	assert.Equal(t, ModeBasic, New(Mode(42)).Mode())
}

func TestBasicLine(t *testing.T) {
	ev := newEvent(core.ProtocolTCP, "10.0.0.1", 51000, "10.0.0.2", 443, nil)
	ev.TCPFlags = core.TCPFlagSYN | core.TCPFlagACK
	out, err := render(t, ModeBasic, ev)
	require.NoError(t, err)
	assert.Equal(t, "13:04:05.678 cpu=3 TCP 10.0.0.1:51000 -> 10.0.0.2:443 len=54 flags=SA\n", out)

	icmp := newEvent(core.ProtocolICMP, "192.168.1.1", 0, "192.168.1.2", 0, nil)
	out, err = render(t, ModeBasic, icmp)
	require.NoError(t, err)
	assert.Equal(t, "13:04:05.678 cpu=3 ICMP 192.168.1.1 -> 192.168.1.2 len=54\n", out)

	udp := newEvent(core.ProtocolUDP, "1.2.3.4", 5353, "5.6.7.8", 53, []byte("ignored"))
	out, _ = render(t, ModeBasic, udp)
	assert.Equal(t, "13:04:05.678 cpu=3 UDP 1.2.3.4:5353 -> 5.6.7.8:53 len=61\n", out)
}

func TestHexMode(t *testing.T) {
	ev := newEvent(core.ProtocolUDP, "1.1.1.1", 1, "2.2.2.2", 2, []byte("0123456789abcdef\x00!"))
	out, err := render(t, ModeHex, ev)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "  0000  30 31 32"))
	assert.True(t, strings.HasSuffix(lines[1], "|0123456789abcdef|"))
	assert.True(t, strings.HasSuffix(lines[2], "|.!|"))
}

func TestTextMode(t *testing.T) {
	ev := newEvent(core.ProtocolTCP, "1.1.1.1", 1, "2.2.2.2", 25, []byte("EHLO mail.example.com\r\nQUIT\r\n"))
	out, err := render(t, ModeText, ev)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Equal(t, []string{"  EHLO mail.example.com", "  QUIT"}, lines[1:])

	bin := newEvent(core.ProtocolTCP, "1.1.1.1", 1, "2.2.2.2", 443, []byte{0x16, 0x03, 0x01, 0x00, 0x00, 0x01})
	out, err = render(t, ModeText, bin)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"), "binary payloads render no content line")
	assert.True(t, strings.HasSuffix(out, " [binary]\n"))
}

func TestProtocolModeHTTP(t *testing.T) {
	ev := newEvent(core.ProtocolTCP, "10.0.0.1", 51000, "10.0.0.2", 80, []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	out, err := render(t, ModeProtocol, ev)
	require.NoError(t, err)
	assert.Contains(t, out, "\n  HTTP GET / HTTP/1.1\n")
	assert.Contains(t, out, "\n    Host: example.com\n")
}

func TestProtocolModeDNS(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("www.google.com.", dns.TypeA)
	m.Id = 7
	b, err := m.Pack()
	require.NoError(t, err)

	ev := newEvent(core.ProtocolUDP, "10.0.0.1", 40000, "8.8.8.8", 53, b)
	out, err := render(t, ModeProtocol, ev)
	require.NoError(t, err)
	assert.Contains(t, out, "  DNS query id=0x0007 opcode=QUERY rcode=NOERROR qd=1 an=0 ns=0 ar=0\n")
	assert.Contains(t, out, "    www.google.com A IN\n")
}

func TestProtocolModeUnparsed(t *testing.T) {
	ev := newEvent(core.ProtocolTCP, "10.0.0.1", 51000, "10.0.0.2", 22, []byte("SSH-2.0-OpenSSH_9.6\r\n"))
	out, err := render(t, ModeProtocol, ev)
	assert.ErrorIs(t, err, core.ErrUnparsed)
	assert.True(t, strings.HasSuffix(out, "\n  unparsed\n"))
	assert.True(t, strings.HasPrefix(out, "13:04:05.678 cpu=3 TCP"))
}

func TestJSONRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef, 'h', 'i'}
	ev := newEvent(core.ProtocolTCP, "192.168.1.10", 51515, "93.184.216.34", 443, payload)
	ev.TCPFlags = core.TCPFlagPSH | core.TCPFlagACK

	out, err := render(t, ModeJSON, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	got, err := ParseJSON([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, JSONEvent{
		Timestamp:  ts.UnixMilli(),
		Protocol:   "TCP",
		SrcIP:      "192.168.1.10",
		DstIP:      "93.184.216.34",
		SrcPort:    51515,
		DstPort:    443,
		PacketSize: 60,
		TCPFlags:   0x18,
		PayloadLen: 6,
		PayloadHex: "de ad be ef 68 69",
	}, *got)

	src, err := netip.ParseAddr(got.SrcIP)
	require.NoError(t, err)
	assert.Equal(t, ev.SrcIP(), src)
}

func TestJSONFieldNames(t *testing.T) {
	out, _ := render(t, ModeJSON, newEvent(core.ProtocolICMP, "1.1.1.1", 0, "2.2.2.2", 0, nil))
	for _, field := range []string{
		`"timestamp":`, `"protocol":"ICMP"`, `"src_ip":"1.1.1.1"`, `"dst_ip":"2.2.2.2"`,
		`"src_port":0`, `"dst_port":0`, `"packet_size":54`, `"tcp_flags":0`,
		`"payload_len":0`, `"payload_hex":""`,
	} {
		assert.Contains(t, out, field)
	}
	_, err := ParseJSON([]byte("{not json"))
	assert.Error(t, err)
}
