package core

import (
	"errors"
	"net/netip"
	"testing"
)

func sampleRecord() Record {
	rec := Record{
		Protocol:  ProtocolTCP,
		SrcAddr:   0xC0A80101, // 192.168.1.1
		DstAddr:   0x5DB8D822, // 93.184.216.34
		SrcPort:   51234,
		DstPort:   443,
		PacketLen: 74,
		TCPFlags:  TCPFlagSYN | TCPFlagACK,
	}
	rec.PayloadLen = uint32(copy(rec.Payload[:], "hello"))
	return rec
}

func TestDecode(t *testing.T) {
	rec := sampleRecord()
	raw, err := rec.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if len(raw) != RecordSize {
		t.Fatalf("unexpected record size: %d", len(raw))
	}
	// Header fields land on fixed offsets.
	if raw[0] != 6 || raw[12] != 0x22 || raw[13] != 0xC8 || raw[20] != 0x12 || raw[24] != 5 {
		t.Fatalf("unexpected header bytes: % x", raw[:HeaderSize])
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != rec {
		t.Fatalf("decoded record differs: %+v", got)
	}
}

func TestDecodeShort(t *testing.T) {
	_, err := Decode(make([]byte, RecordSize-1))
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
	if !errors.Is(err, ErrShortRecord) {
		t.Fatalf("expected ErrShortRecord, got %v", err)
	}
}

func TestDecodeClampsPayloadLen(t *testing.T) {
	raw := make([]byte, RecordSize+4)
	raw[24] = 0xFF
	raw[25] = 0xFF
	rec, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rec.PayloadLen != PayloadCapacity {
		t.Fatalf("expected clamp to %d, got %d", PayloadCapacity, rec.PayloadLen)
	}
	if len(rec.PayloadBytes()) != PayloadCapacity {
		t.Fatalf("payload view out of bounds: %d", len(rec.PayloadBytes()))
	}
}

func TestEventAccessors(t *testing.T) {
	ev := Event{Record: sampleRecord(), CPU: 3}
	if got := ev.SrcIP().String(); got != "192.168.1.1" {
		t.Errorf("unexpected src ip: %s", got)
	}
	if got := ev.DstIP().String(); got != "93.184.216.34" {
		t.Errorf("unexpected dst ip: %s", got)
	}
	if got := string(ev.Payload()); got != "hello" {
		t.Errorf("unexpected payload: %q", got)
	}
	if got := ev.FlagString(); got != "SA" {
		t.Errorf("unexpected flags: %q", got)
	}

	ev.Protocol = ProtocolUDP
	if got := ev.FlagString(); got != "" {
		t.Errorf("expected no flags for udp, got %q", got)
	}
}

func TestAddrConversion(t *testing.T) {
	tests := []struct {
		addr string
		want uint32
	}{
		{"0.0.0.0", 0},
		{"10.0.0.1", 0x0A000001},
		{"255.255.255.255", 0xFFFFFFFF},
		{"::ffff:192.168.1.1", 0xC0A80101},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v, ok := AddrToUint32(netip.MustParseAddr(tt.addr))
			if !ok || v != tt.want {
				t.Fatalf("AddrToUint32(%s) = %#x, %v", tt.addr, v, ok)
			}
			if got := AddrFromUint32(v); got != netip.MustParseAddr(tt.addr).Unmap() {
				t.Fatalf("round trip mismatch: %s", got)
			}
		})
	}

	if _, ok := AddrToUint32(netip.MustParseAddr("2001:db8::1")); ok {
		t.Error("expected ipv6 address to be rejected")
	}
	if _, ok := AddrToUint32(netip.Addr{}); ok {
		t.Error("expected invalid address to be rejected")
	}
}

func TestProtocol(t *testing.T) {
	names := map[Protocol]string{
		ProtocolTCP:  "TCP",
		ProtocolUDP:  "UDP",
		ProtocolICMP: "ICMP",
		47:           "OTHER",
	}
	for p, want := range names {
		if got := p.String(); got != want {
			t.Errorf("Protocol(%d).String() = %s, want %s", p, got, want)
		}
	}

	for in, want := range map[string]Protocol{"TCP": ProtocolTCP, "udp": ProtocolUDP, "icmp": ProtocolICMP, "all": ProtocolAny} {
		got, err := ParseProtocol(in)
		if err != nil || got != want {
			t.Errorf("ParseProtocol(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseProtocol("sctp"); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestFormatTCPFlags(t *testing.T) {
	tests := map[uint8]string{
		0:                          "-",
		TCPFlagSYN:                 "S",
		TCPFlagSYN | TCPFlagACK:    "SA",
		TCPFlagFIN | TCPFlagACK:    "FA",
		TCPFlagPSH | TCPFlagACK:    "PA",
		TCPFlagRST:                 "R",
		TCPFlagECE | TCPFlagCWR:    "EC",
	}
	for flags, want := range tests {
		if got := FormatTCPFlags(flags); got != want {
			t.Errorf("FormatTCPFlags(%#x) = %s, want %s", flags, got, want)
		}
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(errors.Join(errors.New("x"), ErrOutput)) {
		t.Error("expected output errors to be fatal")
	}
	if IsFatal(ErrUnparsed) {
		t.Error("expected decode errors to be non-fatal")
	}
}
