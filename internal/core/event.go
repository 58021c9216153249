package core

import (
	"net/netip"
	"time"
)

// Event is a decoded record on the consumer side, annotated with the CPU
// whose channel delivered it and the time it was consumed.
type Event struct {
	Record
	CPU       int
	Timestamp time.Time
}

// SrcIP returns the source address.
func (e *Event) SrcIP() netip.Addr {
	return AddrFromUint32(e.SrcAddr)
}

// DstIP returns the destination address.
func (e *Event) DstIP() netip.Addr {
	return AddrFromUint32(e.DstAddr)
}

// Payload returns the captured payload prefix. It never exposes bytes past
// the recorded payload length.
func (e *Event) Payload() []byte {
	return e.PayloadBytes()
}

// FlagString returns the TCP flags as letters, or "" for non-TCP events.
func (e *Event) FlagString() string {
	if e.Protocol != ProtocolTCP {
		return ""
	}
	return FormatTCPFlags(e.TCPFlags)
}

// AddrFromUint32 converts a numeric IPv4 value (first octet most significant).
func AddrFromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// AddrToUint32 converts an IPv4 address to its numeric value. It returns
// false for invalid or non-IPv4 addresses.
func AddrToUint32(a netip.Addr) (uint32, bool) {
	if !a.IsValid() {
		return 0, false
	}
	a = a.Unmap()
	if !a.Is4() {
		return 0, false
	}
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}
