// Package core defines the event record shared by the kernel probe and the
// user-space consumers, with zero external dependencies.
package core

import (
	"fmt"
	"strings"
)

// Protocol is the IP protocol number carried in an event record.
type Protocol uint8

const (
	// ProtocolAny is only meaningful as a filter value.
	ProtocolAny  Protocol = 0
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
)

// String returns the display name. Every unnamed protocol number is OTHER.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolICMP:
		return "ICMP"
	default:
		return "OTHER"
	}
}

// HasPorts reports whether events of this protocol carry port numbers.
func (p Protocol) HasPorts() bool {
	return p == ProtocolTCP || p == ProtocolUDP
}

// ParseProtocol parses a filter protocol name: tcp, udp, icmp or all.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "any":
		return ProtocolAny, nil
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	case "icmp":
		return ProtocolICMP, nil
	default:
		return ProtocolAny, fmt.Errorf("%w: unknown protocol %q (must be tcp/udp/icmp/all)", ErrConfigInvalid, s)
	}
}

// TCP flag bits as they appear in byte 13 of the TCP header.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
	TCPFlagECE
	TCPFlagCWR
)

var tcpFlagNames = [...]struct {
	bit  uint8
	name byte
}{
	{TCPFlagFIN, 'F'},
	{TCPFlagSYN, 'S'},
	{TCPFlagRST, 'R'},
	{TCPFlagPSH, 'P'},
	{TCPFlagACK, 'A'},
	{TCPFlagURG, 'U'},
	{TCPFlagECE, 'E'},
	{TCPFlagCWR, 'C'},
}

// FormatTCPFlags renders flag bits as letters in FSRPAUEC order, or "-" for none.
func FormatTCPFlags(flags uint8) string {
	if flags == 0 {
		return "-"
	}
	var b [8]byte
	n := 0
	for _, f := range tcpFlagNames {
		if flags&f.bit != 0 {
			b[n] = f.name
			n++
		}
	}
	return string(b[:n])
}
