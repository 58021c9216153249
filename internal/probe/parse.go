// Package probe implements the capture probe in Go. It mirrors the XDP
// program in bpf/probe.go step for step and is used by the user-space
// capture backends: bounded work per packet, no allocation, and every
// packet passes regardless of the outcome.
package probe

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/netmon/internal/core"
)

const (
	ethHeaderLen     = 14
	ipv4HeaderMinLen = 20
	tcpHeaderMinLen  = 20
	udpHeaderLen     = 8
	icmpHeaderLen    = 4

	etherTypeIPv4 = 0x0800
)

// header carries the fields validated before a ring slot is reserved.
type header struct {
	proto      core.Protocol
	src, dst   uint32
	sport      uint16
	dport      uint16
	flags      uint8
	payloadOff int
	payloadEnd int
	frameLen   int
}

// parseHeader walks Ethernet, IPv4 and the transport header. Frames that
// are not IPv4, are fragmented, or are too short for a header they announce
// produce an error wrapping core.ErrCaptureParse.
func parseHeader(frame []byte) (header, error) {
	var h header
	h.frameLen = len(frame)

	// Step 1: Ethernet
	if len(frame) < ethHeaderLen {
		return h, fmt.Errorf("%w: short ethernet header (%d bytes)", core.ErrCaptureParse, len(frame))
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherTypeIPv4 {
		return h, fmt.Errorf("%w: not ipv4", core.ErrCaptureParse)
	}

	// Step 2: IPv4
	ip := frame[ethHeaderLen:]
	if len(ip) < ipv4HeaderMinLen {
		return h, fmt.Errorf("%w: short ipv4 header", core.ErrCaptureParse)
	}
	if ip[0]>>4 != 4 {
		return h, fmt.Errorf("%w: ip version %d", core.ErrCaptureParse, ip[0]>>4)
	}
	ihl := int(ip[0]&0x0F) * 4
	if ihl < ipv4HeaderMinLen || len(ip) < ihl {
		return h, fmt.Errorf("%w: bad ipv4 header length %d", core.ErrCaptureParse, ihl)
	}
	if isIPFragment(ip) {
		return h, fmt.Errorf("%w: ipv4 fragment", core.ErrCaptureParse)
	}
	// Link-layer padding past the IP total length is not payload.
	if total := int(binary.BigEndian.Uint16(ip[2:4])); total >= ihl && total < len(ip) {
		ip = ip[:total]
	}
	h.proto = core.Protocol(ip[9])
	h.src = binary.BigEndian.Uint32(ip[12:16])
	h.dst = binary.BigEndian.Uint32(ip[16:20])

	// Step 3: transport
	l4 := ip[ihl:]
	off := ethHeaderLen + ihl
	switch h.proto {
	case core.ProtocolTCP:
		if len(l4) < tcpHeaderMinLen {
			return h, fmt.Errorf("%w: short tcp header", core.ErrCaptureParse)
		}
		doff := int(l4[12]>>4) * 4
		if doff < tcpHeaderMinLen || len(l4) < doff {
			return h, fmt.Errorf("%w: bad tcp data offset %d", core.ErrCaptureParse, doff)
		}
		h.sport = binary.BigEndian.Uint16(l4[0:2])
		h.dport = binary.BigEndian.Uint16(l4[2:4])
		h.flags = l4[13]
		off += doff
	case core.ProtocolUDP:
		if len(l4) < udpHeaderLen {
			return h, fmt.Errorf("%w: short udp header", core.ErrCaptureParse)
		}
		h.sport = binary.BigEndian.Uint16(l4[0:2])
		h.dport = binary.BigEndian.Uint16(l4[2:4])
		off += udpHeaderLen
	case core.ProtocolICMP:
		if len(l4) < icmpHeaderLen {
			return h, fmt.Errorf("%w: short icmp header", core.ErrCaptureParse)
		}
		off += icmpHeaderLen
	}
	h.payloadOff = off
	h.payloadEnd = ethHeaderLen + len(ip)
	return h, nil
}

// fill writes the header and at most maxPayload payload bytes into rec.
func (h *header) fill(rec *core.Record, frame []byte, maxPayload int) {
	rec.Protocol = h.proto
	rec.SrcAddr = h.src
	rec.DstAddr = h.dst
	rec.SrcPort = h.sport
	rec.DstPort = h.dport
	rec.PacketLen = uint32(h.frameLen)
	rec.TCPFlags = h.flags

	n := clampPayload(maxPayload)
	if avail := h.payloadEnd - h.payloadOff; avail < n {
		n = avail
	}
	if n < 0 {
		n = 0
	}
	rec.PayloadLen = uint32(copy(rec.Payload[:n], frame[h.payloadOff:h.payloadOff+n]))
}

// Parse fills rec from an Ethernet frame, copying at most maxPayload payload
// bytes. Fields of rec are only written when err is nil.
func Parse(frame []byte, maxPayload int, rec *core.Record) error {
	h, err := parseHeader(frame)
	if err != nil {
		return err
	}
	h.fill(rec, frame, maxPayload)
	return nil
}

// isIPFragment checks the MF flag and the fragment offset.
func isIPFragment(ip []byte) bool {
	flagsOffset := binary.BigEndian.Uint16(ip[6:8])
	moreFragments := flagsOffset&0x2000 != 0
	fragmentOffset := flagsOffset & 0x1FFF
	return moreFragments || fragmentOffset != 0
}

func clampPayload(n int) int {
	switch {
	case n <= 0:
		return 0
	case n > core.PayloadCapacity:
		return core.PayloadCapacity
	default:
		return n
	}
}
