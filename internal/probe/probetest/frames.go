// Package probetest builds Ethernet frames for tests of the capture path.
package probetest

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Frame describes one synthetic IPv4 frame.
type Frame struct {
	Protocol layers.IPProtocol
	Src, Dst string
	SrcPort  uint16
	DstPort  uint16
	// TCP only
	SYN, ACK, PSH, FIN, RST bool
	// Options appended to the TCP header, 4-byte aligned.
	TCPOptions []layers.TCPOption
	// IPv4 fragmentation fields
	Flags      layers.IPv4Flag
	FragOffset uint16
	Payload    []byte
}

// Build serializes the frame with lengths and checksums computed.
func (f Frame) Build() []byte {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:    4,
		TTL:        64,
		Protocol:   f.Protocol,
		SrcIP:      net.ParseIP(f.Src).To4(),
		DstIP:      net.ParseIP(f.Dst).To4(),
		Flags:      f.Flags,
		FragOffset: f.FragOffset,
	}

	var stack []gopacket.SerializableLayer
	stack = append(stack, eth, ip)

	switch f.Protocol {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(f.SrcPort),
			DstPort: layers.TCPPort(f.DstPort),
			Seq:     1000,
			Window:  65535,
			SYN:     f.SYN,
			ACK:     f.ACK,
			PSH:     f.PSH,
			FIN:     f.FIN,
			RST:     f.RST,
			Options: f.TCPOptions,
		}
		_ = tcp.SetNetworkLayerForChecksum(ip)
		stack = append(stack, tcp)
	case layers.IPProtocolUDP:
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(f.SrcPort),
			DstPort: layers.UDPPort(f.DstPort),
		}
		_ = udp.SetNetworkLayerForChecksum(ip)
		stack = append(stack, udp)
	case layers.IPProtocolICMPv4:
		stack = append(stack, &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       1,
			Seq:      1,
		})
	}
	stack = append(stack, gopacket.Payload(f.Payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// TCP returns a TCP frame.
func TCP(src string, sport uint16, dst string, dport uint16, payload []byte) Frame {
	return Frame{Protocol: layers.IPProtocolTCP, Src: src, Dst: dst, SrcPort: sport, DstPort: dport, ACK: true, PSH: len(payload) > 0, Payload: payload}
}

// UDP returns a UDP frame.
func UDP(src string, sport uint16, dst string, dport uint16, payload []byte) Frame {
	return Frame{Protocol: layers.IPProtocolUDP, Src: src, Dst: dst, SrcPort: sport, DstPort: dport, Payload: payload}
}

// ICMP returns an ICMP echo request frame.
func ICMP(src, dst string, payload []byte) Frame {
	return Frame{Protocol: layers.IPProtocolICMPv4, Src: src, Dst: dst, Payload: payload}
}
