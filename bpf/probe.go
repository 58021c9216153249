//go:build tinygo

// Compiled by TinyGo; see probe_stub.go for the standard-Go placeholder.
// internal/probe implements the same steps for the user-space backends.
package main

import "unsafe"

const (
	ethPIPv4 = 0x0800

	ipProtoICMP = 1
	ipProtoTCP  = 6
	ipProtoUDP  = 17

	xdpPass = 2

	bpfMapTypeArray       = 2
	bpfMapTypePercpuArray = 6
	bpfMapTypeArrayOfMaps = 12

	payloadCapacity     = 256
	defaultPayloadBytes = 128
)

type bpfMapDef struct {
	Type       uint32
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	MapFlags   uint32
}

// events holds one ring buffer per possible CPU. The loader sizes the outer
// map and fills it, so the entry count here is a placeholder.
var events = bpfMapDef{
	Type:       bpfMapTypeArrayOfMaps,
	KeySize:    4,
	ValueSize:  4,
	MaxEntries: 1,
}

// drops counts failed ring reservations per CPU.
var drops = bpfMapDef{
	Type:       bpfMapTypePercpuArray,
	KeySize:    4,
	ValueSize:  8,
	MaxEntries: 1,
}

// config is written once by the loader before attach.
var config = bpfMapDef{
	Type:       bpfMapTypeArray,
	KeySize:    4,
	ValueSize:  uint32(unsafe.Sizeof(probeConfig{})),
	MaxEntries: 1,
}

type probeConfig struct {
	PayloadBytes uint32
	Enabled      uint8
	Protocol     uint8
	_            [2]uint8
	SrcAddr      uint32
	DstAddr      uint32
	SrcPort      uint16
	DstPort      uint16
	MinSize      uint32
	MaxSize      uint32
}

// record is read by user space as little-endian; addresses and ports are
// stored in host order.
type record struct {
	Protocol   uint8
	_          [3]uint8
	SrcAddr    uint32
	DstAddr    uint32
	SrcPort    uint16
	DstPort    uint16
	PacketLen  uint32
	TCPFlags   uint8
	_          [3]uint8
	PayloadLen uint32
	Payload    [payloadCapacity]byte
}

type ethhdr struct {
	DstMAC [6]byte
	SrcMAC [6]byte
	Proto  uint16
}

type iphdr struct {
	VersionIHL uint8
	TOS        uint8
	TotLen     uint16
	ID         uint16
	FragOff    uint16
	TTL        uint8
	Protocol   uint8
	Check      uint16
	SrcAddr    uint32
	DstAddr    uint32
}

type tcphdr struct {
	Source  uint16
	Dest    uint16
	Seq     uint32
	AckSeq  uint32
	DataOff uint8
	Flags   uint8
	Window  uint16
	Check   uint16
	UrgPtr  uint16
}

type udphdr struct {
	Source uint16
	Dest   uint16
	Len    uint16
	Check  uint16
}

type xdpMD struct {
	Data           uint32
	DataEnd        uint32
	DataMeta       uint32
	IngressIfindex uint32
	RxQueueIndex   uint32
	EgressIfindex  uint32
}

//go:extern bpf_map_lookup_elem
func bpfMapLookupElem(mapPtr unsafe.Pointer, key unsafe.Pointer) unsafe.Pointer

//go:extern bpf_get_smp_processor_id
func bpfGetSmpProcessorID() uint32

//go:extern bpf_ringbuf_reserve
func bpfRingbufReserve(mapPtr unsafe.Pointer, size uint64, flags uint64) unsafe.Pointer

//go:extern bpf_ringbuf_submit
func bpfRingbufSubmit(data unsafe.Pointer, flags uint64)

//go:extern bpf_xdp_load_bytes
func bpfXdpLoadBytes(ctx unsafe.Pointer, offset uint32, buf unsafe.Pointer, size uint32) int64

// netmon_xdp turns every IPv4 packet into a record on the ring of the
// current CPU. It never alters delivery.
//
//export netmon_xdp
func netmon_xdp(ctx unsafe.Pointer) int32 {
	md := (*xdpMD)(ctx)
	frameLen := md.DataEnd - md.Data

	// Step 1: Ethernet
	ethSize := uint32(unsafe.Sizeof(ethhdr{}))
	if md.Data+ethSize > md.DataEnd {
		return xdpPass
	}
	eth := (*ethhdr)(unsafe.Pointer(uintptr(md.Data)))
	if ntohs(eth.Proto) != ethPIPv4 {
		return xdpPass
	}

	// Step 2: IPv4
	ipOff := md.Data + ethSize
	ipSize := uint32(unsafe.Sizeof(iphdr{}))
	if ipOff+ipSize > md.DataEnd {
		return xdpPass
	}
	ip := (*iphdr)(unsafe.Pointer(uintptr(ipOff)))
	if ip.VersionIHL>>4 != 4 {
		return xdpPass
	}
	ihl := uint32(ip.VersionIHL&0x0F) * 4
	if ihl < ipSize || ipOff+ihl > md.DataEnd {
		return xdpPass
	}
	if ntohs(ip.FragOff)&0x3FFF != 0 {
		return xdpPass
	}
	end := md.DataEnd
	if total := uint32(ntohs(ip.TotLen)); total >= ihl && ipOff+total < end {
		end = ipOff + total
	}

	var sport, dport uint16
	var flags uint8

	// Step 3: transport
	l4Off := ipOff + ihl
	payloadOff := l4Off
	switch ip.Protocol {
	case ipProtoTCP:
		tcpSize := uint32(unsafe.Sizeof(tcphdr{}))
		if l4Off+tcpSize > md.DataEnd {
			return xdpPass
		}
		tcp := (*tcphdr)(unsafe.Pointer(uintptr(l4Off)))
		doff := uint32(tcp.DataOff>>4) * 4
		if doff < tcpSize || l4Off+doff > md.DataEnd {
			return xdpPass
		}
		sport, dport = ntohs(tcp.Source), ntohs(tcp.Dest)
		flags = tcp.Flags
		payloadOff += doff
	case ipProtoUDP:
		udpSize := uint32(unsafe.Sizeof(udphdr{}))
		if l4Off+udpSize > md.DataEnd {
			return xdpPass
		}
		udp := (*udphdr)(unsafe.Pointer(uintptr(l4Off)))
		sport, dport = ntohs(udp.Source), ntohs(udp.Dest)
		payloadOff += udpSize
	case ipProtoICMP:
		if l4Off+4 > md.DataEnd {
			return xdpPass
		}
		payloadOff += 4
	}

	key := uint32(0)
	cfg := (*probeConfig)(bpfMapLookupElem(unsafe.Pointer(&config), unsafe.Pointer(&key)))
	if cfg == nil {
		return xdpPass
	}
	src, dst := ntohl(ip.SrcAddr), ntohl(ip.DstAddr)
	if cfg.Enabled != 0 && !prefilter(cfg, ip.Protocol, src, dst, sport, dport, frameLen) {
		return xdpPass
	}

	// Step 4: reserve on this CPU's ring
	cpu := bpfGetSmpProcessorID()
	ring := bpfMapLookupElem(unsafe.Pointer(&events), unsafe.Pointer(&cpu))
	if ring == nil {
		return xdpPass
	}
	rec := (*record)(bpfRingbufReserve(ring, uint64(unsafe.Sizeof(record{})), 0))
	if rec == nil {
		if cnt := (*uint64)(bpfMapLookupElem(unsafe.Pointer(&drops), unsafe.Pointer(&key))); cnt != nil {
			*cnt++
		}
		return xdpPass
	}

	rec.Protocol = ip.Protocol
	rec.SrcAddr = src
	rec.DstAddr = dst
	rec.SrcPort = sport
	rec.DstPort = dport
	rec.PacketLen = frameLen
	rec.TCPFlags = flags

	// Step 5: payload prefix
	n := cfg.PayloadBytes
	if n == 0 {
		n = defaultPayloadBytes
	}
	if n > payloadCapacity {
		n = payloadCapacity
	}
	if payloadOff >= end {
		n = 0
	} else if avail := end - payloadOff; avail < n {
		n = avail
	}
	n &= 0x1FF
	if n > payloadCapacity {
		n = 0
	}
	if n > 0 && bpfXdpLoadBytes(ctx, payloadOff-md.Data, unsafe.Pointer(&rec.Payload), n) != 0 {
		n = 0
	}
	rec.PayloadLen = n

	bpfRingbufSubmit(unsafe.Pointer(rec), 0)
	return xdpPass
}

// prefilter applies the kernel copy of the filter predicates. Port
// predicates reject protocols without ports.
func prefilter(cfg *probeConfig, proto uint8, src, dst uint32, sport, dport uint16, size uint32) bool {
	if cfg.Protocol != 0 && cfg.Protocol != proto {
		return false
	}
	if cfg.SrcAddr != 0 && cfg.SrcAddr != src {
		return false
	}
	if cfg.DstAddr != 0 && cfg.DstAddr != dst {
		return false
	}
	hasPorts := proto == ipProtoTCP || proto == ipProtoUDP
	if cfg.SrcPort != 0 && (!hasPorts || cfg.SrcPort != sport) {
		return false
	}
	if cfg.DstPort != 0 && (!hasPorts || cfg.DstPort != dport) {
		return false
	}
	if cfg.MinSize != 0 && size < cfg.MinSize {
		return false
	}
	if cfg.MaxSize != 0 && size > cfg.MaxSize {
		return false
	}
	return true
}

func ntohs(v uint16) uint16 {
	return (v >> 8) | (v << 8)
}

func ntohl(v uint32) uint32 {
	return (v>>24)&0xFF | (v>>8)&0xFF00 | (v<<8)&0xFF0000 | v<<24
}

func main() {}
