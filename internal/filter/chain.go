package filter

import (
	"fmt"

	"firestige.xyz/netmon/internal/core"
)

// Predicate is one condition of a filter.
type Predicate interface {
	Name() string
	Match(ev *core.Event) bool
}

type protocolPredicate struct {
	proto core.Protocol
}

func (p protocolPredicate) Name() string { return "protocol" }

func (p protocolPredicate) Match(ev *core.Event) bool { return ev.Protocol == p.proto }

type addrPredicate struct {
	dst  bool
	addr uint32
}

func (p addrPredicate) Name() string {
	if p.dst {
		return "dst_ip"
	}
	return "src_ip"
}

func (p addrPredicate) Match(ev *core.Event) bool {
	if p.dst {
		return ev.DstAddr == p.addr
	}
	return ev.SrcAddr == p.addr
}

// portPredicate compares the port field of every event. ICMP and other
// protocols carry port 0, so they never satisfy a port predicate.
type portPredicate struct {
	dst  bool
	port uint16
}

func (p portPredicate) Name() string {
	if p.dst {
		return "dst_port"
	}
	return "src_port"
}

func (p portPredicate) Match(ev *core.Event) bool {
	if p.dst {
		return ev.DstPort == p.port
	}
	return ev.SrcPort == p.port
}

type sizePredicate struct {
	min, max uint32
}

func (p sizePredicate) Name() string { return fmt.Sprintf("size[%d,%d]", p.min, p.max) }

func (p sizePredicate) Match(ev *core.Event) bool {
	if ev.PacketLen < p.min {
		return false
	}
	return p.max == 0 || ev.PacketLen <= p.max
}

func buildPredicates(s Spec) []Predicate {
	var preds []Predicate
	if s.Protocol != core.ProtocolAny {
		preds = append(preds, protocolPredicate{proto: s.Protocol})
	}
	if v, ok := core.AddrToUint32(s.SrcIP); ok {
		preds = append(preds, addrPredicate{addr: v})
	}
	if v, ok := core.AddrToUint32(s.DstIP); ok {
		preds = append(preds, addrPredicate{dst: true, addr: v})
	}
	if s.SrcPort != 0 {
		preds = append(preds, portPredicate{port: s.SrcPort})
	}
	if s.DstPort != 0 {
		preds = append(preds, portPredicate{dst: true, port: s.DstPort})
	}
	if s.MinSize != 0 || s.MaxSize != 0 {
		preds = append(preds, sizePredicate{min: s.MinSize, max: s.MaxSize})
	}
	return preds
}
