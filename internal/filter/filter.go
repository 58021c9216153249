// Package filter implements the stateless event filter: a conjunction of
// optional predicates over the event header fields.
package filter

import (
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/netmon/internal/core"
)

// Spec is the user filter. Zero values mean "any": ProtocolAny, an invalid
// address, port 0 and size 0.
type Spec struct {
	Protocol core.Protocol
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	MinSize  uint32
	MaxSize  uint32
}

// Validate checks that addresses are IPv4 and the size bounds are ordered.
func (s Spec) Validate() error {
	if s.SrcIP.IsValid() && !s.SrcIP.Unmap().Is4() {
		return fmt.Errorf("%w: src ip %s is not IPv4", core.ErrConfigInvalid, s.SrcIP)
	}
	if s.DstIP.IsValid() && !s.DstIP.Unmap().Is4() {
		return fmt.Errorf("%w: dst ip %s is not IPv4", core.ErrConfigInvalid, s.DstIP)
	}
	if s.MinSize > 0 && s.MaxSize > 0 && s.MinSize > s.MaxSize {
		return fmt.Errorf("%w: min size %d exceeds max size %d", core.ErrConfigInvalid, s.MinSize, s.MaxSize)
	}
	return nil
}

// IsEmpty reports whether the spec accepts every event.
func (s Spec) IsEmpty() bool {
	return s == Spec{}
}

func (s Spec) String() string {
	if s.IsEmpty() {
		return "any"
	}
	var parts []string
	if s.Protocol != core.ProtocolAny {
		parts = append(parts, "proto="+strings.ToLower(s.Protocol.String()))
	}
	if s.SrcIP.IsValid() {
		parts = append(parts, "src="+s.SrcIP.String())
	}
	if s.DstIP.IsValid() {
		parts = append(parts, "dst="+s.DstIP.String())
	}
	if s.SrcPort != 0 {
		parts = append(parts, fmt.Sprintf("sport=%d", s.SrcPort))
	}
	if s.DstPort != 0 {
		parts = append(parts, fmt.Sprintf("dport=%d", s.DstPort))
	}
	if s.MinSize != 0 {
		parts = append(parts, fmt.Sprintf("min=%d", s.MinSize))
	}
	if s.MaxSize != 0 {
		parts = append(parts, fmt.Sprintf("max=%d", s.MaxSize))
	}
	return strings.Join(parts, " ")
}

// Filter evaluates the predicates present in a Spec. It holds no state
// besides the spec and is safe for concurrent use.
type Filter struct {
	spec  Spec
	preds []Predicate
}

// New builds the predicate list for spec once.
func New(spec Spec) *Filter {
	return &Filter{spec: spec, preds: buildPredicates(spec)}
}

// Match reports whether ev satisfies every present predicate. Evaluation
// stops at the first predicate that fails.
func (f *Filter) Match(ev *core.Event) bool {
	for _, p := range f.preds {
		if !p.Match(ev) {
			return false
		}
	}
	return true
}

// Spec returns the spec the filter was built from.
func (f *Filter) Spec() Spec { return f.spec }

// Predicates returns the present predicates in evaluation order.
func (f *Filter) Predicates() []Predicate { return f.preds }
