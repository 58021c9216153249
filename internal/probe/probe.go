package probe

import (
	"sync/atomic"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/transport"
)

// Verdict is the packet disposition returned to the capture hook.
type Verdict uint32

// VerdictPass matches XDP_PASS. The probe never returns anything else.
const VerdictPass Verdict = 2

// Config holds the probe settings.
type Config struct {
	// PayloadBytes is the payload prefix copied into each record, in
	// [1, core.PayloadCapacity].
	PayloadBytes int
}

// Probe turns frames into records published on a per-CPU transport.
type Probe struct {
	pub          transport.Publisher
	payloadBytes int

	emitted  atomic.Uint64
	skipped  atomic.Uint64
	overflow atomic.Uint64
}

// Bytes returns the effective payload prefix length. Zero selects
// core.DefaultPayloadBytes.
func (c Config) Bytes() int {
	if c.PayloadBytes == 0 {
		return core.DefaultPayloadBytes
	}
	return clampPayload(c.PayloadBytes)
}

// New creates a probe publishing to pub.
func New(pub transport.Publisher, cfg Config) *Probe {
	return &Probe{pub: pub, payloadBytes: cfg.Bytes()}
}

// Handle processes one frame seen on cpu. Malformed frames emit nothing, a
// full ring drops the event; the frame passes either way.
func (p *Probe) Handle(cpu int, frame []byte) Verdict {
	return p.HandleLen(cpu, frame, len(frame))
}

// HandleLen is Handle for a frame cut to a snap length. wireLen is the
// length of the packet on the wire and becomes the record's packet length;
// values below len(frame) are ignored.
func (p *Probe) HandleLen(cpu int, frame []byte, wireLen int) Verdict {
	h, err := parseHeader(frame)
	if err != nil {
		p.skipped.Add(1)
		return VerdictPass
	}
	if wireLen > h.frameLen {
		h.frameLen = wireLen
	}
	rec := p.pub.Reserve(cpu)
	if rec == nil {
		p.overflow.Add(1)
		return VerdictPass
	}
	h.fill(rec, frame, p.payloadBytes)
	p.pub.Submit(cpu)
	p.emitted.Add(1)
	return VerdictPass
}

// Stats is a snapshot of probe counters.
type Stats struct {
	Emitted  uint64
	Skipped  uint64
	Overflow uint64
}

// Stats returns the probe counters.
func (p *Probe) Stats() Stats {
	return Stats{
		Emitted:  p.emitted.Load(),
		Skipped:  p.skipped.Load(),
		Overflow: p.overflow.Load(),
	}
}
