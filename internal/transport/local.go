package transport

import (
	"fmt"

	"firestige.xyz/netmon/internal/core"
)

// Local is an in-process channel with one Ring per virtual CPU. It backs the
// user-space capture backends, where each capture worker acts as one CPU.
type Local struct {
	rings   []*Ring
	streams []Stream
}

// NewLocal creates cpus rings of the given capacity.
func NewLocal(cpus, capacity int) (*Local, error) {
	if cpus <= 0 {
		return nil, fmt.Errorf("%w: cpu count must be positive, got %d", core.ErrConfigInvalid, cpus)
	}
	l := &Local{
		rings:   make([]*Ring, cpus),
		streams: make([]Stream, cpus),
	}
	for i := range l.rings {
		r, err := NewRing(i, capacity)
		if err != nil {
			return nil, err
		}
		l.rings[i] = r
		l.streams[i] = r
	}
	return l, nil
}

// Ring returns the ring of cpu.
func (l *Local) Ring(cpu int) *Ring { return l.rings[cpu] }

// CPUs returns the number of rings.
func (l *Local) CPUs() int { return len(l.rings) }

func (l *Local) Reserve(cpu int) *core.Record {
	if cpu < 0 || cpu >= len(l.rings) {
		return nil
	}
	return l.rings[cpu].Reserve()
}

func (l *Local) Submit(cpu int) { l.rings[cpu].Submit() }

func (l *Local) Streams() []Stream { return l.streams }

func (l *Local) Drops() []uint64 {
	out := make([]uint64, len(l.rings))
	for i, r := range l.rings {
		out[i] = r.Drops()
	}
	return out
}

func (l *Local) Drain() {
	for _, r := range l.rings {
		r.Close()
	}
}

func (l *Local) Close() error {
	l.Drain()
	return nil
}

var (
	_ Publisher = (*Local)(nil)
	_ Channel   = (*Local)(nil)
	_ Stream    = (*Ring)(nil)
)
