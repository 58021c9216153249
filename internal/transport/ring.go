package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"firestige.xyz/netmon/internal/core"
)

const cacheLine = 64

// Ring is a fixed-capacity lock-free SPSC ring of records.
// Exactly one goroutine may reserve and submit, exactly one may read.
type Ring struct {
	cpu   int
	mask  uint64
	slots []core.Record

	_    [cacheLine]byte
	head atomic.Uint64 // next slot to read, owned by the consumer
	_    [cacheLine - 8]byte
	tail atomic.Uint64 // next slot to fill, owned by the producer
	_    [cacheLine - 8]byte

	drops  atomic.Uint64
	notify chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// NewRing creates a ring for cpu holding at least capacity records.
// The capacity is rounded up to a power of two.
func NewRing(cpu, capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: ring capacity must be positive, got %d", core.ErrConfigInvalid, capacity)
	}
	size := nextPowerOfTwo(uint64(capacity))
	return &Ring{
		cpu:    cpu,
		mask:   size - 1,
		slots:  make([]core.Record, size),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// CPU returns the CPU this ring belongs to.
func (r *Ring) CPU() int { return r.cpu }

// Cap returns the number of slots.
func (r *Ring) Cap() int { return len(r.slots) }

// Len returns the number of buffered records.
func (r *Ring) Len() int { return int(r.tail.Load() - r.head.Load()) }

// Drops returns the number of events dropped because the ring was full.
func (r *Ring) Drops() uint64 { return r.drops.Load() }

// Reserve returns the slot the next Submit will publish, or nil when the
// ring is full or closed.
func (r *Ring) Reserve() *core.Record {
	if r.closed.Load() {
		return nil
	}
	tail := r.tail.Load()
	if tail-r.head.Load() > r.mask {
		r.drops.Add(1)
		return nil
	}
	return &r.slots[tail&r.mask]
}

// Submit publishes the reserved slot and wakes the consumer.
func (r *Ring) Submit() {
	r.tail.Store(r.tail.Load() + 1)
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Push copies rec into the ring. It reports false when the record was dropped.
func (r *Ring) Push(rec *core.Record) bool {
	slot := r.Reserve()
	if slot == nil {
		return false
	}
	*slot = *rec
	r.Submit()
	return true
}

// Read blocks until a record is available, without polling.
func (r *Ring) Read(ctx context.Context, rec *core.Record) error {
	for {
		head := r.head.Load()
		if head != r.tail.Load() {
			*rec = r.slots[head&r.mask]
			r.head.Store(head + 1)
			return nil
		}
		if r.closed.Load() {
			// The producer may have submitted between the two loads.
			if head == r.tail.Load() {
				return core.ErrClosed
			}
			continue
		}
		select {
		case <-r.notify:
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting records. Buffered records are still readable.
func (r *Ring) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})
}

func nextPowerOfTwo(v uint64) uint64 {
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}
