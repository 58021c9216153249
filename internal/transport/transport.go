// Package transport implements the per-CPU event channel between the capture
// probe and the consumers. Each logical CPU owns one single-producer
// single-consumer ring. A full ring drops the event and counts it; the
// producer never blocks.
package transport

import (
	"context"

	"firestige.xyz/netmon/internal/core"
)

// Publisher is the producer half of a channel, handed to the probe.
//
// Reserve returns the next free slot of cpu's ring, or nil when the ring is
// full (the drop is counted) or closed. Submit publishes the slot returned by
// the last Reserve on the same cpu; a slot that is never submitted is simply
// reused.
type Publisher interface {
	Reserve(cpu int) *core.Record
	Submit(cpu int)
}

// Stream is the consumer half of one CPU's ring.
type Stream interface {
	CPU() int
	// Read blocks until a record is available and copies it into rec.
	// It returns core.ErrClosed once the channel is drained or closed.
	Read(ctx context.Context, rec *core.Record) error
	Drops() uint64
}

// Channel is the set of per-CPU streams.
type Channel interface {
	Streams() []Stream
	// Drops returns the per-CPU overflow counters, indexed by CPU.
	Drops() []uint64
	// Drain makes readers return core.ErrClosed as soon as their ring is
	// empty. Records already buffered are still delivered.
	Drain()
	Close() error
}

// TotalDrops sums the per-CPU overflow counters of ch.
func TotalDrops(ch Channel) uint64 {
	var total uint64
	for _, d := range ch.Drops() {
		total += d
	}
	return total
}
