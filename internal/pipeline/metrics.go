package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters. Events the filter rejects are not
// counted on their own; they are the difference between Received and Matched.
type Metrics struct {
	CPU int

	Received    atomic.Uint64
	Matched     atomic.Uint64
	Unparsed    atomic.Uint64
	Written     atomic.Uint64
	WriteErrors atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(cpu int) *Metrics {
	return &Metrics{CPU: cpu}
}

// Snapshot loads every counter.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		CPU:         m.CPU,
		Received:    m.Received.Load(),
		Matched:     m.Matched.Load(),
		Unparsed:    m.Unparsed.Load(),
		Written:     m.Written.Load(),
		WriteErrors: m.WriteErrors.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	CPU         int
	Received    uint64
	Matched     uint64
	Unparsed    uint64
	Written     uint64
	WriteErrors uint64
	// Drops is the transport overflow count of the stream's ring.
	Drops uint64
}

// Discarded is the number of events rejected by the filter.
func (s Stats) Discarded() uint64 { return s.Received - s.Matched }

// Add accumulates o into s. The CPU field is left as is.
func (s *Stats) Add(o Stats) {
	s.Received += o.Received
	s.Matched += o.Matched
	s.Unparsed += o.Unparsed
	s.Written += o.Written
	s.WriteErrors += o.WriteErrors
	s.Drops += o.Drops
}
