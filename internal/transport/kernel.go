package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"firestige.xyz/netmon/internal/core"
)

// Kernel is the channel fed by the XDP probe: one BPF ring buffer per
// possible CPU, read through epoll by cilium/ebpf, plus the per-CPU drop
// counter the probe increments when a reservation fails.
type Kernel struct {
	streams []*kernelStream
	iface   []Stream
	drops   *ebpf.Map

	closeOnce sync.Once
	closeErr  error
}

type kernelStream struct {
	cpu    int
	reader *ringbuf.Reader
	buf    ringbuf.Record
	owner  *Kernel
}

// NewKernel opens one reader per inner ring map. rings[i] must be the ring
// the probe selects on CPU i.
func NewKernel(rings []*ebpf.Map, drops *ebpf.Map) (*Kernel, error) {
	k := &Kernel{drops: drops}
	for cpu, m := range rings {
		rd, err := ringbuf.NewReader(m)
		if err != nil {
			_ = k.Close()
			return nil, fmt.Errorf("create ringbuf reader for cpu %d: %w", cpu, err)
		}
		s := &kernelStream{cpu: cpu, reader: rd, owner: k}
		k.streams = append(k.streams, s)
		k.iface = append(k.iface, s)
	}
	return k, nil
}

func (k *Kernel) Streams() []Stream { return k.iface }

// Drops reads the per-CPU drop array.
func (k *Kernel) Drops() []uint64 {
	out := make([]uint64, len(k.streams))
	if k.drops == nil {
		return out
	}
	var perCPU []uint64
	if err := k.drops.Lookup(uint32(0), &perCPU); err != nil {
		return out
	}
	copy(out, perCPU)
	return out
}

// Drain sets a deadline in the past on every reader. Readers keep returning
// buffered samples and then report the deadline, which ends the stream.
func (k *Kernel) Drain() {
	now := time.Now()
	for _, s := range k.streams {
		s.reader.SetDeadline(now)
	}
}

func (k *Kernel) Close() error {
	k.closeOnce.Do(func() {
		var errs []error
		for _, s := range k.streams {
			if err := s.reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		k.closeErr = errors.Join(errs...)
	})
	return k.closeErr
}

func (s *kernelStream) CPU() int { return s.cpu }

func (s *kernelStream) Drops() uint64 {
	d := s.owner.Drops()
	if s.cpu < len(d) {
		return d[s.cpu]
	}
	return 0
}

// Read blocks in epoll until the ring has data. Cancellation is delivered by
// Drain or Close, which the consumer group triggers when its context ends.
func (s *kernelStream) Read(ctx context.Context, rec *core.Record) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.reader.ReadInto(&s.buf)
		switch {
		case err == nil:
		case errors.Is(err, ringbuf.ErrClosed), errors.Is(err, os.ErrDeadlineExceeded):
			return core.ErrClosed
		default:
			return fmt.Errorf("read ringbuf cpu %d: %w", s.cpu, err)
		}
		if err := core.DecodeInto(s.buf.RawSample, rec); err != nil {
			// A malformed sample is skipped, the stream stays healthy.
			continue
		}
		return nil
	}
}

var _ Channel = (*Kernel)(nil)
