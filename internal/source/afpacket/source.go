// Package afpacket is the user-space capture backend for interfaces or
// kernels without XDP. Each worker owns one TPACKET_V3 socket in a fanout
// group and acts as one virtual CPU: it runs the probe on every frame and
// publishes into its own ring.
package afpacket

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/log"
	"firestige.xyz/netmon/internal/metrics"
	"firestige.xyz/netmon/internal/probe"
	"firestige.xyz/netmon/internal/transport"
)

const Name = "afpacket"

type Source struct {
	device      string
	workers     int
	fanoutID    uint16
	frameSize   int
	blockSize   int
	numBlocks   int
	snapLen     int
	pollTimeout time.Duration
	spec        filter.Spec

	channel *transport.Local
	probe   *probe.Probe

	handles []*afpacket.TPacket
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func New(cfg config.CaptureConfig, pc probe.Config, spec filter.Spec) (*Source, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: afpacket backend needs an interface", core.ErrConfigInvalid)
	}
	ac := cfg.AFPacket
	frameSize, blockSize, numBlocks, err := recomputeSize(ac.RingMB, ac.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	workers := workerCount(ac.Workers)
	ch, err := transport.NewLocal(workers, cfg.RingCapacity)
	if err != nil {
		return nil, err
	}
	pollTimeout := ac.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 100 * time.Millisecond
	}
	return &Source{
		device:      cfg.Interface,
		workers:     workers,
		fanoutID:    ac.FanoutID,
		frameSize:   frameSize,
		blockSize:   blockSize,
		numBlocks:   numBlocks,
		snapLen:     ac.SnapLen,
		pollTimeout: pollTimeout,
		spec:        spec,
		channel:     ch,
		probe:       probe.New(ch, pc),
	}, nil
}

func (s *Source) Name() string { return Name }

func (s *Source) Channel() transport.Channel { return s.channel }

// Probe returns the probe shared by the workers.
func (s *Source) Probe() *probe.Probe { return s.probe }

// Start opens one socket per worker and starts reading.
func (s *Source) Start(ctx context.Context) error {
	prefilter, err := s.spec.Compile(uint32(s.snapLen))
	if err != nil {
		return fmt.Errorf("%w: compile prefilter: %w", core.ErrAttach, err)
	}

	for i := 0; i < s.workers; i++ {
		tp, err := s.open(prefilter)
		if err != nil {
			s.closeHandles()
			return fmt.Errorf("%w: afpacket worker %d on %s: %w", core.ErrAttach, i, s.device, err)
		}
		s.handles = append(s.handles, tp)
	}

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for cpu, tp := range s.handles {
		s.wg.Add(1)
		go s.worker(wctx, cpu, tp)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"iface":      s.device,
		"workers":    s.workers,
		"frame_size": s.frameSize,
		"block_size": s.blockSize,
		"blocks":     s.numBlocks,
	}).Info("afpacket capture started")
	metrics.ProbeAttached.WithLabelValues(Name, s.device, "fanout").Set(1)
	return nil
}

func (s *Source) open(prefilter []bpf.RawInstruction) (*afpacket.TPacket, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.device),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.pollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, err
	}
	if s.workers > 1 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, s.fanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("join fanout group %d: %w", s.fanoutID, err)
		}
	}
	if len(prefilter) > 0 {
		if err := tp.SetBPF(prefilter); err != nil {
			tp.Close()
			return nil, fmt.Errorf("set prefilter: %w", err)
		}
	}
	return tp, nil
}

func (s *Source) worker(ctx context.Context, cpu int, tp *afpacket.TPacket) {
	defer s.wg.Done()
	logger := log.GetLogger().WithField("cpu", cpu)

	for ctx.Err() == nil {
		data, ci, err := tp.ZeroCopyReadPacketData()
		switch {
		case err == nil:
			s.probe.HandleLen(cpu, data, ci.Length)
		case errors.Is(err, afpacket.ErrTimeout), errors.Is(err, afpacket.ErrPoll):
		default:
			logger.WithError(err).Error("afpacket read failed, stopping worker")
			return
		}
	}
}

// Detach stops the workers and closes the sockets. The rings keep what has
// been published.
func (s *Source) Detach() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.logSocketStats()
		s.closeHandles()
		metrics.ProbeAttached.WithLabelValues(Name, s.device, "fanout").Set(0)
	})
	return nil
}

func (s *Source) Close() error {
	if err := s.Detach(); err != nil {
		return err
	}
	return s.channel.Close()
}

func (s *Source) logSocketStats() {
	var packets, drops uint
	for _, tp := range s.handles {
		_, v3, err := tp.SocketStats()
		if err != nil {
			continue
		}
		packets += v3.Packets()
		drops += v3.Drops()
	}
	st := s.probe.Stats()
	log.GetLogger().WithFields(map[string]interface{}{
		"socket_packets": packets,
		"socket_drops":   drops,
		"emitted":        st.Emitted,
		"skipped":        st.Skipped,
		"overflow":       st.Overflow,
	}).Info("afpacket capture stopped")
}

func (s *Source) closeHandles() {
	for _, tp := range s.handles {
		tp.Close()
	}
	s.handles = nil
}
