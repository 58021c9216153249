// Package pcapfile replays a capture file through the probe on a single
// virtual CPU. Unlike live capture the replay waits for the consumer instead
// of dropping, and the channel is drained at end of file.
package pcapfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/log"
	"firestige.xyz/netmon/internal/probe"
	"firestige.xyz/netmon/internal/transport"
)

const Name = "pcap"

// spaceRecheck is how often a replay parked on a full ring looks again.
const spaceRecheck = time.Millisecond

// packetReader is implemented by both pcapgo readers.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

type Source struct {
	path    string
	channel *transport.Local
	probe   *probe.Probe

	file   *os.File
	reader packetReader
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func New(cfg config.CaptureConfig, pc probe.Config) (*Source, error) {
	if cfg.Pcap.Path == "" {
		return nil, fmt.Errorf("%w: pcap backend needs a file path", core.ErrConfigInvalid)
	}
	ch, err := transport.NewLocal(1, cfg.RingCapacity)
	if err != nil {
		return nil, err
	}
	return &Source{
		path:    cfg.Pcap.Path,
		channel: ch,
		probe:   probe.New(ch, pc),
		done:    make(chan struct{}),
	}, nil
}

func (s *Source) Name() string { return Name }

func (s *Source) Channel() transport.Channel { return s.channel }

// Probe returns the probe the replay runs frames through.
func (s *Source) Probe() *probe.Probe { return s.probe }

// Done is closed when the replay has ended and the channel is drained.
func (s *Source) Done() <-chan struct{} { return s.done }

// Err returns the read error that ended the replay early, if any.
func (s *Source) Err() error {
	<-s.done
	return s.err
}

// Start opens the file and replays it in the background.
func (s *Source) Start(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", core.ErrAttach, s.path, err)
	}
	r, err := openReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %w", core.ErrAttach, s.path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return fmt.Errorf("%w: %s: link type %s, only ethernet is supported", core.ErrAttach, s.path, lt)
	}
	s.file = f
	s.reader = r

	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.replay(rctx)

	log.GetLogger().WithField("path", s.path).Info("pcap replay started")
	return nil
}

// openReader accepts classic pcap and pcapng.
func openReader(f *os.File) (packetReader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read file header: %w", err)
	}
	// Section header block type of pcapng.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Source) replay(ctx context.Context) {
	defer close(s.done)
	defer s.channel.Drain()

	ring := s.channel.Ring(0)
	ticker := time.NewTicker(spaceRecheck)
	defer ticker.Stop()

	var frames int
	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.err = fmt.Errorf("read %s: %w", s.path, err)
				log.GetLogger().WithError(err).Error("pcap replay failed")
			}
			break
		}
		if !waitForSpace(ctx, ring, ticker.C) {
			break
		}
		s.probe.HandleLen(0, data, ci.Length)
		frames++
	}

	st := s.probe.Stats()
	log.GetLogger().WithFields(map[string]interface{}{
		"frames":  frames,
		"emitted": st.Emitted,
		"skipped": st.Skipped,
	}).Info("pcap replay finished")
}

// waitForSpace blocks while the ring is full, rechecking on each tick. It
// reports false when ctx ends.
func waitForSpace(ctx context.Context, ring *transport.Ring, tick <-chan time.Time) bool {
	for ring.Len() >= ring.Cap() {
		select {
		case <-ctx.Done():
			return false
		case <-tick:
		}
	}
	return ctx.Err() == nil
}

// Detach stops the replay. Records already published stay readable.
func (s *Source) Detach() error {
	s.once.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
		s.file.Close()
	})
	return nil
}

func (s *Source) Close() error {
	if err := s.Detach(); err != nil {
		return err
	}
	return s.channel.Close()
}
