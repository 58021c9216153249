// Package sink writes rendered events to their destination. Writes are
// serialized per sink so units from different consumers never interleave.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
)

// Sink receives one rendered unit per event. ev is the event the unit was
// rendered from; sinks that only need the bytes ignore it. Implementations
// are safe for concurrent use.
type Sink interface {
	Write(ev *core.Event, unit []byte) error
	Close() error
}

// New creates the sink selected by cfg.Type.
func New(cfg config.OutputConfig) (Sink, error) {
	switch cfg.Type {
	case "", "stdout":
		return Serialized(os.Stdout), nil
	case "file":
		return NewFile(cfg.File), nil
	case "kafka":
		return NewKafka(cfg.Kafka)
	default:
		return nil, fmt.Errorf("%w: unknown output type %q", core.ErrConfigInvalid, cfg.Type)
	}
}

// WriterSink serializes units onto an io.Writer.
type WriterSink struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	closer io.Closer
}

// Serialized wraps w. Each unit is written and flushed under one lock.
func Serialized(w io.Writer) *WriterSink {
	s := &WriterSink{buf: bufio.NewWriterSize(w, 64*1024)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.closer = c
	}
	return s
}

// NewFile writes units to a rotated file.
func NewFile(cfg config.FileSinkConfig) *WriterSink {
	return Serialized(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.Rotation.MaxSizeMB,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAgeDays,
		Compress:   cfg.Rotation.Compress,
	})
}

func (s *WriterSink) Write(_ *core.Event, unit []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// bufio keeps the first error, so a failed sink stays failed.
	if _, err := s.buf.Write(unit); err != nil {
		return fmt.Errorf("%w: %w", core.ErrOutput, err)
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrOutput, err)
	}
	return nil
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.buf.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrOutput, err)
	}
	return nil
}
