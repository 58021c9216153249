// Package pipeline implements the per-CPU event consumers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/log"
	"firestige.xyz/netmon/internal/render"
	"firestige.xyz/netmon/internal/sink"
	"firestige.xyz/netmon/internal/transport"
)

// Pipeline drains one CPU's stream: read, filter, render, write.
// Events of one stream reach the sink in arrival order.
type Pipeline struct {
	stream   transport.Stream
	filter   *filter.Filter
	renderer render.Renderer
	sink     sink.Sink
	now      func() time.Time
	metrics  *Metrics

	ev  core.Event
	buf []byte
}

// Config contains pipeline configuration.
type Config struct {
	Stream   transport.Stream
	Filter   *filter.Filter
	Renderer render.Renderer
	Sink     sink.Sink
	// Clock stamps events as they are consumed. Defaults to time.Now.
	Clock func() time.Time
	// BufferSize is the initial capacity of the render buffer.
	BufferSize int
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Filter == nil {
		cfg.Filter = filter.New(filter.Spec{})
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New(render.ModeBasic)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	return &Pipeline{
		stream:   cfg.Stream,
		filter:   cfg.Filter,
		renderer: cfg.Renderer,
		sink:     cfg.Sink,
		now:      cfg.Clock,
		metrics:  NewMetrics(cfg.Stream.CPU()),
		buf:      make([]byte, 0, cfg.BufferSize),
	}
}

// CPU returns the CPU of the stream this pipeline drains.
func (p *Pipeline) CPU() int { return p.stream.CPU() }

// Run consumes the stream until it is drained or closed, which returns nil,
// or until the sink fails, which returns an error wrapping core.ErrOutput.
// A cancelled ctx abandons the remaining records.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := log.GetLogger().WithField("cpu", p.CPU())
	logger.Debug("pipeline starting")

	for {
		if err := p.stream.Read(ctx, &p.ev.Record); err != nil {
			switch {
			case errors.Is(err, core.ErrClosed):
				logger.Debug("pipeline drained")
				return nil
			case ctx.Err() != nil:
				logger.Debug("pipeline cancelled")
				return nil
			default:
				return fmt.Errorf("pipeline cpu %d: %w", p.CPU(), err)
			}
		}
		if err := p.process(&p.ev); err != nil {
			logger.WithError(err).Error("output failed, stopping pipeline")
			return err
		}
	}
}

func (p *Pipeline) process(ev *core.Event) error {
	p.metrics.Received.Add(1)
	ev.CPU = p.stream.CPU()
	ev.Timestamp = p.now()

	if !p.filter.Match(ev) {
		return nil
	}
	p.metrics.Matched.Add(1)

	unit, err := p.renderer.Render(p.buf[:0], ev)
	p.buf = unit
	if errors.Is(err, core.ErrUnparsed) {
		p.metrics.Unparsed.Add(1)
	}

	if err := p.sink.Write(ev, unit); err != nil {
		p.metrics.WriteErrors.Add(1)
		if !errors.Is(err, core.ErrOutput) {
			err = fmt.Errorf("%w: %w", core.ErrOutput, err)
		}
		return fmt.Errorf("pipeline cpu %d: %w", p.CPU(), err)
	}
	p.metrics.Written.Add(1)
	return nil
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	s := p.metrics.Snapshot()
	s.Drops = p.stream.Drops()
	return s
}
