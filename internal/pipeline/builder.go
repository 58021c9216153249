package pipeline

import (
	"time"

	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/render"
	"firestige.xyz/netmon/internal/sink"
	"firestige.xyz/netmon/internal/transport"
)

// Builder provides a fluent interface for building pipelines.
// A builder without a stream serves as the template of a Group.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: 4096, // default
		},
	}
}

// WithStream sets the stream to drain.
func (b *Builder) WithStream(s transport.Stream) *Builder {
	b.config.Stream = s
	return b
}

// WithFilter sets the event filter.
func (b *Builder) WithFilter(f *filter.Filter) *Builder {
	b.config.Filter = f
	return b
}

// WithRenderer sets the renderer of the active display mode.
func (b *Builder) WithRenderer(r render.Renderer) *Builder {
	b.config.Renderer = r
	return b
}

// WithSink sets the output sink.
func (b *Builder) WithSink(s sink.Sink) *Builder {
	b.config.Sink = s
	return b
}

// WithClock sets the event timestamp source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.config.Clock = now
	return b
}

// WithBufferSize sets the initial render buffer capacity.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}

// forStream copies the template for one stream.
func (b *Builder) forStream(s transport.Stream) *Pipeline {
	cfg := b.config
	cfg.Stream = s
	return New(cfg)
}
