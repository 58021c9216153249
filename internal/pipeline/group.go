package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/netmon/internal/metrics"
	"firestige.xyz/netmon/internal/transport"
)

// Group runs one pipeline per stream of a channel.
type Group struct {
	channel   transport.Channel
	pipelines []*Pipeline
}

// NewGroup creates one pipeline per stream of ch from the template b.
func NewGroup(ch transport.Channel, b *Builder) *Group {
	g := &Group{channel: ch}
	for _, s := range ch.Streams() {
		g.pipelines = append(g.pipelines, b.forStream(s))
	}
	return g
}

// Pipelines returns the pipelines ordered by stream.
func (g *Group) Pipelines() []*Pipeline { return g.pipelines }

// Run blocks until every pipeline has returned. The first failure cancels
// the others and drains the channel so blocked readers wake up.
func (g *Group) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, g.channel.Drain)
	defer stop()

	for _, p := range g.pipelines {
		eg.Go(func() error { return p.Run(gctx) })
	}
	return eg.Wait()
}

// Stats returns the statistics of every pipeline.
func (g *Group) Stats() []Stats {
	out := make([]Stats, len(g.pipelines))
	for i, p := range g.pipelines {
		out[i] = p.Stats()
	}
	return out
}

// Total aggregates the statistics of every pipeline.
func (g *Group) Total() Stats {
	var total Stats
	for _, s := range g.Stats() {
		total.Add(s)
	}
	return total
}

// CPUStats adapts the group statistics for the metrics collector.
func (g *Group) CPUStats() []metrics.CPUStats {
	stats := g.Stats()
	out := make([]metrics.CPUStats, len(stats))
	for i, s := range stats {
		out[i] = metrics.CPUStats{
			CPU:         s.CPU,
			Received:    s.Received,
			Matched:     s.Matched,
			Unparsed:    s.Unparsed,
			Written:     s.Written,
			WriteErrors: s.WriteErrors,
			Drops:       s.Drops,
		}
	}
	return out
}
