// Package metrics implements Prometheus metrics.
//
// Per-event counters live in the pipelines as atomics and are exported by a
// Collector at scrape time, so the hot path never touches a metric vector.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbeAttached is 1 while the capture probe is attached.
	ProbeAttached = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netmon_probe_attached",
			Help: "Whether the capture probe is attached (1) or not (0)",
		},
		[]string{"backend", "interface", "mode"},
	)

	// OutputErrorsTotal counts fatal output failures by sink type.
	OutputErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_output_errors_total",
			Help: "Total number of fatal output errors",
		},
		[]string{"output"},
	)

	// ShutdownDrainSeconds records how long draining buffered events took.
	ShutdownDrainSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netmon_shutdown_drain_seconds",
			Help:    "Time spent draining buffered events at shutdown",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)
)

// CPUStats is one consumer's counters.
type CPUStats struct {
	CPU         int
	Received    uint64
	Matched     uint64
	Unparsed    uint64
	Written     uint64
	WriteErrors uint64
	Drops       uint64
}

// Collector exports per-CPU counters read at scrape time.
type Collector struct {
	source func() []CPUStats

	received    *prometheus.Desc
	matched     *prometheus.Desc
	unparsed    *prometheus.Desc
	written     *prometheus.Desc
	writeErrors *prometheus.Desc
	drops       *prometheus.Desc
}

// NewCollector creates a collector reading its values from source.
func NewCollector(source func() []CPUStats) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("netmon_"+name, help, []string{"cpu"}, nil)
	}
	return &Collector{
		source:      source,
		received:    desc("events_received_total", "Events read from the per-CPU channel"),
		matched:     desc("events_matched_total", "Events admitted by the filter"),
		unparsed:    desc("events_unparsed_total", "Events whose payload matched no known protocol"),
		written:     desc("events_written_total", "Events written to the output"),
		writeErrors: desc("events_write_errors_total", "Failed output writes"),
		drops:       desc("transport_drops_total", "Events dropped because the per-CPU ring was full"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.matched
	ch <- c.unparsed
	ch <- c.written
	ch <- c.writeErrors
	ch <- c.drops
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source() {
		cpu := strconv.Itoa(s.CPU)
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), cpu)
		}
		counter(c.received, s.Received)
		counter(c.matched, s.Matched)
		counter(c.unparsed, s.Unparsed)
		counter(c.written, s.Written)
		counter(c.writeErrors, s.WriteErrors)
		counter(c.drops, s.Drops)
	}
}
