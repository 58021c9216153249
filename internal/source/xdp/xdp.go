// Package xdp is the primary capture backend: the probe runs as an XDP
// program and publishes into per-CPU BPF ring buffers.
package xdp

import (
	"context"
	"fmt"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/loader"
	"firestige.xyz/netmon/internal/metrics"
	"firestige.xyz/netmon/internal/probe"
	"firestige.xyz/netmon/internal/transport"
)

const Name = "xdp"

type Source struct {
	opts   loader.Options
	loaded *loader.Loaded
}

func New(cfg config.CaptureConfig, pc probe.Config, spec filter.Spec) (*Source, error) {
	mode, err := loader.ParseAttachMode(cfg.XDP.AttachMode)
	if err != nil {
		return nil, err
	}
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: xdp backend needs an interface", core.ErrConfigInvalid)
	}
	return &Source{
		opts: loader.Options{
			ObjectPath: cfg.XDP.Object,
			Interface:  cfg.Interface,
			Mode:       mode,
			RingBytes:  cfg.XDP.RingBytes,
			Probe:      pc,
			Filter:     spec,
		},
	}, nil
}

func (s *Source) Name() string { return Name }

// Options returns the load options derived from the configuration.
func (s *Source) Options() loader.Options { return s.opts }

func (s *Source) Start(_ context.Context) error {
	l, err := loader.Load(s.opts)
	if err != nil {
		return err
	}
	s.loaded = l
	metrics.ProbeAttached.WithLabelValues(Name, s.opts.Interface, l.Mode().String()).Set(1)
	return nil
}

func (s *Source) Channel() transport.Channel {
	if s.loaded == nil {
		return nil
	}
	return s.loaded.Channel()
}

func (s *Source) Detach() error {
	if s.loaded == nil {
		return nil
	}
	metrics.ProbeAttached.WithLabelValues(Name, s.opts.Interface, s.loaded.Mode().String()).Set(0)
	return s.loaded.Detach()
}

func (s *Source) Close() error {
	if s.loaded == nil {
		return nil
	}
	err := s.loaded.Close()
	s.loaded = nil
	return err
}
