// Package source selects the capture backend that feeds the per-CPU channel.
package source

import (
	"context"
	"fmt"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/source/afpacket"
	"firestige.xyz/netmon/internal/source/pcapfile"
	"firestige.xyz/netmon/internal/source/xdp"
	"firestige.xyz/netmon/internal/transport"
)

// Source produces records into a transport channel.
type Source interface {
	Name() string
	// Start begins production and returns once capture is running.
	// A failure wraps core.ErrAttach.
	Start(ctx context.Context) error
	// Channel is valid after a successful Start.
	Channel() transport.Channel
	// Detach stops production. Records already buffered stay readable.
	Detach() error
	Close() error
}

// New creates the backend selected by capture.backend.
func New(cfg *config.Config) (Source, error) {
	switch cfg.Capture.Backend {
	case xdp.Name, "":
		return xdp.New(cfg.Capture, cfg.ProbeConfig(), cfg.FilterSpec())
	case afpacket.Name:
		return afpacket.New(cfg.Capture, cfg.ProbeConfig(), cfg.FilterSpec())
	case pcapfile.Name:
		return pcapfile.New(cfg.Capture, cfg.ProbeConfig())
	default:
		return nil, fmt.Errorf("%w: unknown capture backend %q", core.ErrConfigInvalid, cfg.Capture.Backend)
	}
}

var (
	_ Source = (*xdp.Source)(nil)
	_ Source = (*afpacket.Source)(nil)
	_ Source = (*pcapfile.Source)(nil)
)
