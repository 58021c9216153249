// Package loader loads the compiled XDP probe, wires its maps and attaches
// it to a network interface.
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/vishvananda/netlink"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/log"
	"firestige.xyz/netmon/internal/probe"
	"firestige.xyz/netmon/internal/transport"
)

// Object names. Must stay in sync with bpf/probe.go.
const (
	ProgramName = "netmon_xdp"
	EventsMap   = "events"
	DropsMap    = "drops"
	ConfigMap   = "config"
)

// ConfigSize is the value size of the config map: the payload prefix length
// followed by the prefilter block.
const ConfigSize = 4 + filter.KernelSize

// DefaultRingBytes is the per-CPU ring size used when none is configured.
const DefaultRingBytes = 1 << 20

// AttachMode selects how the program is bound to the interface.
type AttachMode uint8

const (
	// ModeAuto tries native driver mode and falls back to generic mode.
	ModeAuto AttachMode = iota
	ModeNative
	ModeGeneric
	ModeOffload
)

var attachModeNames = [...]string{
	ModeAuto:    "auto",
	ModeNative:  "native",
	ModeGeneric: "generic",
	ModeOffload: "offload",
}

func (m AttachMode) String() string {
	if int(m) < len(attachModeNames) {
		return attachModeNames[m]
	}
	return fmt.Sprintf("attach_mode(%d)", m)
}

// ParseAttachMode parses an attach mode name. The empty string selects auto.
func ParseAttachMode(s string) (AttachMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeAuto, nil
	}
	for m, name := range attachModeNames {
		if s == name {
			return AttachMode(m), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown attach mode %q", core.ErrConfigInvalid, s)
}

// attempts lists the XDP flags to try in order.
func (m AttachMode) attempts() []AttachMode {
	if m == ModeAuto {
		return []AttachMode{ModeNative, ModeGeneric}
	}
	return []AttachMode{m}
}

func (m AttachMode) flags() link.XDPAttachFlags {
	switch m {
	case ModeNative:
		return link.XDPDriverMode
	case ModeGeneric:
		return link.XDPGenericMode
	case ModeOffload:
		return link.XDPOffloadMode
	default:
		return 0
	}
}

// Options describe one load.
type Options struct {
	ObjectPath string
	Interface  string
	Mode       AttachMode
	// RingBytes is the size of each per-CPU ring buffer. It is rounded up to
	// a power of two of at least one page.
	RingBytes int
	Probe     probe.Config
	Filter    filter.Spec
}

// Loaded holds the resources obtained after a successful load and attach.
type Loaded struct {
	coll    *ebpf.Collection
	rings   []*ebpf.Map
	channel *transport.Kernel
	mode    AttachMode

	mu   sync.Mutex
	link link.Link
}

// Load loads the probe for opts and attaches it. Every failure wraps
// core.ErrAttach and leaves nothing behind.
func Load(opts Options) (*Loaded, error) {
	nl, err := netlink.LinkByName(opts.Interface)
	if err != nil {
		return nil, attachErr("interface %q: %w", opts.Interface, err)
	}
	ifindex := nl.Attrs().Index

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, attachErr("remove memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(opts.ObjectPath)
	if err != nil {
		return nil, attachErr("load collection spec %s: %w", opts.ObjectPath, err)
	}

	cpus, err := ebpf.PossibleCPU()
	if err != nil {
		return nil, attachErr("possible cpus: %w", err)
	}
	ringSpec, err := prepareSpec(spec, cpus, opts.RingBytes)
	if err != nil {
		return nil, err
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			log.GetLogger().Errorf("verifier rejected the probe: %+v", ve)
		}
		return nil, attachErr("new collection: %w", err)
	}

	l := &Loaded{coll: coll}
	if err := l.setup(ringSpec, cpus, opts); err != nil {
		l.Close()
		return nil, err
	}
	if err := l.attach(coll.Programs[ProgramName], ifindex, opts); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// prepareSpec sizes the outer events map to one slot per possible CPU and
// gives it the ring buffer inner spec.
func prepareSpec(spec *ebpf.CollectionSpec, cpus, ringBytes int) (*ebpf.MapSpec, error) {
	for _, name := range []string{EventsMap, DropsMap, ConfigMap} {
		if spec.Maps[name] == nil {
			return nil, attachErr("map %q not found in object", name)
		}
	}
	if spec.Programs[ProgramName] == nil {
		return nil, attachErr("program %q not found in object", ProgramName)
	}
	if v := spec.Maps[ConfigMap].ValueSize; v != ConfigSize {
		return nil, attachErr("config map value size %d, want %d", v, ConfigSize)
	}

	inner := &ebpf.MapSpec{
		Name:       "netmon_ring",
		Type:       ebpf.RingBuf,
		MaxEntries: RingSize(ringBytes, os.Getpagesize()),
	}
	events := spec.Maps[EventsMap]
	events.Type = ebpf.ArrayOfMaps
	events.KeySize = 4
	events.ValueSize = 4
	events.MaxEntries = uint32(cpus)
	events.InnerMap = inner
	return inner, nil
}

// setup creates the per-CPU rings, writes the probe config and opens the
// channel readers.
func (l *Loaded) setup(ringSpec *ebpf.MapSpec, cpus int, opts Options) error {
	events := l.coll.Maps[EventsMap]
	for cpu := 0; cpu < cpus; cpu++ {
		rb, err := ebpf.NewMap(ringSpec)
		if err != nil {
			return attachErr("create ring for cpu %d: %w", cpu, err)
		}
		l.rings = append(l.rings, rb)
		if err := events.Update(uint32(cpu), rb, ebpf.UpdateAny); err != nil {
			return attachErr("insert ring for cpu %d: %w", cpu, err)
		}
	}

	value := AppendConfig(nil, opts.Probe, opts.Filter)
	if err := l.coll.Maps[ConfigMap].Update(uint32(0), value, ebpf.UpdateAny); err != nil {
		return attachErr("write probe config: %w", err)
	}

	ch, err := transport.NewKernel(l.rings, l.coll.Maps[DropsMap])
	if err != nil {
		return attachErr("open channel: %w", err)
	}
	l.channel = ch
	return nil
}

func (l *Loaded) attach(prog *ebpf.Program, ifindex int, opts Options) error {
	logger := log.GetLogger().WithField("iface", opts.Interface)

	var errs []error
	for _, mode := range opts.Mode.attempts() {
		lnk, err := link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: ifindex,
			Flags:     mode.flags(),
		})
		if err == nil {
			l.link = lnk
			l.mode = mode
			logger.WithField("mode", mode.String()).Info("xdp probe attached")
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", mode, err))
		logger.WithError(err).WithField("mode", mode.String()).Warn("xdp attach failed")
	}
	return attachErr("attach xdp to %s: %w", opts.Interface, errors.Join(errs...))
}

// Channel returns the per-CPU channel fed by the probe.
func (l *Loaded) Channel() *transport.Kernel { return l.channel }

// Mode returns the mode the program was attached with.
func (l *Loaded) Mode() AttachMode { return l.mode }

// Detach removes the program from the interface. No new events are produced
// afterwards; buffered records stay readable.
func (l *Loaded) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.link == nil {
		return nil
	}
	err := l.link.Close()
	l.link = nil
	if err != nil {
		return fmt.Errorf("detach xdp: %w", err)
	}
	return nil
}

// Close detaches the program and releases all kernel resources.
func (l *Loaded) Close() error {
	if l == nil {
		return nil
	}
	errs := []error{l.Detach()}
	if l.channel != nil {
		errs = append(errs, l.channel.Close())
	}
	for _, rb := range l.rings {
		errs = append(errs, rb.Close())
	}
	l.rings = nil
	if l.coll != nil {
		l.coll.Close()
		l.coll = nil
	}
	return errors.Join(errs...)
}

// AppendConfig appends the config map value: the payload prefix length in
// native byte order, then the prefilter block.
func AppendConfig(b []byte, pc probe.Config, spec filter.Spec) []byte {
	b = binary.NativeEndian.AppendUint32(b, uint32(pc.Bytes()))
	return spec.Kernel().AppendBinary(b)
}

// RingSize rounds n up to a power of two no smaller than one page.
func RingSize(n, pageSize int) uint32 {
	if n <= 0 {
		n = DefaultRingBytes
	}
	size := uint32(pageSize)
	for size < uint32(n) {
		size <<= 1
	}
	return size
}

func attachErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrAttach, fmt.Errorf(format, args...))
}
