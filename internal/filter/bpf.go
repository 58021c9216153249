package filter

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"

	"firestige.xyz/netmon/internal/core"
)

// Ethernet frame offsets used by the classic BPF prefilter.
const (
	offEtherType = 12
	offIPv4      = 14
	offFlagsFrag = offIPv4 + 6
	offProto     = offIPv4 + 9
	offSrcAddr   = offIPv4 + 12
	offDstAddr   = offIPv4 + 16

	etherTypeIPv4 = 0x0800
	fragMask      = 0x3FFF // MF flag and fragment offset
)

// Compile translates the spec into a classic BPF socket filter over Ethernet
// frames. It accepts non-fragmented IPv4 frames satisfying every present
// predicate and truncates them to snapLen. The user-space Match stays
// authoritative; the program only sheds load early.
func (s Spec) Compile(snapLen uint32) ([]bpf.RawInstruction, error) {
	var a assembler
	a.emit(bpf.LoadAbsolute{Off: offEtherType, Size: 2})
	a.require(bpf.JumpEqual, etherTypeIPv4)
	a.emit(bpf.LoadAbsolute{Off: offFlagsFrag, Size: 2})
	a.require(bpf.JumpBitsNotSet, fragMask)

	if s.Protocol != core.ProtocolAny {
		a.emit(bpf.LoadAbsolute{Off: offProto, Size: 1})
		a.require(bpf.JumpEqual, uint32(s.Protocol))
	}
	if s.SrcPort != 0 || s.DstPort != 0 {
		// Only TCP and UDP port fields are meaningful.
		a.emit(bpf.LoadAbsolute{Off: offProto, Size: 1})
		a.emit(bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.ProtocolTCP), SkipTrue: 1})
		a.require(bpf.JumpEqual, uint32(core.ProtocolUDP))
	}
	if v, ok := core.AddrToUint32(s.SrcIP); ok {
		a.emit(bpf.LoadAbsolute{Off: offSrcAddr, Size: 4})
		a.require(bpf.JumpEqual, v)
	}
	if v, ok := core.AddrToUint32(s.DstIP); ok {
		a.emit(bpf.LoadAbsolute{Off: offDstAddr, Size: 4})
		a.require(bpf.JumpEqual, v)
	}
	if s.SrcPort != 0 || s.DstPort != 0 {
		// X = IPv4 header length
		a.emit(bpf.LoadMemShift{Off: offIPv4})
		if s.SrcPort != 0 {
			a.emit(bpf.LoadIndirect{Off: offIPv4, Size: 2})
			a.require(bpf.JumpEqual, uint32(s.SrcPort))
		}
		if s.DstPort != 0 {
			a.emit(bpf.LoadIndirect{Off: offIPv4 + 2, Size: 2})
			a.require(bpf.JumpEqual, uint32(s.DstPort))
		}
	}
	if s.MinSize != 0 || s.MaxSize != 0 {
		a.emit(bpf.LoadExtension{Num: bpf.ExtLen})
		if s.MinSize != 0 {
			a.require(bpf.JumpGreaterOrEqual, s.MinSize)
		}
		if s.MaxSize != 0 {
			a.require(bpf.JumpLessOrEqual, s.MaxSize)
		}
	}

	insns, err := a.finish(snapLen)
	if err != nil {
		return nil, err
	}
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, fmt.Errorf("assemble filter %q: %w", s, err)
	}
	return raw, nil
}

// assembler collects instructions whose false branch jumps to a shared
// reject instruction placed at the end of the program.
type assembler struct {
	insns   []bpf.Instruction
	rejects []int
}

func (a *assembler) emit(i bpf.Instruction) {
	a.insns = append(a.insns, i)
}

func (a *assembler) require(cond bpf.JumpTest, val uint32) {
	a.rejects = append(a.rejects, len(a.insns))
	a.emit(bpf.JumpIf{Cond: cond, Val: val})
}

func (a *assembler) finish(snapLen uint32) ([]bpf.Instruction, error) {
	a.emit(bpf.RetConstant{Val: snapLen})
	reject := len(a.insns)
	a.emit(bpf.RetConstant{Val: 0})
	for _, idx := range a.rejects {
		skip := reject - idx - 1
		if skip > 255 {
			return nil, fmt.Errorf("filter program too long: jump of %d", skip)
		}
		j := a.insns[idx].(bpf.JumpIf)
		j.SkipFalse = uint8(skip)
		a.insns[idx] = j
	}
	return a.insns, nil
}

// Kernel is the prefilter block the XDP probe reads from its config map.
// Layout must stay in sync with bpf/probe.go.
type Kernel struct {
	Enabled  bool
	Protocol core.Protocol
	SrcAddr  uint32
	DstAddr  uint32
	SrcPort  uint16
	DstPort  uint16
	MinSize  uint32
	MaxSize  uint32
}

// KernelSize is the encoded length of a Kernel block.
const KernelSize = 24

// Kernel returns the in-kernel prefilter for the spec. An empty spec yields
// a disabled block.
func (s Spec) Kernel() Kernel {
	k := Kernel{
		Enabled:  !s.IsEmpty(),
		Protocol: s.Protocol,
		SrcPort:  s.SrcPort,
		DstPort:  s.DstPort,
		MinSize:  s.MinSize,
		MaxSize:  s.MaxSize,
	}
	k.SrcAddr, _ = core.AddrToUint32(s.SrcIP)
	k.DstAddr, _ = core.AddrToUint32(s.DstIP)
	return k
}

// AppendBinary appends the native-endian encoding of the block.
func (k Kernel) AppendBinary(b []byte) []byte {
	var buf [KernelSize]byte
	ne := binary.NativeEndian
	if k.Enabled {
		buf[0] = 1
	}
	buf[1] = byte(k.Protocol)
	ne.PutUint32(buf[4:], k.SrcAddr)
	ne.PutUint32(buf[8:], k.DstAddr)
	ne.PutUint16(buf[12:], k.SrcPort)
	ne.PutUint16(buf[14:], k.DstPort)
	ne.PutUint32(buf[16:], k.MinSize)
	ne.PutUint32(buf[20:], k.MaxSize)
	return append(b, buf[:]...)
}
