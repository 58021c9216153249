// Package render formats events for the output sink. The display mode is
// chosen once at startup and every event goes through the same function.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/decode"
)

// Mode selects the presentation of events.
type Mode uint8

const (
	ModeBasic Mode = iota
	ModeHex
	ModeText
	ModeProtocol
	ModeJSON
)

var modeNames = [...]string{
	ModeBasic:    "basic",
	ModeHex:      "hex",
	ModeText:     "text",
	ModeProtocol: "protocol",
	ModeJSON:     "json",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode parses a display mode name. The empty string selects basic.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeBasic, nil
	}
	for m, name := range modeNames {
		if s == name {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown display mode %q (basic|hex|text|protocol|json)", core.ErrConfigInvalid, s)
}

// Renderer appends one output unit per event. A unit is newline terminated
// and never shares a line with another event.
type Renderer interface {
	// Render appends the unit for ev to dst. A non-nil error wraps
	// core.ErrUnparsed and the unit is still complete.
	Render(dst []byte, ev *core.Event) ([]byte, error)
	Mode() Mode
}

type renderFunc func(dst []byte, ev *core.Event) ([]byte, error)

type renderer struct {
	mode Mode
	fn   renderFunc
}

func (r *renderer) Render(dst []byte, ev *core.Event) ([]byte, error) { return r.fn(dst, ev) }

func (r *renderer) Mode() Mode { return r.mode }

// New returns the renderer for mode. Unknown modes fall back to basic.
func New(mode Mode) Renderer {
	var fn renderFunc
	switch mode {
	case ModeHex:
		fn = renderHex
	case ModeText:
		fn = renderText
	case ModeProtocol:
		fn = renderProtocol
	case ModeJSON:
		fn = renderJSON
	default:
		mode = ModeBasic
		fn = renderBasic
	}
	return &renderer{mode: mode, fn: fn}
}

const indent = "  "

// AppendHeader appends the basic line without its terminator:
//
//	HH:MM:SS.mmm cpu=N PROTO src:port -> dst:port len=N [flags=..]
func AppendHeader(dst []byte, ev *core.Event) []byte {
	dst = ev.Timestamp.AppendFormat(dst, "15:04:05.000")
	dst = append(dst, " cpu="...)
	dst = strconv.AppendInt(dst, int64(ev.CPU), 10)
	dst = append(dst, ' ')
	dst = append(dst, ev.Protocol.String()...)
	dst = append(dst, ' ')
	dst = ev.SrcIP().AppendTo(dst)
	if ev.Protocol.HasPorts() {
		dst = append(dst, ':')
		dst = strconv.AppendUint(dst, uint64(ev.SrcPort), 10)
	}
	dst = append(dst, " -> "...)
	dst = ev.DstIP().AppendTo(dst)
	if ev.Protocol.HasPorts() {
		dst = append(dst, ':')
		dst = strconv.AppendUint(dst, uint64(ev.DstPort), 10)
	}
	dst = append(dst, " len="...)
	dst = strconv.AppendUint(dst, uint64(ev.PacketLen), 10)
	if flags := ev.FlagString(); flags != "" {
		dst = append(dst, " flags="...)
		dst = append(dst, flags...)
	}
	return dst
}

func renderBasic(dst []byte, ev *core.Event) ([]byte, error) {
	return append(AppendHeader(dst, ev), '\n'), nil
}

func renderHex(dst []byte, ev *core.Event) ([]byte, error) {
	dst = append(AppendHeader(dst, ev), '\n')
	return decode.AppendHex(dst, decode.Hex(ev.Payload()), indent), nil
}

func renderText(dst []byte, ev *core.Event) ([]byte, error) {
	dst = AppendHeader(dst, ev)
	p := ev.Payload()
	if len(p) == 0 {
		return append(dst, '\n'), nil
	}
	res := decode.Text(p)
	if !res.Printable {
		return append(dst, " [binary]\n"...), nil
	}
	dst = append(dst, '\n')
	for _, line := range res.Lines {
		dst = append(dst, indent...)
		dst = append(dst, line...)
		dst = append(dst, '\n')
	}
	return dst, nil
}

func renderProtocol(dst []byte, ev *core.Event) ([]byte, error) {
	dst = append(AppendHeader(dst, ev), '\n')
	res := decode.Protocol(ev)
	switch res.Kind {
	case decode.KindHTTP:
		return appendHTTP(dst, res.HTTP), nil
	case decode.KindDNS:
		return appendDNS(dst, res.DNS), nil
	default:
		return append(dst, indent+"unparsed\n"...), res.Err
	}
}

func appendHTTP(dst []byte, m *decode.HTTPMessage) []byte {
	dst = append(dst, indent+"HTTP "...)
	dst = append(dst, m.StartLine()...)
	dst = append(dst, '\n')
	for _, h := range m.Headers {
		dst = append(dst, indent+indent...)
		dst = append(dst, h.Name...)
		dst = append(dst, ": "...)
		dst = append(dst, h.Value...)
		dst = append(dst, '\n')
	}
	if m.Truncated {
		dst = append(dst, indent+indent+"...\n"...)
	}
	return dst
}

func appendDNS(dst []byte, m *decode.DNSMessage) []byte {
	kind := "query"
	if m.Response {
		kind = "response"
	}
	dst = fmt.Appendf(dst, "%sDNS %s id=0x%04x opcode=%s rcode=%s qd=%d an=%d ns=%d ar=%d\n",
		indent, kind, m.ID, m.OpcodeString(), m.RcodeString(),
		m.QDCount, m.ANCount, m.NSCount, m.ARCount)
	for _, q := range m.Questions {
		name := q.Name
		if q.Compressed {
			name += ".<ptr>"
		}
		dst = fmt.Appendf(dst, "%s%s %s %s\n", indent+indent, name, q.TypeString(), q.ClassString())
	}
	if m.Partial {
		dst = append(dst, indent+indent+"...\n"...)
	}
	return dst
}
