package decode

import (
	"errors"
	"fmt"

	"firestige.xyz/netmon/internal/core"
)

// Kind names the application protocol recognized in a payload.
type Kind uint8

const (
	KindUnparsed Kind = iota
	KindHTTP
	KindDNS
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "HTTP"
	case KindDNS:
		return "DNS"
	default:
		return "unparsed"
	}
}

// ProtocolResult holds the outcome of protocol detection. Exactly one of
// HTTP and DNS is set unless Kind is KindUnparsed.
type ProtocolResult struct {
	Kind Kind
	HTTP *HTTPMessage
	DNS  *DNSMessage
	Err  error
}

// Protocol tries HTTP on TCP payloads, then DNS on port 53.
func Protocol(ev *core.Event) ProtocolResult {
	p := ev.Payload()
	if len(p) == 0 {
		return ProtocolResult{Err: errNoPayload}
	}

	var errs []error
	if ev.Protocol == core.ProtocolTCP {
		msg, err := HTTP(p)
		if err == nil {
			return ProtocolResult{Kind: KindHTTP, HTTP: msg}
		}
		errs = append(errs, err)
	}
	if IsDNSPort(ev.SrcPort, ev.DstPort) {
		msg, err := DNS(p, ev.Protocol, ev.SrcPort, ev.DstPort)
		if err == nil {
			return ProtocolResult{Kind: KindDNS, DNS: msg}
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ProtocolResult{Err: errUnknown}
	}
	return ProtocolResult{Err: errors.Join(errs...)}
}

var (
	errNoPayload = fmt.Errorf("%w: no payload", core.ErrUnparsed)
	errUnknown   = fmt.Errorf("%w: no known protocol", core.ErrUnparsed)
)
