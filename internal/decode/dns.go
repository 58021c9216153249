package decode

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"firestige.xyz/netmon/internal/core"
)

const (
	dnsPort       = 53
	dnsHeaderLen  = 12
	maxNameLen    = 255
	maxQuestions  = 16
	maxNameLabels = 127
)

// DNSQuestion is one entry of the question section.
type DNSQuestion struct {
	Name  string
	Type  uint16
	Class uint16
	// Compressed is set when the name ended in a compression pointer. Name
	// then holds the labels before the pointer, without the trailing dot.
	Compressed bool
}

// TypeString returns the mnemonic of the query type.
func (q DNSQuestion) TypeString() string {
	if s, ok := dns.TypeToString[q.Type]; ok {
		return s
	}
	return "TYPE" + strconv.Itoa(int(q.Type))
}

// ClassString returns the mnemonic of the query class.
func (q DNSQuestion) ClassString() string {
	if s, ok := dns.ClassToString[q.Class]; ok {
		return s
	}
	return "CLASS" + strconv.Itoa(int(q.Class))
}

// DNSMessage is the header and question section of a DNS message.
type DNSMessage struct {
	ID       uint16
	Response bool
	Opcode   int
	Rcode    int
	// Header bits
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool

	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16

	Questions []DNSQuestion
	// Partial is set when the payload prefix ended inside the question
	// section.
	Partial bool
}

// OpcodeString returns the opcode mnemonic.
func (m *DNSMessage) OpcodeString() string {
	if s, ok := dns.OpcodeToString[m.Opcode]; ok {
		return s
	}
	return strconv.Itoa(m.Opcode)
}

// RcodeString returns the response code mnemonic.
func (m *DNSMessage) RcodeString() string {
	if s, ok := dns.RcodeToString[m.Rcode]; ok {
		return s
	}
	return strconv.Itoa(m.Rcode)
}

// IsDNSPort reports whether either port is the DNS port.
func IsDNSPort(sport, dport uint16) bool {
	return sport == dnsPort || dport == dnsPort
}

// DNS decodes the header and the question section of a DNS message carried
// over UDP or TCP on port 53. TCP payloads start with a 2-byte length.
func DNS(p []byte, proto core.Protocol, sport, dport uint16) (*DNSMessage, error) {
	if !IsDNSPort(sport, dport) {
		return nil, fmt.Errorf("%w: not a dns port", core.ErrUnparsed)
	}
	switch proto {
	case core.ProtocolUDP:
	case core.ProtocolTCP:
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: short dns length prefix", core.ErrUnparsed)
		}
		p = p[2:]
	default:
		return nil, fmt.Errorf("%w: dns over %s", core.ErrUnparsed, proto)
	}

	// Step 1: header
	if len(p) < dnsHeaderLen {
		return nil, fmt.Errorf("%w: short dns header (%d bytes)", core.ErrUnparsed, len(p))
	}
	flags := binary.BigEndian.Uint16(p[2:4])
	msg := &DNSMessage{
		ID:                 binary.BigEndian.Uint16(p[0:2]),
		Response:           flags&0x8000 != 0,
		Opcode:             int(flags>>11) & 0x0f,
		Authoritative:      flags&0x0400 != 0,
		Truncated:          flags&0x0200 != 0,
		RecursionDesired:   flags&0x0100 != 0,
		RecursionAvailable: flags&0x0080 != 0,
		Rcode:              int(flags & 0x000f),
		QDCount:            binary.BigEndian.Uint16(p[4:6]),
		ANCount:            binary.BigEndian.Uint16(p[6:8]),
		NSCount:            binary.BigEndian.Uint16(p[8:10]),
		ARCount:            binary.BigEndian.Uint16(p[10:12]),
	}
	if flags&0x0040 != 0 {
		// The Z bit must be zero.
		return nil, fmt.Errorf("%w: dns reserved bit set", core.ErrUnparsed)
	}
	if msg.QDCount > maxQuestions {
		return nil, fmt.Errorf("%w: %d dns questions", core.ErrUnparsed, msg.QDCount)
	}

	// Step 2: questions
	off := dnsHeaderLen
	for i := 0; i < int(msg.QDCount); i++ {
		q, next, err := parseQuestion(p, off)
		if err == errPartial {
			msg.Partial = true
			break
		}
		if err != nil {
			return nil, err
		}
		msg.Questions = append(msg.Questions, q)
		off = next
	}
	return msg, nil
}

var errPartial = fmt.Errorf("%w: dns question truncated", core.ErrUnparsed)

func parseQuestion(p []byte, off int) (DNSQuestion, int, error) {
	var q DNSQuestion
	var labels []string
	nameLen := 0
walk:
	for n := 0; ; n++ {
		if n > maxNameLabels {
			return q, 0, fmt.Errorf("%w: too many dns labels", core.ErrUnparsed)
		}
		if off >= len(p) {
			return q, 0, errPartial
		}
		l := int(p[off])
		switch {
		case l == 0:
			off++
			break walk
		case l&0xc0 == 0xc0:
			// Compression pointer: two bytes, the target is not followed.
			if off+2 > len(p) {
				return q, 0, errPartial
			}
			q.Compressed = true
			off += 2
			break walk
		case l&0xc0 != 0:
			return q, 0, fmt.Errorf("%w: reserved dns label type 0x%02x", core.ErrUnparsed, l&0xc0)
		}
		off++
		if off+l > len(p) {
			return q, 0, errPartial
		}
		nameLen += l + 1
		if nameLen > maxNameLen {
			return q, 0, fmt.Errorf("%w: dns name too long", core.ErrUnparsed)
		}
		labels = append(labels, string(p[off:off+l]))
		off += l
	}
	q.Name = strings.Join(labels, ".")
	if len(labels) == 0 && !q.Compressed {
		q.Name = "."
	}
	if off+4 > len(p) {
		return q, 0, errPartial
	}
	q.Type = binary.BigEndian.Uint16(p[off : off+2])
	q.Class = binary.BigEndian.Uint16(p[off+2 : off+4])
	return q, off + 4, nil
}
