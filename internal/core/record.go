package core

import (
	"encoding/binary"
	"fmt"
)

// Record layout. Must stay in sync with bpf/probe.go.
const (
	// PayloadCapacity is the fixed payload area of a record and the hard
	// ceiling for any configured payload prefix.
	PayloadCapacity = 256
	// DefaultPayloadBytes is the payload prefix copied when none is configured.
	DefaultPayloadBytes = 128

	// HeaderSize is the byte length of the fixed fields preceding the payload.
	HeaderSize = 28
	// RecordSize is the byte length of one serialized record.
	RecordSize = HeaderSize + PayloadCapacity

	offProtocol   = 0
	offSrcAddr    = 4
	offDstAddr    = 8
	offSrcPort    = 12
	offDstPort    = 14
	offPacketLen  = 16
	offTCPFlags   = 20
	offPayloadLen = 24
	offPayload    = HeaderSize
)

// Record is the fixed-size event emitted for each well-formed IPv4 packet.
// Addresses are numeric IPv4 values with the first octet most significant.
// Ports and lengths are host-order numbers. Only the first PayloadLen bytes
// of Payload are meaningful.
type Record struct {
	Protocol   Protocol
	SrcAddr    uint32
	DstAddr    uint32
	SrcPort    uint16
	DstPort    uint16
	PacketLen  uint32
	TCPFlags   uint8
	PayloadLen uint32
	Payload    [PayloadCapacity]byte
}

// Decode parses a raw ring buffer sample into a Record. Samples may be
// longer than RecordSize when the ring rounds allocations up. A payload
// length above the capacity is clamped so the payload view stays in bounds.
func Decode(raw []byte) (Record, error) {
	var rec Record
	if err := DecodeInto(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DecodeInto is Decode without the copy of the returned value.
func DecodeInto(raw []byte, rec *Record) error {
	if len(raw) < RecordSize {
		return fmt.Errorf("%w: got=%d want>=%d", ErrShortRecord, len(raw), RecordSize)
	}
	le := binary.LittleEndian
	rec.Protocol = Protocol(raw[offProtocol])
	rec.SrcAddr = le.Uint32(raw[offSrcAddr:])
	rec.DstAddr = le.Uint32(raw[offDstAddr:])
	rec.SrcPort = le.Uint16(raw[offSrcPort:])
	rec.DstPort = le.Uint16(raw[offDstPort:])
	rec.PacketLen = le.Uint32(raw[offPacketLen:])
	rec.TCPFlags = raw[offTCPFlags]
	rec.PayloadLen = le.Uint32(raw[offPayloadLen:])
	if rec.PayloadLen > PayloadCapacity {
		rec.PayloadLen = PayloadCapacity
	}
	copy(rec.Payload[:], raw[offPayload:offPayload+PayloadCapacity])
	return nil
}

// AppendBinary appends the wire form of the record to b.
func (r *Record) AppendBinary(b []byte) []byte {
	var buf [RecordSize]byte
	le := binary.LittleEndian
	buf[offProtocol] = byte(r.Protocol)
	le.PutUint32(buf[offSrcAddr:], r.SrcAddr)
	le.PutUint32(buf[offDstAddr:], r.DstAddr)
	le.PutUint16(buf[offSrcPort:], r.SrcPort)
	le.PutUint16(buf[offDstPort:], r.DstPort)
	le.PutUint32(buf[offPacketLen:], r.PacketLen)
	buf[offTCPFlags] = r.TCPFlags
	le.PutUint32(buf[offPayloadLen:], r.PayloadLen)
	copy(buf[offPayload:], r.Payload[:])
	return append(b, buf[:]...)
}

// MarshalBinary returns the wire form of the record.
func (r *Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RecordSize)), nil
}

// PayloadBytes returns the meaningful payload prefix.
func (r *Record) PayloadBytes() []byte {
	n := r.PayloadLen
	if n > PayloadCapacity {
		n = PayloadCapacity
	}
	return r.Payload[:n]
}

// Reset clears the record for reuse.
func (r *Record) Reset() {
	*r = Record{}
}
