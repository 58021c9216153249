package render

import (
	"encoding/json"
	"fmt"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/decode"
)

// JSONEvent is the stable JSON schema of an event.
type JSONEvent struct {
	Timestamp  int64  `json:"timestamp"` // Unix milliseconds
	Protocol   string `json:"protocol"`
	SrcIP      string `json:"src_ip"`
	DstIP      string `json:"dst_ip"`
	SrcPort    uint16 `json:"src_port"`
	DstPort    uint16 `json:"dst_port"`
	PacketSize uint32 `json:"packet_size"`
	TCPFlags   uint8  `json:"tcp_flags"`
	PayloadLen uint32 `json:"payload_len"`
	PayloadHex string `json:"payload_hex"`
}

// NewJSONEvent projects ev onto the JSON schema.
func NewJSONEvent(ev *core.Event) JSONEvent {
	p := ev.Payload()
	return JSONEvent{
		Timestamp:  ev.Timestamp.UnixMilli(),
		Protocol:   ev.Protocol.String(),
		SrcIP:      ev.SrcIP().String(),
		DstIP:      ev.DstIP().String(),
		SrcPort:    ev.SrcPort,
		DstPort:    ev.DstPort,
		PacketSize: ev.PacketLen,
		TCPFlags:   ev.TCPFlags,
		PayloadLen: uint32(len(p)),
		PayloadHex: decode.HexString(p),
	}
}

func renderJSON(dst []byte, ev *core.Event) ([]byte, error) {
	// Every field is a number or a plain string, Marshal cannot fail.
	b, _ := json.Marshal(NewJSONEvent(ev))
	dst = append(dst, b...)
	return append(dst, '\n'), nil
}

// ParseJSON decodes one JSON unit.
func ParseJSON(line []byte) (*JSONEvent, error) {
	var ev JSONEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("parse json event: %w", err)
	}
	return &ev, nil
}
