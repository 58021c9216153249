// Package decode turns captured payload prefixes into structured views.
// Every function here is pure: it reads the payload and never keeps it.
package decode

import "fmt"

// BytesPerRow is the width of one hex dump row.
const BytesPerRow = 16

// HexRow is one line of a hex dump.
type HexRow struct {
	Offset int
	Hex    string // space-separated lowercase pairs
	ASCII  string // one character per byte, '.' for non-printables
}

// Hex splits p into rows of BytesPerRow bytes. The last row may be shorter.
func Hex(p []byte) []HexRow {
	if len(p) == 0 {
		return nil
	}
	rows := make([]HexRow, 0, (len(p)+BytesPerRow-1)/BytesPerRow)
	for off := 0; off < len(p); off += BytesPerRow {
		end := off + BytesPerRow
		if end > len(p) {
			end = len(p)
		}
		chunk := p[off:end]
		rows = append(rows, HexRow{
			Offset: off,
			Hex:    hexPairs(chunk),
			ASCII:  asciiMirror(chunk),
		})
	}
	return rows
}

// FormatHex renders rows as "0000  xx xx ...  |ascii|" lines. Only the hex
// column of a short last row is padded, so the ASCII column lines up.
func FormatHex(rows []HexRow) string {
	return string(AppendHex(nil, rows, ""))
}

// AppendHex appends the FormatHex lines to dst, each prefixed by indent.
func AppendHex(dst []byte, rows []HexRow, indent string) []byte {
	const hexWidth = BytesPerRow*3 - 1
	for _, r := range rows {
		dst = append(dst, indent...)
		dst = fmt.Appendf(dst, "%04x  %-*s  |%s|\n", r.Offset, hexWidth, r.Hex, r.ASCII)
	}
	return dst
}

// HexString renders p as space-separated lowercase pairs.
func HexString(p []byte) string {
	return hexPairs(p)
}

const hexDigits = "0123456789abcdef"

func hexPairs(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(p)*3-1)
	for i, c := range p {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return string(buf)
}

func asciiMirror(p []byte) string {
	buf := make([]byte, len(p))
	for i, c := range p {
		if c >= 0x20 && c <= 0x7e {
			buf[i] = c
		} else {
			buf[i] = '.'
		}
	}
	return string(buf)
}
