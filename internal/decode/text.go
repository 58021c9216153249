package decode

import "strings"

// TextThreshold is the printable fraction above which a payload is text.
const TextThreshold = 0.7

// TextResult is the text view of a payload.
type TextResult struct {
	Printable bool
	Ratio     float64
	Lines     []string
}

// Text classifies p as text or binary. Printable bytes are 0x20..0x7e plus
// tab, newline and carriage return. Binary payloads carry no lines.
func Text(p []byte) TextResult {
	if len(p) == 0 {
		return TextResult{}
	}
	printable := 0
	for _, c := range p {
		if isPrintable(c) {
			printable++
		}
	}
	res := TextResult{Ratio: float64(printable) / float64(len(p))}
	if res.Ratio <= TextThreshold {
		return res
	}
	res.Printable = true

	s := strings.ReplaceAll(string(p), "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	for _, line := range strings.Split(s, "\n") {
		res.Lines = append(res.Lines, sanitize(line))
	}
	return res
}

func isPrintable(c byte) bool {
	return (c >= 0x20 && c <= 0x7e) || c == '\t' || c == '\n' || c == '\r'
}

// sanitize replaces control bytes so a line never corrupts the terminal.
func sanitize(line string) string {
	clean := true
	for i := 0; i < len(line); i++ {
		if c := line[i]; !(c >= 0x20 && c <= 0x7e) && c != '\t' {
			clean = false
			break
		}
	}
	if clean {
		return line
	}
	b := []byte(line)
	for i, c := range b {
		if !(c >= 0x20 && c <= 0x7e) && c != '\t' {
			b[i] = '.'
		}
	}
	return string(b)
}
