package decode

import (
	"bytes"
	"fmt"
	"strconv"

	"firestige.xyz/netmon/internal/core"
)

// HTTP request methods recognized at the start of a payload.
var httpMethods = [][]byte{
	[]byte("GET"),
	[]byte("POST"),
	[]byte("PUT"),
	[]byte("DELETE"),
	[]byte("HEAD"),
	[]byte("OPTIONS"),
	[]byte("PATCH"),
	[]byte("CONNECT"),
	[]byte("TRACE"),
}

var httpVersionPrefix = []byte("HTTP/")

// HTTPHeader is one header line, in capture order.
type HTTPHeader struct {
	Name  string
	Value string
}

// HTTPMessage is the start line and headers found in a payload prefix.
type HTTPMessage struct {
	Request bool
	// Request line
	Method string
	Target string
	// Status line
	StatusCode int
	Reason     string

	Version string
	Headers []HTTPHeader
	// Truncated is set when the prefix ended before the blank line.
	Truncated bool
}

// Header returns the first header value with the given name, ignoring case.
func (m *HTTPMessage) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if bytes.EqualFold([]byte(h.Name), []byte(name)) {
			return h.Value, true
		}
	}
	return "", false
}

// StartLine reconstructs the request or status line.
func (m *HTTPMessage) StartLine() string {
	if m.Request {
		return m.Method + " " + m.Target + " " + m.Version
	}
	if m.Reason == "" {
		return fmt.Sprintf("%s %d", m.Version, m.StatusCode)
	}
	return fmt.Sprintf("%s %d %s", m.Version, m.StatusCode, m.Reason)
}

// HTTP parses a request line or a status line followed by header lines.
// It fails with core.ErrUnparsed when the payload does not start like HTTP.
func HTTP(p []byte) (*HTTPMessage, error) {
	line, rest, complete := nextLine(p)
	if !complete {
		// The start line must be complete to be trusted.
		return nil, fmt.Errorf("%w: no http start line", core.ErrUnparsed)
	}

	msg := &HTTPMessage{}
	var err error
	if bytes.HasPrefix(line, httpVersionPrefix) {
		err = parseStatusLine(line, msg)
	} else {
		err = parseRequestLine(line, msg)
	}
	if err != nil {
		return nil, err
	}

	// Step 2: headers until the blank line or the end of the prefix
	for {
		if len(rest) == 0 {
			msg.Truncated = true
			break
		}
		line, rest, complete = nextLine(rest)
		if complete && len(line) == 0 {
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			if !complete {
				msg.Truncated = true
				break
			}
			return nil, fmt.Errorf("%w: malformed http header line", core.ErrUnparsed)
		}
		msg.Headers = append(msg.Headers, HTTPHeader{
			Name:  string(bytes.TrimSpace(line[:colon])),
			Value: string(bytes.TrimSpace(line[colon+1:])),
		})
		if !complete {
			msg.Truncated = true
			break
		}
	}
	return msg, nil
}

func parseRequestLine(line []byte, msg *HTTPMessage) error {
	parts := bytes.Split(line, []byte(" "))
	if len(parts) != 3 || !isHTTPMethod(parts[0]) || len(parts[1]) == 0 || !isHTTPVersion(parts[2]) {
		return fmt.Errorf("%w: not an http request line", core.ErrUnparsed)
	}
	msg.Request = true
	msg.Method = string(parts[0])
	msg.Target = string(parts[1])
	msg.Version = string(parts[2])
	return nil
}

func parseStatusLine(line []byte, msg *HTTPMessage) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 || !isHTTPVersion(parts[0]) || len(parts[1]) != 3 {
		return fmt.Errorf("%w: not an http status line", core.ErrUnparsed)
	}
	code, err := strconv.Atoi(string(parts[1]))
	if err != nil || code < 100 || code > 999 {
		return fmt.Errorf("%w: bad http status code %q", core.ErrUnparsed, parts[1])
	}
	msg.Version = string(parts[0])
	msg.StatusCode = code
	if len(parts) == 3 {
		msg.Reason = string(parts[2])
	}
	return nil
}

func isHTTPMethod(b []byte) bool {
	for _, m := range httpMethods {
		if bytes.Equal(b, m) {
			return true
		}
	}
	return false
}

// isHTTPVersion accepts "HTTP/d.d" and "HTTP/d".
func isHTTPVersion(b []byte) bool {
	if !bytes.HasPrefix(b, httpVersionPrefix) {
		return false
	}
	v := b[len(httpVersionPrefix):]
	switch len(v) {
	case 1:
		return isDigit(v[0])
	case 3:
		return isDigit(v[0]) && v[1] == '.' && isDigit(v[2])
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// nextLine splits off one CRLF or LF terminated line. complete is false when
// p ended before a terminator.
func nextLine(p []byte) (line, rest []byte, complete bool) {
	i := bytes.IndexByte(p, '\n')
	if i < 0 {
		return p, nil, false
	}
	line = p[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, p[i+1:], true
}
