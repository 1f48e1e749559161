// Package stomp implements the subset of the STOMP wire protocol the Storm
// Watch realtime feed uses: CONNECT/CONNECTED for the session handshake,
// SUBSCRIBE/UNSUBSCRIBE for topic registration, and MESSAGE/ERROR frames
// pushed by the server. Transactions, receipts, and acknowledgment modes are
// deliberately not supported.
package stomp

import (
	"errors"
	"strings"
)

// Frame commands used by the Storm Watch feed.
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandMessage     = "MESSAGE"
	CommandError       = "ERROR"
)

// ErrEmptyFrame is returned by Decode for input that contains no frame,
// e.g. a bare NUL keep-alive or an empty websocket message.
var ErrEmptyFrame = errors.New("stomp: empty frame")

// Frame is one STOMP protocol unit: a command, a header map, and an
// optional body. Header keys are unique; a duplicate header line on the
// wire is last-write-wins.
type Frame struct {
	Command string
	Headers map[string]string
	Body    string
}

// NewFrame builds a frame, copying the header map so callers can reuse theirs.
func NewFrame(command string, headers map[string]string, body string) Frame {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return Frame{Command: command, Headers: h, Body: body}
}

// Encode serializes a frame to its wire form: the command line, one
// "key:value" line per header, a blank line, the body, and a single
// terminating NUL. Header values are written verbatim; this codec performs
// no escaping.
func Encode(f Frame) []byte {
	var b strings.Builder
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for k, v := range f.Headers {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if f.Body != "" {
		b.WriteString(f.Body)
	}
	b.WriteByte(0)
	return []byte(b.String())
}

// Decode parses one frame from its wire form. Trailing NULs are stripped,
// the first line is the command, header lines run until the first blank
// line, and everything after that blank line is the body. Header lines
// without a colon are skipped rather than rejected; only the first colon
// separates key from value, so values may contain colons.
func Decode(data []byte) (Frame, error) {
	text := strings.TrimRight(string(data), "\x00")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if text == "" {
		return Frame{}, ErrEmptyFrame
	}

	lines := strings.Split(text, "\n")
	f := Frame{
		Command: lines[0],
		Headers: make(map[string]string),
	}

	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			i++
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f.Headers[key] = value
	}

	if i < len(lines) {
		f.Body = strings.Join(lines[i:], "\n")
	}
	return f, nil
}
