package sse

import (
	"bytes"
	"io"
	"strings"
)

// Event is a single SSE frame. Comment-only frames (Comment set, no Name and
// no Data) are used for keepalives and are ignored by clients.
type Event struct {
	Name    string
	ID      string
	Data    []byte
	Comment string
}

// MessageEvent wraps a JSON-RPC payload in the "message" event type.
func MessageEvent(payload []byte) Event {
	return Event{Name: "message", Data: payload}
}

func (e Event) isComment() bool {
	return e.Name == "" && e.ID == "" && e.Data == nil && e.Comment != ""
}

// encode renders the frame in wire format. Multi-line data is split into one
// data field per line.
func (e Event) encode(buf *bytes.Buffer) {
	if e.Comment != "" {
		for _, line := range splitLines(e.Comment) {
			buf.WriteString(": ")
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		if e.isComment() {
			buf.WriteByte('\n')
			return
		}
	}
	if e.Name != "" {
		buf.WriteString("event: ")
		buf.WriteString(stripNewlines(e.Name))
		buf.WriteByte('\n')
	}
	if e.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(stripNewlines(e.ID))
		buf.WriteByte('\n')
	}
	for _, line := range splitLines(string(e.Data)) {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
}

// WriteTo writes the encoded frame to w in a single Write call.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	e.encode(&buf)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
