package wsmux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Outbound is the record attached to every correlated send.
type Outbound struct {
	Identity      string    `json:"identity"`
	Content       string    `json:"content"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// encodeOutbound marshals without HTML escaping so <, > and & survive the
// round trip through the echo endpoint untouched.
func encodeOutbound(o Outbound) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(o); err != nil {
		return nil, fmt.Errorf("encode outbound: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FrameKind tells whether a frame decoded as a structured record.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameRecord
)

// Frame is one received frame, loosely typed.
type Frame struct {
	Kind   FrameKind
	Fields map[string]any
	Text   string
	Raw    []byte
}

// Field names the router understands, in lookup order.
var (
	echoFields     = []string{"echoOf", "correlationId", "originalMessageId"}
	identityFields = []string{"identity", "userId"}
	contentFields  = []string{"content", "text"}
)

// Decode parses raw as a JSON object, falling back to opaque text.
func Decode(raw []byte) Frame {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]any
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&fields); err == nil && fields != nil {
			return Frame{Kind: FrameRecord, Fields: fields, Raw: raw}
		}
	}
	return Frame{Kind: FrameText, Text: string(raw), Raw: raw}
}

// Field returns the first non-empty field among names, stringifying numbers.
func (f Frame) Field(names ...string) string {
	if f.Kind != FrameRecord {
		return ""
	}
	for _, name := range names {
		switch v := f.Fields[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case bool:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// EchoOf is the correlation id this frame echoes, if any.
func (f Frame) EchoOf() string { return f.Field(echoFields...) }

// Target is the identity the frame is addressed to, if any.
func (f Frame) Target() string { return f.Field(identityFields...) }

// Content is the frame's text payload.
func (f Frame) Content() string {
	if f.Kind == FrameText {
		return f.Text
	}
	return f.Field(contentFields...)
}

// Inbound is what a subscriber receives for one routed frame.
type Inbound struct {
	Kind          FrameKind
	Identity      string
	Content       string
	CorrelationID string
	Confirmed     bool
	Fields        map[string]any
	Raw           []byte
	ReceivedAt    time.Time
}

// NoiseFilter reports whether a text payload is endpoint chatter rather than
// chat content.
type NoiseFilter func(text string) bool

// DefaultNoiseFilter drops the banner frames public echo servers send on
// connect.
func DefaultNoiseFilter(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "Request served by ")
}
