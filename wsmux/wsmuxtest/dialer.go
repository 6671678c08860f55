package wsmuxtest

import (
	"encoding/json"
	"errors"

	"github.com/gosuda/echo-chat/wsmux"
)

// ErrSendScripted is returned by a Handle told to fail its sends.
var ErrSendScripted = errors.New("wsmuxtest: scripted send failure")

// Dialer records every dial and hands out scripted handles.
type Dialer struct {
	// FailCreate makes the next n dials fail synchronously.
	FailCreate int
	Handles    []*Handle
}

func (d *Dialer) Dial(endpoint string, ev wsmux.Events) (wsmux.Handle, error) {
	if d.FailCreate > 0 {
		d.FailCreate--
		return nil, errors.New("wsmuxtest: scripted create failure")
	}
	h := &Handle{Endpoint: endpoint, ev: ev}
	d.Handles = append(d.Handles, h)
	return h, nil
}

// Dials is the number of handles created.
func (d *Dialer) Dials() int { return len(d.Handles) }

// Last returns the most recent handle, or nil.
func (d *Dialer) Last() *Handle {
	if len(d.Handles) == 0 {
		return nil
	}
	return d.Handles[len(d.Handles)-1]
}

// Handle is a transport handle driven by the test.
type Handle struct {
	Endpoint string
	ev       wsmux.Events

	Sent [][]byte
	// FailSends makes the next n sends fail.
	FailSends int

	Closed      bool
	CloseCode   int
	CloseReason string
}

func (h *Handle) Send(frame []byte) error {
	if h.FailSends > 0 {
		h.FailSends--
		return ErrSendScripted
	}
	h.Sent = append(h.Sent, append([]byte(nil), frame...))
	return nil
}

func (h *Handle) Close(code int, reason string) error {
	h.Closed = true
	h.CloseCode = code
	h.CloseReason = reason
	return nil
}

// Open reports the connection as established.
func (h *Handle) Open() { h.ev.OnOpen() }

// Deliver reports one received frame.
func (h *Handle) Deliver(frame []byte) { h.ev.OnFrame(frame) }

// DeliverJSON marshals v and reports it as a received frame.
func (h *Handle) DeliverJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	h.Deliver(b)
}

// Drop reports the connection as closed by the peer or the network.
func (h *Handle) Drop(code int) { h.ev.OnClose(code, "scripted") }

// SentRecords decodes every sent frame as a JSON object.
func (h *Handle) SentRecords() []map[string]any {
	out := make([]map[string]any, 0, len(h.Sent))
	for _, b := range h.Sent {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			m = map[string]any{"raw": string(b)}
		}
		out = append(out, m)
	}
	return out
}
