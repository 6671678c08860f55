package wsmux

import (
	"time"

	"github.com/google/uuid"
)

// PendingSend is a locally issued message waiting for its echo.
type PendingSend struct {
	CorrelationID string
	Identity      string
	Content       string
	CreatedAt     time.Time
}

// CorrelatorHooks report resolution and failure of pending sends.
type CorrelatorHooks struct {
	Transmit   func(QueuedMessage)
	OnResolved func(PendingSend)
	OnFailed   func(PendingSend, error)
}

// Correlator matches echoed frames to the sends that produced them. Entries
// are never expired by time: a send whose echo never arrives stays pending
// until it is resolved, failed or abandoned.
type Correlator struct {
	pending map[string]PendingSend
	newID   func() string
	sched   Scheduler
	hooks   CorrelatorHooks

	// ids abandoned on unsubscribe, oldest first
	abandoned     map[string]struct{}
	abandonedRing []string
}

// maxAbandoned bounds how many abandoned ids are remembered.
const maxAbandoned = 256

func NewCorrelator(sched Scheduler, newID func() string, hooks CorrelatorHooks) *Correlator {
	if newID == nil {
		newID = uuid.NewString
	}
	if hooks.Transmit == nil {
		hooks.Transmit = func(QueuedMessage) {}
	}
	if hooks.OnResolved == nil {
		hooks.OnResolved = func(PendingSend) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(PendingSend, error) {}
	}
	return &Correlator{
		pending:   make(map[string]PendingSend),
		abandoned: make(map[string]struct{}),
		newID:     newID,
		sched:     sched,
		hooks:     hooks,
	}
}

// Send records a pending send for content, attaches a fresh correlation id to
// the outbound record and hands it to the transmit path. It returns as soon
// as the payload is handed off.
func (c *Correlator) Send(identity, content string) (string, error) {
	id := c.newID()
	now := c.sched.Now()
	payload, err := encodeOutbound(Outbound{
		Identity:      identity,
		Content:       content,
		Type:          "chat",
		Timestamp:     now.UTC(),
		CorrelationID: id,
	})
	if err != nil {
		return "", err
	}
	c.pending[id] = PendingSend{CorrelationID: id, Identity: identity, Content: content, CreatedAt: now}
	c.hooks.Transmit(QueuedMessage{Identity: identity, CorrelationID: id, Payload: payload})
	return id, nil
}

// Resolve confirms the send with correlationID. Only the first call for an
// id has any effect.
func (c *Correlator) Resolve(correlationID string) (PendingSend, bool) {
	p, ok := c.pending[correlationID]
	if !ok {
		return PendingSend{}, false
	}
	delete(c.pending, correlationID)
	c.hooks.OnResolved(p)
	return p, true
}

// Fail moves the send to the terminal failed state.
func (c *Correlator) Fail(correlationID string, err error) (PendingSend, bool) {
	p, ok := c.pending[correlationID]
	if !ok {
		return PendingSend{}, false
	}
	delete(c.pending, correlationID)
	c.hooks.OnFailed(p, err)
	return p, true
}

// Abandon forgets every pending send of identity without notifying anyone.
// Their ids are remembered so a late echo can be recognised by Abandoned.
func (c *Correlator) Abandon(identity string) []PendingSend {
	var out []PendingSend
	for id, p := range c.pending {
		if p.Identity == identity {
			out = append(out, p)
			delete(c.pending, id)
			c.remember(id)
		}
	}
	return out
}

// Abandoned reports whether correlationID belonged to an abandoned send.
func (c *Correlator) Abandoned(correlationID string) bool {
	_, ok := c.abandoned[correlationID]
	return ok
}

func (c *Correlator) remember(id string) {
	if len(c.abandonedRing) >= maxAbandoned {
		delete(c.abandoned, c.abandonedRing[0])
		c.abandonedRing = c.abandonedRing[1:]
	}
	c.abandoned[id] = struct{}{}
	c.abandonedRing = append(c.abandonedRing, id)
}

func (c *Correlator) Lookup(correlationID string) (PendingSend, bool) {
	p, ok := c.pending[correlationID]
	return p, ok
}

func (c *Correlator) Len() int { return len(c.pending) }

func (c *Correlator) Clear() {
	c.pending = make(map[string]PendingSend)
	c.abandoned = make(map[string]struct{})
	c.abandonedRing = nil
}
