package wsmux

import (
	"time"

	"github.com/rs/zerolog"
)

// Callbacks receive everything the mux routes to one identity. Nil entries
// are skipped. They run on the loop.
type Callbacks struct {
	OnMessage      func(Inbound)
	OnStatusChange func(connected bool)
	OnConfirmed    func(Confirmation)
	OnSendFailed   func(correlationID string, err error)
	OnReveal       func(Reveal)
	// OnExhausted fires once reconnecting has stopped. Only an explicit
	// reconnect or a fresh first subscriber opens the connection again.
	OnExhausted    func()
}

// Confirmation reports that the transport echoed a pending send.
type Confirmation struct {
	CorrelationID string
	Identity      string
	Content       string
	SentAt        time.Time
	ConfirmedAt   time.Time
}

type subscription struct {
	identity string
	token    uint64
	cb       Callbacks
}

// Registry tracks the identities sharing the connection and ref-counts
// interest in it: OnFirst fires on 0→1 and OnEmpty on 1→0.
type Registry struct {
	order  []string
	subs   map[string]*subscription
	status map[string]bool

	connected bool
	seq       uint64

	OnFirst func()
	OnEmpty func()

	log zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		subs:   make(map[string]*subscription),
		status: make(map[string]bool),
		log:    logger,
	}
}

// Subscribe registers cb for identity and immediately reports the current
// status to it. Re-subscribing replaces the callbacks in place. The returned
// token identifies this registration for UnsubscribeToken.
func (r *Registry) Subscribe(identity string, cb Callbacks) uint64 {
	r.seq++
	token := r.seq
	first := len(r.subs) == 0
	if s, ok := r.subs[identity]; ok {
		s.cb = cb
		s.token = token
	} else {
		r.subs[identity] = &subscription{identity: identity, token: token, cb: cb}
		r.order = append(r.order, identity)
	}
	r.status[identity] = r.connected
	connected := r.connected
	r.deliver(identity, "status", func(c Callbacks) {
		if c.OnStatusChange != nil {
			c.OnStatusChange(connected)
		}
	})
	if first && len(r.subs) > 0 && r.OnFirst != nil {
		r.OnFirst()
	}
	return token
}

// Unsubscribe removes identity. It reports whether it was registered.
func (r *Registry) Unsubscribe(identity string) bool {
	if _, ok := r.subs[identity]; !ok {
		return false
	}
	delete(r.subs, identity)
	delete(r.status, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if len(r.subs) == 0 && r.OnEmpty != nil {
		r.OnEmpty()
	}
	return true
}

// UnsubscribeToken removes identity only if token is still its current
// registration.
func (r *Registry) UnsubscribeToken(identity string, token uint64) bool {
	s, ok := r.subs[identity]
	if !ok || s.token != token {
		return false
	}
	return r.Unsubscribe(identity)
}

// Broadcast records and fans out the connection status in registration
// order. Identities that were last told the same status are skipped.
func (r *Registry) Broadcast(connected bool) {
	r.connected = connected
	for _, id := range r.Identities() {
		if _, ok := r.subs[id]; !ok || r.status[id] == connected {
			continue
		}
		r.status[id] = connected
		r.deliver(id, "status", func(c Callbacks) {
			if c.OnStatusChange != nil {
				c.OnStatusChange(connected)
			}
		})
	}
}

// Deliver invokes fn with identity's callbacks, isolating panics. It reports
// whether identity was registered.
func (r *Registry) Deliver(identity string, fn func(Callbacks)) bool {
	if _, ok := r.subs[identity]; !ok {
		return false
	}
	r.deliver(identity, "callback", fn)
	return true
}

// DeliverAll invokes fn for every registered identity in order.
func (r *Registry) DeliverAll(fn func(identity string, c Callbacks)) {
	for _, id := range r.Identities() {
		r.Deliver(id, func(c Callbacks) { fn(id, c) })
	}
}

func (r *Registry) deliver(identity, what string, fn func(Callbacks)) {
	s, ok := r.subs[identity]
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("identity", identity).Interface("panic", rec).Msgf("[wsmux] %s delivery panicked", what)
		}
	}()
	fn(s.cb)
}

func (r *Registry) Has(identity string) bool {
	_, ok := r.subs[identity]
	return ok
}

// Status is the last status delivered to identity.
func (r *Registry) Status(identity string) (connected, ok bool) {
	connected, ok = r.status[identity]
	return connected, ok
}

func (r *Registry) Len() int { return len(r.subs) }

// Identities returns the registered identities in registration order.
func (r *Registry) Identities() []string {
	return append([]string(nil), r.order...)
}

// Reset drops every subscription without firing OnEmpty or any callback.
func (r *Registry) Reset() {
	r.order = nil
	r.subs = make(map[string]*subscription)
	r.status = make(map[string]bool)
}
