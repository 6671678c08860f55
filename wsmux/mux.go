package wsmux

import (
	"strings"
)

// Mux multiplexes many subscriber identities over one shared connection. It
// owns the lifecycle manager, registry, queue, router, correlator and reveal
// scheduler. A Mux is single threaded: call it only from the goroutine that
// runs its Scheduler (normally a Loop).
type Mux struct {
	cfg  Config
	opts options

	sched    Scheduler
	mgr      *Manager
	reg      *Registry
	queue    *Queue
	router   *Router
	corr     *Correlator
	revealer *Revealer

	closed bool
}

// New builds a Mux. When no dialer is given and sched is a Poster, a gorilla
// websocket dialer posting onto sched is used.
func New(sched Scheduler, cfg Config, opts ...Option) (*Mux, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.withDefaults()
	if o.dialer == nil {
		p, ok := sched.(Poster)
		if !ok {
			return nil, ErrNoDialer
		}
		o.dialer = NewWebSocketDialer(p, cfg.ConnectTimeout)
	}

	m := &Mux{cfg: cfg, opts: o, sched: sched, queue: &Queue{}}
	m.reg = NewRegistry(o.logger)
	m.corr = NewCorrelator(sched, o.newID, CorrelatorHooks{
		Transmit:   m.transmit,
		OnResolved: m.handleResolved,
		OnFailed:   m.handleFailed,
	})
	m.router = NewRouter(m.reg, m.corr, sched, o.noise, o.logger)
	m.revealer = NewRevealer(sched, cfg.RevealInterval, m.publishReveal)
	m.mgr = NewManager(ManagerConfig{
		Endpoint:       cfg.Endpoint,
		Dialer:         o.dialer,
		Scheduler:      sched,
		Retry:          cfg.Retry,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         o.logger,
		Hooks: ManagerHooks{
			Wanted:      func() bool { return m.reg.Len() > 0 },
			OnState:     m.handleState,
			OnOpen:      m.flush,
			OnFrame:     m.router.Route,
			OnExhausted: m.giveUp,
		},
	})
	m.reg.OnFirst = m.mgr.EnsureConnected
	m.reg.OnEmpty = m.mgr.Close
	return m, nil
}

// Subscribe registers identity and returns a handle that unsubscribes this
// registration. The current status is reported to cb.OnStatusChange before
// Subscribe returns.
func (m *Mux) Subscribe(identity string, cb Callbacks) (unsubscribe func()) {
	if m.closed {
		return func() {}
	}
	token := m.reg.Subscribe(identity, cb)
	return func() {
		if m.reg.UnsubscribeToken(identity, token) {
			m.release(identity)
		}
	}
}

// Unsubscribe stops all delivery to identity and drops its pending work.
func (m *Mux) Unsubscribe(identity string) {
	if m.reg.Unsubscribe(identity) {
		m.release(identity)
	}
}

func (m *Mux) release(identity string) {
	m.revealer.CancelOwner(identity)
	m.corr.Abandon(identity)
	if dropped := m.queue.DropIdentity(identity); len(dropped) > 0 {
		m.opts.logger.Debug().Str("identity", identity).Int("dropped", len(dropped)).Msg("[wsmux] dropped queued sends")
	}
}

// Send issues content for identity and returns its correlation id. The
// payload is transmitted now if a connection is open, queued otherwise.
func (m *Mux) Send(identity, content string) (string, error) {
	if m.closed {
		return "", ErrClosed
	}
	if !m.reg.Has(identity) {
		return "", ErrNotSubscribed
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	return m.corr.Send(identity, content)
}

// Fail gives up on a pending send; its subscriber sees OnSendFailed.
func (m *Mux) Fail(correlationID string) bool {
	m.queue.Remove(correlationID)
	_, ok := m.corr.Fail(correlationID, ErrAbandoned)
	return ok
}

// Reveal starts a typing reveal of text for identity's messageID.
func (m *Mux) Reveal(identity, messageID, text string) error {
	if m.closed {
		return ErrClosed
	}
	if !m.reg.Has(identity) {
		return ErrNotSubscribed
	}
	m.revealer.Start(identity, messageID, text)
	return nil
}

// CancelReveal stops messageID's reveal without publishing a final state.
func (m *Mux) CancelReveal(messageID string) bool { return m.revealer.Cancel(messageID) }

// Reconnect is an explicit connect request, the way out of the exhausted
// state. It does nothing without subscribers.
func (m *Mux) Reconnect() {
	if m.closed || m.reg.Len() == 0 {
		return
	}
	m.mgr.EnsureConnected()
}

func (m *Mux) State() State { return m.mgr.State() }

// Exhausted reports whether retries stopped at the attempt ceiling.
func (m *Mux) Exhausted() bool { return m.mgr.Exhausted() }

// ConnectedIdentityCount is the number of identities sharing the connection.
func (m *Mux) ConnectedIdentityCount() int { return m.reg.Len() }

func (m *Mux) Identities() []string { return m.reg.Identities() }

func (m *Mux) QueueLen() int { return m.queue.Len() }

func (m *Mux) PendingLen() int { return m.corr.Len() }

// Pending looks up an unresolved send.
func (m *Mux) Pending(correlationID string) (PendingSend, bool) { return m.corr.Lookup(correlationID) }

// Shutdown cancels every timer, closes the connection normally and forgets
// all subscribers without notifying them. The Mux is unusable afterwards.
func (m *Mux) Shutdown() {
	if m.closed {
		return
	}
	m.closed = true
	m.revealer.CancelAll()
	m.reg.Reset()
	m.mgr.Close()
	m.queue.Drain()
	m.corr.Clear()
	m.opts.logger.Debug().Msg("[wsmux] shut down")
}

func (m *Mux) transmit(qm QueuedMessage) {
	if m.mgr.State() == Connected && m.queue.Len() == 0 {
		err := m.mgr.Send(qm.Payload)
		if err == nil {
			return
		}
		qm.Attempts++
		if m.exceeded(qm) {
			m.corr.Fail(qm.CorrelationID, ErrSendAttempts)
			return
		}
	}
	m.queue.Enqueue(qm)
}

func (m *Mux) flush() {
	sent, err := m.queue.Flush(func(qm QueuedMessage) error { return m.mgr.Send(qm.Payload) })
	if err == nil {
		if sent > 0 {
			m.opts.logger.Debug().Int("sent", sent).Msg("[wsmux] queue flushed")
		}
		return
	}
	m.opts.logger.Warn().Err(err).Int("sent", sent).Int("remaining", m.queue.Len()).Msg("[wsmux] queue flush stopped")
	if head, ok := m.queue.Peek(); ok && m.exceeded(head) {
		m.queue.PopFront()
		m.corr.Fail(head.CorrelationID, ErrSendAttempts)
	}
}

func (m *Mux) exceeded(qm QueuedMessage) bool {
	return m.cfg.MaxSendAttempts > 0 && qm.Attempts >= m.cfg.MaxSendAttempts
}

// giveUp fails everything still queued once reconnecting has stopped and
// tells every subscriber.
func (m *Mux) giveUp() {
	for _, qm := range m.queue.Drain() {
		m.corr.Fail(qm.CorrelationID, ErrGaveUp)
	}
	m.reg.DeliverAll(func(_ string, c Callbacks) {
		if c.OnExhausted != nil {
			c.OnExhausted()
		}
	})
}

func (m *Mux) handleState(s State) {
	m.reg.Broadcast(s == Connected)
}

func (m *Mux) handleResolved(p PendingSend) {
	conf := Confirmation{
		CorrelationID: p.CorrelationID,
		Identity:      p.Identity,
		Content:       p.Content,
		SentAt:        p.CreatedAt,
		ConfirmedAt:   m.sched.Now(),
	}
	m.reg.Deliver(p.Identity, func(c Callbacks) {
		if c.OnConfirmed != nil {
			c.OnConfirmed(conf)
		}
	})
	m.persist(p.Identity)
}

func (m *Mux) handleFailed(p PendingSend, err error) {
	m.opts.logger.Warn().Err(err).Str("identity", p.Identity).Str("correlation", p.CorrelationID).Msg("[wsmux] send failed")
	m.reg.Deliver(p.Identity, func(c Callbacks) {
		if c.OnSendFailed != nil {
			c.OnSendFailed(p.CorrelationID, err)
		}
	})
	m.persist(p.Identity)
}

func (m *Mux) persist(identity string) {
	if m.opts.persister != nil {
		m.opts.persister.Persist(identity)
	}
}

func (m *Mux) publishReveal(r Reveal) {
	m.reg.Deliver(r.Owner, func(c Callbacks) {
		if c.OnReveal != nil {
			c.OnReveal(r)
		}
	})
}
