package wsmux

import (
	"time"

	"github.com/rs/zerolog"
)

// Backoff selects how the retry delay grows with the attempt number.
type Backoff int

const (
	BackoffLinear Backoff = iota
	BackoffExponential
)

// RetryPolicy bounds reconnection after an open failure or abnormal close.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     Backoff
	MaxDelay    time.Duration // 0 for no cap
}

// DefaultRetryPolicy retries three times, 2s apart per attempt number.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Backoff: BackoffLinear}

// Delay returns the wait before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Backoff {
	case BackoffExponential:
		d = p.BaseDelay
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	default:
		d = p.BaseDelay * time.Duration(attempt)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ManagerHooks connect the manager to the rest of the mux.
type ManagerHooks struct {
	Wanted      func() bool // whether anyone still needs the connection
	OnState     func(State)
	OnOpen      func()
	OnFrame     func([]byte)
	OnExhausted func()
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Endpoint       string
	Dialer         Dialer
	Scheduler      Scheduler
	Retry          RetryPolicy
	ConnectTimeout time.Duration
	Hooks          ManagerHooks
	Logger         zerolog.Logger
}

// Manager owns the single transport handle and its connect/retry state
// machine. It is not safe for concurrent use; drive it from one loop.
type Manager struct {
	cfg   ManagerConfig
	hooks ManagerHooks
	log   zerolog.Logger

	state     State
	handle    Handle
	gen       uint64
	attempts  int
	exhausted bool

	retryTimer   Timer
	connectTimer Timer
}

func NewManager(cfg ManagerConfig) *Manager {
	h := cfg.Hooks
	if h.Wanted == nil {
		h.Wanted = func() bool { return true }
	}
	if h.OnState == nil {
		h.OnState = func(State) {}
	}
	if h.OnOpen == nil {
		h.OnOpen = func() {}
	}
	if h.OnFrame == nil {
		h.OnFrame = func([]byte) {}
	}
	if h.OnExhausted == nil {
		h.OnExhausted = func() {}
	}
	return &Manager{cfg: cfg, hooks: h, log: cfg.Logger}
}

func (m *Manager) State() State { return m.state }

// Attempts is the number of retries scheduled since the last reset.
func (m *Manager) Attempts() int { return m.attempts }

// Exhausted reports whether retrying stopped at the attempt ceiling.
func (m *Manager) Exhausted() bool { return m.exhausted }

// RetryPending reports whether a retry timer is armed.
func (m *Manager) RetryPending() bool { return m.retryTimer != nil }

// EnsureConnected resets the attempt counter and opens a connection unless
// one is already opening or open.
func (m *Manager) EnsureConnected() {
	m.attempts = 0
	m.exhausted = false
	if m.state == Connecting || m.state == Connected {
		return
	}
	m.stopRetry()
	m.connect()
}

// Send transmits one frame on the open connection.
func (m *Manager) Send(frame []byte) error {
	if m.state != Connected || m.handle == nil {
		return ErrNotConnected
	}
	if err := m.handle.Send(frame); err != nil {
		m.log.Debug().Err(err).Msg("[wsmux] transmit failed")
		return err
	}
	return nil
}

// Close tears the connection down with a normal code. No retry follows.
func (m *Manager) Close() {
	m.stopRetry()
	m.stopConnectTimer()
	m.attempts = 0
	if m.handle == nil {
		m.setState(Disconnected)
		return
	}
	h := m.handle
	m.handle = nil
	m.gen++
	m.setState(Closing)
	if err := h.Close(CloseNormal, "client closing"); err != nil {
		m.log.Debug().Err(err).Msg("[wsmux] close handle")
	}
	m.setState(Disconnected)
}

func (m *Manager) connect() {
	if m.state == Connecting || m.state == Connected {
		return
	}
	m.gen++
	gen := m.gen
	m.setState(Connecting)
	m.log.Debug().Str("endpoint", m.cfg.Endpoint).Int("attempt", m.attempts).Msg("[wsmux] connecting")
	h, err := m.cfg.Dialer.Dial(m.cfg.Endpoint, Events{
		OnOpen:  func() { m.handleOpen(gen) },
		OnFrame: func(b []byte) { m.handleFrame(gen, b) },
		OnClose: func(code int, reason string) { m.handleClose(gen, code, reason) },
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("[wsmux] create transport failed")
		m.fail()
		return
	}
	if gen != m.gen {
		// the dialer reported a close synchronously
		_ = h.Close(CloseNormal, "superseded")
		return
	}
	m.handle = h
	if m.cfg.ConnectTimeout > 0 {
		m.connectTimer = m.cfg.Scheduler.AfterFunc(m.cfg.ConnectTimeout, func() { m.handleConnectTimeout(gen) })
	}
}

func (m *Manager) handleOpen(gen uint64) {
	if gen != m.gen || m.state != Connecting {
		return
	}
	m.stopConnectTimer()
	m.attempts = 0
	m.exhausted = false
	m.log.Info().Str("endpoint", m.cfg.Endpoint).Msg("[wsmux] connected")
	m.setState(Connected)
	if m.state == Connected {
		m.hooks.OnOpen()
	}
}

func (m *Manager) handleFrame(gen uint64, frame []byte) {
	if gen != m.gen || m.state != Connected {
		return
	}
	m.hooks.OnFrame(frame)
}

func (m *Manager) handleClose(gen uint64, code int, reason string) {
	if gen != m.gen {
		return
	}
	m.stopConnectTimer()
	m.handle = nil
	m.gen++
	m.setState(Disconnected)
	if code == CloseNormal {
		m.log.Info().Int("code", code).Str("reason", reason).Msg("[wsmux] connection closed")
		return
	}
	m.log.Warn().Int("code", code).Str("reason", reason).Msg("[wsmux] connection lost")
	m.scheduleRetry()
}

func (m *Manager) handleConnectTimeout(gen uint64) {
	m.connectTimer = nil
	if gen != m.gen || m.state != Connecting {
		return
	}
	m.log.Warn().Dur("timeout", m.cfg.ConnectTimeout).Msg("[wsmux] connect timed out")
	if m.handle != nil {
		_ = m.handle.Close(CloseNormal, "connect timeout")
	}
	m.fail()
}

// fail turns a creation or open failure into a transition plus a retry.
func (m *Manager) fail() {
	m.stopConnectTimer()
	m.handle = nil
	m.gen++
	m.setState(Disconnected)
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	if m.retryTimer != nil || !m.hooks.Wanted() {
		return
	}
	p := m.cfg.Retry
	if m.attempts >= p.MaxAttempts {
		m.exhausted = true
		m.log.Warn().Int("attempts", m.attempts).Msg("[wsmux] reconnect attempts exhausted")
		m.hooks.OnExhausted()
		return
	}
	m.attempts++
	delay := p.Delay(m.attempts)
	m.log.Info().Int("attempt", m.attempts).Int("max", p.MaxAttempts).Dur("delay", delay).Msg("[wsmux] scheduling reconnect")
	m.retryTimer = m.cfg.Scheduler.AfterFunc(delay, func() {
		m.retryTimer = nil
		if m.state == Disconnected && m.hooks.Wanted() {
			m.connect()
		}
	})
}

func (m *Manager) stopRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) stopConnectTimer() {
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.hooks.OnState(s)
}
