package wsmux

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

const loopBufferSize = 256

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler schedules callbacks onto the goroutine that owns the core state.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Poster hands work to the event loop from any goroutine.
type Poster interface {
	Post(fn func()) bool
}

// Loop is a single-goroutine event loop. Every function posted to it runs to
// completion before the next one starts, so state touched only from the loop
// needs no locking.
type Loop struct {
	clock    clock.Clock
	commands chan func()
	closing  chan struct{}
	once     sync.Once
}

func NewLoop(c clock.Clock) *Loop {
	if c == nil {
		c = clock.New()
	}
	return &Loop{
		clock:    c,
		commands: make(chan func(), loopBufferSize),
		closing:  make(chan struct{}),
	}
}

// Post enqueues fn. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.closing:
		return false
	default:
	}
	select {
	case l.commands <- fn:
		return true
	case <-l.closing:
		return false
	}
}

// Do runs fn on the loop and waits for it. Never call it from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return ErrClosed
	}
}

// Run drains posted functions until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.commands:
			l.run(fn)
		case <-l.closing:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("[wsmux] loop task panicked")
		}
	}()
	fn()
}

// Close stops Run and rejects further posts. Pending tasks are discarded.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.closing) })
}

func (l *Loop) Now() time.Time { return l.clock.Now() }

// AfterFunc schedules fn to run on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped {
				return
			}
			lt.stopped = true
			fn()
		})
	})
	return lt
}

// loopTimer is only touched from the loop, so Stop is final even when the
// clock has already fired and the callback is waiting in the queue.
type loopTimer struct {
	t       *clock.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}
