// Package wsmuxtest provides deterministic stand-ins for the scheduler and
// transport of package wsmux.
package wsmuxtest

import (
	"sort"
	"time"

	"github.com/gosuda/echo-chat/wsmux"
)

// Epoch is the starting time of every Scheduler.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Scheduler is a manual clock. Timers fire only inside Advance, on the
// calling goroutine, in deadline order.
type Scheduler struct {
	now    time.Time
	seq    int
	timers []*Timer
}

func NewScheduler() *Scheduler { return &Scheduler{now: Epoch} }

func (s *Scheduler) Now() time.Time { return s.now }

// Elapsed is the time advanced since Epoch.
func (s *Scheduler) Elapsed() time.Duration { return s.now.Sub(Epoch) }

func (s *Scheduler) AfterFunc(d time.Duration, fn func()) wsmux.Timer {
	if d < 0 {
		d = 0
	}
	s.seq++
	t := &Timer{s: s, at: s.now.Add(d), seq: s.seq, fn: fn, Delay: d}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due,
// including timers scheduled by the callbacks themselves.
func (s *Scheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	for {
		t := s.next()
		if t == nil || t.at.After(target) {
			break
		}
		s.remove(t)
		s.now = t.at
		t.fired = true
		t.fn()
	}
	s.now = target
}

// RunNext fires the earliest timer, advancing the clock to it. It reports
// false when nothing is scheduled.
func (s *Scheduler) RunNext() bool {
	t := s.next()
	if t == nil {
		return false
	}
	s.Advance(t.at.Sub(s.now))
	return true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int { return len(s.timers) }

// Next returns the delay until the earliest armed timer.
func (s *Scheduler) Next() (time.Duration, bool) {
	t := s.next()
	if t == nil {
		return 0, false
	}
	return t.at.Sub(s.now), true
}

func (s *Scheduler) next() *Timer {
	if len(s.timers) == 0 {
		return nil
	}
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].at.Equal(s.timers[j].at) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].at.Before(s.timers[j].at)
	})
	return s.timers[0]
}

func (s *Scheduler) remove(t *Timer) {
	for i, x := range s.timers {
		if x == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

// Timer is a timer armed on a Scheduler.
type Timer struct {
	s     *Scheduler
	at    time.Time
	seq   int
	fn    func()
	fired bool

	Delay time.Duration
}

func (t *Timer) Stop() bool {
	if t.fired {
		return false
	}
	for _, x := range t.s.timers {
		if x == t {
			t.s.remove(t)
			return true
		}
	}
	return false
}
