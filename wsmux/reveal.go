package wsmux

import "time"

// DefaultRevealInterval is the per-character reveal tick.
const DefaultRevealInterval = 50 * time.Millisecond

// Reveal is one published step of a reveal session.
type Reveal struct {
	Owner     string
	MessageID string
	Text      string // revealed prefix, or the full text once Revealing is false
	Revealed  int
	Total     int
	Revealing bool
}

type revealSession struct {
	owner    string
	id       string
	runes    []rune
	revealed int
	timer    Timer
}

// Revealer discloses message text one character per tick. At most one
// session exists per message id.
type Revealer struct {
	sched    Scheduler
	interval time.Duration
	publish  func(Reveal)
	sessions map[string]*revealSession
}

func NewRevealer(sched Scheduler, interval time.Duration, publish func(Reveal)) *Revealer {
	if interval <= 0 {
		interval = DefaultRevealInterval
	}
	if publish == nil {
		publish = func(Reveal) {}
	}
	return &Revealer{sched: sched, interval: interval, publish: publish, sessions: make(map[string]*revealSession)}
}

// Start replaces any session for messageID with a new one over text.
func (r *Revealer) Start(owner, messageID, text string) {
	r.Cancel(messageID)
	s := &revealSession{owner: owner, id: messageID, runes: []rune(text)}
	if len(s.runes) == 0 {
		r.publish(Reveal{Owner: owner, MessageID: messageID, Text: text})
		return
	}
	r.sessions[messageID] = s
	s.timer = r.sched.AfterFunc(r.interval, func() { r.tick(s) })
}

func (r *Revealer) tick(s *revealSession) {
	if r.sessions[s.id] != s {
		return
	}
	s.revealed++
	total := len(s.runes)
	r.publish(Reveal{
		Owner:     s.owner,
		MessageID: s.id,
		Text:      string(s.runes[:s.revealed]),
		Revealed:  s.revealed,
		Total:     total,
		Revealing: true,
	})
	if r.sessions[s.id] != s {
		return
	}
	if s.revealed >= total {
		delete(r.sessions, s.id)
		s.timer = nil
		r.publish(Reveal{Owner: s.owner, MessageID: s.id, Text: string(s.runes), Revealed: total, Total: total})
		return
	}
	s.timer = r.sched.AfterFunc(r.interval, func() { r.tick(s) })
}

// Cancel stops the session for messageID without publishing.
func (r *Revealer) Cancel(messageID string) bool {
	s, ok := r.sessions[messageID]
	if !ok {
		return false
	}
	delete(r.sessions, messageID)
	if s.timer != nil {
		s.timer.Stop()
	}
	return true
}

// CancelOwner stops every session started for owner.
func (r *Revealer) CancelOwner(owner string) int {
	n := 0
	for id, s := range r.sessions {
		if s.owner == owner && r.Cancel(id) {
			n++
		}
	}
	return n
}

// CancelAll stops every live session.
func (r *Revealer) CancelAll() {
	for id := range r.sessions {
		r.Cancel(id)
	}
}

// Active reports the revealed length of messageID's session.
func (r *Revealer) Active(messageID string) (revealed int, ok bool) {
	s, ok := r.sessions[messageID]
	if !ok {
		return 0, false
	}
	return s.revealed, true
}

func (r *Revealer) Len() int { return len(r.sessions) }
