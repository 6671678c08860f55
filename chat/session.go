package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosuda/echo-chat/chatstore"
	"github.com/gosuda/echo-chat/wsmux"
)

// Session is one identity's view of the chat.
type Session struct {
	c        *Client
	identity string
	name     string

	messages      []*Message
	byID          map[string]*Message
	byCorrelation map[string]*Message

	connected   bool
	typing      bool
	typingTimer wsmux.Timer

	saveTimer wsmux.Timer
	saveAt    time.Time
	dirty     bool

	unsubscribe func()
}

func newSession(c *Client, identity, name string, history []chatstore.Record, loadErr error) *Session {
	s := &Session{
		c:             c,
		identity:      identity,
		name:          SanitizeName(name),
		byID:          make(map[string]*Message),
		byCorrelation: make(map[string]*Message),
	}
	for _, r := range history {
		if s.name == "" && r.UserName != "" && r.Type != chatstore.KindReceived {
			s.name = r.UserName
		}
		if r.Type == "" {
			r.Type = chatstore.KindReceived
			if r.Sender == SenderYou {
				r.Type = chatstore.KindSent
			}
		}
		s.push(&Message{Record: r})
	}
	if s.name == "" {
		s.name = chatstore.DisplayName(identity)
	}
	switch {
	case loadErr != nil:
		s.push(s.system("Failed to load chat history."))
	case len(s.messages) == 0:
		s.push(s.system(fmt.Sprintf("Welcome %s! Start chatting...", s.name)))
	}
	return s
}

func (s *Session) Identity() string { return s.identity }
func (s *Session) Name() string     { return s.name }
func (s *Session) Connected() bool  { return s.connected }
func (s *Session) Typing() bool     { return s.typing }

// Messages returns a copy of the conversation, oldest first.
func (s *Session) Messages() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// Message looks up one message by id.
func (s *Session) Message(id string) (Message, bool) {
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// MessageCount counts settled non-system messages.
func (s *Session) MessageCount() int {
	n := 0
	for _, m := range s.messages {
		if !m.Optimistic && m.Type != chatstore.KindSystem {
			n++
		}
	}
	return n
}

// Status is the header line for the session.
func (s *Session) Status() string {
	if !s.connected {
		if s.c.mux.Exhausted() {
			return StatusExhausted
		}
		return "Connecting..."
	}
	n := s.c.mux.ConnectedIdentityCount()
	plural := "s"
	if n == 1 {
		plural = ""
	}
	return fmt.Sprintf("Connected • %d user%s online", n, plural)
}

// Send adds an optimistic message and hands text to the connection. It
// returns the new message id.
func (s *Session) Send(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", wsmux.ErrEmptyContent
	}
	m := &Message{
		Record: chatstore.Record{
			ID:       s.c.opts.newID(),
			Sender:   SenderYou,
			Text:     text,
			Type:     chatstore.KindSent,
			UserID:   s.identity,
			UserName: s.name,
			SavedAt:  s.c.sched.Now(),
		},
		Optimistic: true,
		Sending:    true,
	}
	s.add(m)
	cid, err := s.c.mux.Send(s.identity, text)
	if err != nil {
		s.markFailed(m)
		s.scheduleSave(s.c.opts.persistDelay)
		return m.ID, err
	}
	m.CorrelationID = cid
	s.byCorrelation[cid] = m
	return m.ID, nil
}

// Clear drops the stored history and restarts the conversation.
func (s *Session) Clear() error {
	pending := make([]string, 0, len(s.byCorrelation))
	for cid := range s.byCorrelation {
		pending = append(pending, cid)
	}
	s.byCorrelation = make(map[string]*Message)
	for _, cid := range pending {
		s.c.mux.Fail(cid)
	}
	for _, m := range s.messages {
		if m.Revealing {
			s.c.mux.CancelReveal(m.ID)
		}
	}
	s.stopSave()
	if err := s.c.store.ClearIdentity(s.identity); err != nil {
		return fmt.Errorf("clear %s: %w", s.identity, err)
	}
	s.messages = nil
	s.byID = make(map[string]*Message)
	s.push(s.system(clearedMsg))
	s.c.emit(Event{Identity: s.identity, Kind: EventCleared, Connected: s.connected})
	s.scheduleSave(s.c.opts.saveDelay)
	return nil
}

// React toggles the local user's emoji on a message.
func (s *Session) React(messageID, emoji string) error {
	m, ok := s.byID[messageID]
	if !ok {
		return ErrUnknownMessage
	}
	me := s.c.localID
	if m.Reactions[me] == emoji {
		delete(m.Reactions, me)
	} else {
		if m.Reactions == nil {
			m.Reactions = make(map[string]string)
		}
		m.Reactions[me] = emoji
	}
	s.update(m)
	s.scheduleSave(s.c.opts.persistDelay)
	return nil
}

// StartTyping shows the typing indicator until StopTyping or the timeout.
func (s *Session) StartTyping() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = s.c.sched.AfterFunc(s.c.opts.typingTimeout, func() {
		s.typingTimer = nil
		s.setTyping(false)
	})
	s.setTyping(true)
}

func (s *Session) StopTyping() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.setTyping(false)
}

func (s *Session) setTyping(on bool) {
	if s.typing == on {
		return
	}
	s.typing = on
	s.c.emit(Event{Identity: s.identity, Kind: EventTyping, Typing: on, Connected: s.connected})
}

// Save writes the settled messages now.
func (s *Session) Save() error {
	s.stopSave()
	recs := make([]chatstore.Record, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Optimistic {
			continue
		}
		recs = append(recs, m.clone().Record)
	}
	if err := s.c.store.ReplaceIdentity(s.identity, recs, s.c.sched.Now()); err != nil {
		return fmt.Errorf("save %s: %w", s.identity, err)
	}
	s.dirty = false
	return nil
}

func (s *Session) close() error {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	var err error
	if s.dirty || s.saveTimer != nil {
		err = s.Save()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.byCorrelation = make(map[string]*Message)
	return err
}

func (s *Session) callbacks() wsmux.Callbacks {
	return wsmux.Callbacks{
		OnStatusChange: s.handleStatus,
		OnMessage:      s.handleMessage,
		OnConfirmed:    s.handleConfirmed,
		OnSendFailed:   s.handleSendFailed,
		OnReveal:       s.handleReveal,
		OnExhausted:    s.handleExhausted,
	}
}

func (s *Session) handleStatus(connected bool) {
	s.connected = connected
	s.c.emit(Event{Identity: s.identity, Kind: EventStatus, Connected: connected})
	if connected && !s.hasSystem() {
		s.add(s.system(connectedMsg))
	}
}

func (s *Session) handleExhausted() {
	s.connected = false
	s.c.emit(Event{Identity: s.identity, Kind: EventExhausted})
}

func (s *Session) handleMessage(in wsmux.Inbound) {
	text := SanitizeContent(in.Content)
	if text == "" {
		return
	}
	m := &Message{
		Record: chatstore.Record{
			ID:       s.c.opts.newID(),
			Sender:   SenderEcho,
			Text:     text,
			Type:     chatstore.KindReceived,
			UserID:   s.identity,
			UserName: SenderEcho,
			SavedAt:  s.c.sched.Now(),
		},
		Revealing: true,
	}
	s.add(m)
	s.scheduleSave(s.c.opts.persistDelay)
	if err := s.c.mux.Reveal(s.identity, m.ID, text); err != nil {
		m.Revealing = false
		s.update(m)
	}
}

func (s *Session) handleConfirmed(conf wsmux.Confirmation) {
	m, ok := s.byCorrelation[conf.CorrelationID]
	if !ok {
		return
	}
	delete(s.byCorrelation, conf.CorrelationID)
	m.Optimistic = false
	m.Sending = false
	s.update(m)
}

func (s *Session) handleSendFailed(correlationID string, err error) {
	m, ok := s.byCorrelation[correlationID]
	if !ok {
		return
	}
	delete(s.byCorrelation, correlationID)
	s.c.log.Warn().Err(err).Str("identity", s.identity).Str("message", m.ID).Msg("[chat] send failed")
	s.markFailed(m)
}

func (s *Session) handleReveal(r wsmux.Reveal) {
	m, ok := s.byID[r.MessageID]
	if !ok {
		return
	}
	m.DisplayText = r.Text
	m.Revealing = r.Revealing
	// reveal progress is never stored, so no save is scheduled
	s.c.emit(Event{Identity: s.identity, Kind: EventMessageUpdated, Message: m.clone(), Connected: s.connected})
}

func (s *Session) markFailed(m *Message) {
	m.Optimistic = false
	m.Sending = false
	if !m.Failed {
		m.Failed = true
		m.Text += failedSuffix
	}
	s.update(m)
}

func (s *Session) system(text string) *Message {
	return &Message{Record: chatstore.Record{
		ID:       s.c.opts.newID(),
		Sender:   SenderSystem,
		Text:     text,
		Type:     chatstore.KindSystem,
		UserID:   s.identity,
		UserName: s.name,
		SavedAt:  s.c.sched.Now(),
	}}
}

func (s *Session) hasSystem() bool {
	for _, m := range s.messages {
		if m.Type == chatstore.KindSystem {
			return true
		}
	}
	return false
}

func (s *Session) push(m *Message) {
	if m.ID == "" {
		m.ID = s.c.opts.newID()
	}
	s.messages = append(s.messages, m)
	s.byID[m.ID] = m
}

// add appends a new message and schedules the debounced save.
func (s *Session) add(m *Message) {
	s.push(m)
	s.c.emit(Event{Identity: s.identity, Kind: EventMessageAdded, Message: m.clone(), Connected: s.connected})
	s.scheduleSave(s.c.opts.saveDelay)
}

func (s *Session) update(m *Message) {
	s.c.emit(Event{Identity: s.identity, Kind: EventMessageUpdated, Message: m.clone(), Connected: s.connected})
	s.scheduleSave(s.c.opts.saveDelay)
}

// scheduleSave arranges a save no later than d from now. Bursts of changes
// coalesce into the pending save; a pending save that is due sooner is kept.
func (s *Session) scheduleSave(d time.Duration) {
	s.dirty = true
	at := s.c.sched.Now().Add(d)
	if s.saveTimer != nil {
		if !s.saveAt.After(at) {
			return
		}
		s.saveTimer.Stop()
	}
	s.saveAt = at
	s.saveTimer = s.c.sched.AfterFunc(d, func() {
		s.saveTimer = nil
		if err := s.Save(); err != nil {
			s.c.log.Error().Err(err).Msg("[chat] save history")
		}
	})
}

func (s *Session) stopSave() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
}
