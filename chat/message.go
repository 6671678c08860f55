package chat

import (
	"github.com/gosuda/echo-chat/chatstore"
)

const (
	SenderYou    = "You"
	SenderEcho   = "Echo Server"
	SenderSystem = "System"

	failedSuffix = " (Failed to send - check connection)"
	connectedMsg = "Connected to WebSocket server. Your messages will be echoed back."
	clearedMsg   = "Chat cleared. Send a new message!"

	// StatusExhausted is reported by Session.Status once reconnecting has
	// stopped.
	StatusExhausted = "Disconnected, not retrying"
)

// Message is a chat line as the view sees it: a stored record plus the
// transient state that is never written back.
type Message struct {
	chatstore.Record

	// Optimistic is set on a sent message until its echo confirms it.
	Optimistic    bool
	Sending       bool
	CorrelationID string

	// DisplayText is the revealed prefix of Text while Revealing.
	DisplayText string
	Revealing   bool
}

// Shown is the text a view should print right now.
func (m Message) Shown() string {
	if m.Revealing {
		return m.DisplayText
	}
	return m.Text
}

func (m *Message) clone() Message {
	c := *m
	if m.Reactions != nil {
		c.Reactions = make(map[string]string, len(m.Reactions))
		for k, v := range m.Reactions {
			c.Reactions[k] = v
		}
	}
	return c
}

// EventKind says what changed in a session.
type EventKind int

const (
	EventMessageAdded EventKind = iota
	EventMessageUpdated
	EventStatus
	EventTyping
	EventCleared
	EventExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventMessageAdded:
		return "added"
	case EventMessageUpdated:
		return "updated"
	case EventStatus:
		return "status"
	case EventTyping:
		return "typing"
	case EventCleared:
		return "cleared"
	case EventExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Event is reported to the client's EventHandler on every visible change.
type Event struct {
	Identity  string
	Kind      EventKind
	Message   Message
	Connected bool
	Typing    bool
}

// EventHandler observes session changes. It runs on the loop.
type EventHandler func(Event)
