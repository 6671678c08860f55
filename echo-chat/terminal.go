package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/gosuda/echo-chat/chat"
	"github.com/gosuda/echo-chat/chatstore"
)

const helpText = `commands:
  /users [term]       list known users, filtered by name or id
  /new                create a user and switch to it
  /open <id> [name]   switch to a user
  /history            show the conversation with message numbers
  /react <n> <emoji>  toggle your reaction on message n
  /clear              clear this user's history
  /status             connection status
  /reconnect          reconnect after retries ran out
  /quit               save and exit
anything else is sent as a message`

// terminal renders sessions as plain lines and runs slash commands. Every
// method runs on the loop.
type terminal struct {
	out     io.Writer
	client  *chat.Client
	current *chat.Session
	shown   map[string]bool
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, shown: make(map[string]bool)}
}

func (t *terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *terminal) onEvent(ev chat.Event) {
	if t.current == nil || ev.Identity != t.current.Identity() {
		return
	}
	m := ev.Message
	switch ev.Kind {
	case chat.EventStatus:
		if ev.Connected {
			t.printf("* %s", t.current.Status())
		} else {
			t.printf("* disconnected")
		}
	case chat.EventExhausted:
		t.printf("* %s; /reconnect to try again", strings.ToLower(t.current.Status()))
	case chat.EventCleared:
		t.printf("* history cleared")
	case chat.EventMessageAdded:
		if !m.Revealing {
			t.printMessage(m)
		}
	case chat.EventMessageUpdated:
		switch {
		case m.Failed && !t.shown[m.ID+"/failed"]:
			t.shown[m.ID+"/failed"] = true
			t.printf("! %s", m.Text)
		case m.Type == chatstore.KindReceived && !m.Revealing && !t.shown[m.ID]:
			t.printMessage(m)
		case m.Type == chatstore.KindSent && !m.Optimistic && !m.Failed && !t.shown[m.ID+"/ok"]:
			t.shown[m.ID+"/ok"] = true
			t.printf("  ✓ delivered")
		}
	}
}

func (t *terminal) printMessage(m chat.Message) {
	t.shown[m.ID] = true
	ts := m.SavedAt.Local().Format("15:04")
	line := fmt.Sprintf("[%s] %s: %s", ts, m.Sender, m.Shown())
	if m.Type == chatstore.KindSystem {
		line = fmt.Sprintf("[%s] * %s", ts, m.Text)
	}
	if r := reactionLine(m); r != "" {
		line += "  " + r
	}
	t.printf("%s", line)
}

func reactionLine(m chat.Message) string {
	if len(m.Reactions) == 0 {
		return ""
	}
	out := make([]string, 0, len(m.Reactions))
	for _, e := range m.Reactions {
		out = append(out, e)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// open switches the terminal to identity, closing the previous session.
func (t *terminal) open(identity, name string) error {
	if t.current != nil && t.current.Identity() != identity {
		if err := t.client.CloseSession(t.current.Identity()); err != nil {
			t.printf("! save %s: %v", t.current.Identity(), err)
		}
		t.current = nil
	}
	s, err := t.client.Open(identity, name)
	if err != nil {
		return err
	}
	t.current = s
	t.printf("== %s (%s) • %d messages", s.Name(), s.Identity(), s.MessageCount())
	t.history()
	return nil
}

func (t *terminal) history() {
	if t.current == nil {
		return
	}
	for i, m := range t.current.Messages() {
		fmt.Fprintf(t.out, "%3d ", i+1)
		t.printMessage(m)
	}
}

// handle runs one input line. It reports whether the user asked to quit.
func (t *terminal) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		t.send(line)
		return false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		t.printf("%s", helpText)
	case "/users":
		t.users(strings.Join(fields[1:], " "))
	case "/new":
		u, err := t.client.NewUser()
		if err != nil {
			t.printf("! %v", err)
			return false
		}
		if err := t.open(u.ID, u.Name); err != nil {
			t.printf("! %v", err)
		}
	case "/open":
		if len(fields) < 2 {
			t.printf("usage: /open <id> [name]")
			return false
		}
		if err := t.open(fields[1], strings.Join(fields[2:], " ")); err != nil {
			t.printf("! %v", err)
		}
	case "/history":
		t.history()
	case "/react":
		t.react(fields[1:])
	case "/clear":
		if t.requireSession() {
			if err := t.current.Clear(); err != nil {
				t.printf("! %v", err)
			}
		}
	case "/status":
		if t.requireSession() {
			t.printf("* %s", t.current.Status())
		}
	case "/reconnect":
		t.client.Mux().Reconnect()
		t.printf("* reconnecting")
	default:
		t.printf("unknown command %s, try /help", fields[0])
	}
	return false
}

func (t *terminal) requireSession() bool {
	if t.current == nil {
		t.printf("no user open; /new or /open <id>")
		return false
	}
	return true
}

func (t *terminal) send(text string) {
	if !t.requireSession() {
		return
	}
	if _, err := t.current.Send(text); err != nil {
		t.printf("! %v", err)
	}
}

func (t *terminal) react(args []string) {
	if !t.requireSession() {
		return
	}
	if len(args) != 2 {
		t.printf("usage: /react <n> <emoji>")
		return
	}
	n, err := strconv.Atoi(args[0])
	msgs := t.current.Messages()
	if err != nil || n < 1 || n > len(msgs) {
		t.printf("! no message %s", args[0])
		return
	}
	if err := t.current.React(msgs[n-1].ID, args[1]); err != nil {
		t.printf("! %v", err)
		return
	}
	m, _ := t.current.Message(msgs[n-1].ID)
	t.printMessage(m)
}

func (t *terminal) users(term string) {
	all, err := t.client.Users()
	if err != nil {
		t.printf("! %v", err)
		return
	}
	if len(all) == 0 {
		t.printf("no users yet; /new creates one")
		return
	}
	users := chatstore.FilterSummaries(all, term)
	if len(users) == 0 {
		t.printf("no users match %q", term)
		return
	}
	for _, u := range users {
		marker := " "
		if t.current != nil && t.current.Identity() == u.ID {
			marker = ">"
		}
		t.printf("%s %-28s %-16s %3d  %s", marker, u.ID, u.Name, u.MessageCount, u.LastMessage)
	}
}
