package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/echo-chat/chat"
	"github.com/gosuda/echo-chat/chatstore"
	"github.com/gosuda/echo-chat/wsmux"
	"github.com/gosuda/echo-chat/wsmux/wsmuxtest"
)

func newTestTerminal(t *testing.T) (*terminal, *bytes.Buffer, *wsmuxtest.Scheduler, *wsmuxtest.Dialer) {
	t.Helper()
	var out bytes.Buffer
	term := newTerminal(&out)
	sched := wsmuxtest.NewScheduler()
	dialer := &wsmuxtest.Dialer{}
	n := 0
	c, err := chat.NewClient(sched, chatstore.NewStore(chatstore.NewMemoryBlobs(), 0), wsmux.Config{Endpoint: "ws://echo.test"},
		chat.WithLogger(zerolog.Nop()),
		chat.WithLocalUserID("local_me"),
		chat.WithMessageIDs(func() string { n++; return fmt.Sprintf("m%d", n) }),
		chat.WithEventHandler(term.onEvent),
		chat.WithMuxOptions(wsmux.WithDialer(dialer), wsmux.WithLogger(zerolog.Nop())),
	)
	require.NoError(t, err)
	term.client = c
	return term, &out, sched, dialer
}

func TestTerminalNeedsSession(t *testing.T) {
	term, out, _, _ := newTestTerminal(t)
	assert.False(t, term.handle("hello"))
	assert.Contains(t, out.String(), "no user open")
	assert.True(t, term.handle("/quit"))
	assert.False(t, term.handle("   "))
}

func TestTerminalSendAndEcho(t *testing.T) {
	term, out, sched, dialer := newTestTerminal(t)
	require.NoError(t, term.open("user_1", "Tester"))
	assert.Contains(t, out.String(), "== Tester (user_1)")
	assert.Contains(t, out.String(), "Welcome Tester! Start chatting...")

	conn := dialer.Last()
	conn.Open()
	assert.Contains(t, out.String(), "Connected • 1 user online")

	out.Reset()
	term.handle("hello there")
	assert.Contains(t, out.String(), "You: hello there")

	sent := conn.SentRecords()
	require.Len(t, sent, 1)
	conn.DeliverJSON(map[string]any{"echoOf": sent[0]["correlationId"], "content": "hello there"})
	assert.Contains(t, out.String(), "✓ delivered")

	sched.Advance(wsmux.DefaultRevealInterval * 20)
	assert.Contains(t, out.String(), "Echo Server: hello there")
}

func TestTerminalCommands(t *testing.T) {
	term, out, _, _ := newTestTerminal(t)
	term.handle("/users")
	assert.Contains(t, out.String(), "no users yet")

	term.handle("/new")
	require.NotNil(t, term.current)
	first := term.current.Identity()

	out.Reset()
	term.handle("/react 1 👍")
	assert.Contains(t, out.String(), "👍")

	term.handle("/react 9 👍")
	assert.Contains(t, out.String(), "no message 9")

	out.Reset()
	term.handle("/users")
	assert.Contains(t, out.String(), "> "+first)

	term.handle("/open user_2 Other")
	assert.Equal(t, "user_2", term.current.Identity())
	_, err := term.client.Session(first)
	assert.ErrorIs(t, err, chat.ErrUnknownSession, "switching closes the previous session")

	out.Reset()
	term.handle("/clear")
	assert.Contains(t, out.String(), "history cleared")
	assert.Equal(t, []string{"Chat cleared. Send a new message!"}, messageTexts(term.current.Messages()))

	out.Reset()
	term.handle("/status")
	assert.Contains(t, out.String(), "Connecting...")
	term.handle("/bogus")
	assert.Contains(t, out.String(), "unknown command /bogus")
	term.handle("/open")
	assert.Contains(t, out.String(), "usage: /open")
	term.handle("/help")
	assert.Contains(t, out.String(), "/reconnect")
}

func TestTerminalReportsGaveUp(t *testing.T) {
	term, out, sched, dialer := newTestTerminal(t)
	require.NoError(t, term.open("user_1", "Tester"))
	for i := 0; i < 3; i++ {
		dialer.Last().Drop(wsmux.CloseAbnormal)
		d, ok := sched.Next()
		require.True(t, ok)
		sched.Advance(d)
	}
	dialer.Last().Drop(wsmux.CloseAbnormal)

	assert.NotContains(t, out.String(), "* disconnected\n", "never connected, nothing to report")
	assert.Contains(t, out.String(), "* disconnected, not retrying; /reconnect to try again")

	out.Reset()
	term.handle("/status")
	assert.Contains(t, out.String(), chat.StatusExhausted)

	term.handle("/reconnect")
	assert.Equal(t, 5, dialer.Dials())
	dialer.Last().Open()
	assert.Contains(t, out.String(), "Connected • 1 user online")
}

func TestTerminalUsersFilter(t *testing.T) {
	term, out, _, _ := newTestTerminal(t)
	term.handle("/new")
	first := term.current.Identity()
	term.handle("/new")
	second := term.current.Identity()

	out.Reset()
	term.handle("/users " + strings.ToUpper(first))
	assert.Contains(t, out.String(), first)
	assert.NotContains(t, out.String(), second)

	out.Reset()
	term.handle("/users no-such-user")
	assert.Contains(t, out.String(), `no users match "no-such-user"`)

	out.Reset()
	term.handle("/users")
	assert.Contains(t, out.String(), first)
	assert.Contains(t, out.String(), second)
}

func messageTexts(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
