package wsmux_test

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/echo-chat/wsmux"
	"github.com/gosuda/echo-chat/wsmux/wsmuxtest"
)

func TestDecode(t *testing.T) {
	f := wsmux.Decode([]byte(`{"echoOf":"c1","content":"hi","identity":"u1"}`))
	require.Equal(t, wsmux.FrameRecord, f.Kind)
	assert.Equal(t, "c1", f.EchoOf())
	assert.Equal(t, "u1", f.Target())
	assert.Equal(t, "hi", f.Content())

	f = wsmux.Decode([]byte(`{"originalMessageId":1717000000000,"text":"legacy","userId":"u2"}`))
	assert.Equal(t, "1717000000000", f.EchoOf())
	assert.Equal(t, "u2", f.Target())
	assert.Equal(t, "legacy", f.Content())

	for _, raw := range []string{`{not json`, `plain words`, `[1,2,3]`, `"quoted"`} {
		f = wsmux.Decode([]byte(raw))
		assert.Equal(t, wsmux.FrameText, f.Kind, raw)
		assert.Equal(t, raw, f.Content())
		assert.Empty(t, f.EchoOf())
	}
}

func TestClassify(t *testing.T) {
	r := wsmux.NewRouter(wsmux.NewRegistry(zerolog.Nop()), nil, wsmuxtest.NewScheduler(), nil, zerolog.Nop())
	tests := []struct {
		raw  string
		want wsmux.Class
	}{
		{`{"echoOf":"c1","content":"hi"}`, wsmux.ClassEcho},
		{`{"correlationId":"c1","content":"hi"}`, wsmux.ClassEcho},
		{`{"content":"hello"}`, wsmux.ClassMessage},
		{`hello there`, wsmux.ClassMessage},
		{`{"type":"ping"}`, wsmux.ClassNoise},
		{`   `, wsmux.ClassNoise},
		{`Request served by 7811941c69e658`, wsmux.ClassNoise},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Classify(wsmux.Decode([]byte(tt.raw))), tt.raw)
	}
}

type routerHarness struct {
	reg    *wsmux.Registry
	corr   *wsmux.Correlator
	router *wsmux.Router
	sent   []wsmux.QueuedMessage
	done   []wsmux.PendingSend
}

func newRouter(noise wsmux.NoiseFilter) *routerHarness {
	h := &routerHarness{reg: wsmux.NewRegistry(zerolog.Nop())}
	sched := wsmuxtest.NewScheduler()
	h.corr = wsmux.NewCorrelator(sched, sequentialIDs("c"), wsmux.CorrelatorHooks{
		Transmit:   func(m wsmux.QueuedMessage) { h.sent = append(h.sent, m) },
		OnResolved: func(p wsmux.PendingSend) { h.done = append(h.done, p) },
	})
	h.router = wsmux.NewRouter(h.reg, h.corr, sched, noise, zerolog.Nop())
	return h
}

func TestRouteTargetedAndBroadcast(t *testing.T) {
	h := newRouter(nil)
	var a, b recorder
	h.reg.Subscribe("a", a.callbacks())
	h.reg.Subscribe("b", b.callbacks())

	h.router.Route([]byte(`{"identity":"b","content":"just b"}`))
	assert.Empty(t, a.messages)
	require.Len(t, b.messages, 1)
	assert.Equal(t, "just b", b.messages[0].Content)

	h.router.Route([]byte(`{"identity":"gone","content":"everyone"}`))
	h.router.Route([]byte(`opaque text`))
	require.Len(t, a.messages, 2)
	require.Len(t, b.messages, 3)
	assert.Equal(t, "everyone", a.messages[0].Content)
	assert.Equal(t, wsmux.FrameText, a.messages[1].Kind)
	assert.Equal(t, "opaque text", a.messages[1].Content)
}

func TestRouteEchoResolvesPendingAndDeliversToSender(t *testing.T) {
	h := newRouter(nil)
	var a, b recorder
	h.reg.Subscribe("a", a.callbacks())
	h.reg.Subscribe("b", b.callbacks())

	id, err := h.corr.Send("a", "hi")
	require.NoError(t, err)
	require.Equal(t, "c1", id)

	h.router.Route([]byte(`{"echoOf":"c1","content":"hi"}`))
	require.Len(t, h.done, 1)
	assert.Equal(t, "a", h.done[0].Identity)
	require.Len(t, a.messages, 1)
	assert.True(t, a.messages[0].Confirmed)
	assert.Equal(t, "c1", a.messages[0].CorrelationID)
	assert.Empty(t, b.messages)

	// the same echo again no longer matches a pending send and is broadcast
	h.router.Route([]byte(`{"echoOf":"c1","content":"hi"}`))
	assert.Len(t, h.done, 1)
	require.Len(t, a.messages, 2)
	require.Len(t, b.messages, 1)
	assert.False(t, b.messages[0].Confirmed)
}

func TestRouteEchoWithoutContentOnlyResolves(t *testing.T) {
	h := newRouter(nil)
	var a recorder
	h.reg.Subscribe("a", a.callbacks())
	_, err := h.corr.Send("a", "hi")
	require.NoError(t, err)

	h.router.Route([]byte(`{"echoOf":"c1"}`))
	assert.Len(t, h.done, 1)
	assert.Empty(t, a.messages)
	assert.Zero(t, h.corr.Len())
}

func TestRouteDropsEchoOfAbandonedSend(t *testing.T) {
	h := newRouter(nil)
	var b recorder
	h.reg.Subscribe("a", wsmux.Callbacks{})
	h.reg.Subscribe("b", b.callbacks())
	_, err := h.corr.Send("a", "secret")
	require.NoError(t, err)
	h.reg.Unsubscribe("a")
	h.corr.Abandon("a")

	frame := wsmux.Decode([]byte(`{"correlationId":"c1","identity":"a","content":"secret"}`))
	assert.Equal(t, wsmux.ClassNoise, h.router.Classify(frame))
	h.router.Route(frame.Raw)
	assert.Empty(t, b.messages)
	assert.Empty(t, h.done)
}

func TestRouteContainsPanics(t *testing.T) {
	h := newRouter(func(text string) bool {
		if strings.Contains(text, "boom") {
			panic("bad filter")
		}
		return false
	})
	var a recorder
	h.reg.Subscribe("a", a.callbacks())

	require.NotPanics(t, func() { h.router.Route([]byte("boom")) })
	h.router.Route([]byte("fine"))
	require.Len(t, a.messages, 1)
	assert.Equal(t, "fine", a.messages[0].Content)
}

func TestRouteNoiseIsDropped(t *testing.T) {
	h := newRouter(nil)
	var a recorder
	h.reg.Subscribe("a", a.callbacks())
	h.router.Route([]byte("Request served by 1234"))
	h.router.Route([]byte(`{"status":"ok"}`))
	assert.Empty(t, a.messages)
}
