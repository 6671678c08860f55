package wsmux_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/echo-chat/wsmux"
	"github.com/gosuda/echo-chat/wsmux/wsmuxtest"
)

func TestRetryPolicyDelay(t *testing.T) {
	tests := []struct {
		name   string
		policy wsmux.RetryPolicy
		want   []time.Duration
	}{
		{
			name:   "linear",
			policy: wsmux.RetryPolicy{MaxAttempts: 3, BaseDelay: base},
			want:   []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second},
		},
		{
			name:   "exponential",
			policy: wsmux.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, Backoff: wsmux.BackoffExponential},
			want:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
		{
			name:   "capped",
			policy: wsmux.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, Backoff: wsmux.BackoffExponential, MaxDelay: 3 * time.Second},
			want:   []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				assert.Equal(t, want, tt.policy.Delay(i+1), "attempt %d", i+1)
			}
		})
	}
}

type managerHarness struct {
	sched  *wsmuxtest.Scheduler
	dialer *wsmuxtest.Dialer
	mgr    *wsmux.Manager
	states []wsmux.State
	opens  int
	frames [][]byte
	wanted bool
	gaveUp int
}

func newManager(t *testing.T, timeout time.Duration) *managerHarness {
	t.Helper()
	h := &managerHarness{sched: wsmuxtest.NewScheduler(), dialer: &wsmuxtest.Dialer{}, wanted: true}
	h.mgr = wsmux.NewManager(wsmux.ManagerConfig{
		Endpoint:       "ws://echo.test/ws",
		Dialer:         h.dialer,
		Scheduler:      h.sched,
		Retry:          wsmux.RetryPolicy{MaxAttempts: 3, BaseDelay: base},
		ConnectTimeout: timeout,
		Logger:         zerolog.Nop(),
		Hooks: wsmux.ManagerHooks{
			Wanted:      func() bool { return h.wanted },
			OnState:     func(s wsmux.State) { h.states = append(h.states, s) },
			OnOpen:      func() { h.opens++ },
			OnFrame:     func(b []byte) { h.frames = append(h.frames, b) },
			OnExhausted: func() { h.gaveUp++ },
		},
	})
	return h
}

func TestManagerConnectAndOpen(t *testing.T) {
	h := newManager(t, 0)
	h.mgr.EnsureConnected()
	require.Equal(t, wsmux.Connecting, h.mgr.State())
	require.Equal(t, 1, h.dialer.Dials())
	assert.Equal(t, "ws://echo.test/ws", h.dialer.Last().Endpoint)

	h.dialer.Last().Open()
	assert.Equal(t, wsmux.Connected, h.mgr.State())
	assert.Equal(t, 1, h.opens)
	assert.Equal(t, []wsmux.State{wsmux.Connecting, wsmux.Connected}, h.states)

	h.dialer.Last().Deliver([]byte("frame"))
	require.Len(t, h.frames, 1)
	assert.Equal(t, "frame", string(h.frames[0]))
}

func TestManagerEnsureConnectedIsIdempotentWhileConnecting(t *testing.T) {
	h := newManager(t, 0)
	h.mgr.EnsureConnected()
	h.mgr.EnsureConnected()
	h.mgr.EnsureConnected()
	assert.Equal(t, 1, h.dialer.Dials())

	h.dialer.Last().Open()
	h.mgr.EnsureConnected()
	assert.Equal(t, 1, h.dialer.Dials())
}

func TestManagerLinearBackoffThenStops(t *testing.T) {
	h := newManager(t, 0)
	h.mgr.EnsureConnected()

	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	for i, want := range wantDelays {
		h.dialer.Last().Drop(wsmux.CloseAbnormal)
		require.Equal(t, wsmux.Disconnected, h.mgr.State())
		got, ok := h.sched.Next()
		require.True(t, ok, "retry %d not scheduled", i+1)
		assert.Equal(t, want, got, "retry %d", i+1)
		assert.Equal(t, i+1, h.mgr.Attempts())

		h.sched.Advance(got - time.Millisecond)
		assert.Equal(t, i+1, h.dialer.Dials(), "retry %d fired early", i+1)
		h.sched.Advance(time.Millisecond)
		assert.Equal(t, i+2, h.dialer.Dials())
		assert.Equal(t, wsmux.Connecting, h.mgr.State())
	}

	h.dialer.Last().Drop(wsmux.CloseAbnormal)
	assert.True(t, h.mgr.Exhausted())
	assert.Equal(t, 1, h.gaveUp)
	assert.Zero(t, h.sched.Pending())
	h.sched.Advance(time.Hour)
	assert.Equal(t, 4, h.dialer.Dials())

	h.mgr.EnsureConnected()
	assert.False(t, h.mgr.Exhausted())
	assert.Equal(t, 0, h.mgr.Attempts())
	assert.Equal(t, 5, h.dialer.Dials())
}

func TestManagerCreateFailureRetriesLikeAbnormalClose(t *testing.T) {
	h := newManager(t, 0)
	h.dialer.FailCreate = 1
	h.mgr.EnsureConnected()
	assert.Equal(t, wsmux.Disconnected, h.mgr.State())
	assert.Equal(t, 0, h.dialer.Dials())
	d, ok := h.sched.Next()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	h.sched.Advance(d)
	assert.Equal(t, 1, h.dialer.Dials())
	assert.Equal(t, wsmux.Connecting, h.mgr.State())
}

func TestManagerNormalCloseDoesNotRetry(t *testing.T) {
	h := newManager(t, 0)
	h.mgr.EnsureConnected()
	h.dialer.Last().Open()
	h.dialer.Last().Drop(wsmux.CloseNormal)
	assert.Equal(t, wsmux.Disconnected, h.mgr.State())
	assert.False(t, h.mgr.RetryPending())
	assert.Zero(t, h.sched.Pending())
}

func TestManagerOpenResetsAttempts(t *testing.T) {
	h := newManager(t, 0)
	h.mgr.EnsureConnected()
	h.dialer.Last().Drop(wsmux.CloseAbnormal)
	h.sched.RunNext()
	h.dialer.Last().Drop(wsmux.CloseAbnormal)
	require.Equal(t, 2, h.mgr.Attempts())
	h.sched.RunNext()
	h.dialer.Last().Open()
	assert.Equal(t, 0, h.mgr.Attempts())

	h.dialer.Last().Drop(wsmux.CloseAbnormal)
	d, ok := h.sched.Next()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestManagerConnectTimeout(t *testing.T) {
	h := newManager(t, 5*time.Second)
	h.mgr.EnsureConnected()
	first := h.dialer.Last()

	h.sched.Advance(5 * time.Second)
	assert.True(t, first.Closed)
	assert.Equal(t, wsmux.Disconnected, h.mgr.State())
	assert.Equal(t, 1, h.mgr.Attempts())

	// a late open from the abandoned handle changes nothing
	first.Open()
	assert.Equal(t, wsmux.Disconnected, h.mgr.State())

	h.sched.Advance(2 * time.Second)
	assert.Equal(t, 2, h.dialer.Dials())
}

func TestManagerCloseIgnoresStaleEvents(t *testing.T) {
	h := newManager(t, 0)
	h.mgr.EnsureConnected()
	old := h.dialer.Last()
	old.Open()

	h.mgr.Close()
	assert.True(t, old.Closed)
	assert.Equal(t, wsmux.CloseNormal, old.CloseCode)
	assert.Equal(t, wsmux.Disconnected, h.mgr.State())
	assert.Equal(t, []wsmux.State{wsmux.Connecting, wsmux.Connected, wsmux.Closing, wsmux.Disconnected}, h.states)

	old.Drop(wsmux.CloseAbnormal)
	old.Deliver([]byte("late"))
	assert.Zero(t, h.sched.Pending())
	assert.Empty(t, h.frames)
}

func TestManagerNoRetryWhenUnwanted(t *testing.T) {
	h := newManager(t, 0)
	h.mgr.EnsureConnected()
	h.wanted = false
	h.dialer.Last().Drop(wsmux.CloseAbnormal)
	assert.Zero(t, h.sched.Pending())
	assert.False(t, h.mgr.Exhausted())
}

func TestManagerSendRequiresConnection(t *testing.T) {
	h := newManager(t, 0)
	assert.ErrorIs(t, h.mgr.Send([]byte("x")), wsmux.ErrNotConnected)
	h.mgr.EnsureConnected()
	assert.ErrorIs(t, h.mgr.Send([]byte("x")), wsmux.ErrNotConnected)
	h.dialer.Last().Open()
	require.NoError(t, h.mgr.Send([]byte("x")))
	assert.Len(t, h.dialer.Last().Sent, 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", wsmux.Disconnected.String())
	assert.Equal(t, "connecting", wsmux.Connecting.String())
	assert.Equal(t, "connected", wsmux.Connected.String())
	assert.Equal(t, "closing", wsmux.Closing.String())
}
