package wsmux

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 1 << 20
)

// Events are the callbacks a Handle reports through. They run on the loop.
type Events struct {
	OnOpen  func()
	OnFrame func(frame []byte)
	OnClose func(code int, reason string)
}

// Handle is one live socket connection.
type Handle interface {
	Send(frame []byte) error
	Close(code int, reason string) error
}

// Dialer starts opening a connection and returns without waiting for it.
// A returned error means the handle could not even be created.
type Dialer interface {
	Dial(endpoint string, ev Events) (Handle, error)
}

// WebSocketDialer opens gorilla websocket connections and reports their
// events through a Poster.
type WebSocketDialer struct {
	poster Poster
	dialer *websocket.Dialer
}

func NewWebSocketDialer(p Poster, handshakeTimeout time.Duration) *WebSocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebSocketDialer{
		poster: p,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *WebSocketDialer) Dial(endpoint string, ev Events) (Handle, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &wsHandle{cancel: cancel, poster: d.poster}
	go h.run(ctx, d.dialer, u.String(), ev)
	return h, nil
}

type wsHandle struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
	poster Poster
}

func (h *wsHandle) run(ctx context.Context, dialer *websocket.Dialer, endpoint string, ev Events) {
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("[wsmux] dial failed")
		h.poster.Post(func() { ev.OnClose(CloseAbnormal, err.Error()) })
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conn = conn
	h.mu.Unlock()

	h.poster.Post(ev.OnOpen)

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeCode(err)
			log.Debug().Err(err).Int("code", code).Msg("[wsmux] read message")
			h.poster.Post(func() { ev.OnClose(code, reason) })
			_ = conn.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.poster.Post(func() { ev.OnFrame(payload) })
	}
}

func (h *wsHandle) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			h.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *wsHandle) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.conn == nil {
		return ErrNotConnected
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return h.conn.WriteMessage(websocket.TextMessage, frame)
}

func (h *wsHandle) Close(code int, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.cancel()
	if h.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	werr := h.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	cerr := h.conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	return cerr
}

func closeCode(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CloseAbnormal, err.Error()
}
