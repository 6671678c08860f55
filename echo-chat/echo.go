package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	echoWriteWait    = 10 * time.Second
	echoPongWait     = 60 * time.Second
	echoPingInterval = 20 * time.Second
)

// writeJSON writes v as one text frame without HTML escaping, so chat text
// with <, > or & comes back byte for byte.
func writeJSON(conn *websocket.Conn, v any) error {
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Close()
}

// echoReply answers a chat record that carries a correlation id.
type echoReply struct {
	EchoOf    string    `json:"echoOf"`
	Content   string    `json:"content"`
	Identity  string    `json:"identity,omitempty"`
	Echoed    bool      `json:"echoed"`
	Timestamp time.Time `json:"timestamp"`
}

// echoServer is a websocket endpoint that sends every frame back to its
// sender, the way the public echo service does.
type echoServer struct {
	name string

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
	wg    sync.WaitGroup
}

func newEchoServer(name string) *echoServer {
	return &echoServer{name: name, conns: map[*websocket.Conn]*sync.Mutex{}}
}

func (s *echoServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func (s *echoServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.banner() + "\nconnect with a websocket client to have frames echoed back\n"))
}

func (s *echoServer) banner() string { return "Request served by " + s.name }

func (s *echoServer) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin:      func(r *http.Request) bool { return true },
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(echoPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(echoPongWait))
	})

	mu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = mu
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.wg.Done()
	}()
	log.Debug().Str("remote", r.RemoteAddr).Msg("[echo] client connected")

	write := func(fn func() error) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(echoWriteWait))
		return fn()
	}
	if err := write(func() error { return conn.WriteMessage(websocket.TextMessage, []byte(s.banner())) }); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(echoPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) }); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("[echo] read")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(echoPongWait))
		reply, ok := echoFor(payload)
		if ok {
			err = write(func() error { return writeJSON(conn, reply) })
		} else {
			err = write(func() error { return conn.WriteMessage(kind, payload) })
		}
		if err != nil {
			log.Debug().Err(err).Msg("[echo] write")
			return
		}
	}
}

// echoFor builds the correlated reply for a chat record. Anything else is
// echoed verbatim by the caller.
func echoFor(payload []byte) (echoReply, bool) {
	var rec struct {
		Content           string `json:"content"`
		Identity          string `json:"identity"`
		CorrelationID     string `json:"correlationId"`
		OriginalMessageID any    `json:"originalMessageId"`
	}
	if json.Unmarshal(payload, &rec) != nil {
		return echoReply{}, false
	}
	id := rec.CorrelationID
	if id == "" && rec.OriginalMessageID != nil {
		b, _ := json.Marshal(rec.OriginalMessageID)
		var s string
		if json.Unmarshal(b, &s) != nil {
			s = string(b)
		}
		id = s
	}
	if id == "" {
		return echoReply{}, false
	}
	return echoReply{EchoOf: id, Content: rec.Content, Identity: rec.Identity, Echoed: true, Timestamp: time.Now().UTC()}, true
}

// closeAll asks every client to go away.
func (s *echoServer) closeAll() {
	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, mu := range s.conns {
		conns[c] = mu
	}
	s.mu.Unlock()
	for c, mu := range conns {
		mu.Lock()
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(echoWriteWait))
		mu.Unlock()
		_ = c.Close()
	}
}

// wait blocks until every connection handler has returned.
func (s *echoServer) wait() { s.wg.Wait() }
