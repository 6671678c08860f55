// Package chat turns the shared connection into per-user chat sessions with
// optimistic sends, echo replies and persisted history.
package chat

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/echo-chat/chatstore"
	"github.com/gosuda/echo-chat/wsmux"
)

var (
	ErrUnknownSession = errors.New("chat: unknown session")
	ErrUnknownMessage = errors.New("chat: unknown message")
	ErrClientClosed   = errors.New("chat: client closed")
)

const (
	DefaultSaveDelay     = 500 * time.Millisecond
	DefaultPersistDelay  = 100 * time.Millisecond
	DefaultTypingTimeout = 2 * time.Second
)

type options struct {
	logger        zerolog.Logger
	muxOpts       []wsmux.Option
	onEvent       EventHandler
	newID         func() string
	localUserID   string
	saveDelay     time.Duration
	persistDelay  time.Duration
	typingTimeout time.Duration
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMuxOptions passes options through to the underlying wsmux.Mux.
func WithMuxOptions(opts ...wsmux.Option) Option {
	return func(o *options) { o.muxOpts = append(o.muxOpts, opts...) }
}

func WithEventHandler(h EventHandler) Option {
	return func(o *options) { o.onEvent = h }
}

// WithMessageIDs replaces the message id source.
func WithMessageIDs(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithLocalUserID fixes the id reactions are recorded under instead of
// reading it from the store.
func WithLocalUserID(id string) Option {
	return func(o *options) { o.localUserID = id }
}

// WithDelays overrides the save debounce, the post-confirmation save delay
// and the typing timeout. Zero keeps a default.
func WithDelays(save, persist, typing time.Duration) Option {
	return func(o *options) {
		if save > 0 {
			o.saveDelay = save
		}
		if persist > 0 {
			o.persistDelay = persist
		}
		if typing > 0 {
			o.typingTimeout = typing
		}
	}
}

// Client owns the shared connection, the history store and every open
// session. Like the Mux it must only be used from the loop goroutine.
type Client struct {
	opts     options
	sched    wsmux.Scheduler
	store    *chatstore.Store
	mux      *wsmux.Mux
	sessions map[string]*Session
	localID  string
	closed   bool
	log      zerolog.Logger
}

// NewClient builds a client over sched. The store must not be nil.
func NewClient(sched wsmux.Scheduler, store *chatstore.Store, cfg wsmux.Config, opts ...Option) (*Client, error) {
	o := options{
		logger:        log.Logger,
		newID:         uuid.NewString,
		saveDelay:     DefaultSaveDelay,
		persistDelay:  DefaultPersistDelay,
		typingTimeout: DefaultTypingTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if store == nil {
		return nil, errors.New("chat: nil store")
	}
	c := &Client{
		opts:     o,
		sched:    sched,
		store:    store,
		sessions: make(map[string]*Session),
		log:      o.logger,
	}
	c.localID = o.localUserID
	if c.localID == "" {
		id, err := chatstore.LocalUserID(store.Blobs(), sched.Now())
		if err != nil {
			return nil, fmt.Errorf("local user id: %w", err)
		}
		c.localID = id
	}
	muxOpts := append([]wsmux.Option{wsmux.WithLogger(o.logger)}, o.muxOpts...)
	muxOpts = append(muxOpts, wsmux.WithPersister(c))
	m, err := wsmux.New(sched, cfg, muxOpts...)
	if err != nil {
		return nil, err
	}
	c.mux = m
	return c, nil
}

// Mux exposes the shared connection for status queries.
func (c *Client) Mux() *wsmux.Mux { return c.mux }

// LocalUserID is the id this client reacts with.
func (c *Client) LocalUserID() string { return c.localID }

// Persist implements wsmux.Persister: a confirmation or failure for
// identity brings its next save forward.
func (c *Client) Persist(identity string) {
	if s, ok := c.sessions[identity]; ok {
		s.scheduleSave(c.opts.persistDelay)
	}
}

// Open returns the session for identity, loading its history and
// subscribing it on first use. An empty name falls back to the stored one.
func (c *Client) Open(identity, name string) (*Session, error) {
	if c.closed {
		return nil, ErrClientClosed
	}
	if s, ok := c.sessions[identity]; ok {
		return s, nil
	}
	history, err := c.store.ForIdentity(identity)
	if err != nil {
		// the session still opens, with a notice instead of history
		c.log.Error().Err(err).Str("identity", identity).Msg("[chat] load history")
	}
	s := newSession(c, identity, name, history, err)
	c.sessions[identity] = s
	s.unsubscribe = c.mux.Subscribe(identity, s.callbacks())
	c.log.Debug().Str("identity", identity).Int("history", len(history)).Msg("[chat] session opened")
	return s, nil
}

// Session returns an open session.
func (c *Client) Session(identity string) (*Session, error) {
	s, ok := c.sessions[identity]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// CloseSession saves and unsubscribes identity.
func (c *Client) CloseSession(identity string) error {
	s, ok := c.sessions[identity]
	if !ok {
		return ErrUnknownSession
	}
	delete(c.sessions, identity)
	return s.close()
}

// Users lists the identities found in the stored history.
func (c *Client) Users() ([]chatstore.UserSummary, error) {
	return c.store.Summaries()
}

// NewUser creates an identity with a welcome record so it shows up in Users.
func (c *Client) NewUser() (chatstore.UserSummary, error) {
	now := c.sched.Now()
	id := chatstore.NewUserID(now)
	name := fmt.Sprintf("User %d", rand.IntN(1000))
	welcome := chatstore.Record{
		ID:       c.opts.newID(),
		Sender:   SenderSystem,
		Text:     "Welcome to the chat!",
		Type:     chatstore.KindSystem,
		UserID:   id,
		UserName: name,
		SavedAt:  now,
	}
	if err := c.store.Append(welcome); err != nil {
		return chatstore.UserSummary{}, fmt.Errorf("create user: %w", err)
	}
	c.log.Info().Str("identity", id).Str("name", name).Msg("[chat] user created")
	return chatstore.UserSummary{ID: id, Name: name, LastMessage: "Start chatting...", LastActivity: now}, nil
}

// Close saves every session and shuts the connection down.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for id, s := range c.sessions {
		delete(c.sessions, id)
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.mux.Shutdown()
	return errors.Join(errs...)
}

func (c *Client) emit(ev Event) {
	if c.opts.onEvent != nil {
		c.opts.onEvent(ev)
	}
}
