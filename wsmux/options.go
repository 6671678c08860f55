package wsmux

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the public echo server the chat talks to by default.
const DefaultEndpoint = "wss://echo.websocket.org"

// Config holds the tunables of a Mux. Zero values take the defaults; a
// negative ConnectTimeout disables the connect timer.
type Config struct {
	Endpoint        string
	Retry           RetryPolicy
	ConnectTimeout  time.Duration
	RevealInterval  time.Duration
	MaxSendAttempts int // transmit failures before a queued send fails; 0 for unlimited
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Endpoint:       DefaultEndpoint,
		Retry:          DefaultRetryPolicy,
		ConnectTimeout: 10 * time.Second,
		RevealInterval: DefaultRevealInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = d.Retry
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if c.Retry.MaxAttempts < 0 {
		c.Retry.MaxAttempts = 0
	}
	switch {
	case c.ConnectTimeout == 0:
		c.ConnectTimeout = d.ConnectTimeout
	case c.ConnectTimeout < 0:
		c.ConnectTimeout = 0
	}
	if c.RevealInterval <= 0 {
		c.RevealInterval = d.RevealInterval
	}
	return c
}

// Persister is told when a subscriber's state should be saved right away.
type Persister interface {
	Persist(identity string)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(identity string)

func (f PersisterFunc) Persist(identity string) { f(identity) }

type options struct {
	dialer    Dialer
	logger    zerolog.Logger
	newID     func() string
	persister Persister
	noise     NoiseFilter
}

// Option customizes a Mux.
type Option func(*options)

// WithDialer replaces the transport. Required when the scheduler is not a
// Poster.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithPersister receives the persist-now signal on every confirmation or
// failure of a send.
func WithPersister(p Persister) Option {
	return func(o *options) { o.persister = p }
}

func WithNoiseFilter(f NoiseFilter) Option {
	return func(o *options) {
		if f != nil {
			o.noise = f
		}
	}
}

func defaultOptions() options {
	return options{logger: log.Logger, noise: DefaultNoiseFilter}
}
