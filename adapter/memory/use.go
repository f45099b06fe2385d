package memory

import (
	"time"

	"github.com/trickstertwo/tincan"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures the tincan.Builder used by NewSender and NewReceiver.
type Option func(*tincan.Builder)

// NewSender builds a Sender on st.
//
// Example:
//
//	st := memory.NewStore(memory.Config{})
//	sender, err := memory.NewSender(st, memory.WithNamespace("data"))
func NewSender(st *Store, opts ...Option) (*tincan.Sender, error) {
	return builder(st, opts).BuildSender()
}

// NewReceiver builds a Receiver on st. Channels and handlers come from
// WithListener options.
func NewReceiver(st *Store, opts ...Option) (*tincan.Receiver, error) {
	return builder(st, opts).BuildReceiver()
}

func builder(st *Store, opts []Option) *tincan.Builder {
	bb := tincan.NewBuilder().WithStoreInstance(st)
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	return bb
}

// WithNamespace sets the key namespace.
func WithNamespace(ns string) Option {
	return func(b *tincan.Builder) { b.WithNamespace(ns) }
}

// WithClientName sets the consumer identity.
func WithClientName(name string) Option {
	return func(b *tincan.Builder) { b.WithClientName(name) }
}

// WithListener binds handlers to a channel.
func WithListener(channel string, handlers ...tincan.Handler) Option {
	return func(b *tincan.Builder) { b.Listen(channel, handlers...) }
}

// WithOnException sets the failure callback.
func WithOnException(fn tincan.ExceptionHandler) Option {
	return func(b *tincan.Builder) { b.WithOnException(fn) }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *tincan.Builder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *tincan.Builder) { b.WithClock(c) }
}

// WithMiddleware adds handler middlewares (timeout, etc).
func WithMiddleware(mw ...tincan.Middleware) Option {
	return func(b *tincan.Builder) { b.WithMiddleware(mw...) }
}

// WithBlockTimeout bounds each blocking pop.
func WithBlockTimeout(d time.Duration) Option {
	return func(b *tincan.Builder) { b.WithBlockTimeout(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...tincan.Observer) Option {
	return func(b *tincan.Builder) { b.WithObserver(obs...) }
}

// WithMessageTTL expires message bodies after d.
func WithMessageTTL(d time.Duration) Option {
	return func(b *tincan.Builder) { b.WithMessageTTL(d) }
}
