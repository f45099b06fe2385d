package redis

import (
	"time"

	"github.com/trickstertwo/tincan"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures the tincan.Builder used by NewSender and NewReceiver.
type Option func(*tincan.Builder)

// NewSender dials Redis and builds a Sender.
func NewSender(cfg Config, opts ...Option) (*tincan.Sender, error) {
	return builder(cfg, opts).BuildSender()
}

// NewReceiver dials Redis and builds a Receiver. Channels and handlers come
// from WithListener options.
func NewReceiver(cfg Config, opts ...Option) (*tincan.Receiver, error) {
	return builder(cfg, opts).BuildReceiver()
}

func builder(cfg Config, opts []Option) *tincan.Builder {
	bb := tincan.NewBuilder().WithStore(StoreName, cfg.toMap())
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

// WithMiddleware adds handler middlewares.
func WithMiddleware(mw ...tincan.Middleware) Option {
	return func(b *tincan.Builder) { b.WithMiddleware(mw...) }
}

// WithBlockTimeout bounds each BLPOP.
func WithBlockTimeout(d time.Duration) Option {
	return func(b *tincan.Builder) { b.WithBlockTimeout(d) }
}

// WithMessageTTL expires message bodies after d.
func WithMessageTTL(d time.Duration) Option {
	return func(b *tincan.Builder) { b.WithMessageTTL(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...tincan.Observer) Option {
	return func(b *tincan.Builder) { b.WithObserver(obs...) }
}
