package tincan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of tincan spans.
const TracerName = "github.com/trickstertwo/tincan"

// Builder constructs Senders and Receivers (Builder pattern). One Builder may
// build both sides against the same configuration.
type Builder struct {
	storeName string
	storeCfg  map[string]any
	storeInst Store

	namespace  string
	clientName string
	listenTo   map[string][]Handler

	onException  ExceptionHandler
	middlewares  []Middleware
	observers    []Observer
	logger       *xlog.Logger
	clock        xclock.Clock
	tracer       trace.Tracer
	blockTimeout time.Duration
	messageTTL   time.Duration
}

// NewBuilder returns a new builder with defaults: namespace "tincan",
// indefinite blocking pop and no message expiry.
func NewBuilder() *Builder {
	return &Builder{
		namespace: "tincan",
		listenTo:  make(map[string][]Handler),
	}
}

// WithStore configures a store by registered name (see RegisterStore).
// The store is created on the first build and shared by every Sender and
// Receiver built afterwards; closing any of them closes it for all.
func (bb *Builder) WithStore(name string, cfg map[string]any) *Builder {
	bb.storeName = name
	bb.storeCfg = cfg
	return bb
}

// WithStoreInstance accepts a ready Store instance. Built Senders and
// Receivers share it, and their Close closes it.
func (bb *Builder) WithStoreInstance(s Store) *Builder {
	bb.storeInst = s
	return bb
}

func (bb *Builder) WithNamespace(ns string) *Builder {
	bb.namespace = ns
	return bb
}

func (bb *Builder) WithClientName(name string) *Builder {
	bb.clientName = name
	return bb
}

// Listen appends handlers to channel, preserving order across calls.
// Channel names are lower-cased to match Message.Channel, so "Widget" and
// "widget" name the same channel.
func (bb *Builder) Listen(channel string, handlers ...Handler) *Builder {
	channel = strings.ToLower(channel)
	for _, h := range handlers {
		if h != nil {
			bb.listenTo[channel] = append(bb.listenTo[channel], h)
		}
	}
	if _, ok := bb.listenTo[channel]; !ok {
		bb.listenTo[channel] = nil
	}
	return bb
}

// WithListenTo adds a whole channel -> handlers table, e.g. the output of
// HandlerRegistry.Resolve.
func (bb *Builder) WithListenTo(table map[string][]Handler) *Builder {
	for ch, hs := range table {
		bb.Listen(ch, hs...)
	}
	return bb
}

func (bb *Builder) WithOnException(fn ExceptionHandler) *Builder {
	bb.onException = fn
	return bb
}

func (bb *Builder) WithMiddleware(mw ...Middleware) *Builder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *Builder) WithObserver(obs ...Observer) *Builder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

func (bb *Builder) WithLogger(l *xlog.Logger) *Builder {
	bb.logger = l
	return bb
}

func (bb *Builder) WithClock(c xclock.Clock) *Builder {
	bb.clock = c
	return bb
}

func (bb *Builder) WithTracer(t trace.Tracer) *Builder {
	bb.tracer = t
	return bb
}

// WithBlockTimeout bounds each blocking pop; 0 (default) blocks until an
// item arrives or the store is closed.
func (bb *Builder) WithBlockTimeout(d time.Duration) *Builder {
	if d >= 0 {
		bb.blockTimeout = d
	}
	return bb
}

// WithMessageTTL expires stored message bodies after d; 0 keeps them forever.
func (bb *Builder) WithMessageTTL(d time.Duration) *Builder {
	if d >= 0 {
		bb.messageTTL = d
	}
	return bb
}

// BuildSender validates the configuration and returns a Sender.
func (bb *Builder) BuildSender() (*Sender, error) {
	if !validName(bb.namespace) {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidName, bb.namespace)
	}
	st, err := bb.store()
	if err != nil {
		return nil, err
	}
	s := &Sender{
		store:      st,
		namespace:  bb.namespace,
		clock:      bb.resolveClock(),
		tracer:     bb.resolveTracer(),
		messageTTL: bb.messageTTL,
	}
	for _, o := range bb.resolveObservers() {
		s.AddObserver(o)
	}
	return s, nil
}

// BuildReceiver validates the configuration and returns a Receiver. Every
// handler is wrapped with RecoveryMiddleware first, then the configured
// middlewares.
func (bb *Builder) BuildReceiver() (*Receiver, error) {
	if !validName(bb.namespace) {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidName, bb.namespace)
	}
	if !validName(bb.clientName) {
		return nil, fmt.Errorf("%w: client name %q", ErrInvalidName, bb.clientName)
	}
	if len(bb.listenTo) == 0 {
		return nil, ErrNoChannels
	}

	channels := make([]string, 0, len(bb.listenTo))
	handlers := make(map[string][]Handler, len(bb.listenTo))
	for ch, hs := range bb.listenTo {
		if !validName(ch) {
			return nil, fmt.Errorf("%w: channel %q", ErrInvalidName, ch)
		}
		channels = append(channels, ch)
		wrapped := make([]Handler, 0, len(hs))
		for _, h := range hs {
			base := RecoveryMiddleware()(h)
			wrapped = append(wrapped, Chain(base, bb.middlewares...))
		}
		handlers[ch] = wrapped
	}
	sort.Strings(channels)

	st, err := bb.store()
	if err != nil {
		return nil, err
	}

	keys, routes := buildRoutes(bb.namespace, bb.clientName, channels)
	r := &Receiver{
		store:        st,
		namespace:    bb.namespace,
		clientName:   bb.clientName,
		handlers:     handlers,
		channels:     channels,
		listKeys:     keys,
		routes:       routes,
		onException:  bb.onException,
		clock:        bb.resolveClock(),
		logger:       bb.resolveLogger(),
		tracer:       bb.resolveTracer(),
		blockTimeout: bb.blockTimeout,
	}
	for _, o := range bb.resolveObservers() {
		r.AddObserver(o)
	}
	return r, nil
}

func (bb *Builder) store() (Store, error) {
	switch {
	case bb.storeInst != nil:
		return bb.storeInst, nil
	case bb.storeName != "":
		st, err := NewStore(bb.storeName, bb.storeCfg)
		if err != nil {
			return nil, err
		}
		// Later builds share the store instead of dialing again.
		bb.storeInst = st
		return st, nil
	default:
		return nil, ErrNoStoreConfigured
	}
}

func (bb *Builder) resolveClock() xclock.Clock {
	if bb.clock != nil {
		return bb.clock
	}
	return xclock.Default()
}

func (bb *Builder) resolveLogger() *xlog.Logger {
	if bb.logger != nil {
		return bb.logger
	}
	return xlog.Default()
}

func (bb *Builder) resolveTracer() trace.Tracer {
	if bb.tracer != nil {
		return bb.tracer
	}
	return otel.Tracer(TracerName)
}

// resolveObservers puts a LoggingObserver first unless one was supplied.
func (bb *Builder) resolveObservers() []Observer {
	out := make([]Observer, 0, len(bb.observers)+1)
	hasLogging := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLogging = true
			break
		}
	}
	if !hasLogging {
		out = append(out, LoggingObserver{Logger: bb.resolveLogger()})
	}
	return append(out, bb.observers...)
}
