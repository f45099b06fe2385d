package tincan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExceptionHandler observes delivery failures before they are written to the
// failure list. Its own panics are not recovered.
type ExceptionHandler func(err error, fields map[string]any)

// restoreTimeout bounds the push that returns an item to its list when
// Listen is cancelled mid-dispatch.
const restoreTimeout = 5 * time.Second

// route maps a watched list key back to its channel.
type route struct {
	channel  string
	failures bool
}

// Receiver registers one client on a set of channels and delivers every
// message published to them to that channel's handlers, in order.
// Listen runs a single blocking loop; there is no internal worker pool.
type Receiver struct {
	store        Store
	namespace    string
	clientName   string
	handlers     map[string][]Handler
	channels     []string
	listKeys     []string
	routes       map[string]route
	onException  ExceptionHandler
	clock        xclock.Clock
	logger       *xlog.Logger
	tracer       trace.Tracer
	blockTimeout time.Duration

	observers observers
	metrics   counters
	closed    atomic.Bool
	closeOnce sync.Once
}

// Register adds the client to the receivers set of every channel. It is
// idempotent and safe to repeat on reconnect.
func (r *Receiver) Register(ctx context.Context) (*Receiver, error) {
	for _, ch := range r.channels {
		key := ReceiversKey(r.namespace, ch)
		if err := r.store.AddMember(ctx, key, r.clientName); err != nil {
			return r, fmt.Errorf("tincan: register %s on %s: %w", r.clientName, key, err)
		}
		r.logger.Info().Str("set", key).Str("client", r.clientName).Msg("tincan: registered")
	}
	return r, nil
}

// Listen registers and then blocks delivering messages until ctx is done
// (ctx.Err() is returned), Close is called (ErrReceiverClosed) or the store
// fails. Handler failures never end the loop.
func (r *Receiver) Listen(ctx context.Context) error {
	if r.closed.Load() {
		return ErrReceiverClosed
	}
	if _, err := r.Register(ctx); err != nil {
		return err
	}
	r.logger.Info().Str("client", r.clientName).Msg("tincan: awaiting new messages")
	for {
		if err := r.receiveOnce(ctx); err != nil {
			if errors.Is(err, ErrReceiverClosed) || errors.Is(err, context.Canceled) {
				r.logger.Info().Str("client", r.clientName).Msg("tincan: listener stopped")
			} else {
				r.logger.Error().Err(err).Str("client", r.clientName).Msg("tincan: listener failed")
			}
			return err
		}
	}
}

// receiveOnce waits for one item on any watched list and processes it.
// A nil return means "keep listening".
func (r *Receiver) receiveOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, content, err := r.store.BlockingPop(ctx, r.blockTimeout, r.listKeys...)
	if err != nil {
		switch {
		case errors.Is(err, ErrPopTimeout):
			return ctx.Err()
		case r.closed.Load() || errors.Is(err, ErrStoreClosed):
			return ErrReceiverClosed
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("tincan: blocking pop: %w", err)
		}
	}

	rt, ok := r.routes[key]
	if !ok {
		r.metrics.errors.Add(1)
		r.observers.notify(Event{Type: Error, Client: r.clientName, Queue: key, Err: fmt.Errorf("tincan: popped unwatched list %q", key)})
		return nil
	}
	if rt.failures {
		return r.processFailure(ctx, rt, key, content)
	}
	return r.processMessage(ctx, rt, key, content, nil)
}

// processFailure handles an item popped from a failure list: it is either
// requeued because its deadline has not passed, or redelivered.
func (r *Receiver) processFailure(ctx context.Context, rt route, key, content string) error {
	f, err := DecodeFailure([]byte(content))
	if err != nil {
		// Without a message id there is nothing to retry; report and move on.
		r.metrics.errors.Add(1)
		fields := map[string]any{"channel": rt.channel, "queue": key, "content": content}
		if r.onException != nil {
			r.onException(err, fields)
		}
		r.observers.notify(Event{Type: Error, Channel: rt.channel, Client: r.clientName, Queue: key, Err: err})
		return nil
	}

	if r.clock.Now().Before(f.DueAt()) {
		// TODO: schedule the retry instead of pushing it straight back. Every
		// pass stores the bumped count, so DueAt moves RetryBaseDelay later on
		// each pop; a lone failure on an idle receiver spins and its deadline
		// keeps receding.
		body, err := f.Encode()
		if err != nil {
			return err
		}
		if err := r.store.Push(ctx, key, string(body)); err != nil {
			if ctx.Err() != nil {
				// Put back the envelope as popped; this pass was not an attempt.
				r.restore(ctx, key, content)
				return ctx.Err()
			}
			return fmt.Errorf("tincan: requeue failure on %s: %w", key, err)
		}
		r.metrics.requeued.Add(1)
		r.observers.notify(Event{
			Type:      Requeued,
			Channel:   rt.channel,
			Client:    r.clientName,
			Queue:     key,
			MessageID: f.MessageID,
			Attempt:   f.AttemptCount,
		})
		return nil
	}

	return r.processMessage(ctx, rt, key, content, f)
}

// processMessage fetches and dispatches one message. f is non-nil when the
// delivery is a retry taken from the failure list.
func (r *Receiver) processMessage(ctx context.Context, rt route, key, content string, f *Failure) error {
	id := content
	queue := key
	attempt := 1
	if f != nil {
		id = f.MessageID
		queue = f.QueueName
		if queue == "" {
			queue = MessageListKey(r.namespace, rt.channel, r.clientName)
		}
		attempt = f.AttemptCount
	}

	body, err := r.store.Get(ctx, MessageKey(r.namespace, rt.channel, id))
	if errors.Is(err, ErrNotFound) {
		r.metrics.dropped.Add(1)
		r.observers.notify(Event{Type: Dropped, Channel: rt.channel, Client: r.clientName, Queue: key, MessageID: id})
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			r.restore(ctx, key, content)
			return ctx.Err()
		}
		return fmt.Errorf("tincan: fetch message %s: %w", id, err)
	}

	start := r.clock.Now()
	derr := r.deliver(ctx, rt.channel, body, Delivery{
		Channel:   rt.channel,
		Client:    r.clientName,
		Queue:     queue,
		MessageID: id,
		Attempt:   attempt,
	})
	duration := r.clock.Since(start)
	r.metrics.recordProcessingTime(duration.Nanoseconds())

	if derr == nil {
		r.metrics.delivered.Add(1)
		r.observers.notify(Event{
			Type:      Delivered,
			Channel:   rt.channel,
			Client:    r.clientName,
			Queue:     key,
			MessageID: id,
			Attempt:   attempt,
			Duration:  duration,
		})
		return nil
	}

	// Cancellation is not a handler failure: put the item back untouched.
	if ctx.Err() != nil {
		r.restore(ctx, key, content)
		return ctx.Err()
	}

	return r.fail(ctx, rt.channel, queue, id, f, derr)
}

// deliver decodes body and runs the channel's handlers under a consumer span.
func (r *Receiver) deliver(ctx context.Context, channel, body string, d Delivery) (err error) {
	ctx, span := r.tracer.Start(ctx, "tincan.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("tincan.channel", channel),
			attribute.String("tincan.client", d.Client),
			attribute.String("tincan.message_id", d.MessageID),
			attribute.Int("tincan.attempt", d.Attempt),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	msg, err := DecodeMessage([]byte(body))
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("tincan.change_type", string(msg.ChangeType)))
	return r.HandleMessageForObject(injectDelivery(ctx, d), channel, msg)
}

// fail reports a delivery error and records it on the failure list.
func (r *Receiver) fail(ctx context.Context, channel, queue, id string, prev *Failure, cause error) error {
	now := r.clock.Now()
	f := prev
	if f == nil {
		f = NewFailure(id, queue, now)
	} else {
		f.FailedAt = now
	}

	r.metrics.failed.Add(1)
	if r.onException != nil {
		r.onException(cause, map[string]any{
			"channel":       channel,
			"client":        r.clientName,
			"queue":         queue,
			"message_id":    id,
			"attempt_count": f.AttemptCount,
		})
	}

	if err := r.StoreFailure(ctx, f); err != nil {
		return err
	}
	r.observers.notify(Event{
		Type:      Failed,
		Channel:   channel,
		Client:    r.clientName,
		Queue:     queue,
		MessageID: id,
		Attempt:   f.AttemptCount,
		Err:       cause,
	})
	return nil
}

// restore pushes a popped item back to its list after cancellation.
func (r *Receiver) restore(ctx context.Context, key, content string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()
	if err := r.store.Push(rctx, key, content); err != nil {
		r.metrics.errors.Add(1)
		r.logger.Error().Err(err).Str("queue", key).Str("content", content).Msg("tincan: could not restore item after cancellation")
	}
}

// HandleMessageForObject runs every handler bound to channel, in
// registration order. The first handler error stops the chain and is
// returned unchanged.
func (r *Receiver) HandleMessageForObject(ctx context.Context, channel string, msg *Message) error {
	hs, ok := r.handlers[strings.ToLower(channel)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	r.logger.Debug().Str("channel", channel).Str("message_id", msg.ID()).Msg("tincan: dispatching")

	hctx := injectLogger(ctx, r.logger)
	hctx = injectClock(hctx, r.clock)
	for _, h := range hs {
		if err := h(hctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// MessageForID fetches the message body for id on channel. A missing body
// yields (nil, nil).
func (r *Receiver) MessageForID(ctx context.Context, channel, id string) (*Message, error) {
	body, err := r.store.Get(ctx, MessageKey(r.namespace, channel, id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeMessage([]byte(body))
}

// StoreFailedMessage records a first failed attempt of messageID taken from
// originalList.
func (r *Receiver) StoreFailedMessage(ctx context.Context, messageID, originalList string) error {
	return r.StoreFailure(ctx, NewFailure(messageID, originalList, r.clock.Now()))
}

// StoreFailure appends f to the failure list paired with its queue.
func (r *Receiver) StoreFailure(ctx context.Context, f *Failure) error {
	body, err := f.Encode()
	if err != nil {
		return err
	}
	key := r.failureListFor(f.QueueName)
	if err := r.store.Push(ctx, key, string(body)); err != nil {
		return fmt.Errorf("tincan: store failure on %s: %w", key, err)
	}
	r.logger.Warn().Str("message_id", f.MessageID).Str("queue", f.QueueName).Msg("tincan: stored failure")
	return nil
}

// failureListFor maps a message list key to its failure list key.
func (r *Receiver) failureListFor(queue string) string {
	if rt, ok := r.routes[queue]; ok {
		return FailureListKey(r.namespace, rt.channel, r.clientName)
	}
	return strings.TrimSuffix(queue, segMessages) + segFailures
}

// MessageListKeys lists every watched list: for each channel (sorted) its
// message list followed by its failure list.
func (r *Receiver) MessageListKeys() []string {
	out := make([]string, len(r.listKeys))
	copy(out, r.listKeys)
	return out
}

// Channels returns the channels this receiver listens to, sorted.
func (r *Receiver) Channels() []string {
	out := make([]string, len(r.channels))
	copy(out, r.channels)
	return out
}

// ClientName returns the consumer identity.
func (r *Receiver) ClientName() string { return r.clientName }

// Namespace returns the key namespace.
func (r *Receiver) Namespace() string { return r.namespace }

// GetMetrics returns current receiver metrics.
func (r *Receiver) GetMetrics() Metrics { return r.metrics.snapshot() }

// AddObserver registers an observer (thread-safe).
func (r *Receiver) AddObserver(obs Observer) { r.observers.add(obs) }

// RemoveObserver removes an observer.
func (r *Receiver) RemoveObserver(obs Observer) { r.observers.remove(obs) }

// Health checks receiver health for Kubernetes probes.
func (r *Receiver) Health(ctx context.Context) HealthStatus {
	now := r.clock.Now()
	if r.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "receiver is closed"}
	}
	if err := r.store.Ping(ctx); err != nil {
		return HealthStatus{Status: "unhealthy", Metrics: r.GetMetrics(), Timestamp: now, Message: err.Error()}
	}

	m := r.GetMetrics()
	status := "healthy"
	// Degraded if more than 5% of deliveries fail.
	if total := m.Delivered + m.Failed; total > 0 && float64(m.Failed)/float64(total) > 0.05 {
		status = "degraded"
	}
	return HealthStatus{Status: status, Metrics: m, Timestamp: now}
}

// Close stops Listen and closes the store, including for a Sender built on
// the same store. Idempotent.
func (r *Receiver) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		if cerr := r.store.Close(ctx); cerr != nil {
			r.logger.Error().Err(cerr).Msg("tincan: store close failed")
			err = cerr
		}
	})
	return err
}

// buildRoutes computes the watched list keys and their routes for channels.
func buildRoutes(namespace, client string, channels []string) ([]string, map[string]route) {
	sorted := make([]string, len(channels))
	copy(sorted, channels)
	sort.Strings(sorted)

	keys := make([]string, 0, 2*len(sorted))
	routes := make(map[string]route, 2*len(sorted))
	for _, ch := range sorted {
		mk := MessageListKey(namespace, ch, client)
		fk := FailureListKey(namespace, ch, client)
		keys = append(keys, mk, fk)
		routes[mk] = route{channel: ch}
		routes[fk] = route{channel: ch, failures: true}
	}
	return keys, routes
}
