package tincan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/trickstertwo/xclock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender publishes change events: it stores the message body once and fans
// its id out to every client registered on the channel.
// A Sender is safe for concurrent use when its Store is.
type Sender struct {
	store      Store
	namespace  string
	clock      xclock.Clock
	tracer     trace.Tracer
	messageTTL time.Duration
	observers  observers
	metrics    counters
}

// Publish announces a change of object. The object name is taken from
// ObjectNamer when implemented, otherwise from the Go type name.
func (s *Sender) Publish(ctx context.Context, object any, change ChangeType) error {
	return s.PublishObject(ctx, objectNameOf(object), change, object)
}

// PublishObject announces a change of an object named objectName carrying data.
// It returns once the body is stored and every receiver list has the id; it
// never waits for consumers.
func (s *Sender) PublishObject(ctx context.Context, objectName string, change ChangeType, data any) error {
	msg, err := NewMessage(objectName, change, data, s.clock.Now())
	if err != nil {
		s.metrics.errors.Add(1)
		return err
	}
	if !validName(msg.Channel()) {
		s.metrics.errors.Add(1)
		return fmt.Errorf("%w: object name %q", ErrInvalidName, objectName)
	}
	return s.send(ctx, msg)
}

func (s *Sender) send(ctx context.Context, msg *Message) (err error) {
	channel := msg.Channel()
	id := IdentifierForMessage(msg)

	ctx, span := s.tracer.Start(ctx, "tincan.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("tincan.channel", channel),
			attribute.String("tincan.message_id", id),
			attribute.String("tincan.change_type", string(msg.ChangeType)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.errors.Add(1)
			s.observers.notify(Event{Type: Error, Channel: channel, MessageID: id, Err: err})
		}
		span.End()
	}()

	start := s.clock.Now()

	body, err := msg.Encode()
	if err != nil {
		return err
	}
	if err = s.store.Set(ctx, s.PrimaryKeyForMessage(msg), string(body), s.messageTTL); err != nil {
		return fmt.Errorf("tincan: store message %s: %w", id, err)
	}

	keys, err := s.KeysForReceivers(ctx, channel)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err = s.store.Push(ctx, k, id); err != nil {
			return fmt.Errorf("tincan: push %s to %s: %w", id, k, err)
		}
	}

	duration := s.clock.Since(start)
	s.metrics.published.Add(1)
	s.metrics.recordProcessingTime(duration.Nanoseconds())
	span.SetAttributes(attribute.Int("tincan.fanout", len(keys)))
	s.observers.notify(Event{
		Type:      Published,
		Channel:   channel,
		MessageID: id,
		Fanout:    len(keys),
		Duration:  duration,
	})
	return nil
}

// KeysForReceivers lists the message list key of every client registered on
// channel, sorted.
func (s *Sender) KeysForReceivers(ctx context.Context, channel string) ([]string, error) {
	clients, err := s.store.Members(ctx, ReceiversKey(s.namespace, channel))
	if err != nil {
		return nil, fmt.Errorf("tincan: read receivers of %s: %w", channel, err)
	}
	sort.Strings(clients)
	keys := make([]string, 0, len(clients))
	for _, c := range clients {
		keys = append(keys, MessageListKey(s.namespace, channel, c))
	}
	return keys, nil
}

// PrimaryKeyForMessage is the key the message body is stored under.
func (s *Sender) PrimaryKeyForMessage(msg *Message) string {
	return MessageKey(s.namespace, msg.Channel(), IdentifierForMessage(msg))
}

// IdentifierForMessage is the id pushed to receiver lists for msg.
func IdentifierForMessage(msg *Message) string {
	return msg.ID()
}

// Namespace returns the key namespace.
func (s *Sender) Namespace() string { return s.namespace }

// GetMetrics returns current sender metrics.
func (s *Sender) GetMetrics() Metrics { return s.metrics.snapshot() }

// AddObserver registers an observer (thread-safe).
func (s *Sender) AddObserver(obs Observer) { s.observers.add(obs) }

// RemoveObserver removes an observer.
func (s *Sender) RemoveObserver(obs Observer) { s.observers.remove(obs) }

// Close releases the underlying store, including for a Receiver built on
// the same store.
func (s *Sender) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}
