package tincan_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/tincan"
	"github.com/trickstertwo/tincan/adapter/memory"
)

func TestReceiver_RegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	r := newReceiver(t, st, nil, "widget", func(context.Context, *tincan.Message) error { return nil })

	_, err := r.Register(ctx)
	require.NoError(t, err)
	_, err = r.Register(ctx)
	require.NoError(t, err)

	members, err := st.Members(ctx, "tincan:widget:receivers")
	require.NoError(t, err)
	assert.Equal(t, []string{testClient}, members)
}

func TestReceiver_MessageListKeys(t *testing.T) {
	st := memory.NewStore(memory.Config{})
	noop := func(context.Context, *tincan.Message) error { return nil }
	r, err := tincan.NewBuilder().
		WithStoreInstance(st).
		WithNamespace(testNS).
		WithClientName(testClient).
		Listen("widget", noop).
		Listen("gadget", noop).
		BuildReceiver()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"tincan:gadget:worker-1:messages",
		"tincan:gadget:worker-1:failures",
		"tincan:widget:worker-1:messages",
		"tincan:widget:worker-1:failures",
	}, r.MessageListKeys())
	assert.Equal(t, []string{"gadget", "widget"}, r.Channels())
}

func TestReceiver_HandlerFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	boom := errors.New("boom")
	var exc []exception
	r := newReceiver(t, st, &exc, "widget", func(_ context.Context, msg *tincan.Message) error {
		if msg.ID() == "42" {
			return boom
		}
		return nil
	})

	seedMessage(t, st, "widget", "42")
	require.NoError(t, st.Push(ctx, tincan.MessageListKey(testNS, "widget", testClient), "42"))

	before := time.Now().Add(-time.Second)
	require.NoError(t, r.ReceiveOnce(ctx))

	failures := storedFailures(t, st, "widget")
	require.Len(t, failures, 1)
	assert.Equal(t, "42", failures[0].MessageID)
	assert.Equal(t, 1, failures[0].AttemptCount)
	assert.Equal(t, "tincan:widget:worker-1:messages", failures[0].QueueName)
	assert.True(t, failures[0].FailedAt.After(before))

	require.Len(t, exc, 1)
	assert.ErrorIs(t, exc[0].err, boom)
	assert.Equal(t, "42", exc[0].fields["message_id"])
	assert.Equal(t, "widget", exc[0].fields["channel"])

	assert.Empty(t, listItems(t, st, tincan.MessageListKey(testNS, "widget", testClient)))
	assert.Equal(t, uint64(1), r.GetMetrics().Failed)
}

func TestReceiver_FailureNotDueIsRequeued(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	calls := 0
	r := newReceiver(t, st, nil, "widget", func(context.Context, *tincan.Message) error {
		calls++
		return nil
	})

	seedMessage(t, st, "widget", "42")
	seedFailure(t, st, "widget", &tincan.Failure{
		FailedAt:     time.Now().Add(-5 * time.Second),
		AttemptCount: 1,
		MessageID:    "42",
		QueueName:    "tincan:widget:worker-1:messages",
	})

	require.NoError(t, r.ReceiveOnce(ctx))

	assert.Zero(t, calls)
	failures := storedFailures(t, st, "widget")
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].AttemptCount)
	assert.Equal(t, "42", failures[0].MessageID)
	assert.Equal(t, uint64(1), r.GetMetrics().Requeued)
}

func TestReceiver_DueFailureIsRedelivered(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	var got []tincan.Delivery
	r := newReceiver(t, st, nil, "widget", func(ctx context.Context, msg *tincan.Message) error {
		d, ok := tincan.DeliveryFromContext(ctx)
		require.True(t, ok)
		got = append(got, d)
		return nil
	})

	seedMessage(t, st, "widget", "42")
	seedFailure(t, st, "widget", &tincan.Failure{
		FailedAt:     time.Now().Add(-15 * time.Second),
		AttemptCount: 1,
		MessageID:    "42",
		QueueName:    "tincan:widget:worker-1:messages",
	})

	require.NoError(t, r.ReceiveOnce(ctx))

	require.Len(t, got, 1)
	assert.Equal(t, "42", got[0].MessageID)
	assert.Equal(t, 2, got[0].Attempt)
	assert.Equal(t, "tincan:widget:worker-1:messages", got[0].Queue)
	assert.Empty(t, storedFailures(t, st, "widget"))
	assert.Equal(t, uint64(1), r.GetMetrics().Delivered)
}

func TestReceiver_RedeliveryFailureKeepsCount(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	var exc []exception
	r := newReceiver(t, st, &exc, "widget", func(context.Context, *tincan.Message) error {
		return errors.New("still broken")
	})

	seedMessage(t, st, "widget", "42")
	old := time.Now().Add(-time.Minute)
	seedFailure(t, st, "widget", &tincan.Failure{
		FailedAt:     old,
		AttemptCount: 2,
		MessageID:    "42",
		QueueName:    "tincan:widget:worker-1:messages",
	})

	require.NoError(t, r.ReceiveOnce(ctx))

	failures := storedFailures(t, st, "widget")
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].AttemptCount)
	assert.True(t, failures[0].FailedAt.After(old))
	require.Len(t, exc, 1)
	assert.Equal(t, 3, exc[0].fields["attempt_count"])
}

func TestReceiver_MissingBodyIsDropped(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	calls := 0
	var exc []exception
	r := newReceiver(t, st, &exc, "widget", func(context.Context, *tincan.Message) error {
		calls++
		return nil
	})

	require.NoError(t, st.Push(ctx, tincan.MessageListKey(testNS, "widget", testClient), "99"))
	require.NoError(t, r.ReceiveOnce(ctx))

	assert.Zero(t, calls)
	assert.Empty(t, exc)
	assert.Empty(t, storedFailures(t, st, "widget"))
	assert.Equal(t, uint64(1), r.GetMetrics().Dropped)
}

func TestReceiver_MalformedFailureIsReported(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	var exc []exception
	r := newReceiver(t, st, &exc, "widget", func(context.Context, *tincan.Message) error { return nil })

	require.NoError(t, st.Push(ctx, tincan.FailureListKey(testNS, "widget", testClient), "not json"))
	require.NoError(t, r.ReceiveOnce(ctx))

	require.Len(t, exc, 1)
	assert.Equal(t, "not json", exc[0].fields["content"])
	assert.Empty(t, storedFailures(t, st, "widget"))
	assert.Equal(t, uint64(1), r.GetMetrics().Errors)
}

func TestReceiver_HandlersRunInOrderAndStopOnError(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	var order []string
	var exc []exception
	r := newReceiver(t, st, &exc, "widget",
		func(context.Context, *tincan.Message) error { order = append(order, "a"); return nil },
		func(context.Context, *tincan.Message) error { order = append(order, "b"); return errors.New("b failed") },
		func(context.Context, *tincan.Message) error { order = append(order, "c"); return nil },
	)

	seedMessage(t, st, "widget", "42")
	require.NoError(t, st.Push(ctx, tincan.MessageListKey(testNS, "widget", testClient), "42"))
	require.NoError(t, r.ReceiveOnce(ctx))

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Len(t, storedFailures(t, st, "widget"), 1)
	require.Len(t, exc, 1)
	assert.EqualError(t, exc[0].err, "b failed")
}

func TestReceiver_HandlerPanicTakesFailurePath(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	var exc []exception
	r := newReceiver(t, st, &exc, "widget", func(context.Context, *tincan.Message) error {
		panic("kaboom")
	})

	seedMessage(t, st, "widget", "42")
	require.NoError(t, st.Push(ctx, tincan.MessageListKey(testNS, "widget", testClient), "42"))
	require.NoError(t, r.ReceiveOnce(ctx))

	require.Len(t, exc, 1)
	assert.ErrorIs(t, exc[0].err, tincan.ErrHandlerPanic)
	assert.Len(t, storedFailures(t, st, "widget"), 1)
}

func TestReceiver_CancellationRestoresItem(t *testing.T) {
	st := memory.NewStore(memory.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var exc []exception
	r := newReceiver(t, st, &exc, "widget", func(ctx context.Context, _ *tincan.Message) error {
		cancel()
		return ctx.Err()
	})

	seedMessage(t, st, "widget", "42")
	listKey := tincan.MessageListKey(testNS, "widget", testClient)
	require.NoError(t, st.Push(context.Background(), listKey, "42"))

	err := r.ReceiveOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"42"}, listItems(t, st, listKey))
	assert.Empty(t, storedFailures(t, st, "widget"))
	assert.Empty(t, exc)
}

func TestReceiver_HandlersSeeLoggerAndClock(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	var hasLogger, hasClock bool
	r := newReceiver(t, st, nil, "widget", func(ctx context.Context, _ *tincan.Message) error {
		_, hasLogger = tincan.LoggerFromContext(ctx)
		_, hasClock = tincan.ClockFromContext(ctx)
		return nil
	})

	msg, err := tincan.NewMessage("Widget", tincan.Modify, Widget{ID: 1}, time.Now())
	require.NoError(t, err)
	require.NoError(t, r.HandleMessageForObject(ctx, "widget", msg))
	assert.True(t, hasLogger)
	assert.True(t, hasClock)
}

func TestReceiver_HandleMessageForUnknownChannel(t *testing.T) {
	st := memory.NewStore(memory.Config{})
	r := newReceiver(t, st, nil, "widget", func(context.Context, *tincan.Message) error { return nil })

	msg, err := tincan.NewMessage("Gadget", tincan.Create, nil, time.Now())
	require.NoError(t, err)
	err = r.HandleMessageForObject(context.Background(), "gadget", msg)
	assert.ErrorIs(t, err, tincan.ErrUnknownChannel)
}

func TestReceiver_MessageForID(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	r := newReceiver(t, st, nil, "widget", func(context.Context, *tincan.Message) error { return nil })

	msg, err := r.MessageForID(ctx, "widget", "42")
	require.NoError(t, err)
	assert.Nil(t, msg)

	seedMessage(t, st, "widget", "42")
	msg, err = r.MessageForID(ctx, "widget", "42")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "Widget", msg.ObjectName)
	w, err := tincan.DecodeObject[Widget](msg)
	require.NoError(t, err)
	assert.Equal(t, 7, w.ID)
}

func TestReceiver_StoreFailedMessage(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	r := newReceiver(t, st, nil, "widget", func(context.Context, *tincan.Message) error { return nil })

	require.NoError(t, r.StoreFailedMessage(ctx, "42", "tincan:widget:worker-1:messages"))

	failures := storedFailures(t, st, "widget")
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].AttemptCount)
	assert.Equal(t, "42", failures[0].MessageID)
}

func TestReceiver_ListenStopsOnClose(t *testing.T) {
	st := memory.NewStore(memory.Config{})
	r, err := tincan.NewBuilder().
		WithStoreInstance(st).
		WithNamespace(testNS).
		WithClientName(testClient).
		Listen("widget", func(context.Context, *tincan.Message) error { return nil }).
		BuildReceiver()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Listen(context.Background()) }()

	require.Eventually(t, func() bool {
		members, _ := st.Members(context.Background(), "tincan:widget:receivers")
		return len(members) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Close(context.Background()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, tincan.ErrReceiverClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after Close")
	}

	assert.ErrorIs(t, r.Listen(context.Background()), tincan.ErrReceiverClosed)
	assert.Equal(t, "unhealthy", r.Health(context.Background()).Status)
}

func TestReceiver_ListenStopsOnCancel(t *testing.T) {
	st := memory.NewStore(memory.Config{})
	r := newReceiver(t, st, nil, "widget", func(context.Context, *tincan.Message) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Listen(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestReceiver_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	received := make(chan *tincan.Message, 1)
	r := newReceiver(t, st, nil, "widget", func(_ context.Context, msg *tincan.Message) error {
		received <- msg
		return nil
	})
	_, err := r.Register(ctx)
	require.NoError(t, err)

	s := newSender(t, st)
	require.NoError(t, s.Publish(ctx, Widget{ID: 7}, tincan.Create))
	require.NoError(t, r.ReceiveOnce(ctx))

	select {
	case msg := <-received:
		assert.Equal(t, "Widget", msg.ObjectName)
		assert.Equal(t, tincan.Create, msg.ChangeType)
		assert.JSONEq(t, `{"id":7}`, string(msg.ObjectData))
	default:
		t.Fatal("handler was not called")
	}

	h := r.Health(ctx)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, uint64(1), h.Metrics.Delivered)
}

func TestReceiver_ObserversSeeEvents(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore(memory.Config{})
	var events []tincan.EventType
	r, err := tincan.NewBuilder().
		WithStoreInstance(st).
		WithNamespace(testNS).
		WithClientName(testClient).
		WithObserver(tincan.ObserverFunc(func(e tincan.Event) { events = append(events, e.Type) })).
		Listen("widget", func(context.Context, *tincan.Message) error { return errors.New("nope") }).
		BuildReceiver()
	require.NoError(t, err)

	seedMessage(t, st, "widget", "42")
	require.NoError(t, st.Push(ctx, tincan.MessageListKey(testNS, "widget", testClient), "42"))
	require.NoError(t, r.ReceiveOnce(ctx))

	assert.Equal(t, []tincan.EventType{tincan.Failed}, events)

	raw, err := json.Marshal(storedFailures(t, st, "widget")[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"queue_name":"tincan:widget:worker-1:messages"`)
}

// cancelAfterPop cancels the listening context as soon as an item is popped,
// and refuses pushes on a done context the way a pooled network client does.
type cancelAfterPop struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *cancelAfterPop) BlockingPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	k, v, err := s.Store.BlockingPop(ctx, timeout, keys...)
	s.cancel()
	return k, v, err
}

func (s *cancelAfterPop) Push(ctx context.Context, key string, values ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Push(ctx, key, values...)
}

func TestReceiver_CancellationDuringRequeueRestoresFailure(t *testing.T) {
	st := memory.NewStore(memory.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	r, err := tincan.NewBuilder().
		WithStoreInstance(&cancelAfterPop{Store: st, cancel: cancel}).
		WithNamespace(testNS).
		WithClientName(testClient).
		WithBlockTimeout(time.Second).
		Listen("widget", func(context.Context, *tincan.Message) error {
			calls++
			return nil
		}).
		BuildReceiver()
	require.NoError(t, err)

	seedMessage(t, st, "widget", "42")
	seedFailure(t, st, "widget", &tincan.Failure{
		FailedAt:     time.Now().Add(-5 * time.Second),
		AttemptCount: 1,
		MessageID:    "42",
		QueueName:    "tincan:widget:worker-1:messages",
	})

	err = r.ReceiveOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, calls)
	failures := storedFailures(t, st, "widget")
	require.Len(t, failures, 1)
	assert.Equal(t, "42", failures[0].MessageID)
	assert.Equal(t, 1, failures[0].AttemptCount)
	assert.Zero(t, r.GetMetrics().Requeued)
}

func TestReceiver_MalformedBodyTakesFailurePath(t *testing.T) {
	bodies := map[string]string{
		"invalid json":        `not json`,
		"invalid change type": `{"object_name":"Widget","change_type":"upsert","object_data":{"id":7},"published_at":"2024-03-01T12:00:00Z"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := memory.NewStore(memory.Config{})
			calls := 0
			var exc []exception
			r := newReceiver(t, st, &exc, "widget", func(context.Context, *tincan.Message) error {
				calls++
				return nil
			})

			require.NoError(t, st.Set(ctx, tincan.MessageKey(testNS, "widget", "42"), body, 0))
			require.NoError(t, st.Push(ctx, tincan.MessageListKey(testNS, "widget", testClient), "42"))
			require.NoError(t, r.ReceiveOnce(ctx))

			assert.Zero(t, calls)
			failures := storedFailures(t, st, "widget")
			require.Len(t, failures, 1)
			assert.Equal(t, "42", failures[0].MessageID)
			assert.Equal(t, 1, failures[0].AttemptCount)
			require.Len(t, exc, 1)
			assert.Equal(t, "42", exc[0].fields["message_id"])
		})
	}
}
