package tincan_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/tincan"
	"github.com/trickstertwo/tincan/adapter/memory"
)

const (
	testNS     = "tincan"
	testClient = "worker-1"
)

type Widget struct {
	ID int `json:"id"`
}

type renamed struct{}

func (renamed) ObjectName() string { return "Gizmo" }

// seedMessage stores a widget body under id, the way a Sender would.
func seedMessage(t *testing.T, st *memory.Store, channel, id string) {
	t.Helper()
	sec, err := strconv.ParseInt(id, 10, 64)
	require.NoError(t, err)
	msg, err := tincan.NewMessage("Widget", tincan.Create, json.RawMessage(`{"id":7}`), time.Unix(sec, 0))
	require.NoError(t, err)
	body, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), tincan.MessageKey(testNS, channel, id), string(body), 0))
}

func seedFailure(t *testing.T, st *memory.Store, channel string, f *tincan.Failure) {
	t.Helper()
	body, err := f.Encode()
	require.NoError(t, err)
	require.NoError(t, st.Push(context.Background(), tincan.FailureListKey(testNS, channel, testClient), string(body)))
}

// storedFailures reads the failure list without the decode-time bump.
func storedFailures(t *testing.T, st *memory.Store, channel string) []tincan.Failure {
	t.Helper()
	raw, err := st.Range(context.Background(), tincan.FailureListKey(testNS, channel, testClient), 0, -1)
	require.NoError(t, err)
	out := make([]tincan.Failure, 0, len(raw))
	for _, r := range raw {
		var f tincan.Failure
		require.NoError(t, json.Unmarshal([]byte(r), &f))
		out = append(out, f)
	}
	return out
}

func listItems(t *testing.T, st *memory.Store, key string) []string {
	t.Helper()
	items, err := st.Range(context.Background(), key, 0, -1)
	require.NoError(t, err)
	return items
}

type exception struct {
	err    error
	fields map[string]any
}

func newReceiver(t *testing.T, st *memory.Store, exc *[]exception, channel string, hs ...tincan.Handler) *tincan.Receiver {
	t.Helper()
	bb := tincan.NewBuilder().
		WithStoreInstance(st).
		WithNamespace(testNS).
		WithClientName(testClient).
		WithBlockTimeout(time.Second).
		Listen(channel, hs...)
	if exc != nil {
		bb.WithOnException(func(err error, fields map[string]any) {
			*exc = append(*exc, exception{err: err, fields: fields})
		})
	}
	r, err := bb.BuildReceiver()
	require.NoError(t, err)
	return r
}

func newSender(t *testing.T, st *memory.Store, opts ...func(*tincan.Builder)) *tincan.Sender {
	t.Helper()
	bb := tincan.NewBuilder().WithStoreInstance(st).WithNamespace(testNS)
	for _, o := range opts {
		o(bb)
	}
	s, err := bb.BuildSender()
	require.NoError(t, err)
	return s
}
