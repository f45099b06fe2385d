package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/trickstertwo/tincan"
	"github.com/trickstertwo/xlog"
)

// builtinHandlers returns the handlers listen_to may name.
func builtinHandlers(logger *xlog.Logger, out io.Writer) *tincan.HandlerRegistry {
	reg := tincan.NewHandlerRegistry()
	_ = reg.Register("log", logHandler(logger))
	_ = reg.Register("stdout", writeHandler(out))
	return reg
}

// logHandler writes one info line per delivered message.
func logHandler(logger *xlog.Logger) tincan.Handler {
	return func(ctx context.Context, msg *tincan.Message) error {
		ev := logger.Info().
			Str("object", msg.ObjectName).
			Str("change", msg.ChangeType.String()).
			Str("message_id", msg.ID())
		if d, ok := tincan.DeliveryFromContext(ctx); ok {
			ev = ev.Str("client", d.Client).Str("queue", d.Queue)
		}
		ev.Msg("change received")
		return nil
	}
}

// writeHandler prints each message as one JSON line.
func writeHandler(out io.Writer) tincan.Handler {
	var mu sync.Mutex
	return func(_ context.Context, msg *tincan.Message) error {
		body, err := msg.Encode()
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := fmt.Fprintln(out, string(body)); err != nil {
			return fmt.Errorf("write message %s: %w", msg.ID(), err)
		}
		return nil
	}
}

// rawJSON validates data given on the command line.
func rawJSON(data string) (json.RawMessage, error) {
	if data == "" {
		return json.RawMessage("null"), nil
	}
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("--data is not valid JSON: %s", data)
	}
	return json.RawMessage(data), nil
}
