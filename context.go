package tincan

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in tincan (prevents collisions).
type ctxKey string

const (
	loggerCtxKey   ctxKey = "tincan:logger"
	clockCtxKey    ctxKey = "tincan:clock"
	deliveryCtxKey ctxKey = "tincan:delivery"
)

// Delivery describes where a message handed to a Handler came from.
type Delivery struct {
	Channel   string
	Client    string
	Queue     string
	MessageID string
	// Attempt is 1 for a fresh delivery and grows with every retry.
	Attempt int
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the receiver's logger inside a Handler.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

// ClockFromContext returns the receiver's clock inside a Handler.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectDelivery(ctx context.Context, d Delivery) context.Context {
	return context.WithValue(ctx, deliveryCtxKey, d)
}

// DeliveryFromContext returns delivery details inside a Handler.
func DeliveryFromContext(ctx context.Context) (Delivery, bool) {
	d, ok := ctx.Value(deliveryCtxKey).(Delivery)
	return d, ok
}
