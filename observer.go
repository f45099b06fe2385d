package tincan

import (
	"reflect"
	"strconv"
	"sync"

	"github.com/trickstertwo/xlog"
)

// Observer receives lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits Events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("channel", e.Channel),
		xlog.Str("client", e.Client),
		xlog.Str("queue", e.Queue),
		xlog.Str("message_id", e.MessageID),
	)
	switch e.Type {
	case Error, Failed:
		ev.Warn().Err(e.Err).Str("attempt", strconv.Itoa(e.Attempt)).Msg("tincan event")
	case Requeued:
		ev.Debug().Str("attempt", strconv.Itoa(e.Attempt)).Msg("tincan event")
	case Published:
		ev.Debug().Str("fanout", strconv.Itoa(e.Fanout)).Dur("duration", e.Duration).Msg("tincan event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("tincan event")
	}
}

// observers is a copy-on-notify observer list shared by Sender and Receiver.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	o.list = append(o.list, obs)
	o.mu.Unlock()
}

// remove drops the first observer equal to obs. Uncomparable observers
// (ObserverFunc values) cannot be removed.
func (o *observers) remove(obs Observer) {
	if obs == nil || !reflect.TypeOf(obs).Comparable() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, x := range o.list {
		if reflect.TypeOf(x).Comparable() && x == obs {
			o.list = append(o.list[:i], o.list[i+1:]...)
			break
		}
	}
}

// notify dispatches synchronously. Observer panics are swallowed so a broken
// observer never affects delivery.
func (o *observers) notify(e Event) {
	o.mu.RLock()
	if len(o.list) == 0 {
		o.mu.RUnlock()
		return
	}
	obs := make([]Observer, len(o.list))
	copy(obs, o.list)
	o.mu.RUnlock()

	for _, ob := range obs {
		func() {
			defer func() { _ = recover() }()
			ob.OnEvent(e)
		}()
	}
}
