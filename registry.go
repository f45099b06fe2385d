package tincan

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// StoreFactory constructs stores from a config blob.
type StoreFactory func(cfg map[string]any) (Store, error)

var (
	storeRegistryMu sync.RWMutex
	storeRegistry   = map[string]StoreFactory{}
)

// RegisterStore registers a backend adapter.
func RegisterStore(name string, factory StoreFactory) error {
	if name == "" {
		return errors.New("store name must not be empty")
	}
	if factory == nil {
		return errors.New("store factory must not be nil")
	}
	storeRegistryMu.Lock()
	storeRegistry[name] = factory
	storeRegistryMu.Unlock()
	return nil
}

// NewStore constructs a store by name with config.
func NewStore(name string, cfg map[string]any) (Store, error) {
	storeRegistryMu.RLock()
	f, ok := storeRegistry[name]
	storeRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownStore{name: name}
	}
	return f(cfg)
}

// HandlerRegistry maps handler names to Handlers. Hosts fill it once at
// startup and resolve configured names before building a Receiver.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any previous binding.
func (r *HandlerRegistry) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("handler name must not be empty")
	}
	if h == nil {
		return errors.New("handler must not be nil")
	}
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
	return nil
}

// Lookup returns the handler bound to name.
func (r *HandlerRegistry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	return h, ok
}

// Names lists registered handler names in sorted order.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Resolve turns a channel -> handler names table into a channel -> handlers
// table, keeping the configured order.
func (r *HandlerRegistry) Resolve(listenTo map[string][]string) (map[string][]Handler, error) {
	out := make(map[string][]Handler, len(listenTo))
	for channel, names := range listenTo {
		hs := make([]Handler, 0, len(names))
		for _, n := range names {
			h, ok := r.Lookup(n)
			if !ok {
				return nil, fmt.Errorf("%w: %q (channel %q)", ErrUnknownHandler, n, channel)
			}
			hs = append(hs, h)
		}
		out[channel] = hs
	}
	return out, nil
}
