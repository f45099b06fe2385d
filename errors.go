package tincan

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChangeType is returned for change types other than create, modify or delete.
	ErrInvalidChangeType = errors.New("tincan: change type must be create, modify or delete")
	// ErrInvalidName is returned when a namespace, client or channel name is empty or contains the key separator.
	ErrInvalidName = errors.New("tincan: name must be non-empty and must not contain the key separator")
	// ErrNoStoreConfigured is returned by the Builder when no store was supplied.
	ErrNoStoreConfigured = errors.New("tincan: no store configured")
	// ErrNoChannels is returned when a receiver is built without any channel to listen to.
	ErrNoChannels = errors.New("tincan: receiver listens to no channels")
	// ErrNotFound is returned by Store.Get for an absent key.
	ErrNotFound = errors.New("tincan: key not found")
	// ErrPopTimeout is returned by Store.BlockingPop when the timeout elapsed with no item.
	ErrPopTimeout = errors.New("tincan: blocking pop timed out")
	// ErrStoreClosed is returned by a store after Close.
	ErrStoreClosed = errors.New("tincan: store is closed")
	// ErrReceiverClosed is returned by Listen after Close.
	ErrReceiverClosed = errors.New("tincan: receiver is closed")
	// ErrUnknownChannel is returned when dispatching to a channel with no handlers bound.
	ErrUnknownChannel = errors.New("tincan: no handlers bound to channel")
	// ErrUnknownHandler is returned when resolving a handler name that was never registered.
	ErrUnknownHandler = errors.New("tincan: handler not registered")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("tincan: handler panic")
)

type ErrUnknownStore struct{ name string }

func (e ErrUnknownStore) Error() string { return fmt.Sprintf("tincan: unknown store: %s", e.name) }
