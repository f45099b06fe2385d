package tincan

import "context"

// Publisher announces change events.
type Publisher interface {
	Publish(ctx context.Context, object any, change ChangeType) error
	PublishObject(ctx context.Context, objectName string, change ChangeType, data any) error
}

// Listener consumes change events for one client.
type Listener interface {
	Register(ctx context.Context) (*Receiver, error)
	Listen(ctx context.Context) error
	HandleMessageForObject(ctx context.Context, channel string, msg *Message) error
	Close(ctx context.Context) error
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

var (
	_ Publisher     = (*Sender)(nil)
	_ Listener      = (*Receiver)(nil)
	_ HealthChecker = (*Receiver)(nil)
)
