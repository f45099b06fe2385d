package tincan

import "context"

// ReceiveOnce exposes a single dequeue step to tests.
func (r *Receiver) ReceiveOnce(ctx context.Context) error { return r.receiveOnce(ctx) }
