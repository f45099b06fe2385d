package tincan

import (
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of sender or receiver counters.
type Metrics struct {
	Published           uint64
	Delivered           uint64
	Dropped             uint64
	Requeued            uint64
	Failed              uint64
	Errors              uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates receiver health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// counters uses lock-free atomics shared by Sender and Receiver.
type counters struct {
	published    atomic.Uint64
	delivered    atomic.Uint64
	dropped      atomic.Uint64
	requeued     atomic.Uint64
	failed       atomic.Uint64
	errors       atomic.Uint64
	processingNs atomic.Int64
}

func (c *counters) snapshot() Metrics {
	return Metrics{
		Published:           c.published.Load(),
		Delivered:           c.delivered.Load(),
		Dropped:             c.dropped.Load(),
		Requeued:            c.requeued.Load(),
		Failed:              c.failed.Load(),
		Errors:              c.errors.Load(),
		AvgProcessingTimeMs: float64(c.processingNs.Load()) / 1e6,
	}
}

// recordProcessingTime keeps an exponential moving average of dispatch time.
func (c *counters) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := c.processingNs.Load()
	if current == 0 {
		c.processingNs.Store(ns)
		return
	}
	c.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
