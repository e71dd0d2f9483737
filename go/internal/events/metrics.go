package events

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives the mirror's delivery outcomes.
type MetricsCollector interface {
	RecordPublished(eventType Type, attempts int, duration time.Duration)
	RecordFailed(eventType Type, attempts int)
	RecordDropped(eventType Type)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordPublished(Type, int, time.Duration) {}
func (NoOpMetricsCollector) RecordFailed(Type, int)                   {}
func (NoOpMetricsCollector) RecordDropped(Type)                       {}

// Counters is an in-process MetricsCollector, read by the stats endpoint.
type Counters struct {
	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	retries   atomic.Uint64
	lastNanos atomic.Int64
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Published   uint64 `json:"published"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
	Retries     uint64 `json:"retries"`
	LastPublish string `json:"lastPublishDuration"`
}

func (c *Counters) RecordPublished(_ Type, attempts int, duration time.Duration) {
	c.published.Add(1)
	if attempts > 1 {
		c.retries.Add(uint64(attempts - 1))
	}
	c.lastNanos.Store(int64(duration))
}

func (c *Counters) RecordFailed(_ Type, attempts int) {
	c.failed.Add(1)
	if attempts > 1 {
		c.retries.Add(uint64(attempts - 1))
	}
}

func (c *Counters) RecordDropped(Type) { c.dropped.Add(1) }

// Snapshot reads the counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Published:   c.published.Load(),
		Failed:      c.failed.Load(),
		Dropped:     c.dropped.Load(),
		Retries:     c.retries.Load(),
		LastPublish: time.Duration(c.lastNanos.Load()).String(),
	}
}
