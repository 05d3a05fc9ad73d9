package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping run steps.
//
// Node results within one run carry a strictly increasing seq so the
// executed order is explicit in the result, independent of wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the sequential scheduler only calls Next from one goroutine.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
