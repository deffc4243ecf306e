package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Every applied event is stamped
// with a strictly increasing seq; snapshots carry the seq of the last
// event they include.
//
// Clock is safe for concurrent use, though only the Run loop calls Next.
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
