package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies wall-clock instants for firing records, relative due
// dates and the rate-limit window. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Sequence is a monotonic counter stamped on every processed event so
// traces can be ordered without relying on wall-clock timestamps.
//
// Safe for concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// Next returns the next sequence number and increments the counter.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
