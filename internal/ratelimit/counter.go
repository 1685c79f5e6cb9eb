// Package ratelimit throttles log lines for events that can repeat many
// times a second, such as tied frame alignments or drops to a slow client.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter counts events and allows one report per interval. A zero or
// negative interval reports every event. Safe for concurrent use.
type Counter struct {
	interval   time.Duration
	lastReport atomic.Int64
	total      atomic.Uint64
	reported   atomic.Uint64
}

// NewCounter returns a Counter that reports at most once per interval.
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval}
}

// Inc records one event. When a report is due it returns ok and the number
// of events since the previous report, including this one, so the caller
// can say how many lines were held back.
func (c *Counter) Inc() (total, since uint64, ok bool) {
	if c == nil {
		return 0, 0, false
	}
	total = c.total.Add(1)
	if c.interval > 0 {
		now := time.Now().UnixNano()
		last := c.lastReport.Load()
		if last != 0 && now-last < c.interval.Nanoseconds() {
			return total, 0, false
		}
		if !c.lastReport.CompareAndSwap(last, now) {
			return total, 0, false
		}
	}
	prev := c.reported.Swap(total)
	return total, total - prev, true
}

// Total returns the number of events recorded.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
