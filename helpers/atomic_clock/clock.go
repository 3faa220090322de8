// Package atomic_clock is a lock free monotonic-enough timestamp, e.g. last frame received.
// Do not use where time zone matters.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

// Zero value means "never".
type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) IsZero() bool        { return atomic.LoadInt64(&c.v) == 0 }
func (c *Clock) SetNow()             { atomic.StoreInt64(&c.v, source()) }
func (c *Clock) SetTime(t time.Time) { atomic.StoreInt64(&c.v, t.UnixNano()) }
func (c *Clock) Time() time.Time     { return time.Unix(0, atomic.LoadInt64(&c.v)) }

// Since returns time passed after last Set*. Zero clock gives huge duration.
func Since(c *Clock) time.Duration { return time.Duration(source() - atomic.LoadInt64(&c.v)) }
