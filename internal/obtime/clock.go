package obtime

import (
	"sync"
	"time"
)

// Clock supplies the current onboard time. Implementations must be monotonic.
type Clock interface {
	Now() Time
}

// SystemClock derives onboard time from the host wall clock.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a clock counting from epoch.
func NewSystemClock(epoch time.Time) *SystemClock {
	return &SystemClock{epoch: epoch}
}

func (c *SystemClock) Now() Time { return FromTime(time.Now(), c.epoch) }

// Epoch returns the mission epoch of the clock.
func (c *SystemClock) Epoch() time.Time { return c.epoch }

// VirtualClock is a manually advanced clock. It never moves backwards.
type VirtualClock struct {
	mu  sync.Mutex
	now Time
}

// NewVirtualClock returns a clock frozen at start.
func NewVirtualClock(start Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *VirtualClock) Advance(d time.Duration) Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		return c.now
	}
	if next, ok := c.now.Add(d); ok {
		c.now = next
	}
	return c.now
}

// Set jumps the clock to t if t is not earlier than the current reading.
func (c *VirtualClock) Set(t Time) Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
	return c.now
}
