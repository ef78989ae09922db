package scheduler

import "time"

// Clock supplies the elapsed time passed to nodes on every tick.
type Clock interface {
	Elapsed() time.Duration
}

// FixedStep is a simulated clock advancing by Step every tick.
type FixedStep struct {
	Step time.Duration
}

// Elapsed returns Step.
func (c FixedStep) Elapsed() time.Duration {
	return c.Step
}

// WallClock measures the real time between ticks. The first tick reports zero.
type WallClock struct {
	last time.Time
	now  func() time.Time
}

// NewWallClock returns a clock backed by time.Now.
func NewWallClock() *WallClock {
	return &WallClock{now: time.Now}
}

// Elapsed returns the time since the previous call.
func (c *WallClock) Elapsed() time.Duration {
	now := c.now()
	if c.last.IsZero() {
		c.last = now
		return 0
	}
	dt := now.Sub(c.last)
	c.last = now
	return dt
}
