package poller

import (
	"sync"
	"time"
)

// Conditional polls only while shouldPoll holds. Flipping it on starts a new
// cycle that fires immediately; flipping it off stops the ticker.
type Conditional struct {
	poller *Poller

	mu         sync.Mutex
	shouldPoll bool
}

// NewConditional derives Enabled and Immediate from shouldPoll. Interval,
// Condition, OnError, Clock and Logger are taken from opts.
func NewConditional(callback Callback, shouldPoll bool, interval time.Duration, opts Options) *Conditional {
	opts.Interval = interval
	opts.Enabled = shouldPoll
	opts.Immediate = true
	return &Conditional{
		poller:     New(callback, opts),
		shouldPoll: shouldPoll,
	}
}

func (c *Conditional) SetShouldPoll(shouldPoll bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldPoll == shouldPoll {
		return
	}
	c.shouldPoll = shouldPoll
	c.poller.SetEnabled(shouldPoll)
}

func (c *Conditional) ShouldPoll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldPoll
}

func (c *Conditional) Running() bool {
	return c.poller.Running()
}

func (c *Conditional) Stop() {
	c.poller.Stop()
}
