// Package poll provides the fixed-interval polling primitive used by every
// wait in chatrelay, and a Clock abstraction so loops can run on virtual time
// in tests.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned by Poller.Run when the predicate never reported done
// within the attempt budget.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Clock is the time source for polling loops.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// Sleep waits for d without blocking past ctx cancellation.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FakeClock is a virtual clock: Sleep advances Now instantly.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  time.Duration
	sleeps int
}

// NewFakeClock returns a virtual clock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current virtual time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances virtual time by d.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps++
	c.mu.Unlock()
	return nil
}

// Advance moves virtual time forward without counting as a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Slept returns the total virtual time spent in Sleep.
func (c *FakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// Sleeps returns how many times Sleep was called.
func (c *FakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// Poller runs a predicate at a fixed interval for a bounded number of attempts
// derived from Timeout/Interval.
type Poller struct {
	Clock    Clock
	Interval time.Duration
	Timeout  time.Duration
}

// Attempts returns the iteration budget. It is at least 1.
func (p Poller) Attempts() int {
	if p.Interval <= 0 {
		return 1
	}
	n := int(p.Timeout / p.Interval)
	if n < 1 {
		n = 1
	}
	return n
}

// Run calls fn once per attempt (attempt numbers start at 1), sleeping Interval
// between attempts. It returns nil as soon as fn reports done, fn's error if it
// returns one, ctx's error on cancellation, or ErrExhausted.
func (p Poller) Run(ctx context.Context, fn func(attempt int) (bool, error)) error {
	clock := p.Clock
	if clock == nil {
		clock = RealClock{}
	}
	attempts := p.Attempts()
	for i := 1; i <= attempts; i++ {
		done, err := fn(i)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts {
			break
		}
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
	return ErrExhausted
}
