package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerAttempts(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		timeout  time.Duration
		want     int
	}{
		{"even split", 300 * time.Millisecond, 120 * time.Second, 400},
		{"rounds down", 300 * time.Millisecond, 1500 * time.Millisecond, 5},
		{"timeout below interval", time.Second, 10 * time.Millisecond, 1},
		{"zero interval", 0, time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Poller{Interval: tt.interval, Timeout: tt.timeout}
			assert.Equal(t, tt.want, p.Attempts())
		})
	}
}

func TestPollerRunStopsWhenDone(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	p := Poller{Clock: clock, Interval: 300 * time.Millisecond, Timeout: 3 * time.Second}

	var seen []int
	err := p.Run(context.Background(), func(attempt int) (bool, error) {
		seen = append(seen, attempt)
		return attempt == 4, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
	assert.Equal(t, 3, clock.Sleeps(), "no sleep after the final successful attempt")
	assert.Equal(t, 900*time.Millisecond, clock.Slept())
}

func TestPollerRunExhausts(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	p := Poller{Clock: clock, Interval: 100 * time.Millisecond, Timeout: 500 * time.Millisecond}

	calls := 0
	err := p.Run(context.Background(), func(int) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 4, clock.Sleeps())
}

func TestPollerRunPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	p := Poller{Clock: NewFakeClock(time.Unix(0, 0)), Interval: time.Millisecond, Timeout: time.Second}

	err := p.Run(context.Background(), func(attempt int) (bool, error) {
		if attempt == 2 {
			return false, boom
		}
		return false, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestPollerRunHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Poller{Clock: NewFakeClock(time.Unix(0, 0)), Interval: time.Millisecond, Timeout: time.Second}

	err := p.Run(ctx, func(attempt int) (bool, error) {
		cancel()
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRealClockSleepCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := RealClock{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
