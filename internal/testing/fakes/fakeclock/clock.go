// Package fakeclock implements the Clock port with a manually driven time
// source. Nothing fires on its own: tests move time with Advance or Set and
// deliver keepalive ticks by hand, so waits in the code under test resolve
// deterministically instead of racing real timers.
package fakeclock

import (
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/ports"
)

// Clock is a Clock whose time only moves when the test says so.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []timer
}

// timer is one pending After channel.
type timer struct {
	at time.Time
	ch chan time.Time
}

var _ ports.Clock = (*Clock)(nil)

// New returns a Clock frozen at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now reports the frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep returns at once. Code that paces itself with Sleep runs freely
// under test; the durations it would have slept are irrelevant here.
func (c *Clock) Sleep(d time.Duration) {}

// After registers a channel that fires once the clock reaches now+d.
// A non-positive d fires immediately.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, timer{at: c.now.Add(d), ch: ch})
	return ch
}

// NewTicker returns a Ticker that only ticks when the test calls Tick.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return &Ticker{clock: c, every: d, ch: make(chan time.Time, 1)}
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has been reached.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.advanceTo(c.now.Add(d))
	c.mu.Unlock()
}

// Set jumps the clock to t. Timers whose deadline falls at or before t
// fire exactly as they would under Advance.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.advanceTo(t)
	c.mu.Unlock()
}

// advanceTo is the single place time moves. Callers hold mu.
func (c *Clock) advanceTo(t time.Time) {
	c.now = t
	live := c.timers[:0]
	for _, tm := range c.timers {
		if tm.at.After(t) {
			live = append(live, tm)
			continue
		}
		select {
		case tm.ch <- t:
		default:
		}
	}
	c.timers = live
}

// WaiterCount reports how many After channels have not fired yet.
func (c *Clock) WaiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// BlockUntilWaiters waits, in real time, until at least n After calls are
// pending. Tests call it before Advance so the goroutine under test is
// known to be parked. Gives up after two seconds.
func (c *Clock) BlockUntilWaiters(n int) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.WaiterCount() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// Ticker delivers a tick each time the test calls Tick. Production code
// sees it as a ports.Ticker; tests keep the concrete type to drive it.
type Ticker struct {
	clock *Clock
	every time.Duration
	mu    sync.Mutex
	done  bool
	ch    chan time.Time
}

func (t *Ticker) C() <-chan time.Time {
	return t.ch
}

func (t *Ticker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

// Tick sends the current fake time unless the ticker has been stopped or
// the previous tick is still unread.
func (t *Ticker) Tick() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done {
		return
	}
	select {
	case t.ch <- t.clock.Now():
	default:
	}
}
