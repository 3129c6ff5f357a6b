// Package realclock backs the Clock port with the time package. Everything
// that waits in production goes through here; tests swap in fakeclock.
package realclock

import (
	"time"

	"github.com/termbridge/termbridge/internal/ports"
)

// Clock delegates straight to the time package.
type Clock struct{}

var _ ports.Clock = (*Clock)(nil)

// New returns a Clock backed by real wall time.
func New() *Clock {
	return &Clock{}
}

func (c *Clock) Now() time.Time {
	return time.Now()
}

func (c *Clock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (tk ticker) C() <-chan time.Time { return tk.t.C }

func (tk ticker) Stop() { tk.t.Stop() }
