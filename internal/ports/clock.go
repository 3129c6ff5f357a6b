// Package ports holds the seams between the engine and the outside
// world. Production code receives these interfaces; tests substitute
// fakes so time, disk and the network stay under the test's control.
package ports

import "time"

// Clock is the time source for everything that waits: pump poll
// intervals, keepalive idle tracking, transfer speed sampling and
// staging retry delays all go through it.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d.
	Sleep(d time.Duration)

	// After returns a channel delivering one tick after d.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker firing every d until stopped.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the stoppable tick stream behind connection keepalives.
type Ticker interface {
	// C is the tick channel.
	C() <-chan time.Time

	// Stop ends delivery. It does not close C.
	Stop()
}
