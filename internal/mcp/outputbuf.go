package mcp

import (
	"sync"
	"unicode/utf8"

	"github.com/termbridge/termbridge/internal/session"
)

// DefaultOutputLimit caps how much undrained output is held per
// session. Past the cap the oldest bytes are dropped: a client that
// has not read for that long wants the current screen, not ancient
// scrollback.
const DefaultOutputLimit = 1 << 20

// OutputBuffer accumulates session output between read_output calls.
// It implements session.Sink; a streaming frontend would push events
// instead, but over stdio the client polls.
type OutputBuffer struct {
	mu    sync.Mutex
	limit int
	bufs  map[string]*sessionOutput
}

type sessionOutput struct {
	data      []byte
	truncated bool
	closed    bool
	reason    string
}

// NewOutputBuffer creates a buffer holding at most limit bytes per
// session. limit <= 0 applies DefaultOutputLimit.
func NewOutputBuffer(limit int) *OutputBuffer {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &OutputBuffer{
		limit: limit,
		bufs:  make(map[string]*sessionOutput),
	}
}

// SessionOutput buffers pump output for a later drain.
func (b *OutputBuffer) SessionOutput(sessionID, text string) {
	if text == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	so, ok := b.bufs[sessionID]
	if !ok {
		so = &sessionOutput{}
		b.bufs[sessionID] = so
	}
	so.data = append(so.data, text...)
	if len(so.data) > b.limit {
		so.data = so.data[len(so.data)-b.limit:]
		// Never leave a partial rune at the new front.
		for len(so.data) > 0 && !utf8.RuneStart(so.data[0]) {
			so.data = so.data[1:]
		}
		so.truncated = true
	}
}

// SessionClosed marks the session ended so the final drain can report
// why.
func (b *OutputBuffer) SessionClosed(sessionID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	so, ok := b.bufs[sessionID]
	if !ok {
		so = &sessionOutput{}
		b.bufs[sessionID] = so
	}
	so.closed = true
	so.reason = reason
}

// Drained is one read_output response worth of session output.
type Drained struct {
	Output    string
	Truncated bool
	Closed    bool
	Reason    string
}

// Drain returns and clears the buffered output. Draining a closed
// session forgets it entirely, so the closed reason is delivered
// exactly once.
func (b *OutputBuffer) Drain(sessionID string) (Drained, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	so, ok := b.bufs[sessionID]
	if !ok {
		return Drained{}, false
	}

	d := Drained{
		Output:    string(so.data),
		Truncated: so.truncated,
		Closed:    so.closed,
		Reason:    so.reason,
	}
	if so.closed {
		delete(b.bufs, sessionID)
	} else {
		so.data = nil
		so.truncated = false
	}
	return d, true
}

// Forget drops a session's buffered output without reading it.
func (b *OutputBuffer) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bufs, sessionID)
}

// Len reports how many sessions have buffered state.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bufs)
}

var _ session.Sink = (*OutputBuffer)(nil)
