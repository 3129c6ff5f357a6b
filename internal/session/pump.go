package session

import (
	"log/slog"
	"unicode/utf8"
)

// readResult is one read from the shell channel.
type readResult struct {
	data []byte
	err  error
}

// runPump is the per-session output pump. It drains the shell channel
// in fixed-size quanta and republishes decoded text to the sink; after
// the idle threshold it sends a single NUL keepalive. Each iteration first
// confirms the session is still registered and active; the loop exits
// otherwise, and on every exit path the session is marked inactive and
// the closed notification fires (once).
func (e *Engine) runPump(s *Session) {
	defer close(s.pumpDone)

	reason := ReasonRemoteClosed
	defer func() {
		s.markInactive()
		e.emitClosed(s, reason)
	}()

	// Blocking reads run in their own goroutine; the pump multiplexes
	// them against the idle timer. The reader exits when the shell
	// errors out or the pump is gone.
	readCh := make(chan readResult)
	go func() {
		for {
			buf := make([]byte, e.readQuantum)
			n, err := s.shell.Read(buf)
			select {
			case readCh <- readResult{data: buf[:n], err: err}:
			case <-s.pumpDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var pending []byte
	lastActivity := e.clock.Now()

	for {
		if cur, ok := e.reg.Get(s.ID); !ok || cur != s {
			reason = ReasonClientClosed
			return
		}
		if !s.Active() {
			reason = ReasonClientClosed
			return
		}

		select {
		case r := <-readCh:
			if len(r.data) > 0 {
				pending = append(pending, r.data...)
				emit, hold := splitIncompleteRune(pending)
				if len(emit) > 0 {
					e.sink.SessionOutput(s.ID, string(emit))
				}
				// Carry the partial sequence into the next read
				pending = append(pending[:0], hold...)
				lastActivity = e.clock.Now()
			}
			if r.err != nil {
				// Remote side closed or the channel died; flush
				// whatever is left and stop.
				if len(pending) > 0 {
					e.sink.SessionOutput(s.ID, string(pending))
				}
				return
			}

		case <-e.clock.After(e.pollInterval):
			if e.clock.Now().Sub(lastActivity) >= e.keepaliveIdle {
				// One zero byte keeps intermediaries from dropping the
				// connection; resetting the activity clock makes it one
				// byte per idle window, not one per poll.
				if _, err := s.shell.Write([]byte{0}); err != nil {
					slog.Debug("keepalive write failed",
						slog.String("session_id", s.ID),
						slog.String("error", err.Error()),
					)
					return
				}
				lastActivity = e.clock.Now()
			}
		}
	}
}

// splitIncompleteRune splits b into bytes safe to decode now and a
// trailing partial UTF-8 sequence to retry once more bytes arrive.
// Invalid bytes that cannot become valid with more input pass through.
func splitIncompleteRune(b []byte) (emit, hold []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		c := b[i]
		if c < 0x80 {
			// ASCII byte: nothing after it can be a sequence start
			break
		}
		if c&0xC0 == 0xC0 {
			// Start byte of a multi-byte sequence
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
		// Continuation byte, keep scanning backwards
	}
	return b, nil
}
