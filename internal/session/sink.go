package session

// Sink receives session events pushed by the engine. Output arrives as
// it is drained from the remote channel; the closed notification fires
// exactly once per session, whatever caused the closure.
type Sink interface {
	SessionOutput(sessionID, text string)
	SessionClosed(sessionID, reason string)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) SessionOutput(string, string) {}
func (NopSink) SessionClosed(string, string) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) SessionOutput(sessionID, text string) {
	for _, s := range m {
		s.SessionOutput(sessionID, text)
	}
}

func (m MultiSink) SessionClosed(sessionID, reason string) {
	for _, s := range m {
		s.SessionClosed(sessionID, reason)
	}
}

var (
	_ Sink = NopSink{}
	_ Sink = MultiSink{}
)
