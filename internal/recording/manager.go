package recording

import (
	"log/slog"
	"sync"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/adapters/realfs"
	"github.com/termbridge/termbridge/internal/ports"
	"github.com/termbridge/termbridge/internal/session"
)

// Manager keeps one Recorder per session and feeds them from engine
// events. It implements session.Sink so it can sit in a MultiSink next
// to the control surface's output buffer. Recording trouble is logged
// and the recorder dropped; the session itself is never disturbed.
type Manager struct {
	mu        sync.RWMutex
	recorders map[string]*Recorder
	dir       string
	enabled   bool
	fs        ports.FileSystem
	clock     ports.Clock
}

// NewManager creates a recording manager writing .cast files under dir.
// A nil filesystem or clock falls back to the real implementations.
func NewManager(dir string, enabled bool, fs ports.FileSystem, clock ports.Clock) *Manager {
	if fs == nil {
		fs = realfs.New()
	}
	if clock == nil {
		clock = realclock.New()
	}
	return &Manager{
		recorders: make(map[string]*Recorder),
		dir:       dir,
		enabled:   enabled,
		fs:        fs,
		clock:     clock,
	}
}

// IsEnabled reports whether recording is switched on.
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Reconfigure applies new recording settings at runtime. Disabling
// closes every live recorder; a changed directory applies to
// recordings started after the call.
func (m *Manager) Reconfigure(dir string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dir = dir
	m.enabled = enabled
	if enabled {
		return
	}
	for id, recorder := range m.recorders {
		recorder.Close()
		delete(m.recorders, id)
	}
}

// Start begins recording a session with its initial PTY size. Failure
// to create the file is logged and the session proceeds unrecorded.
func (m *Manager) Start(sessionID string, width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	if existing, ok := m.recorders[sessionID]; ok {
		existing.Close()
	}

	recorder, err := NewRecorder(m.dir, sessionID, width, height, m.fs, m.clock)
	if err != nil {
		slog.Warn("session recording unavailable",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		delete(m.recorders, sessionID)
		return
	}

	m.recorders[sessionID] = recorder
	slog.Debug("session recording started",
		slog.String("session_id", sessionID),
		slog.String("path", recorder.Path()),
	)
}

// Path returns the recording file for a session, or "" when the
// session is not being recorded.
func (m *Manager) Path(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if recorder, ok := m.recorders[sessionID]; ok {
		return recorder.Path()
	}
	return ""
}

// SessionOutput appends an output event to the session's recording.
// A write failure drops the recorder so one bad disk cannot stall the
// output pump.
func (m *Manager) SessionOutput(sessionID, text string) {
	m.mu.RLock()
	recorder, ok := m.recorders[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if err := recorder.RecordOutput(text); err != nil {
		slog.Warn("session recording failed, dropping recorder",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		m.mu.Lock()
		recorder.Close()
		delete(m.recorders, sessionID)
		m.mu.Unlock()
	}
}

// SessionClosed finishes and removes the session's recording.
func (m *Manager) SessionClosed(sessionID, reason string) {
	m.mu.Lock()
	recorder, ok := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := recorder.Close(); err != nil {
		slog.Warn("close session recording",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Debug("session recording closed",
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
	)
}

// CloseAll finishes every open recording, used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, recorder := range m.recorders {
		recorder.Close()
		delete(m.recorders, id)
	}
}

var _ session.Sink = (*Manager)(nil)
