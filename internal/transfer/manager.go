package transfer

import (
	"sync"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/ports"
)

// Manager is the registry of live transfers and the single source of
// truth for whether a transfer is still wanted. Cancellation flags
// live in a side table that outlives the progress entries, so a chunk
// arriving after cancellation cleanup is still recognized.
type Manager struct {
	clock ports.Clock

	mu        sync.Mutex
	transfers map[string]*Progress
	cancelled map[string]bool
}

// NewManager creates an empty transfer registry.
func NewManager(clock ports.Clock) *Manager {
	if clock == nil {
		clock = realclock.New()
	}
	return &Manager{
		clock:     clock,
		transfers: make(map[string]*Progress),
		cancelled: make(map[string]bool),
	}
}

// Create registers progress tracking for a new transfer. Callers call
// it once per transfer id, on the first chunk or request. Ids are
// unique only while active, so any stale cancellation flag for the id
// is cleared.
func (m *Manager) Create(id string, direction Direction, total int64) *Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := newProgress(id, direction, total, m.clock)
	m.transfers[id] = p
	delete(m.cancelled, id)
	return p
}

// Get returns the live progress for id.
func (m *Manager) Get(id string) (*Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.transfers[id]
	return p, ok
}

// Remove drops the progress entry. The cancellation flag, if set,
// stays in the side table.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transfers, id)
}

// Cancel flags the transfer as unwanted and cancels its live progress.
// It reports whether a live transfer was found; flagging an unknown id
// is still recorded so a late-created loop sees it.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	p, ok := m.transfers[id]
	m.cancelled[id] = true
	m.mu.Unlock()

	if ok {
		p.Cancel()
	}
	return ok
}

// IsCancelled reports whether the transfer was flagged, live or not.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[id]
}

// ClearCancelled drops the cancellation flag once the cancellation has
// been acknowledged to the client.
func (m *Manager) ClearCancelled(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancelled, id)
}

// Status reports a snapshot for id. A transfer whose progress entry is
// gone but whose cancellation flag remains still reports cancelled, so
// clients polling after a mid-flight cancel get a definitive answer.
func (m *Manager) Status(id string) (Snapshot, bool) {
	m.mu.Lock()
	p, ok := m.transfers[id]
	flagged := m.cancelled[id]
	m.mu.Unlock()

	if ok {
		return p.Snapshot(), true
	}
	if flagged {
		return Snapshot{ID: id, Status: StatusCancelled}, true
	}
	return Snapshot{}, false
}

// Count returns the number of live transfers.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}
