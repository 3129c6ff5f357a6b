package session

import "errors"

// Sentinel errors returned by the engine. Callers match them with
// errors.Is to map failures onto protocol responses.
var (
	// ErrSessionExists means an open request reused a live session id.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound means the session id is not in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotOwner means a client acted on a session it does not own.
	ErrNotOwner = errors.New("session owned by another client")

	// ErrSessionNotActive means the session is closing or closed.
	ErrSessionNotActive = errors.New("session not active")
)
