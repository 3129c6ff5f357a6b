// Package recording writes session transcripts in asciicast v2 format.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/ports"
)

// Recorder writes one session's terminal output as an asciicast v2
// file: a JSON header line, then one [time, "o", data] line per output
// batch.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu      sync.Mutex
	file    ports.FileHandle
	path    string
	started time.Time
	closed  bool
	clock   ports.Clock
}

// Header is the asciicast v2 header line.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one asciicast v2 event, serialized as [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON renders the event as the three-element array asciinema
// players expect.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Time, e.Type, e.Data})
}

// NewRecorder creates the recording file under dir, named
// sessionID_timestamp.cast, and writes its header with the initial PTY
// size.
func NewRecorder(dir, sessionID string, width, height int, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	started := clock.Now()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.cast", sessionID, started.Format("20060102_150405")))

	file, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{
		file:    file,
		path:    path,
		started: started,
		clock:   clock,
	}

	err = r.writeLine(Header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: started.Unix(),
		Title:     "termbridge session " + sessionID,
		Env:       map[string]string{"TERM": "xterm-256color"},
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return r, nil
}

// RecordOutput appends one output event stamped with the seconds
// elapsed since the recording started.
func (r *Recorder) RecordOutput(data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	ev := Event{
		Time: r.clock.Now().Sub(r.started).Seconds(),
		Type: "o",
		Data: data,
	}
	if err := r.writeLine(ev); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// writeLine marshals v onto its own newline-terminated line.
func (r *Recorder) writeLine(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.file.Write(append(line, '\n'))
	return err
}

// Close closes the recording file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the recording file's location.
func (r *Recorder) Path() string {
	return r.path
}
