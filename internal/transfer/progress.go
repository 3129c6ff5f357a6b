// Package transfer tracks file movement between clients and remote
// hosts: per-transfer progress and cancellation, chunked upload
// reassembly through staging files, and streamed downloads.
package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/ports"
)

// Direction of a transfer.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
	DirectionFolder   Direction = "folder"
)

// Status of a transfer. Transitions are one-directional: active moves
// to cancelled or to error, never back.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// speedWindow bounds the rolling rate samples. The mean of the window
// smooths jitter from small reads without masking a sustained change.
const speedWindow = 5

// Progress derives speed, percentage and ETA for one transfer from raw
// byte counts. Safe for concurrent use.
type Progress struct {
	id        string
	direction Direction
	clock     ports.Clock

	mu          sync.Mutex
	total       int64
	transferred int64
	status      Status
	startedAt   time.Time
	lastUpdate  time.Time
	samples     []float64
	cancelCh    chan struct{}
}

func newProgress(id string, direction Direction, total int64, clock ports.Clock) *Progress {
	now := clock.Now()
	return &Progress{
		id:         id,
		direction:  direction,
		clock:      clock,
		total:      total,
		status:     StatusActive,
		startedAt:  now,
		lastUpdate: now,
		cancelCh:   make(chan struct{}),
	}
}

// ID returns the transfer identifier.
func (p *Progress) ID() string { return p.id }

// Update records the current cumulative byte count. It is the only
// mutator of the counters: the byte delta over the wall-clock delta
// becomes one rate sample in the window.
func (p *Progress) Update(transferred int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if transferred < 0 {
		transferred = 0
	}
	if p.total > 0 && transferred > p.total {
		transferred = p.total
	}

	now := p.clock.Now()
	elapsed := now.Sub(p.lastUpdate).Seconds()
	if elapsed > 0 {
		rate := float64(transferred-p.transferred) / elapsed
		if rate < 0 {
			rate = 0
		}
		p.samples = append(p.samples, rate)
		if len(p.samples) > speedWindow {
			p.samples = p.samples[len(p.samples)-speedWindow:]
		}
		p.lastUpdate = now
	}
	p.transferred = transferred
}

// Cancel moves the transfer to cancelled and signals any in-flight
// copy loop. Cancelling twice, or after an error, changes nothing.
func (p *Progress) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusActive {
		return
	}
	p.status = StatusCancelled
	close(p.cancelCh)
}

// Fail moves the transfer to the error state unless it was cancelled.
func (p *Progress) Fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusActive {
		p.status = StatusError
	}
}

// Cancelled reports whether Cancel has been called.
func (p *Progress) Cancelled() bool {
	select {
	case <-p.cancelCh:
		return true
	default:
		return false
	}
}

// Status returns the current status.
func (p *Progress) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Snapshot is a point-in-time view of a transfer.
type Snapshot struct {
	ID          string
	Direction   Direction
	Status      Status
	Transferred int64
	Total       int64
	Percent     float64
	Speed       float64 // bytes per second
	ETA         time.Duration
	Elapsed     time.Duration

	HumanSpeed       string
	HumanTransferred string
	HumanTotal       string
	HumanETA         string
	HumanElapsed     string
}

// Snapshot returns the current counters with derived and
// human-formatted values filled in.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var speed float64
	for _, s := range p.samples {
		speed += s
	}
	if len(p.samples) > 0 {
		speed /= float64(len(p.samples))
	}

	var percent float64
	if p.total > 0 {
		percent = float64(p.transferred) / float64(p.total) * 100
		if percent > 100 {
			percent = 100
		}
	}

	var eta time.Duration
	if speed > 0 && p.total > p.transferred {
		eta = time.Duration(float64(p.total-p.transferred) / speed * float64(time.Second))
	}

	elapsed := p.clock.Now().Sub(p.startedAt)

	return Snapshot{
		ID:          p.id,
		Direction:   p.direction,
		Status:      p.status,
		Transferred: p.transferred,
		Total:       p.total,
		Percent:     percent,
		Speed:       speed,
		ETA:         eta,
		Elapsed:     elapsed,

		HumanSpeed:       FormatSpeed(speed),
		HumanTransferred: FormatBytes(p.transferred),
		HumanTotal:       FormatBytes(p.total),
		HumanETA:         FormatDuration(eta),
		HumanElapsed:     FormatDuration(elapsed),
	}
}

// FormatBytes renders a byte count with base-1024 thresholds, B
// through PB.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	units := []string{"KB", "MB", "GB", "TB", "PB"}
	for m := n / unit; m >= unit && exp < len(units)-1; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), units[exp])
}

// FormatSpeed renders a byte rate, capped at GB/s.
func FormatSpeed(bps float64) string {
	const unit = 1024.0
	switch {
	case bps >= unit*unit*unit:
		return fmt.Sprintf("%.1f GB/s", bps/(unit*unit*unit))
	case bps >= unit*unit:
		return fmt.Sprintf("%.1f MB/s", bps/(unit*unit))
	case bps >= unit:
		return fmt.Sprintf("%.1f KB/s", bps/unit)
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

// FormatDuration renders a duration as seconds, minutes and seconds,
// or hours and minutes.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
