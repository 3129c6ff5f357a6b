// Package monitor takes point-in-time resource snapshots of a remote
// host over one-shot exec channels.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Commands run on the remote host. Stock coreutils/procps tools so a
// snapshot needs no agent installed.
const (
	cpuCommand    = "top -bn1 | grep 'Cpu(s)'"
	memCommand    = "free -m | grep 'Mem:'"
	uptimeCommand = "uptime"
)

// Runner runs a command on the remote host and returns its combined
// output. *sshconn.Conn satisfies it.
type Runner interface {
	Output(ctx context.Context, cmd string) ([]byte, error)
}

// HostStats is one resource snapshot. Zero values alongside preserved
// raw text mean that command's output could not be parsed.
type HostStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsedMB  int64   `json:"mem_used_mb"`
	MemTotalMB int64   `json:"mem_total_mb"`
	MemPercent float64 `json:"mem_percent"`
	Load1      float64 `json:"load_1"`
	Load5      float64 `json:"load_5"`
	Load15     float64 `json:"load_15"`
	RawCPU     string  `json:"raw_cpu,omitempty"`
	RawMemory  string  `json:"raw_memory,omitempty"`
	RawUptime  string  `json:"raw_uptime,omitempty"`
}

// Snapshot gathers CPU, memory, and load figures from the remote host.
// A command whose output cannot be parsed contributes zero values with
// its raw text kept; an error is returned only when every command
// failed to run.
func Snapshot(ctx context.Context, r Runner) (*HostStats, error) {
	stats := &HostStats{}
	var errs []error

	if out, err := r.Output(ctx, cpuCommand); err != nil {
		errs = append(errs, fmt.Errorf("cpu probe: %w", err))
	} else {
		stats.RawCPU = strings.TrimSpace(string(out))
		stats.CPUPercent = parseCPU(stats.RawCPU)
	}

	if out, err := r.Output(ctx, memCommand); err != nil {
		errs = append(errs, fmt.Errorf("memory probe: %w", err))
	} else {
		stats.RawMemory = strings.TrimSpace(string(out))
		stats.MemUsedMB, stats.MemTotalMB = parseMemory(stats.RawMemory)
		if stats.MemTotalMB > 0 {
			stats.MemPercent = round1(float64(stats.MemUsedMB) / float64(stats.MemTotalMB) * 100)
		}
	}

	if out, err := r.Output(ctx, uptimeCommand); err != nil {
		errs = append(errs, fmt.Errorf("load probe: %w", err))
	} else {
		stats.RawUptime = strings.TrimSpace(string(out))
		stats.Load1, stats.Load5, stats.Load15 = parseLoad(stats.RawUptime)
	}

	if len(errs) == 3 {
		return nil, errors.Join(errs...)
	}
	if len(errs) > 0 {
		slog.Debug("host snapshot incomplete",
			slog.Int("failed_probes", len(errs)),
		)
	}
	return stats, nil
}

// idleRe matches the idle field of top's Cpu(s) line across procps
// versions ("94.6 id" and "97.0%id" both appear in the wild).
var idleRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%?\s*id`)

func parseCPU(s string) float64 {
	m := idleRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	idle, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0
	}
	cpu := 100 - idle
	if cpu < 0 {
		cpu = 0
	}
	if cpu > 100 {
		cpu = 100
	}
	return round1(cpu)
}

// parseMemory reads total and used MB from free's Mem: row.
func parseMemory(s string) (used, total int64) {
	for _, line := range strings.Split(s, "\n") {
		f := strings.Fields(line)
		if len(f) >= 3 && strings.HasPrefix(f[0], "Mem") {
			t, terr := strconv.ParseInt(f[1], 10, 64)
			u, uerr := strconv.ParseInt(f[2], 10, 64)
			if terr != nil || uerr != nil {
				return 0, 0
			}
			return u, t
		}
	}
	return 0, 0
}

// parseLoad reads the three load averages from uptime output, covering
// both the Linux "load average: a, b, c" and BSD "load averages: a b c"
// forms.
func parseLoad(s string) (l1, l5, l15 float64) {
	idx := strings.LastIndex(s, "load average")
	if idx < 0 {
		return 0, 0, 0
	}
	rest := s[idx:]
	if c := strings.IndexByte(rest, ':'); c >= 0 {
		rest = rest[c+1:]
	}

	vals := make([]float64, 0, 3)
	for _, tok := range strings.Fields(rest) {
		tok = strings.Trim(tok, ",")
		v, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", "."), 64)
		if err != nil {
			continue
		}
		vals = append(vals, v)
		if len(vals) == 3 {
			break
		}
	}

	switch len(vals) {
	case 3:
		return vals[0], vals[1], vals[2]
	case 2:
		return vals[0], vals[1], 0
	case 1:
		return vals[0], 0, 0
	default:
		return 0, 0, 0
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
