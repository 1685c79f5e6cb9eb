// Package stats tracks decoder counters (samples, frames, unit kinds,
// alignment quality) and per-sink drops for display in the dashboard and
// periodic console output.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rttydec/baudot"
	"rttydec/frame"

	"github.com/dustin/go-humanize"
)

// Tracker implements decoder.Observer. All methods are safe for concurrent use.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-frame increments don't fight over a mutex
	kindCounts sync.Map // unit kind -> *atomic.Uint64
	sinkDrops  sync.Map // sink name -> *atomic.Uint64
	start      atomic.Int64
	samples    atomic.Uint64
	frames     atomic.Uint64
	imperfect  atomic.Uint64
	ambiguous  atomic.Uint64
	slack      atomic.Uint64
	scoreSum   atomic.Uint64
	lines      atomic.Uint64
	restarts   atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// ObserveSamples counts samples appended to the decode buffer.
func (t *Tracker) ObserveSamples(n int) {
	if n > 0 {
		t.samples.Add(uint64(n))
	}
}

// ObserveFrame records one frame decision and the unit it produced.
func (t *Tracker) ObserveFrame(res frame.Result, unit baudot.Unit) {
	t.frames.Add(1)
	if res.Score < frame.MaxScore {
		t.imperfect.Add(1)
	}
	if res.Ambiguous() {
		t.ambiguous.Add(1)
	}
	if res.Offset > 0 {
		t.slack.Add(uint64(res.Offset))
	}
	if res.Score > 0 {
		t.scoreSum.Add(uint64(res.Score))
	}
	incrementCounter(&t.kindCounts, unit.Kind.String())
	if unit.Kind == baudot.Character && unit.Char == '\n' {
		t.lines.Add(1)
	}
}

// IncrementSinkDrop counts output a sink could not deliver.
func (t *Tracker) IncrementSinkDrop(sink string) {
	incrementCounter(&t.sinkDrops, sink)
}

// IncrementRestarts counts decode loop restarts after a sink or source loss.
func (t *Tracker) IncrementRestarts() {
	t.restarts.Add(1)
}

// Samples returns the number of samples received.
func (t *Tracker) Samples() uint64 { return t.samples.Load() }

// Frames returns the number of frames decided.
func (t *Tracker) Frames() uint64 { return t.frames.Load() }

// Ambiguous returns the number of frames where several alignments tied.
func (t *Tracker) Ambiguous() uint64 { return t.ambiguous.Load() }

// Lines returns the number of line feeds decoded.
func (t *Tracker) Lines() uint64 { return t.lines.Load() }

// Restarts returns the number of loop restarts.
func (t *Tracker) Restarts() uint64 { return t.restarts.Load() }

// SlackSamples returns the samples skipped ahead of matched start bits.
func (t *Tracker) SlackSamples() uint64 { return t.slack.Load() }

// KindCount returns how many units of kind were decoded.
func (t *Tracker) KindCount(kind baudot.Kind) uint64 {
	if value, ok := t.kindCounts.Load(kind.String()); ok {
		return value.(*atomic.Uint64).Load()
	}
	return 0
}

// GetSinkDrops returns a copy of per-sink drop counts.
func (t *Tracker) GetSinkDrops() map[string]uint64 {
	counts := make(map[string]uint64)
	t.sinkDrops.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// MeanScore returns the average winning frame score, or zero before the
// first frame.
func (t *Tracker) MeanScore() float64 {
	frames := t.frames.Load()
	if frames == 0 {
		return 0
	}
	return float64(t.scoreSum.Load()) / float64(frames)
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	frames := t.frames.Load()
	lines := make([]string, 0, 4)
	lines = append(lines, fmt.Sprintf("Uptime %s | samples %s | frames %s | lines %s | restarts %d",
		formatUptime(t.GetUptime()),
		humanize.Comma(int64(t.samples.Load())),
		humanize.Comma(int64(frames)),
		humanize.Comma(int64(t.lines.Load())),
		t.restarts.Load()))
	lines = append(lines, fmt.Sprintf("Alignment: mean score %.2f/%d | imperfect %s | ambiguous %s | slack %s",
		t.MeanScore(), frame.MaxScore,
		percentOf(t.imperfect.Load(), frames),
		percentOf(t.ambiguous.Load(), frames),
		humanize.Comma(int64(t.slack.Load()))))
	lines = append(lines, formatMapCounts("Units", &t.kindCounts))
	lines = append(lines, formatMapCounts("Sink drops", &t.sinkDrops))
	return lines
}

func percentOf(n, total uint64) string {
	if total == 0 {
		return "0"
	}
	return fmt.Sprintf("%s (%.1f%%)", humanize.Comma(int64(n)), 100*float64(n)/float64(total))
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		return fmt.Sprintf("%dd %s", days, d)
	}
	return d.String()
}

func formatMapCounts(label string, counts *sync.Map) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	keys := make([]string, 0, 4)
	values := make(map[string]uint64)
	counts.Range(func(key, value any) bool {
		k := key.(string)
		keys = append(keys, k)
		values[k] = value.(*atomic.Uint64).Load()
		return true
	})
	if len(keys) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%s", k, humanize.Comma(int64(values[k])))
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
