// Package profiler - Wall-clock timers for the stages of an evaluation run.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Stats is a point-in-time view of a timer.
type Stats struct {
	Name    string        `json:"name"`
	Calls   int64         `json:"calls"`
	Total   time.Duration `json:"total"`
	Average time.Duration `json:"average"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
}

// Timer accumulates the durations of a repeated operation.
//
// Tic and Toc bracket one call. Timers are safe for concurrent use, but a Tic/Toc
// pair from one goroutine overlapping with another's measures from the latest Tic.
type Timer struct {
	name string

	mu      sync.Mutex
	start   time.Time
	calls   int64
	total   time.Duration
	minTime time.Duration
	maxTime time.Duration
	last    time.Duration
}

// NewTimer creates a named timer.
func NewTimer(name string) *Timer {
	return &Timer{name: name}
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// Tic starts a measurement.
func (t *Timer) Tic() {
	t.mu.Lock()
	t.start = time.Now()
	t.mu.Unlock()
}

// Toc ends the measurement started by the last Tic and records it.
//
// Returns:
//   - time.Duration: The measured duration, zero without a preceding Tic.
func (t *Timer) Toc() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.start.IsZero() {
		return 0
	}
	d := time.Since(t.start)
	t.start = time.Time{}
	t.record(d)
	return d
}

// Start begins timing an operation.
//
// Returns:
//   - A function to call when the operation completes.
func (t *Timer) Start() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		t.Record(d)
		return d
	}
}

// Record adds an externally measured duration.
func (t *Timer) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(d)
}

func (t *Timer) record(d time.Duration) {
	if t.calls == 0 || d < t.minTime {
		t.minTime = d
	}
	if d > t.maxTime {
		t.maxTime = d
	}
	t.calls++
	t.total += d
	t.last = d
}

// Calls returns the number of recorded measurements.
func (t *Timer) Calls() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Total returns the sum of recorded measurements.
func (t *Timer) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// AverageTime returns the mean duration over every call, zero before the first.
func (t *Timer) AverageTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.calls == 0 {
		return 0
	}
	return t.total / time.Duration(t.calls)
}

// Stats returns a snapshot of the timer.
func (t *Timer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Name:  t.name,
		Calls: t.calls,
		Total: t.total,
		Min:   t.minTime,
		Max:   t.maxTime,
		Last:  t.last,
	}
	if t.calls > 0 {
		s.Average = t.total / time.Duration(t.calls)
	}
	return s
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%s: avg=%v, min=%v, max=%v, count=%d",
		s.Name,
		s.Average.Truncate(time.Microsecond),
		s.Min.Truncate(time.Microsecond),
		s.Max.Truncate(time.Microsecond),
		s.Calls)
}

// Registry hands out named timers.
type Registry struct {
	mu     sync.Mutex
	timers map[string]*Timer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timers: make(map[string]*Timer)}
}

// Get returns the timer called name, creating it on first use.
func (r *Registry) Get(name string) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[name]
	if !ok {
		t = NewTimer(name)
		r.timers[name] = t
	}
	return t
}

// Snapshot returns the stats of every timer, sorted by name.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	timers := make([]*Timer, 0, len(r.timers))
	for _, t := range r.timers {
		timers = append(timers, t)
	}
	r.mu.Unlock()

	stats := make([]Stats, len(timers))
	for i, t := range timers {
		stats[i] = t.Stats()
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})
	return stats
}

// Memory is a summary of the Go heap.
type Memory struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"gc_cycles"`
}

// ReadMemory samples the runtime memory statistics.
func ReadMemory() Memory {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Memory{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// FormatBytes formats byte counts in human-readable format.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
