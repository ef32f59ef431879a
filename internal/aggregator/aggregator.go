package aggregator

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"driftwatch/internal/model"
)

// Aggregator maintains per-endpoint sliding windows of request tuples for a
// fixed set of window sizes and computes summary statistics on demand. It is
// safe for concurrent use; Record is called from the ingest path while the
// periodic detection task snapshots.
type Aggregator struct {
	mu        sync.Mutex
	windows   []time.Duration
	endpoints map[string]map[int]*windowState
	logger    *slog.Logger
	dropped   int64
	now       func() time.Time
}

func New(windows []time.Duration, logger *slog.Logger) *Aggregator {
	sorted := append([]time.Duration{}, windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &Aggregator{
		windows:   sorted,
		endpoints: make(map[string]map[int]*windowState),
		logger:    logger,
		now:       time.Now,
	}
}

// Record validates one log record and appends it to every window buffer for
// its endpoint, evicting entries that have aged out. Malformed records are
// dropped silently.
func (a *Aggregator) Record(rec model.LogRecord) {
	if !valid(rec) {
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		if a.logger != nil {
			a.logger.Debug("dropping malformed record", "endpoint", rec.Endpoint, "latency_ms", rec.LatencyMS)
		}
		return
	}
	entry := requestEntry{
		Timestamp: rec.Timestamp,
		LatencyMS: rec.LatencyMS,
		IsError:   rec.StatusCode >= 400,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now().UTC()
	for _, w := range a.getEndpoint(rec.Endpoint) {
		cutoff := now.Add(-w.duration)
		w.Evict(cutoff)
		// A record that arrives already older than the window never enters it.
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		w.Add(entry)
	}
}

// Dropped reports how many malformed records have been rejected.
func (a *Aggregator) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Snapshot returns the aggregate windows for every endpoint and window size
// holding at least one live entry at now. Empty windows are omitted.
func (a *Aggregator) Snapshot(now time.Time) []model.AggregateWindow {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.AggregateWindow, 0, len(a.endpoints)*len(a.windows))
	for _, endpoint := range a.sortedEndpoints() {
		out = append(out, a.snapshotLocked(endpoint, now, 0)...)
	}
	return out
}

// SnapshotEndpoint returns the aggregate windows for one endpoint.
func (a *Aggregator) SnapshotEndpoint(endpoint string, now time.Time) []model.AggregateWindow {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.endpoints[endpoint]; !ok {
		return nil
	}
	return a.snapshotLocked(endpoint, now, 0)
}

// SnapshotWindow returns the aggregates of one window size across all
// endpoints. Requesting a size the aggregator was not configured with is a
// configuration error.
func (a *Aggregator) SnapshotWindow(window time.Duration, now time.Time) ([]model.AggregateWindow, error) {
	supported := false
	for _, w := range a.windows {
		if w == window {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("unsupported window size %s", window)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sec := int(window.Seconds())
	out := make([]model.AggregateWindow, 0, len(a.endpoints))
	for _, endpoint := range a.sortedEndpoints() {
		out = append(out, a.snapshotLocked(endpoint, now, sec)...)
	}
	return out, nil
}

// Endpoints lists endpoints with any retained data.
func (a *Aggregator) Endpoints() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedEndpoints()
}

// Reset drops all buffered data.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoints = make(map[string]map[int]*windowState)
}

// snapshotLocked assumes a.mu is held. windowSec == 0 selects all windows.
func (a *Aggregator) snapshotLocked(endpoint string, now time.Time, windowSec int) []model.AggregateWindow {
	byWindow := a.endpoints[endpoint]
	secs := make([]int, 0, len(byWindow))
	for sec := range byWindow {
		if windowSec != 0 && sec != windowSec {
			continue
		}
		secs = append(secs, sec)
	}
	sort.Ints(secs)
	out := make([]model.AggregateWindow, 0, len(secs))
	for _, sec := range secs {
		w := byWindow[sec]
		w.Evict(now.Add(-w.duration))
		if w.Len() == 0 {
			continue
		}
		out = append(out, w.Summary(endpoint, now))
	}
	return out
}

func (a *Aggregator) getEndpoint(endpoint string) map[int]*windowState {
	byWindow, ok := a.endpoints[endpoint]
	if !ok {
		byWindow = make(map[int]*windowState, len(a.windows))
		for _, d := range a.windows {
			byWindow[int(d.Seconds())] = newWindowState(d)
		}
		a.endpoints[endpoint] = byWindow
	}
	return byWindow
}

func (a *Aggregator) sortedEndpoints() []string {
	keys := make([]string, 0, len(a.endpoints))
	for k := range a.endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valid(rec model.LogRecord) bool {
	if rec.Endpoint == "" || rec.Timestamp.IsZero() {
		return false
	}
	if rec.LatencyMS < 0 || math.IsNaN(rec.LatencyMS) || math.IsInf(rec.LatencyMS, 0) {
		return false
	}
	if rec.StatusCode < 100 || rec.StatusCode > 599 {
		return false
	}
	return true
}
