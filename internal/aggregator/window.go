package aggregator

import (
	"math"
	"sort"
	"time"

	"driftwatch/internal/model"
)

type requestEntry struct {
	Timestamp time.Time
	LatencyMS float64
	IsError   bool
}

// windowState holds the time-ordered request tuples for one endpoint and one
// window size. Entries are kept sorted by timestamp on insert so eviction from
// the head is strictly age-based even when records arrive out of order.
type windowState struct {
	duration   time.Duration
	entries    []requestEntry
	head       int
	latencySum float64
	errors     int
}

func newWindowState(duration time.Duration) *windowState {
	return &windowState{
		duration: duration,
		entries:  make([]requestEntry, 0, 128),
	}
}

func (w *windowState) Add(e requestEntry) {
	live := w.entries[w.head:]
	if n := len(live); n == 0 || !e.Timestamp.Before(live[n-1].Timestamp) {
		w.entries = append(w.entries, e)
	} else {
		// Out-of-order arrival: insert at the timestamp position.
		idx := sort.Search(n, func(i int) bool {
			return live[i].Timestamp.After(e.Timestamp)
		})
		w.entries = append(w.entries, requestEntry{})
		copy(w.entries[w.head+idx+1:], w.entries[w.head+idx:])
		w.entries[w.head+idx] = e
	}
	w.latencySum += e.LatencyMS
	if e.IsError {
		w.errors++
	}
}

func (w *windowState) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		e := w.entries[w.head]
		if !e.Timestamp.Before(cutoff) {
			break
		}
		w.latencySum -= e.LatencyMS
		if e.IsError {
			w.errors--
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]requestEntry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *windowState) Len() int {
	return len(w.entries) - w.head
}

// Summary computes the aggregate statistics over the live entries. The caller
// must have evicted stale entries first and checked Len() > 0.
func (w *windowState) Summary(endpoint string, now time.Time) model.AggregateWindow {
	live := w.entries[w.head:]
	latencies := make([]float64, len(live))
	for i, e := range live {
		latencies[i] = e.LatencyMS
	}
	sort.Float64s(latencies)

	n := len(live)
	return model.AggregateWindow{
		Endpoint:      endpoint,
		WindowSec:     int(w.duration.Seconds()),
		WindowEnd:     now,
		AvgLatency:    w.latencySum / float64(n),
		P50Latency:    nearestRank(latencies, 0.50),
		P95Latency:    nearestRank(latencies, 0.95),
		P99Latency:    nearestRank(latencies, 0.99),
		ErrorRate:     float64(w.errors) / float64(n),
		RequestVolume: n,
	}
}

// nearestRank returns the p-th percentile of the sorted sample using the
// nearest-rank method: rank = ceil(p*n), 1-indexed, clamped to [1, n].
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
