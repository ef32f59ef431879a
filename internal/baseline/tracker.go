package baseline

import (
	"math"
	"sync"
	"time"

	"driftwatch/internal/model"
)

// DefaultAlpha is the EWMA smoothing factor used when none is configured.
const DefaultAlpha = 0.1

// Tracker maintains one incrementally-updated BaselineStat per
// (endpoint, metric). The rolling mean/std uses Welford's online algorithm;
// the EWMA pair tracks the same stream with more weight on recent values.
type Tracker struct {
	mu    sync.RWMutex
	alpha float64
	stats map[string]*record
}

type record struct {
	stat model.BaselineStat
	m2   float64
}

func NewTracker(alpha float64) *Tracker {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	return &Tracker{
		alpha: alpha,
		stats: make(map[string]*record),
	}
}

// Update folds one observation into the baseline for (endpoint, metric).
func (t *Tracker) Update(endpoint, metric string, value float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := endpoint + "|" + metric
	r, ok := t.stats[key]
	if !ok {
		t.stats[key] = &record{stat: model.BaselineStat{
			Mean:        value,
			EWMA:        value,
			Count:       1,
			LastUpdated: ts,
		}}
		return
	}

	s := &r.stat
	s.Count++
	delta := value - s.Mean
	s.Mean += delta / float64(s.Count)
	r.m2 += delta * (value - s.Mean)
	s.Std = math.Sqrt(r.m2 / float64(s.Count))

	ewmaErr := value - s.EWMA
	s.EWMA += t.alpha * ewmaErr
	s.EWMAVariance = (1 - t.alpha) * (s.EWMAVariance + t.alpha*ewmaErr*ewmaErr)
	s.LastUpdated = ts
}

// Get returns a copy of the baseline, or ok=false if the pair was never
// observed.
func (t *Tracker) Get(endpoint, metric string) (model.BaselineStat, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.stats[endpoint+"|"+metric]
	if !ok {
		return model.BaselineStat{}, false
	}
	return r.stat, true
}

// EWMAStd returns the standard deviation of the EWMA model for a stat.
func EWMAStd(s model.BaselineStat) float64 {
	if s.EWMAVariance <= 0 {
		return 0
	}
	return math.Sqrt(s.EWMAVariance)
}

// Prune deletes baselines whose last update is older than the horizon.
// Stale baselines are removed outright, never reset, so a surviving
// baseline's count is always monotonically increasing.
func (t *Tracker) Prune(horizon time.Duration, now time.Time) int {
	if horizon <= 0 {
		return 0
	}
	cutoff := now.Add(-horizon)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, r := range t.stats {
		if r.stat.LastUpdated.Before(cutoff) {
			delete(t.stats, key)
			removed++
		}
	}
	return removed
}

// Reset discards all baselines.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.stats = make(map[string]*record)
	t.mu.Unlock()
}

// Len reports the number of tracked (endpoint, metric) pairs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.stats)
}
