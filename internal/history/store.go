package history

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"driftwatch/internal/model"
)

// Store keeps a bounded in-memory history of aggregate windows per
// (endpoint, window size). It backs the diagnostics API and supplies the
// drift detector with recent trend history.
type Store struct {
	mu          sync.RWMutex
	byKey       map[string][]model.AggregateWindow
	updatedAt   map[string]time.Time
	perKeyLimit int
	keyLimit    int
}

func NewStore(perKeyLimit, keyLimit int) *Store {
	if perKeyLimit <= 0 {
		perKeyLimit = 1000
	}
	if keyLimit <= 0 {
		keyLimit = 5000
	}
	return &Store{
		byKey:       make(map[string][]model.AggregateWindow),
		updatedAt:   make(map[string]time.Time),
		perKeyLimit: perKeyLimit,
		keyLimit:    keyLimit,
	}
}

func key(endpoint string, windowSec int) string {
	return endpoint + "|" + strconv.Itoa(windowSec)
}

// Append stores a batch of aggregate windows.
func (s *Store) Append(windows []model.AggregateWindow) {
	if len(windows) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range windows {
		if w.Endpoint == "" {
			continue
		}
		k := key(w.Endpoint, w.WindowSec)
		buf := append(s.byKey[k], w)
		if len(buf) > s.perKeyLimit {
			buf = append([]model.AggregateWindow{}, buf[len(buf)-s.perKeyLimit:]...)
		}
		s.byKey[k] = buf
		s.updatedAt[k] = time.Now().UTC()
	}
	if len(s.byKey) > s.keyLimit {
		s.evictOldest()
	}
}

// Recent returns up to limit of the newest windows for (endpoint, windowSec),
// oldest first.
func (s *Store) Recent(endpoint string, windowSec, limit int) []model.AggregateWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.byKey[key(endpoint, windowSec)]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]model.AggregateWindow, limit)
	copy(out, buf[len(buf)-limit:])
	return out
}

// Query filters stored windows. Zero-value arguments match everything;
// results are ordered by window end.
func (s *Store) Query(endpoint string, windowSec int, start, end time.Time) []model.AggregateWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AggregateWindow
	for _, buf := range s.byKey {
		for _, w := range buf {
			if endpoint != "" && w.Endpoint != endpoint {
				continue
			}
			if windowSec != 0 && w.WindowSec != windowSec {
				continue
			}
			if !start.IsZero() && w.WindowEnd.Before(start) {
				continue
			}
			if !end.IsZero() && w.WindowEnd.After(end) {
				continue
			}
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowEnd.Before(out[j].WindowEnd) })
	return out
}

// Latest returns the newest window per window size for one endpoint.
func (s *Store) Latest(endpoint string) []model.AggregateWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AggregateWindow
	for _, buf := range s.byKey {
		if len(buf) == 0 {
			continue
		}
		if w := buf[len(buf)-1]; w.Endpoint == endpoint {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowSec < out[j].WindowSec })
	return out
}

// Endpoints lists distinct endpoints with stored history.
func (s *Store) Endpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, buf := range s.byKey {
		if len(buf) > 0 {
			seen[buf[0].Endpoint] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (s *Store) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, ts := range s.updatedAt {
		if oldestKey == "" || ts.Before(oldest) {
			oldestKey = k
			oldest = ts
		}
	}
	if oldestKey != "" {
		delete(s.byKey, oldestKey)
		delete(s.updatedAt, oldestKey)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string][]model.AggregateWindow)
	s.updatedAt = make(map[string]time.Time)
}
