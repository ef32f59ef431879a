package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"driftwatch/internal/model"
)

// Store is an in-memory ring of delivered alerts. It backs the diagnostics
// API and is the manager's source of truth for alert IDs; durable storage
// is written separately.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// Store assigns an ID if the alert has none and appends it, evicting the
// oldest alert once the ring is full. Returns the alert ID.
func (s *Store) Store(alert model.Alert) (string, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return alert.ID, nil
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
	return alert.ID, nil
}

// Get returns the alert with the given ID.
func (s *Store) Get(id string) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].ID == id {
			return s.buf[i], true
		}
	}
	return model.Alert{}, false
}

// List returns up to limit of the most recent alerts, oldest first. A status
// filter of "" matches all alerts.
func (s *Store) List(limit int, status model.AlertStatus) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0, len(s.buf))
	for _, a := range s.buf {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Since returns alerts created at or after ts, oldest first.
func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.CreatedAt.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

// UpdateStatus transitions an alert's lifecycle status.
func (s *Store) UpdateStatus(id string, status model.AlertStatus) error {
	switch status {
	case model.StatusActive, model.StatusAcknowledged, model.StatusResolved:
	default:
		return fmt.Errorf("invalid alert status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			s.buf[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("alert %s not found", id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
