package history

import (
	"fmt"
	"testing"
	"time"

	"driftwatch/internal/model"
)

func window(endpoint string, windowSec int, end time.Time) model.AggregateWindow {
	return model.AggregateWindow{
		Endpoint:      endpoint,
		WindowSec:     windowSec,
		WindowEnd:     end,
		AvgLatency:    100,
		RequestVolume: 10,
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := NewStore(10, 10)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Append([]model.AggregateWindow{window("/a", 60, base.Add(time.Duration(i)*time.Minute))})
	}
	got := s.Recent("/a", 60, 3)
	if len(got) != 3 {
		t.Fatalf("Recent returned %d windows", len(got))
	}
	if !got[0].WindowEnd.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("oldest returned window ends %s", got[0].WindowEnd)
	}
	if !got[2].WindowEnd.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest returned window ends %s", got[2].WindowEnd)
	}
	if len(s.Recent("/a", 300, 0)) != 0 {
		t.Error("unexpected history for 300s window")
	}
}

func TestPerKeyLimit(t *testing.T) {
	s := NewStore(3, 10)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		s.Append([]model.AggregateWindow{window("/a", 60, base.Add(time.Duration(i)*time.Minute))})
	}
	got := s.Recent("/a", 60, 0)
	if len(got) != 3 {
		t.Fatalf("retained %d windows, want 3", len(got))
	}
	if !got[0].WindowEnd.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("oldest retained window ends %s", got[0].WindowEnd)
	}
}

func TestKeyLimitEvictsStalest(t *testing.T) {
	s := NewStore(10, 2)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s.Append([]model.AggregateWindow{window("/old", 60, base)})
	time.Sleep(2 * time.Millisecond)
	s.Append([]model.AggregateWindow{window("/mid", 60, base)})
	time.Sleep(2 * time.Millisecond)
	s.Append([]model.AggregateWindow{window("/new", 60, base)})

	if len(s.Recent("/old", 60, 0)) != 0 {
		t.Error("stalest key should be evicted")
	}
	if len(s.Recent("/mid", 60, 0)) != 1 || len(s.Recent("/new", 60, 0)) != 1 {
		t.Error("surviving keys lost history")
	}
}

func TestQueryFilters(t *testing.T) {
	s := NewStore(10, 10)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s.Append([]model.AggregateWindow{
		window("/a", 60, base),
		window("/a", 60, base.Add(time.Minute)),
		window("/a", 300, base.Add(time.Minute)),
		window("/b", 60, base.Add(2*time.Minute)),
	})

	got := s.Query("/a", 60, time.Time{}, time.Time{})
	if len(got) != 2 {
		t.Fatalf("Query(/a, 60) = %d windows", len(got))
	}
	got = s.Query("", 0, base.Add(time.Minute), base.Add(2*time.Minute))
	if len(got) != 3 {
		t.Fatalf("time-range query = %d windows", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].WindowEnd.Before(got[i-1].WindowEnd) {
			t.Fatal("query results not ordered by window end")
		}
	}
}

func TestLatestPerWindowSize(t *testing.T) {
	s := NewStore(10, 10)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s.Append([]model.AggregateWindow{
		window("/a", 60, base),
		window("/a", 60, base.Add(time.Minute)),
		window("/a", 300, base.Add(time.Minute)),
	})
	got := s.Latest("/a")
	if len(got) != 2 {
		t.Fatalf("Latest = %d windows", len(got))
	}
	if got[0].WindowSec != 60 || got[1].WindowSec != 300 {
		t.Errorf("window sizes = %d, %d", got[0].WindowSec, got[1].WindowSec)
	}
	if !got[0].WindowEnd.Equal(base.Add(time.Minute)) {
		t.Errorf("60s latest ends %s", got[0].WindowEnd)
	}
}

func TestEndpointsSorted(t *testing.T) {
	s := NewStore(10, 10)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	for _, e := range []string{"/c", "/a", "/b"} {
		s.Append([]model.AggregateWindow{window(e, 60, base)})
	}
	got := s.Endpoints()
	want := []string{"/a", "/b", "/c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Endpoints = %v", got)
	}
}

func TestClear(t *testing.T) {
	s := NewStore(10, 10)
	s.Append([]model.AggregateWindow{window("/a", 60, time.Now().UTC())})
	s.Clear()
	if len(s.Endpoints()) != 0 {
		t.Error("Clear left endpoints behind")
	}
}
