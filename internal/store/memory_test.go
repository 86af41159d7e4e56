package store

import (
	"errors"
	"testing"
	"time"

	"github.com/swisscorp/agrisat/internal/ndvi"
)

func snapshotAt(id int, sampledAt time.Time, index float64) Snapshot {
	return Snapshot{
		LocationID: id,
		Name:       "Test Supplier",
		Reading: ndvi.Reading{
			Date:   sampledAt,
			Index:  &index,
			Status: ndvi.StatusHealthy,
		},
		CloudCover: 0.1,
		SampledAt:  sampledAt,
	}
}

func TestLatestReturnsMostRecent(t *testing.T) {
	s := NewMemoryStore(0, 0)
	now := time.Now()

	s.Save(snapshotAt(1, now.Add(-2*time.Hour), 0.5))
	s.Save(snapshotAt(1, now.Add(-1*time.Hour), 0.7))

	snap, err := s.Latest(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *snap.Reading.Index != 0.7 {
		t.Errorf("expected most recent snapshot, got index %v", *snap.Reading.Index)
	}
}

func TestLatestUnknownSupplier(t *testing.T) {
	s := NewMemoryStore(0, 0)

	_, err := s.Latest(42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMaxHistoryRetention(t *testing.T) {
	s := NewMemoryStore(3, 0)
	now := time.Now()

	for i := 0; i < 5; i++ {
		s.Save(snapshotAt(1, now.Add(time.Duration(i)*time.Minute), float64(i)/10))
	}

	snaps, err := s.Range(1, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected retention to keep 3 snapshots, got %d", len(snaps))
	}
	if *snaps[0].Reading.Index != 0.2 {
		t.Errorf("expected oldest kept snapshot to be index 0.2, got %v", *snaps[0].Reading.Index)
	}
}

func TestMaxAgeRetention(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	now := time.Now()

	s.Save(snapshotAt(1, now.Add(-3*time.Hour), 0.4))
	s.Save(snapshotAt(1, now, 0.6))

	snaps, err := s.Range(1, now.Add(-24*time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected stale snapshot to be evicted, got %d", len(snaps))
	}
	if *snaps[0].Reading.Index != 0.6 {
		t.Errorf("unexpected surviving snapshot: index %v", *snaps[0].Reading.Index)
	}
}

func TestMaxAgeEvictsFullyStaleHistory(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	now := time.Now()

	s.Save(snapshotAt(1, now.Add(-4*time.Hour), 0.4))
	s.Save(snapshotAt(1, now.Add(-3*time.Hour), 0.5))

	if _, err := s.Latest(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected fully stale history to be evicted, got %v", err)
	}
}

func TestRangeFilters(t *testing.T) {
	s := NewMemoryStore(0, 0)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for day := 0; day < 10; day++ {
		s.Save(snapshotAt(1, base.AddDate(0, 0, day), 0.5))
	}

	snaps, err := s.Range(1, base.AddDate(0, 0, 2), base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 4 {
		t.Errorf("expected 4 snapshots in inclusive range, got %d", len(snaps))
	}

	if _, err := s.Range(1, base.AddDate(1, 0, 0), base.AddDate(1, 0, 1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty range, got %v", err)
	}
}

func TestLatestAll(t *testing.T) {
	s := NewMemoryStore(0, 0)
	now := time.Now()

	s.Save(snapshotAt(1, now.Add(-time.Hour), 0.5))
	s.Save(snapshotAt(1, now, 0.6))
	s.Save(snapshotAt(2, now, 0.3))

	all := s.LatestAll()
	if len(all) != 2 {
		t.Fatalf("expected one snapshot per supplier, got %d", len(all))
	}
	for _, snap := range all {
		if snap.LocationID == 1 && *snap.Reading.Index != 0.6 {
			t.Errorf("expected latest snapshot for supplier 1, got index %v", *snap.Reading.Index)
		}
	}
}
