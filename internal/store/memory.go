package store

import (
	"errors"
	"sync"
	"time"

	"github.com/swisscorp/agrisat/internal/ndvi"
)

// ErrNotFound is returned when no snapshot exists for a given supplier.
var ErrNotFound = errors.New("no vegetation snapshots for supplier")

// Snapshot is one sampled vegetation reading for a supplier, captured by
// the background refresh job. Snapshots feed the analytics summary only;
// the NDVI endpoints always recompute per request.
type Snapshot struct {
	LocationID int          `json:"location_id"`
	Name       string       `json:"name"`
	Reading    ndvi.Reading `json:"reading"`
	CloudCover float64      `json:"cloud_cover"`
	SampledAt  time.Time    `json:"sampled_at"`
}

type snapshotHistory struct {
	snapshots []Snapshot
}

// MemoryStore is a concurrency-safe in-memory snapshot store with
// count- and age-based retention.
type MemoryStore struct {
	mu sync.RWMutex

	data map[int]*snapshotHistory

	maxHistory int           // max snapshots per supplier (0 = unlimited)
	maxAge     time.Duration // max snapshot age (0 = unlimited)
}

// NewMemoryStore creates a new MemoryStore with optional limits.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[int]*snapshotHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// Save appends a snapshot for a supplier and enforces retention.
func (s *MemoryStore) Save(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[snap.LocationID]
	if !ok {
		history = &snapshotHistory{}
		s.data[snap.LocationID] = history
	}

	history.snapshots = append(history.snapshots, snap)

	if s.maxHistory > 0 && len(history.snapshots) > s.maxHistory {
		over := len(history.snapshots) - s.maxHistory
		history.snapshots = history.snapshots[over:]
	}

	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.snapshots); i++ {
			if !history.snapshots[i].SampledAt.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			history.snapshots = history.snapshots[i:]
		}
	}
}

// Latest returns the most recent snapshot for a supplier.
func (s *MemoryStore) Latest(locationID int) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[locationID]
	if !ok || len(history.snapshots) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return history.snapshots[len(history.snapshots)-1], nil
}

// Range returns all snapshots for a supplier between from and to (inclusive).
func (s *MemoryStore) Range(locationID int, from, to time.Time) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[locationID]
	if !ok || len(history.snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []Snapshot
	for _, snap := range history.snapshots {
		if !snap.SampledAt.Before(from) && !snap.SampledAt.After(to) {
			result = append(result, snap)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// LatestAll returns the most recent snapshot for every supplier that has
// one.
func (s *MemoryStore) LatestAll() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.data))
	for _, history := range s.data {
		if len(history.snapshots) == 0 {
			continue
		}
		out = append(out, history.snapshots[len(history.snapshots)-1])
	}
	return out
}
