package history

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store as an in-process append-only buffer.
// It is safe for a single writer and many concurrent readers.
//
// Eviction happens inline on every Record: snapshots older than the
// retention window are dropped from the head, then the oldest entries are
// trimmed whenever the count cap is exceeded (the cap takes precedence even
// for entries younger than the window). Queries copy the matching range
// before returning, so a caller's slice is never mutated by later appends.
type MemoryStore struct {
	mu           sync.RWMutex
	snapshots    []Snapshot
	retention    time.Duration
	maxSnapshots int

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates a store with the default 48h / 2880-entry bounds.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithBounds(DefaultRetention, DefaultMaxSnapshots)
}

// NewMemoryStoreWithBounds creates a store with explicit retention bounds.
// Non-positive arguments fall back to the defaults.
func NewMemoryStoreWithBounds(retention time.Duration, maxSnapshots int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &MemoryStore{
		retention:    retention,
		maxSnapshots: maxSnapshots,
		now:          time.Now,
	}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.snapshots); n > 0 && snapshot.Timestamp.Before(s.snapshots[n-1].Timestamp) {
		return fmt.Errorf("%w: got %s, newest is %s",
			ErrOutOfOrder, snapshot.Timestamp.Format(time.RFC3339Nano), s.snapshots[n-1].Timestamp.Format(time.RFC3339Nano))
	}

	s.snapshots = append(s.snapshots, snapshot)
	s.evictLocked()
	return nil
}

// evictLocked drops aged-out snapshots, then trims to the count cap.
// Callers must hold the write lock.
func (s *MemoryStore) evictLocked() {
	cutoff := s.now().Add(-s.retention)
	first := 0
	for first < len(s.snapshots) && s.snapshots[first].Timestamp.Before(cutoff) {
		first++
	}
	if over := len(s.snapshots) - first - s.maxSnapshots; over > 0 {
		first += over
	}
	if first > 0 {
		remaining := make([]Snapshot, len(s.snapshots)-first)
		copy(remaining, s.snapshots[first:])
		s.snapshots = remaining
	}
}

// Query implements Store. The returned slice is a copy.
func (s *MemoryStore) Query(ctx context.Context, window time.Duration) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}

	cutoff := s.now().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	first := len(s.snapshots)
	for i, snap := range s.snapshots {
		if !snap.Timestamp.Before(cutoff) {
			first = i
			break
		}
	}

	result := make([]Snapshot, len(s.snapshots)-first)
	copy(result, s.snapshots[first:])
	return result, nil
}

// ServiceSeries implements Store.
func (s *MemoryStore) ServiceSeries(ctx context.Context, serviceID string, window time.Duration) (ServiceSeries, error) {
	if serviceID == "" {
		return ServiceSeries{}, fmt.Errorf("service id required")
	}
	snapshots, err := s.Query(ctx, window)
	if err != nil {
		return ServiceSeries{}, err
	}
	return seriesFromSnapshots(serviceID, snapshots), nil
}

// Statistics implements Store.
func (s *MemoryStore) Statistics(ctx context.Context) (Statistics, error) {
	if err := ctx.Err(); err != nil {
		return Statistics{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		TotalSnapshots: len(s.snapshots),
		MetricsTracked: MetricNames(),
	}
	if len(s.snapshots) > 0 {
		stats.Oldest = s.snapshots[0].Timestamp
		stats.Newest = s.snapshots[len(s.snapshots)-1].Timestamp
		stats.CoverageHours = stats.Newest.Sub(stats.Oldest).Hours()
	}
	return stats, nil
}

// Len returns the number of stored snapshots. Useful for tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
