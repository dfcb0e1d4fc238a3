package storage

import (
	"fmt"
	"sync"
	"time"

	"hotel-rates/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory SnapshotStore for tests and local runs
// without a database. Same key semantics as the MySQL store.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]models.PriceSnapshot
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]models.PriceSnapshot),
		now:       time.Now,
	}
}

func snapshotKey(date, currency, adults string, days int) string {
	return fmt.Sprintf("%s|%s|%s|%d", date, currency, adults, days)
}

func (s *MemoryStore) Get(date, currency, adults string, days int) (*models.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[snapshotKey(date, currency, adults, days)]
	if !ok {
		return nil, nil
	}
	cp := snapshot
	return &cp, nil
}

func (s *MemoryStore) Put(results []models.HotelResult, currency, adults string, days int, fetchedBy string) (*models.PriceSnapshot, error) {
	if fetchedBy == "" {
		fetchedBy = "unknown"
	}
	now := s.now()
	snapshot := models.PriceSnapshot{
		ID:        uuid.NewString(),
		Date:      models.DateKey(now),
		Currency:  currency,
		Adults:    adults,
		Days:      days,
		Results:   results,
		FetchedAt: now,
		FetchedBy: fetchedBy,
	}

	s.mu.Lock()
	s.snapshots[snapshotKey(snapshot.Date, currency, adults, days)] = snapshot
	s.mu.Unlock()

	cp := snapshot
	return &cp, nil
}
