package storage

import (
	"errors"
	"fmt"
	"time"

	"hotel-rates/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQLStore keeps snapshots in the price_snapshots table. The composite
// unique index on (date, currency, adults, days) carries the replace-on-
// conflict semantics; the row id never participates in conflict detection.
type MySQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

func (s *MySQLStore) Get(date, currency, adults string, days int) (*models.PriceSnapshot, error) {
	var snapshot models.PriceSnapshot
	err := s.db.
		Where("date = ? AND currency = ? AND adults = ? AND days = ?", date, currency, adults, days).
		Order("fetched_at desc").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *MySQLStore) Put(results []models.HotelResult, currency, adults string, days int, fetchedBy string) (*models.PriceSnapshot, error) {
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

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "currency"}, {Name: "adults"}, {Name: "days"}},
		DoUpdates: clause.AssignmentColumns([]string{"results", "fetched_at", "fetched_by"}),
	}).Create(&snapshot).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	stored, err := s.Get(snapshot.Date, currency, adults, days)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &snapshot, nil
	}
	return stored, nil
}
