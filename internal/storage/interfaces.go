package storage

import "hotel-rates/internal/models"

// SnapshotStore persists one aggregated poll result per
// (date, currency, adults, days) key. Put replaces on conflict; Get returns
// the most recently written match or (nil, nil) when none exists.
type SnapshotStore interface {
	Get(date, currency, adults string, days int) (*models.PriceSnapshot, error)
	Put(results []models.HotelResult, currency, adults string, days int, fetchedBy string) (*models.PriceSnapshot, error)
}
