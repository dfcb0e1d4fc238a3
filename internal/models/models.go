package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Hotel is one entry of the fixed comparison set.
type Hotel struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Mine bool   `json:"mine"`
}

// PricePoint is the lowest nightly rate found for one check-in date.
// Price is nil when the provider call failed or no price could be extracted.
type PricePoint struct {
	Date  string `json:"date"`
	Price *int   `json:"price"`
}

// HotelResult is one hotel's full row of a poll run, prices ordered by
// ascending check-in date.
type HotelResult struct {
	Name   string       `json:"name"`
	ID     string       `json:"id"`
	Mine   bool         `json:"mine"`
	Prices []PricePoint `json:"prices"`
}

// HotelResults is stored as a JSON column on the snapshot row.
type HotelResults []HotelResult

func (r HotelResults) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *HotelResults) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	case nil:
		*r = nil
		return nil
	default:
		return fmt.Errorf("unsupported type %T for HotelResults", value)
	}
}

// PriceSnapshot is one persisted poll run. At most one row exists per
// (date, currency, adults, days); a later run replaces the earlier one.
type PriceSnapshot struct {
	ID        string       `json:"id" gorm:"primaryKey;size:36"`
	Date      string       `json:"date" gorm:"size:10;uniqueIndex:idx_snapshot_key,priority:1;not null"`
	Currency  string       `json:"currency" gorm:"size:8;uniqueIndex:idx_snapshot_key,priority:2;not null"`
	Adults    string       `json:"adults" gorm:"size:4;uniqueIndex:idx_snapshot_key,priority:3;not null"`
	Days      int          `json:"days" gorm:"uniqueIndex:idx_snapshot_key,priority:4;not null"`
	Results   HotelResults `json:"results" gorm:"type:json"`
	FetchedAt time.Time    `json:"fetched_at"`
	FetchedBy string       `json:"fetched_by" gorm:"size:255"`
}

func (PriceSnapshot) TableName() string {
	return "price_snapshots"
}

// FetchParams selects which snapshot is read and which poll is run.
type FetchParams struct {
	Currency string `json:"currency"`
	Adults   string `json:"adults"`
	Days     int    `json:"days"`
}

// DateKey formats a time the way snapshot and price-point dates are keyed.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
