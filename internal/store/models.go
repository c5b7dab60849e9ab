// Package store persists sensor readings and answers latest and history queries.
package store

import (
	"time"
)

// Reading is one stored sensor sample. Readings are immutable once stored.
type Reading struct {
	Timestamp  time.Time `gorm:"index:idx_sensor_readings_timestamp;not null" json:"timestamp"`
	WaterLevel float64   `gorm:"not null"                                     json:"waterLevel"`
	WaterFlow  float64   `gorm:"not null"                                     json:"waterFlow"`
	ID         uint      `gorm:"primaryKey"                                   json:"id"`
}

// TableName specifies the table name for Reading.
func (Reading) TableName() string {
	return "sensor_readings"
}

// NewReading is a reading that has not been stored yet.
// A nil Timestamp is replaced by the store's clock.
type NewReading struct {
	Timestamp  *time.Time
	WaterLevel float64
	WaterFlow  float64
}
