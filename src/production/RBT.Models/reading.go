package rbtmodels

import "time"

// DeviceReading is one accepted counter reading. Delta is the increment over the
// previous reading's Cumulative value for the same device.
type DeviceReading struct {
	ID         int64     `json:"id" db:"id"`
	DeviceID   int64     `json:"device_id" db:"device_id"`
	Cumulative float64   `json:"cumulative" db:"cumulative"`
	Delta      float64   `json:"delta" db:"panels_cleaned"`
	AuxValue   float64   `json:"aux_value" db:"battery_discharge_cycle"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}
