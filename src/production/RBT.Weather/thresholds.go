package weather

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidThresholds is returned when an update is out of range
var ErrInvalidThresholds = errors.New("invalid weather thresholds")

// Thresholds are the operator limits a snapshot is evaluated against
type Thresholds struct {
	WindSpeed   float64 `json:"windSpeedThreshold"`
	Humidity    float64 `json:"humidityThreshold"`
	RainEnabled bool    `json:"rainEnabled"`
}

// Validate checks wind is non-negative and humidity is a percentage
func (t Thresholds) Validate() error {
	if math.IsNaN(t.WindSpeed) || math.IsInf(t.WindSpeed, 0) || t.WindSpeed < 0 {
		return fmt.Errorf("%w: wind speed threshold must be a number >= 0", ErrInvalidThresholds)
	}
	if math.IsNaN(t.Humidity) || t.Humidity < 0 || t.Humidity > 100 {
		return fmt.Errorf("%w: humidity threshold must be between 0 and 100", ErrInvalidThresholds)
	}
	return nil
}

// ThresholdStore holds the process-wide thresholds. Updates replace them wholesale.
type ThresholdStore struct {
	mu      sync.RWMutex
	current Thresholds
}

func NewThresholdStore(initial Thresholds) (*ThresholdStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &ThresholdStore{current: initial}, nil
}

func (s *ThresholdStore) Get() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *ThresholdStore) Set(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	return nil
}
