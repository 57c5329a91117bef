package counter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
	interfaces "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Interfaces"
)

// NoDeviceID is the device id robots report before they are provisioned
const NoDeviceID int64 = 0

var (
	// ErrNoDevice rejects readings carrying the unprovisioned device id
	ErrNoDevice = errors.New("reading has no device id")
	// ErrNonFinite rejects readings whose delta or aux value is NaN or infinite
	ErrNonFinite = errors.New("reading value is not finite")
)

// Store turns cumulative counter readings into persisted per-reading increments
type Store struct {
	repo   interfaces.ReadingRepository
	locks  *keyedMutex
	logger *logger.Logger
	now    func() time.Time
}

func NewStore(repo interfaces.ReadingRepository, log *logger.Logger) *Store {
	return &Store{
		repo:   repo,
		locks:  newKeyedMutex(),
		logger: log.WithComponent("counter"),
		now:    time.Now,
	}
}

// ApplyReading persists the increment of cumulative over the device's previous
// cumulative value. The first reading for a device is its own increment.
// Readings for one device are applied one at a time; different devices do not block each other.
func (s *Store) ApplyReading(ctx context.Context, deviceID int64, cumulative, aux float64) (*rbtmodels.DeviceReading, error) {
	if deviceID == NoDeviceID {
		s.logger.Info("Ignoring reading without device id")
		return nil, ErrNoDevice
	}

	unlock := s.locks.Lock(deviceID)
	defer unlock()

	reading, err := s.repo.AppendReading(ctx, deviceID, func(previous *rbtmodels.DeviceReading) (*rbtmodels.DeviceReading, error) {
		delta := cumulative
		if previous != nil {
			delta = cumulative - previous.Cumulative
		}
		if !isFinite(delta) || !isFinite(aux) {
			return nil, fmt.Errorf("%w: delta=%v aux=%v", ErrNonFinite, delta, aux)
		}
		return &rbtmodels.DeviceReading{
			DeviceID:   deviceID,
			Cumulative: cumulative,
			Delta:      delta,
			AuxValue:   aux,
			Timestamp:  s.now().UTC(),
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrNonFinite) {
			s.logger.WithField("device_id", deviceID).WithError(err).Warn("Rejected non-finite reading")
		}
		return nil, err
	}

	if reading.Delta < 0 {
		s.logger.WithFields(map[string]interface{}{
			"device_id":  deviceID,
			"cumulative": cumulative,
			"delta":      reading.Delta,
		}).Warn("Counter went backwards, storing negative delta")
	}
	return reading, nil
}

func (s *Store) LatestReading(ctx context.Context, deviceID int64) (*rbtmodels.DeviceReading, error) {
	return s.repo.LatestReading(ctx, deviceID)
}

func (s *Store) ListReadings(ctx context.Context, deviceID int64, limit int) ([]rbtmodels.DeviceReading, error) {
	return s.repo.ListReadingsByDevice(ctx, deviceID, limit)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
