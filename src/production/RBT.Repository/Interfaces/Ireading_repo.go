package interfaces

import (
	"context"
	"errors"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

// ErrReadingNotFound is returned when a device has no persisted reading
var ErrReadingNotFound = errors.New("reading not found")

// BuildReadingFunc derives the reading to insert from the device's latest persisted
// reading. previous is nil for the device's first reading. Returning an error aborts
// the append without writing anything.
type BuildReadingFunc func(previous *rbtmodels.DeviceReading) (*rbtmodels.DeviceReading, error)

type ReadingRepository interface {
	// AppendReading loads the latest reading for deviceID, passes it to build and
	// inserts the result, all as one unit. Appends for the same device are serialized.
	AppendReading(ctx context.Context, deviceID int64, build BuildReadingFunc) (*rbtmodels.DeviceReading, error)

	LatestReading(ctx context.Context, deviceID int64) (*rbtmodels.DeviceReading, error)
	ListReadingsByDevice(ctx context.Context, deviceID int64, limit int) ([]rbtmodels.DeviceReading, error)
}
