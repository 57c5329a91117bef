package implementation

import (
	"context"
	"sync"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
	interfaces "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Interfaces"
)

// MemoryReadingRepository keeps readings in process memory. Appends are serialized
// under one lock, which is enough for development and tests.
type MemoryReadingRepository struct {
	mu       sync.Mutex
	nextID   int64
	byDevice map[int64][]rbtmodels.DeviceReading
}

func NewMemoryReadingRepository() *MemoryReadingRepository {
	return &MemoryReadingRepository{byDevice: make(map[int64][]rbtmodels.DeviceReading)}
}

func (r *MemoryReadingRepository) AppendReading(ctx context.Context, deviceID int64, build interfaces.BuildReadingFunc) (*rbtmodels.DeviceReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var previous *rbtmodels.DeviceReading
	if rows := r.byDevice[deviceID]; len(rows) > 0 {
		last := rows[len(rows)-1]
		previous = &last
	}

	next, err := build(previous)
	if err != nil {
		return nil, err
	}

	r.nextID++
	next.ID = r.nextID
	r.byDevice[next.DeviceID] = append(r.byDevice[next.DeviceID], *next)

	out := *next
	return &out, nil
}

func (r *MemoryReadingRepository) LatestReading(_ context.Context, deviceID int64) (*rbtmodels.DeviceReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.byDevice[deviceID]
	if len(rows) == 0 {
		return nil, interfaces.ErrReadingNotFound
	}
	last := rows[len(rows)-1]
	return &last, nil
}

// ListReadingsByDevice returns the newest readings first, like the Postgres repository
func (r *MemoryReadingRepository) ListReadingsByDevice(_ context.Context, deviceID int64, limit int) ([]rbtmodels.DeviceReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.byDevice[deviceID]
	out := make([]rbtmodels.DeviceReading, 0, min(len(rows), max(limit, 0)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

// Count returns the number of readings stored across all devices
func (r *MemoryReadingRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, rows := range r.byDevice {
		total += len(rows)
	}
	return total
}
