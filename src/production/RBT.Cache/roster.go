package cache

import (
	"sync"
	"time"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

// RosterCache holds the last device roster fetched from the network server
type RosterCache struct {
	mu        sync.RWMutex
	devices   []rbtmodels.RosterDevice
	fetchedAt time.Time
}

func NewRosterCache() *RosterCache {
	return &RosterCache{}
}

func (c *RosterCache) Set(devices []rbtmodels.RosterDevice, at time.Time) {
	copied := make([]rbtmodels.RosterDevice, len(devices))
	copy(copied, devices)

	c.mu.Lock()
	c.devices = copied
	c.fetchedAt = at
	c.mu.Unlock()
}

// Get returns the cached roster; ok is false until the first successful fetch
func (c *RosterCache) Get() (devices []rbtmodels.RosterDevice, fetchedAt time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return nil, time.Time{}, false
	}
	out := make([]rbtmodels.RosterDevice, len(c.devices))
	copy(out, c.devices)
	return out, c.fetchedAt, true
}
