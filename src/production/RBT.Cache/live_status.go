package cache

import (
	"sort"
	"sync"
	"time"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

// FaultEntry is the fault view of one device's live status
type FaultEntry struct {
	DeviceEUI  string      `json:"deviceEUI"`
	LastUpdate time.Time   `json:"lastUpdate"`
	Fault      interface{} `json:"fault"`
	Label      interface{} `json:"controlPannelName"`
}

// LiveStatusStore keeps the latest uplink object per device. Last write wins.
type LiveStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]rbtmodels.DeviceLiveStatus
}

func NewLiveStatusStore() *LiveStatusStore {
	return &LiveStatusStore{statuses: make(map[string]rbtmodels.DeviceLiveStatus)}
}

// Update replaces the device's live status with the given uplink object
func (s *LiveStatusStore) Update(deviceEUI string, object map[string]interface{}, at time.Time) rbtmodels.DeviceLiveStatus {
	status := rbtmodels.DeviceLiveStatus{
		DeviceEUI:  deviceEUI,
		LastUpdate: at,
		Payload:    object,
		Fault:      object[rbtmodels.ChannelFault],
		Label:      object[rbtmodels.ChannelLabel],
	}

	s.mu.Lock()
	s.statuses[deviceEUI] = status
	s.mu.Unlock()
	return status
}

func (s *LiveStatusStore) Get(deviceEUI string) (rbtmodels.DeviceLiveStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[deviceEUI]
	return status, ok
}

// List returns every known device ordered by EUI
func (s *LiveStatusStore) List() []rbtmodels.DeviceLiveStatus {
	s.mu.RLock()
	out := make([]rbtmodels.DeviceLiveStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		out = append(out, status)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceEUI < out[j].DeviceEUI })
	return out
}

// Faults returns the fault channel of every known device, including devices
// currently reporting no fault.
func (s *LiveStatusStore) Faults() []FaultEntry {
	statuses := s.List()
	out := make([]FaultEntry, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, FaultEntry{
			DeviceEUI:  status.DeviceEUI,
			LastUpdate: status.LastUpdate,
			Fault:      status.Fault,
			Label:      status.Label,
		})
	}
	return out
}

func (s *LiveStatusStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.statuses)
}
