package rbtmodels

import "time"

// DeviceLiveStatus is the latest known state of one device, rebuilt from uplinks after a restart
type DeviceLiveStatus struct {
	DeviceEUI  string                 `json:"deviceEUI"`
	LastUpdate time.Time              `json:"lastUpdate"`
	Payload    map[string]interface{} `json:"data"`
	Fault      interface{}            `json:"fault"`
	Label      interface{}            `json:"controlPannelName"`
}
