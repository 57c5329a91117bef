package rbtmodels

import "time"

// Payload channels reported by the robot controller
const (
	ChannelDeviceID   = "CH1"
	ChannelAux        = "CH6"
	ChannelFault      = "CH7"
	ChannelCumulative = "CH10"

	// ChannelLabel carries the operator-facing panel name, which is the device id channel
	ChannelLabel = ChannelDeviceID
)

// EventKindUp is the uplink event kind; it is the only kind carrying a decoded object
const EventKindUp = "up"

// UplinkEvent is an inbound device event decoded from the MQTT topic and body
type UplinkEvent struct {
	ApplicationID string                 `json:"application_id" bson:"application_id"`
	DeviceEUI     string                 `json:"device_eui" bson:"device_eui"`
	Kind          string                 `json:"kind" bson:"kind"`
	Topic         string                 `json:"topic" bson:"topic"`
	Object        map[string]interface{} `json:"object" bson:"object"`
	ReceivedAt    time.Time              `json:"received_at" bson:"received_at"`
}

// RosterDevice is a device registered in the network server application
type RosterDevice struct {
	DevEUI      string     `json:"devEui"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
}

// MulticastGroup is a named set of devices addressed by a single downlink
type MulticastGroup struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
}

// Gateway is a gateway registered under the tenant
type Gateway struct {
	GatewayID   string           `json:"gatewayId"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Location    *GatewayLocation `json:"location,omitempty"`
	State       string           `json:"state,omitempty"`
	LastSeenAt  *time.Time       `json:"lastSeenAt,omitempty"`
}

// GatewayLocation is the position reported for a gateway
type GatewayLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}
