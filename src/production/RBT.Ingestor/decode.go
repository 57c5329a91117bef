package ingestor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

var (
	// ErrInvalidTopic is returned for topics outside application/<app>/device/<eui>/event/<kind>
	ErrInvalidTopic = errors.New("invalid uplink topic")
	// ErrMalformedPayload is returned when the body is not a JSON envelope with an object map
	ErrMalformedPayload = errors.New("malformed uplink payload")
	// ErrMissingDeviceID is returned when the device id channel is absent or not a number
	ErrMissingDeviceID = errors.New("uplink has no usable device id")
)

type envelope struct {
	DeviceInfo map[string]interface{} `json:"deviceInfo"`
	Object     map[string]interface{} `json:"object"`
}

// ParseTopic splits application/<app>/device/<eui>/event/<kind>
func ParseTopic(topic string) (applicationID, deviceEUI, kind string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 || parts[0] != "application" || parts[2] != "device" || parts[4] != "event" {
		return "", "", "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	if parts[1] == "" || parts[3] == "" || parts[5] == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return parts[1], parts[3], parts[5], nil
}

// DecodeUplink parses the JSON body of an up event. The object map is required.
func DecodeUplink(topic string, payload []byte, receivedAt time.Time) (*rbtmodels.UplinkEvent, error) {
	applicationID, deviceEUI, kind, err := ParseTopic(topic)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Object == nil {
		return nil, fmt.Errorf("%w: missing object", ErrMalformedPayload)
	}

	return &rbtmodels.UplinkEvent{
		ApplicationID: applicationID,
		DeviceEUI:     deviceEUI,
		Kind:          kind,
		Topic:         topic,
		Object:        env.Object,
		ReceivedAt:    receivedAt,
	}, nil
}

// ChannelFloat reads a numeric channel. Numbers and numeric strings are accepted;
// anything else, including a missing channel, is NaN.
func ChannelFloat(object map[string]interface{}, channel string) float64 {
	switch v := object[channel].(type) {
	case float64:
		return v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// DeviceID reads the device id channel, truncating fractional values
func DeviceID(object map[string]interface{}) (int64, error) {
	v := ChannelFloat(object, rbtmodels.ChannelDeviceID)
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt64/2 {
		return 0, fmt.Errorf("%w: %v", ErrMissingDeviceID, object[rbtmodels.ChannelDeviceID])
	}
	return int64(v), nil
}
