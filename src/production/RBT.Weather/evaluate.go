package weather

import "fmt"

// Snapshot is the weather at the fleet location. Rain is the last hour in mm,
// wind speed is m/s and humidity is percent.
type Snapshot struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	Rain        float64 `json:"rain"`
}

// Decision is the gate verdict; Reason names the first violated condition
type Decision struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"message,omitempty"`
}

// Evaluate checks rain (when enabled), then wind, then humidity. A value equal
// to its limit passes.
func Evaluate(s Snapshot, t Thresholds) Decision {
	if t.RainEnabled && s.Rain > 0 {
		return Decision{Reason: fmt.Sprintf("Operation disabled due to rain detection: %v mm", s.Rain)}
	}
	if s.WindSpeed > t.WindSpeed {
		return Decision{Reason: fmt.Sprintf("Wind speed exceeds the threshold: %v m/s", s.WindSpeed)}
	}
	if s.Humidity > t.Humidity {
		return Decision{Reason: fmt.Sprintf("Humidity exceeds the threshold: %v%%", s.Humidity)}
	}
	return Decision{Valid: true}
}
