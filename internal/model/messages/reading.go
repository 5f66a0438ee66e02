package messages

import "time"

// Status is the lifecycle state reported by the simulated device.
type Status string

const (
	StatusOnline    Status = "online"
	StatusRebooting Status = "rebooting"
	StatusOffline   Status = "offline"
)

// Valid reports whether s is one of the known device states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusRebooting, StatusOffline:
		return true
	}
	return false
}

// Physical bounds of a reading. Temperature and humidity are clamped by the
// producer, the codec rejects anything outside them.
const (
	MinTemperature = 15.0
	MaxTemperature = 35.0
	MinHumidity    = 30.0
	MaxHumidity    = 80.0
	MinBattery     = 0
	MaxBattery     = 100
)

// Reading is one telemetry sample published on the telemetry channel.
// A Reading is a value: every tick builds a new one.
type Reading struct {
	DeviceID       string    `json:"device_id"`
	Timestamp      time.Time `json:"timestamp"`
	Temperature    float64   `json:"temperature"`     // °C
	Humidity       float64   `json:"humidity"`        // %
	Battery        int       `json:"battery"`         // %
	SignalStrength int       `json:"signal_strength"` // dBm
	Status         Status    `json:"status"`
}

// Equal compares two readings, timestamps by instant.
func (r Reading) Equal(o Reading) bool {
	return r.DeviceID == o.DeviceID &&
		r.Timestamp.Equal(o.Timestamp) &&
		r.Temperature == o.Temperature &&
		r.Humidity == o.Humidity &&
		r.Battery == o.Battery &&
		r.SignalStrength == o.SignalStrength &&
		r.Status == o.Status
}
