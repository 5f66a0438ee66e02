// Package codec converts readings and commands to and from the textual JSON
// records carried on the telemetry and command channels.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Nourkes/iot-project/internal/model"
)

// ErrorKind classifies a decode failure.
type ErrorKind string

const (
	Malformed    ErrorKind = "malformed"
	MissingField ErrorKind = "missing_field"
	OutOfRange   ErrorKind = "out_of_range"
)

// DecodeError is the only error returned by the Decode functions.
type DecodeError struct {
	Kind  ErrorKind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode: ")
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" field=")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *DecodeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == kind
}

// KindOf returns the kind of a decode error, used as a metric label.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return Malformed
}

// naiveISO is an ISO-8601 timestamp without offset, read as UTC.
const naiveISO = "2006-01-02T15:04:05.999999999"

// wire forms use pointers so that an absent key is distinguishable from a zero value.
type wireReading struct {
	DeviceID       *string  `json:"device_id"`
	Timestamp      *string  `json:"timestamp"`
	Temperature    *float64 `json:"temperature"`
	Humidity       *float64 `json:"humidity"`
	Battery        *float64 `json:"battery"`
	SignalStrength *float64 `json:"signal_strength"`
	Status         *string  `json:"status"`
}

type wireCommand struct {
	Action    *string  `json:"action"`
	Value     *float64 `json:"value"`
	RequestID string   `json:"request_id"`
}

type outReading struct {
	DeviceID       string       `json:"device_id"`
	Timestamp      string       `json:"timestamp"`
	Temperature    float64      `json:"temperature"`
	Humidity       float64      `json:"humidity"`
	Battery        int          `json:"battery"`
	SignalStrength int          `json:"signal_strength"`
	Status         model.Status `json:"status"`
}

// EncodeReading serializes r. Readings built by the sensor always satisfy the
// codec bounds, so encoding does not fail.
func EncodeReading(r model.Reading) []byte {
	b, err := json.Marshal(outReading{
		DeviceID:       r.DeviceID,
		Timestamp:      r.Timestamp.UTC().Format(time.RFC3339Nano),
		Temperature:    r.Temperature,
		Humidity:       r.Humidity,
		Battery:        r.Battery,
		SignalStrength: r.SignalStrength,
		Status:         r.Status,
	})
	if err != nil {
		// only reachable with NaN/Inf, which the sensor never produces
		panic(fmt.Sprintf("codec: encode reading: %v", err))
	}
	return b
}

// DecodeReading parses a telemetry record. Every failure is a *DecodeError.
func DecodeReading(payload []byte) (model.Reading, error) {
	var w wireReading
	if err := unmarshalStrict(payload, &w); err != nil {
		return model.Reading{}, err
	}

	switch {
	case w.DeviceID == nil:
		return model.Reading{}, missing("device_id")
	case w.Timestamp == nil:
		return model.Reading{}, missing("timestamp")
	case w.Temperature == nil:
		return model.Reading{}, missing("temperature")
	case w.Humidity == nil:
		return model.Reading{}, missing("humidity")
	case w.Battery == nil:
		return model.Reading{}, missing("battery")
	case w.SignalStrength == nil:
		return model.Reading{}, missing("signal_strength")
	case w.Status == nil:
		return model.Reading{}, missing("status")
	}

	if strings.TrimSpace(*w.DeviceID) == "" {
		return model.Reading{}, &DecodeError{Kind: MissingField, Field: "device_id", Err: errors.New("empty")}
	}
	ts, err := parseTimestamp(*w.Timestamp)
	if err != nil {
		return model.Reading{}, &DecodeError{Kind: Malformed, Field: "timestamp", Err: err}
	}
	if err := inRange("temperature", *w.Temperature, model.MinTemperature, model.MaxTemperature); err != nil {
		return model.Reading{}, err
	}
	if err := inRange("humidity", *w.Humidity, model.MinHumidity, model.MaxHumidity); err != nil {
		return model.Reading{}, err
	}
	battery, err := integral("battery", *w.Battery)
	if err != nil {
		return model.Reading{}, err
	}
	if battery < model.MinBattery || battery > model.MaxBattery {
		return model.Reading{}, outOfRange("battery", *w.Battery)
	}
	signal, err := integral("signal_strength", *w.SignalStrength)
	if err != nil {
		return model.Reading{}, err
	}
	status := model.Status(*w.Status)
	if !status.Valid() {
		return model.Reading{}, &DecodeError{Kind: OutOfRange, Field: "status", Err: fmt.Errorf("unknown status %q", *w.Status)}
	}

	return model.Reading{
		DeviceID:       *w.DeviceID,
		Timestamp:      ts,
		Temperature:    *w.Temperature,
		Humidity:       *w.Humidity,
		Battery:        battery,
		SignalStrength: signal,
		Status:         status,
	}, nil
}

// EncodeCommand serializes c, omitting value when it is not set.
func EncodeCommand(c model.Command) []byte {
	b, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("codec: encode command: %v", err))
	}
	return b
}

// DecodeCommand parses a command record. An unknown action is syntactically
// valid here; the dispatcher rejects it.
func DecodeCommand(payload []byte) (model.Command, error) {
	var w wireCommand
	if err := unmarshalStrict(payload, &w); err != nil {
		return model.Command{}, err
	}
	if w.Action == nil || strings.TrimSpace(*w.Action) == "" {
		return model.Command{}, missing("action")
	}
	cmd := model.Command{
		Action:    model.Action(strings.TrimSpace(*w.Action)),
		RequestID: w.RequestID,
	}
	if w.Value != nil {
		v, err := integral("value", *w.Value)
		if err != nil {
			return model.Command{}, err
		}
		cmd.Value = &v
	}
	return cmd, nil
}

func unmarshalStrict(payload []byte, out any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &DecodeError{Kind: Malformed, Err: errors.New("payload is not a JSON object")}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &DecodeError{Kind: Malformed, Err: err}
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(naiveISO, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("not an ISO-8601 instant: %q", s)
	}
	return t, nil
}

func inRange(field string, v, lo, hi float64) error {
	if math.IsNaN(v) || v < lo || v > hi {
		return outOfRange(field, v)
	}
	return nil
}

func integral(field string, v float64) (int, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, &DecodeError{Kind: Malformed, Field: field, Err: fmt.Errorf("%v is not an integer", v)}
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, outOfRange(field, v)
	}
	return int(v), nil
}

func missing(field string) *DecodeError {
	return &DecodeError{Kind: MissingField, Field: field}
}

func outOfRange(field string, v float64) *DecodeError {
	return &DecodeError{Kind: OutOfRange, Field: field, Err: fmt.Errorf("value %v", v)}
}
