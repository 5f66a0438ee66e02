// Package recorder stores readings in InfluxDB.
package recorder

import (
	"context"
	"fmt"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/Nourkes/iot-project/internal/model"
)

const DefaultMeasurement = "sensor_telemetry"

type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Recorder struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

func New(cfg Config) (*Recorder, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurementName(cfg.Measurement),
	}, nil
}

// ReadingToPoint maps a reading to one point: device and status are tags,
// the samples are fields.
func ReadingToPoint(measurement string, r model.Reading) *write.Point {
	tags := map[string]string{
		"device_id": r.DeviceID,
		"status":    string(r.Status),
	}
	fields := map[string]interface{}{
		"temperature":     r.Temperature,
		"humidity":        r.Humidity,
		"battery":         r.Battery,
		"signal_strength": r.SignalStrength,
	}
	return influxdb2.NewPoint(measurement, tags, fields, r.Timestamp)
}

func (rec *Recorder) Record(ctx context.Context, r model.Reading) error {
	if err := rec.writer.WritePoint(ctx, ReadingToPoint(rec.measurement, r)); err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	log.Debug().Str("measurement", rec.measurement).Str("device_id", r.DeviceID).Msg("recorder: wrote reading")
	return nil
}

func (rec *Recorder) Close() {
	if rec.client != nil {
		rec.client.Close()
	}
}

func measurementName(s string) string {
	if s == "" {
		s = DefaultMeasurement
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
