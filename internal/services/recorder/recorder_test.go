package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Nourkes/iot-project/internal/model"
)

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (w *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, p...)
	return nil
}

var sample = model.Reading{
	DeviceID:       "virtual_sensor_001",
	Timestamp:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	Temperature:    22.5,
	Humidity:       48.25,
	Battery:        91,
	SignalStrength: -55,
	Status:         model.StatusOnline,
}

func TestReadingToPoint(t *testing.T) {
	line := write.PointToLineProtocol(ReadingToPoint(DefaultMeasurement, sample), time.Second)

	for _, want := range []string{
		"sensor_telemetry,",
		"device_id=virtual_sensor_001",
		"status=online",
		"temperature=22.5",
		"humidity=48.25",
		"battery=91i",
		"signal_strength=-55i",
		" 1772359200",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q does not contain %q", line, want)
		}
	}
}

func TestRecord(t *testing.T) {
	w := &fakeWriter{}
	rec := &Recorder{writer: w, measurement: measurementName("")}

	if err := rec.Record(context.Background(), sample); err != nil {
		t.Fatal(err)
	}
	if len(w.points) != 1 || w.points[0].Name() != DefaultMeasurement {
		t.Fatalf("points=%v", w.points)
	}

	w.err = errors.New("unauthorized")
	if err := rec.Record(context.Background(), sample); err == nil {
		t.Fatal("write error swallowed")
	}
	rec.Close()
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:8086"}); err == nil {
		t.Fatal("incomplete config accepted")
	}
}

func TestMeasurementName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "sensor_telemetry"},
		{"lab telemetry", "lab_telemetry"},
		{"a/b.c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := measurementName(tt.in); got != tt.want {
			t.Fatalf("measurementName(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}
