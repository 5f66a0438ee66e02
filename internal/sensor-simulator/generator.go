package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Nourkes/iot-project/internal/model"
)

const (
	initialTemperature = 22.0
	initialHumidity    = 50.0

	tempStep     = 0.5 // max drift per tick, °C
	humidityStep = 2.0 // max drift per tick, %

	minBatteryReading = 85
	maxBatteryReading = 100
	minSignal         = -70
	maxSignal         = -30

	defaultInterval = 5 * time.Second
	defaultSettle   = 2 * time.Second
)

type stopper interface{ Stop() bool }

// Option customises a Sensor.
type Option func(*Sensor)

func WithInterval(d time.Duration) Option {
	return func(s *Sensor) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSettleDelay(d time.Duration) Option {
	return func(s *Sensor) {
		if d > 0 {
			s.settle = d
		}
	}
}

// WithRand makes the random walk reproducible.
func WithRand(r *rand.Rand) Option { return func(s *Sensor) { s.rng = r } }

func WithClock(now func() time.Time) Option { return func(s *Sensor) { s.now = now } }

// Sensor is the simulated device. It owns the physical state and its status
// and is safe for concurrent use by the tick loop and the command handler.
type Sensor struct {
	mu          sync.Mutex
	deviceID    string
	status      model.Status
	temperature float64
	humidity    float64
	interval    time.Duration
	settle      time.Duration
	lastTS      time.Time

	rng       *rand.Rand
	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
	settling  stopper
	done      chan struct{}
}

func NewSensor(deviceID string, opts ...Option) *Sensor {
	s := &Sensor{
		deviceID:    deviceID,
		status:      model.StatusOnline,
		temperature: initialTemperature,
		humidity:    initialHumidity,
		interval:    defaultInterval,
		settle:      defaultSettle,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sensor) DeviceID() string { return s.deviceID }

func (s *Sensor) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Interval is the current sampling period.
func (s *Sensor) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Done is closed when the sensor goes offline.
func (s *Sensor) Done() <-chan struct{} { return s.done }

// Tick advances the simulation by one sample. It produces nothing unless the
// sensor is online.
func (s *Sensor) Tick() (model.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusOnline {
		return model.Reading{}, false
	}

	s.temperature = clamp(s.temperature+s.uniform(tempStep), model.MinTemperature, model.MaxTemperature)
	s.humidity = clamp(s.humidity+s.uniform(humidityStep), model.MinHumidity, model.MaxHumidity)

	ts := s.now().UTC()
	// strictly increasing, so consumers can drop redeliveries by timestamp
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = ts

	return model.Reading{
		DeviceID:       s.deviceID,
		Timestamp:      ts,
		Temperature:    round2(s.temperature),
		Humidity:       round2(s.humidity),
		Battery:        minBatteryReading + s.rng.Intn(maxBatteryReading-minBatteryReading+1),
		SignalStrength: minSignal + s.rng.Intn(maxSignal-minSignal+1),
		Status:         s.status,
	}, true
}

// SetInterval changes the sampling period. It refuses non-positive values
// and an offline sensor.
func (s *Sensor) SetInterval(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 || s.status == model.StatusOffline {
		return false
	}
	s.interval = d
	return true
}

// Reboot moves an online sensor to rebooting and schedules its return online
// after the settle delay. It never waits for the delay.
func (s *Sensor) Reboot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusOnline {
		return false
	}
	s.status = model.StatusRebooting
	s.settling = s.afterFunc(s.settle, s.settleDone)
	return true
}

func (s *Sensor) settleDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// a shutdown during the settle delay wins
	if s.status == model.StatusRebooting {
		s.status = model.StatusOnline
	}
	s.settling = nil
}

// Shutdown turns the sensor off for good. Repeated calls are no-ops.
func (s *Sensor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == model.StatusOffline {
		return
	}
	if s.settling != nil {
		s.settling.Stop()
		s.settling = nil
	}
	s.status = model.StatusOffline
	close(s.done)
}

// uniform returns a value in [-step, step).
func (s *Sensor) uniform(step float64) float64 {
	return (s.rng.Float64()*2 - 1) * step
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
