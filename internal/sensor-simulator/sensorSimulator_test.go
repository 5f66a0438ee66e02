package sensor_simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Nourkes/iot-project/internal/codec"
	"github.com/Nourkes/iot-project/internal/metrics"
	"github.com/Nourkes/iot-project/internal/model"
	"github.com/Nourkes/iot-project/pkg/messaging"
)

type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func (p *fakePublisher) PublishMessage(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type fakeConsumer struct {
	mu      sync.Mutex
	handler messaging.Handler
}

func (c *fakeConsumer) SetHandler(h messaging.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *fakeConsumer) ConsumeMessage(ctx context.Context) { <-ctx.Done() }

type fakeMessage struct {
	payload []byte
	dup     bool
}

func (m fakeMessage) Duplicate() bool   { return m.dup }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "sensors/temperature/command" }
func (m fakeMessage) MessageID() uint16 { return 7 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestSimulator(opts ...Option) (*SensorSimulator, *Sensor, *fakePublisher) {
	s, _ := newTestSensor(opts...)
	pub := &fakePublisher{}
	sim := NewSensorSimulator(&fakeConsumer{}, pub, s, NewDispatcher(s, nil))
	return sim, s, pub
}

func TestHandleMessageDedup(t *testing.T) {
	sim, s, _ := newTestSimulator()
	applied := metrics.Commands.WithLabelValues("set_interval", "applied")
	before := testutil.ToFloat64(applied)
	delta := func() float64 { return testutil.ToFloat64(applied) - before }

	plain := []byte(`{"action":"set_interval","value":3}`)
	_ = sim.handleMessage("", fakeMessage{payload: plain})
	_ = sim.handleMessage("", fakeMessage{payload: plain})
	if d := delta(); d != 2 {
		t.Fatalf("applied=%v want 2, repeated commands without id both apply", d)
	}

	_ = sim.handleMessage("", fakeMessage{payload: plain, dup: true})
	if d := delta(); d != 2 {
		t.Fatalf("applied=%v want 2, redelivery must be dropped", d)
	}

	withID := []byte(`{"action":"set_interval","value":4,"request_id":"r-1"}`)
	_ = sim.handleMessage("", fakeMessage{payload: withID})
	_ = sim.handleMessage("", fakeMessage{payload: withID})
	if d := delta(); d != 3 {
		t.Fatalf("applied=%v want 3", d)
	}
	if s.Interval() != 4*time.Second {
		t.Fatalf("interval=%v want 4s", s.Interval())
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	sim, s, _ := newTestSimulator(WithInterval(5 * time.Second))
	malformed := metrics.DecodeErrors.WithLabelValues("command", string(codec.Malformed))
	before := testutil.ToFloat64(malformed)

	if err := sim.handleMessage("", fakeMessage{payload: []byte(`{"action":`)}); err != nil {
		t.Fatalf("err=%v, decode errors are not returned", err)
	}
	if d := testutil.ToFloat64(malformed) - before; d != 1 {
		t.Fatalf("decode errors=%v want 1", d)
	}
	if s.Interval() != 5*time.Second || s.Status() != model.StatusOnline {
		t.Fatal("state changed by a malformed command")
	}
}

func TestStartPublishesUntilShutdown(t *testing.T) {
	sim, s, pub := newTestSimulator(WithInterval(5 * time.Millisecond))

	done := make(chan struct{})
	go func() {
		sim.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d readings published", pub.count())
		}
		time.Sleep(time.Millisecond)
	}

	_ = sim.handleMessage("", fakeMessage{payload: []byte(`{"action":"shutdown"}`)})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after shutdown")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if !pub.closed {
		t.Fatal("publisher not closed")
	}
	var last time.Time
	for i, p := range pub.payloads {
		r, err := codec.DecodeReading(p)
		if err != nil {
			t.Fatalf("reading %d: %v", i, err)
		}
		if r.Timestamp.Before(last) {
			t.Fatalf("reading %d out of order", i)
		}
		last = r.Timestamp
	}
	if s.Status() != model.StatusOffline {
		t.Fatalf("status=%s", s.Status())
	}
}

func TestStartStopsOnContext(t *testing.T) {
	sim, _, pub := newTestSimulator(WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sim.Start(ctx)
		close(done)
	}()
	// the first reading does not wait for the interval
	deadline := time.Now().Add(time.Second)
	for pub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no immediate reading")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
