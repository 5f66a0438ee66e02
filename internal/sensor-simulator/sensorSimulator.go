package sensor_simulator

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/Nourkes/iot-project/internal/codec"
	"github.com/Nourkes/iot-project/internal/metrics"
	"github.com/Nourkes/iot-project/pkg/dedup"
	"github.com/Nourkes/iot-project/pkg/messaging"
)

type SensorSimulator struct {
	sensor     *Sensor
	dispatcher *Dispatcher
	publisher  messaging.IPublisher
	consumer   messaging.IConsumer
	deduper    *dedup.Deduper
}

func NewSensorSimulator(consumer messaging.IConsumer, publisher messaging.IPublisher,
	sensor *Sensor, dispatcher *Dispatcher) *SensorSimulator {
	return &SensorSimulator{
		sensor:     sensor,
		dispatcher: dispatcher,
		publisher:  publisher,
		consumer:   consumer,
		deduper:    dedup.New(2*time.Minute, 10000),
	}
}

// Start receives commands and publishes one reading per interval until ctx
// is cancelled or the sensor goes offline. The first reading is immediate.
// The interval is read again before every wait so set_interval applies from
// the next cycle.
func (s *SensorSimulator) Start(ctx context.Context) {
	s.consumer.SetHandler(s.handleMessage)
	go s.consumer.ConsumeMessage(ctx)
	defer s.publisher.Close()

	for {
		s.publishTick()

		select {
		case <-ctx.Done():
			return
		case <-s.sensor.Done():
			log.Info().Str("device_id", s.sensor.DeviceID()).Msg("sensor: offline, publishing stopped")
			return
		case <-time.After(s.sensor.Interval()):
		}
	}
}

func (s *SensorSimulator) publishTick() {
	r, ok := s.sensor.Tick()
	if !ok {
		log.Debug().Str("status", string(s.sensor.Status())).Msg("sensor: tick skipped")
		return
	}
	log.Debug().
		Str("device_id", r.DeviceID).
		Float64("temperature", r.Temperature).
		Float64("humidity", r.Humidity).
		Msg("sensor: pub reading")
	if err := s.publisher.PublishMessage(codec.EncodeReading(r)); err != nil {
		log.Error().Err(err).Msg("sensor: publish error")
	}
}

func (s *SensorSimulator) handleMessage(_ string, msg mqtt.Message) error {
	payload := msg.Payload()
	cmd, err := codec.DecodeCommand(payload)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("command", string(codec.KindOf(err))).Inc()
		log.Warn().Err(err).Bytes("payload", payload).Msg("sensor: dropping command")
		return nil
	}

	// Every command is remembered; only an explicit id or the broker DUP flag
	// lets a repeat be dropped, so two identical manual reboots both apply.
	key := cmd.RequestID
	if key == "" {
		key = dedup.PayloadKey(payload)
	}
	if fresh := s.deduper.ShouldProcess(key); !fresh && (cmd.RequestID != "" || msg.Duplicate()) {
		log.Debug().Str("action", string(cmd.Action)).Msg("sensor: duplicate command ignored")
		return nil
	}

	s.dispatcher.Dispatch(cmd)
	return nil
}
