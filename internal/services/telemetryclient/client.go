// Package telemetryclient is the consumer side of the telemetry channel:
// it buffers inbound readings for a polling consumer and sends commands to
// the device.
package telemetryclient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/Nourkes/iot-project/internal/codec"
	"github.com/Nourkes/iot-project/internal/metrics"
	"github.com/Nourkes/iot-project/internal/model"
	"github.com/Nourkes/iot-project/pkg/messaging"
	"github.com/Nourkes/iot-project/pkg/ringbuffer"
)

// ErrStreamActive is returned by Readings while another stream is open.
var ErrStreamActive = errors.New("telemetryclient: a reading stream is already active")

// Session is the part of messaging.Session the client needs.
type Session interface {
	Subscribe(topic string, h messaging.Handler) error
	PublishWait(ctx context.Context, topic string, payload []byte) error
	State() model.SessionState
}

// PublishError means a command could not be handed to the broker.
type PublishError struct {
	Action model.Action
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Action, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type Config struct {
	TelemetryTopic string
	CommandTopic   string
	BufferSize     int
	PollInterval   time.Duration // Readings stream poll period
	SendTimeout    time.Duration

	// breaker: opens after BreakerFailures consecutive failures for BreakerOpen
	BreakerFailures int
	BreakerOpen     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = 10 * time.Second
	}
	return c
}

type Client struct {
	session   Session
	cfg       Config
	buf       *ringbuffer.Buffer[model.Reading]
	cb        *gobreaker.CircuitBreaker
	streaming atomic.Bool
}

func New(session Session, cfg Config) *Client {
	cfg = cfg.withDefaults()
	buf := ringbuffer.New[model.Reading](cfg.BufferSize)
	buf.OnDrop(func(model.Reading) { metrics.BufferOverflow.Inc() })
	return &Client{
		session: session,
		cfg:     cfg,
		buf:     buf,
		cb:      mkCB("command-publish", cfg.BreakerFailures, cfg.BreakerOpen),
	}
}

func mkCB(name string, fails int, open time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		// no connection is reported as such, it says nothing about the broker
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, messaging.ErrNotConnected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("client: breaker state changed")
		},
	})
}

// Start subscribes to the telemetry topic. The subscription is restored by
// the session after every reconnect.
func (c *Client) Start() error {
	return c.session.Subscribe(c.cfg.TelemetryTopic, c.handleReading)
}

func (c *Client) handleReading(_ string, msg mqtt.Message) error {
	r, err := codec.DecodeReading(msg.Payload())
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("telemetry", string(codec.KindOf(err))).Inc()
		log.Warn().Err(err).Msg("client: dropping reading")
		return nil
	}
	c.buf.Push(r)
	return nil
}

// Drain returns every reading received since the previous drain, in arrival
// order.
func (c *Client) Drain() []model.Reading { return c.buf.DrainAll() }

// Overflow is the number of readings evicted before a drain.
func (c *Client) Overflow() uint64 { return c.buf.Overflow() }

func (c *Client) ConnectionState() model.SessionState { return c.session.State() }

// Readings streams buffered readings until ctx is done, then closes the
// channel. Only one stream may be open at a time; a new one can be opened
// once the previous has closed. While a stream is open Drain competes with it.
func (c *Client) Readings(ctx context.Context) (<-chan model.Reading, error) {
	if !c.streaming.CompareAndSwap(false, true) {
		return nil, ErrStreamActive
	}
	out := make(chan model.Reading)
	go func() {
		defer c.streaming.Store(false)
		defer close(out)

		t := time.NewTicker(c.cfg.PollInterval)
		defer t.Stop()
		for {
			for _, r := range c.Drain() {
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return out, nil
}

// SendCommand validates cmd and publishes it on the command topic. An
// applied result means the broker accepted the command for delivery; the
// device applies it asynchronously. Invalid commands are rejected locally and
// never sent.
func (c *Client) SendCommand(ctx context.Context, cmd model.Command) (model.DispatchResult, error) {
	if cerr := cmd.Validate(); cerr != nil {
		return model.RejectedResult(cerr), nil
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	payload := codec.EncodeCommand(cmd)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.session.PublishWait(ctx, c.cfg.CommandTopic, payload)
	})
	if err != nil {
		return model.DispatchResult{}, &PublishError{Action: cmd.Action, Err: err}
	}

	log.Info().Str("action", string(cmd.Action)).Str("request_id", cmd.RequestID).Msg("client: command sent")
	return model.AppliedResult(), nil
}
