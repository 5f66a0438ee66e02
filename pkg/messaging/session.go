// Package messaging manages the MQTT broker connection shared by the sensor,
// the subscriber and the dashboard: connection lifecycle, reconnection,
// re-subscription and a bounded queue for publishes made while offline.
package messaging

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Nourkes/iot-project/internal/metrics"
	"github.com/Nourkes/iot-project/internal/model"
	"github.com/Nourkes/iot-project/pkg/ringbuffer"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 60 * time.Second
	defaultRetryInterval  = 5 * time.Second
	defaultPendingLimit   = 256

	// extra time granted to paho before our own connect timer fires
	connectGrace      = 500 * time.Millisecond
	disconnectQuiesce = 250 // ms
)

// Config describes how to reach the broker.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	TLS      *tls.Config // nil means plain tcp

	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	RetryInterval  time.Duration // upper bound of the wait between two attempts
	PendingLimit   int           // publishes kept while disconnected
	QoS            byte
}

// BrokerURL returns the paho server URL, ssl:// when TLS is configured.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = defaultPendingLimit
	}
	if c.QoS == 0 || c.QoS > 2 {
		c.QoS = 1
	}
	if c.ClientID == "" {
		c.ClientID = "telemetry-" + uuid.NewString()[:8]
	}
	return c
}

// Handler receives one inbound message. It runs on the paho delivery
// goroutine; an error is logged, never propagated.
type Handler func(topic string, message mqtt.Message) error

type outbound struct {
	topic   string
	payload []byte
}

// Session owns one MQTT client. All methods are safe for concurrent use.
type Session struct {
	cfg       Config
	newClient func(*mqtt.ClientOptions) mqtt.Client

	// pubMu orders publishes with respect to the flush done on reconnect
	pubMu   sync.Mutex
	pending *ringbuffer.Buffer[outbound]

	// notifyMu keeps state notifications in the order states were set
	notifyMu sync.Mutex

	mu        sync.Mutex
	client    mqtt.Client
	state     model.SessionState
	started   bool
	closed    bool
	connected bool
	looping   bool
	lost      bool // connection dropped while connectLoop was still running
	ctx       context.Context
	cancel    context.CancelFunc
	subs      map[string]Handler
	listeners []func(model.SessionState)

	wg sync.WaitGroup
}

// NewSession prepares a session; nothing touches the network before Connect.
func NewSession(cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		pending:   ringbuffer.New[outbound](cfg.PendingLimit),
		state:     model.Disconnected(),
		subs:      make(map[string]Handler),
	}
	s.pending.OnDrop(func(m outbound) {
		metrics.PendingDropped.Inc()
		log.Warn().
			Str("topic", m.topic).
			Int("limit", cfg.PendingLimit).
			Msg("session: pending queue full, dropped oldest message")
	})
	return s
}

// ClientID returns the MQTT client identifier in use.
func (s *Session) ClientID() string { return s.cfg.ClientID }

// State returns the current connection state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether publishes currently go straight to the broker.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Pending returns the number of publishes waiting for a connection.
func (s *Session) Pending() int { return s.pending.Len() }

// OnStateChange registers fn for every state transition. fn runs on a
// session goroutine; it must not block and must not call Disconnect.
func (s *Session) OnStateChange(fn func(model.SessionState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Connect starts negotiating with the broker in background and returns
// immediately. The outcome is reported through OnStateChange. Cancelling ctx
// is equivalent to calling Disconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.client = s.newClient(s.clientOptions())
	sessCtx := s.ctx
	s.mu.Unlock()

	log.Info().Str("broker", s.cfg.BrokerURL()).Str("client_id", s.cfg.ClientID).Msg("session: connecting")
	s.startLoop()

	go func() {
		<-sessCtx.Done()
		s.Disconnect()
	}()
	return nil
}

// Disconnect aborts any reconnection in progress, waits for it and closes the
// connection. Calling it more than once is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	started, cancel, client := s.started, s.cancel, s.client
	s.mu.Unlock()

	if !started {
		return
	}
	cancel()
	s.wg.Wait()
	client.Disconnect(disconnectQuiesce)
	s.setState(model.Disconnected(), nil)
	log.Info().Msg("session: disconnected")
}

// Publish sends payload with the session QoS without waiting for the broker.
// While disconnected the message is queued and sent, in order, after the next
// successful connect; when the queue is full the oldest message is dropped.
func (s *Session) Publish(topic string, payload []byte) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	closed, connected, client := s.closed, s.connected, s.client
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if connected {
		err := failedNow(client.Publish(topic, s.cfg.QoS, false, payload))
		if err == nil {
			metrics.MessagesPublished.Inc()
			return nil
		}
		log.Debug().Err(err).Str("topic", topic).Msg("session: publish refused, queueing")
	}
	s.enqueue(outbound{topic: topic, payload: payload})
	return nil
}

// PublishWait publishes and waits for the broker acknowledgement. It fails
// with ErrNotConnected instead of queueing.
func (s *Session) PublishWait(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	closed, connected, client := s.closed, s.connected, s.client
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !connected {
		return ErrNotConnected
	}
	tok := client.Publish(topic, s.cfg.QoS, false, payload)
	if err := waitToken(ctx, tok, s.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.MessagesPublished.Inc()
	return nil
}

// Subscribe registers h for topic. The subscription survives reconnects.
func (s *Session) Subscribe(topic string, h Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.subs[topic] = h
	connected, client := s.connected, s.client
	s.mu.Unlock()

	if !connected {
		return nil // done by the next onConnected
	}
	tok := client.Subscribe(topic, s.cfg.QoS, s.route(h))
	if err := waitToken(context.Background(), tok, s.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Info().Str("topic", topic).Msg("session: subscribed")
	return nil
}

// Unsubscribe removes the handler registered for topic.
func (s *Session) Unsubscribe(topic string) error {
	s.mu.Lock()
	delete(s.subs, topic)
	connected, client := s.connected && !s.closed, s.client
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return waitToken(context.Background(), client.Unsubscribe(topic), s.cfg.ConnectTimeout)
}

func (s *Session) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL())
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.User)
	opts.SetPassword(s.cfg.Password)
	if s.cfg.TLS != nil {
		opts.SetTLSConfig(s.cfg.TLS)
	}
	// persistent session: QoS1 messages are redelivered after a reconnect
	opts.SetCleanSession(false)
	// reconnection is driven by connectLoop
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetKeepAlive(s.cfg.KeepAlive)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	return opts
}

func (s *Session) startLoop() {
	s.mu.Lock()
	if s.closed || s.looping {
		s.mu.Unlock()
		return
	}
	s.looping = true
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.connectLoop(ctx)
	}()
}

func (s *Session) connectLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInterval / 4
	if bo.InitialInterval < time.Millisecond {
		bo.InitialInterval = time.Millisecond
	}
	bo.MaxInterval = s.cfg.RetryInterval
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0 // retry until Disconnect

	err := backoff.RetryNotify(
		func() error { return s.attempt(ctx) },
		backoff.WithContext(bo, ctx),
		func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("session: connect attempt failed")
		},
	)
	if err == nil {
		return // looping already reset by onConnected
	}

	s.mu.Lock()
	s.looping = false
	s.mu.Unlock()

	if ctx.Err() == nil {
		log.Error().Err(err).Msg("session: giving up, operator action required")
	}
}

func (s *Session) attempt(ctx context.Context) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	s.setState(model.Connecting(), nil)
	metrics.Reconnects.Inc()

	s.mu.Lock()
	client := s.client
	s.lost = false
	s.mu.Unlock()

	if err := waitToken(ctx, client.Connect(), s.cfg.ConnectTimeout+connectGrace); err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		cerr := classifyConnectError(err)
		s.setState(model.Failed(cerr.Reason), nil)
		if cerr.Reason == model.ReasonAuthRejected {
			return backoff.Permanent(cerr)
		}
		return cerr
	}

	if err := s.onConnected(ctx); err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		cerr := classifyConnectError(err)
		s.setState(model.Failed(cerr.Reason), nil)
		return cerr
	}
	return nil
}

// onConnected restores subscriptions, flushes the pending queue and only
// then opens the direct publish path.
func (s *Session) onConnected(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	subs := make(map[string]Handler, len(s.subs))
	for t, h := range s.subs {
		subs[t] = h
	}
	s.mu.Unlock()

	topics := make([]string, 0, len(subs))
	for topic, h := range subs {
		tok := client.Subscribe(topic, s.cfg.QoS, s.route(h))
		if err := waitToken(ctx, tok, s.cfg.ConnectTimeout); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		topics = append(topics, topic)
	}

	s.pubMu.Lock()
	queued := s.pending.DrainAll()
	for i, m := range queued {
		if err := failedNow(client.Publish(m.topic, s.cfg.QoS, false, m.payload)); err != nil {
			for _, rest := range queued[i:] {
				s.pending.Push(rest)
			}
			metrics.PendingQueued.Set(float64(s.pending.Len()))
			s.pubMu.Unlock()
			return fmt.Errorf("flush pending: %w", err)
		}
		metrics.MessagesPublished.Inc()
	}
	metrics.PendingQueued.Set(0)

	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		s.pubMu.Unlock()
		return errConnectionLost
	}
	s.connected = !s.closed
	s.looping = false
	s.mu.Unlock()
	s.pubMu.Unlock()

	s.setState(model.Connected(), func() bool { return s.connected })
	log.Info().Strs("topics", topics).Int("flushed", len(queued)).Msg("session: connected")
	return nil
}

func (s *Session) onConnectionLost(_ mqtt.Client, err error) {
	s.mu.Lock()
	was := s.connected
	s.connected = false
	if s.looping {
		s.lost = true
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	log.Warn().Err(err).Msg("session: connection lost, reconnecting")
	if was {
		s.setState(model.Disconnected(), nil)
	}
	s.startLoop()
}

func (s *Session) enqueue(m outbound) {
	s.pending.Push(m)
	metrics.PendingQueued.Set(float64(s.pending.Len()))
}

// setState records st and notifies listeners. When guard is not nil it is
// evaluated under the lock and the transition is skipped if it returns false.
func (s *Session) setState(st model.SessionState, guard func() bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if guard != nil && !guard() {
		s.mu.Unlock()
		return
	}
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	listeners := append([]func(model.SessionState){}, s.listeners...)
	s.mu.Unlock()

	metrics.ObserveSessionState(st)
	for _, fn := range listeners {
		fn(st)
	}
}

func (s *Session) route(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", m.Topic()).Msg("session: handler panicked")
			}
		}()
		if err := h(m.Topic(), m); err != nil {
			log.Warn().Err(err).Str("topic", m.Topic()).Msg("session: error handling message")
		}
	}
}

// failedNow returns the token error if the token already completed with one.
func failedNow(tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	default:
		return nil
	}
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errWaitTimeout
	}
}
