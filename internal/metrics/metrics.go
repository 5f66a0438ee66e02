// Package metrics holds the Prometheus collectors shared by the sensor,
// subscriber and dashboard processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Nourkes/iot-project/internal/model"
)

var (
	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_messages_published_total",
		Help: "Messages handed to the MQTT client for publication.",
	})

	PendingDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_pending_dropped_total",
		Help: "Messages dropped from the pending queue while the session was disconnected.",
	})

	PendingQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_pending_messages",
		Help: "Messages waiting for the session to reconnect.",
	})

	BufferOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_buffer_overflow_total",
		Help: "Items evicted from the consumer hand-off buffer before being drained.",
	})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_decode_errors_total",
		Help: "Inbound records rejected by the codec.",
	}, []string{"channel", "kind"})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_commands_total",
		Help: "Commands dispatched on the device, by action and outcome.",
	}, []string{"action", "outcome"})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_session_connect_attempts_total",
		Help: "Broker connection attempts, initial one included.",
	})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telemetry_session_state",
		Help: "1 for the current session status, 0 otherwise.",
	}, []string{"status"})
)

var statuses = []model.SessionStatus{
	model.SessionDisconnected,
	model.SessionConnecting,
	model.SessionConnected,
	model.SessionFailed,
}

// ObserveSessionState flips the session state gauge to st.
func ObserveSessionState(st model.SessionState) {
	for _, s := range statuses {
		v := 0.0
		if s == st.Status {
			v = 1
		}
		sessionState.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveCommand records one dispatch outcome.
func ObserveCommand(action model.Action, res model.DispatchResult) {
	label := string(action)
	if !action.Known() {
		label = "unknown"
	}
	Commands.WithLabelValues(label, string(res.Outcome)).Inc()
}
