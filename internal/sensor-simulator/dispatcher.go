package sensor_simulator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nourkes/iot-project/internal/metrics"
	"github.com/Nourkes/iot-project/internal/model"
)

// Dispatcher applies commands to a Sensor. Every command gets exactly one
// result, applied or rejected.
type Dispatcher struct {
	sensor     *Sensor
	onShutdown func()
}

// NewDispatcher binds a dispatcher to sensor. onShutdown, when set, runs
// after a shutdown has been applied (the sensor process disconnects there).
func NewDispatcher(sensor *Sensor, onShutdown func()) *Dispatcher {
	return &Dispatcher{sensor: sensor, onShutdown: onShutdown}
}

func (d *Dispatcher) Dispatch(cmd model.Command) model.DispatchResult {
	res := d.dispatch(cmd)
	metrics.ObserveCommand(cmd.Action, res)

	ev := log.Info()
	if !res.IsApplied() {
		ev = log.Warn().Str("reason", string(res.Err.Kind))
	}
	ev.Str("action", string(cmd.Action)).
		Str("outcome", string(res.Outcome)).
		Str("status", string(d.sensor.Status())).
		Msg("sensor: command dispatched")
	return res
}

func (d *Dispatcher) dispatch(cmd model.Command) model.DispatchResult {
	if err := cmd.Validate(); err != nil {
		return model.RejectedResult(err)
	}

	switch cmd.Action {
	case model.ActionSetInterval:
		if !d.sensor.SetInterval(time.Duration(*cmd.Value) * time.Second) {
			return d.invalidState(cmd)
		}
	case model.ActionReboot:
		if !d.sensor.Reboot() {
			return d.invalidState(cmd)
		}
	case model.ActionShutdown:
		d.sensor.Shutdown()
		if d.onShutdown != nil {
			d.onShutdown()
		}
	}
	return model.AppliedResult()
}

func (d *Dispatcher) invalidState(cmd model.Command) model.DispatchResult {
	return model.RejectedResult(&model.CommandError{
		Kind:   model.InvalidState,
		Action: cmd.Action,
		Detail: fmt.Sprintf("sensor is %s", d.sensor.Status()),
	})
}
