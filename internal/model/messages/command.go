package messages

import "fmt"

// Action names a control instruction sent on the command channel.
type Action string

const (
	ActionSetInterval Action = "set_interval"
	ActionReboot      Action = "reboot"
	ActionShutdown    Action = "shutdown"
)

// Known reports whether a is an action the device understands.
func (a Action) Known() bool {
	switch a {
	case ActionSetInterval, ActionReboot, ActionShutdown:
		return true
	}
	return false
}

// Command is one control instruction. Value is only meaningful (and required)
// for set_interval, where it holds the new sampling interval in seconds.
// RequestID is optional and lets the device drop QoS1 redeliveries.
type Command struct {
	Action    Action `json:"action"`
	Value     *int   `json:"value,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewSetInterval builds a set_interval command.
func NewSetInterval(seconds int) Command {
	v := seconds
	return Command{Action: ActionSetInterval, Value: &v}
}

// CommandErrorKind classifies a rejected command.
type CommandErrorKind string

const (
	InvalidValue  CommandErrorKind = "invalid_value"
	UnknownAction CommandErrorKind = "unknown_action"
	InvalidState  CommandErrorKind = "invalid_state"
)

// CommandError is returned to the command sender, it is never fatal.
type CommandError struct {
	Kind   CommandErrorKind `json:"kind"`
	Action Action           `json:"action"`
	Detail string           `json:"detail,omitempty"`
}

func (e *CommandError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("command %q rejected: %s", e.Action, e.Kind)
	}
	return fmt.Sprintf("command %q rejected: %s (%s)", e.Action, e.Kind, e.Detail)
}

// Validate checks the command on its own, without looking at device state.
func (c Command) Validate() *CommandError {
	switch c.Action {
	case ActionSetInterval:
		if c.Value == nil {
			return &CommandError{Kind: InvalidValue, Action: c.Action, Detail: "missing value"}
		}
		if *c.Value <= 0 {
			return &CommandError{Kind: InvalidValue, Action: c.Action, Detail: fmt.Sprintf("value %d must be > 0", *c.Value)}
		}
	case ActionReboot, ActionShutdown:
	default:
		return &CommandError{Kind: UnknownAction, Action: c.Action}
	}
	return nil
}
