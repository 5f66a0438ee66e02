package model

import (
	"github.com/Nourkes/iot-project/internal/model/messages"
)

// Aliases so services only import model.

type (
	Reading          = messages.Reading
	Status           = messages.Status
	Command          = messages.Command
	Action           = messages.Action
	CommandError     = messages.CommandError
	CommandErrorKind = messages.CommandErrorKind
)

const (
	StatusOnline    = messages.StatusOnline
	StatusRebooting = messages.StatusRebooting
	StatusOffline   = messages.StatusOffline

	ActionSetInterval = messages.ActionSetInterval
	ActionReboot      = messages.ActionReboot
	ActionShutdown    = messages.ActionShutdown

	InvalidValue  = messages.InvalidValue
	UnknownAction = messages.UnknownAction
	InvalidState  = messages.InvalidState
)

const (
	MinTemperature = messages.MinTemperature
	MaxTemperature = messages.MaxTemperature
	MinHumidity    = messages.MinHumidity
	MaxHumidity    = messages.MaxHumidity
	MinBattery     = messages.MinBattery
	MaxBattery     = messages.MaxBattery
)

var NewSetInterval = messages.NewSetInterval
