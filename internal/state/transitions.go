package state

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is the sentinel behind every rejected transition.
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine names one of the state machines held by the Manager.
type Machine string

const (
	MachineSystem      Machine = "system"
	MachineSensor      Machine = "sensor"
	MachineCalibration Machine = "calibration"
)

// MachineChannel returns the machine name of a dosing channel.
func MachineChannel(id ChannelID) Machine {
	return Machine("channel:" + id.String())
}

type TransitionError struct {
	Machine  Machine
	From     string
	To       string
	Expected string // set when the caller's expected current phase was stale
}

func (e *TransitionError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("invalid state transition: %s %s -> %s (expected %s)",
			e.Machine, e.From, e.To, e.Expected)
	}
	return fmt.Sprintf("invalid state transition: %s %s -> %s", e.Machine, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var systemTransitions = map[SystemMode][]SystemMode{
	SystemStartup:      {SystemInitializing},
	SystemInitializing: {SystemMonitoring},
	SystemMonitoring:   {SystemDosing, SystemCalibrating},
	SystemDosing:       {SystemMonitoring},
	SystemCalibrating:  {SystemMonitoring},
	SystemError:        {SystemMonitoring, SystemInitializing},
	SystemMaintenance:  {SystemMonitoring},
	SystemShutdown:     {SystemStartup},
}

var systemEmergency = []SystemMode{SystemError, SystemMaintenance, SystemShutdown}

var channelTransitions = map[ChannelPhase][]ChannelPhase{
	ChannelIdle:        {ChannelPriming},
	ChannelPriming:     {ChannelDosing},
	ChannelDosing:      {ChannelCoolingDown},
	ChannelCoolingDown: {ChannelIdle},
	ChannelError:       {ChannelIdle},
	ChannelMaintenance: {ChannelIdle},
}

var channelEmergency = []ChannelPhase{ChannelIdle, ChannelError, ChannelMaintenance}

var sensorTransitions = map[SensorPhase][]SensorPhase{
	SensorInitializing: {SensorReady},
	SensorWarmingUp:    {SensorReading},
	SensorReading:      {SensorFiltering},
	SensorFiltering:    {SensorReady},
	SensorReady:        {SensorWarmingUp},
	SensorError:        {SensorInitializing, SensorReady},
}

var sensorEmergency = []SensorPhase{SensorError}

func allowed[T comparable](table map[T][]T, emergency []T, from, to T) bool {
	if slices.Contains(emergency, to) {
		return true
	}
	return slices.Contains(table[from], to)
}

// ValidateSystemTransition reports whether from -> to is a legal system edge.
func ValidateSystemTransition(from, to SystemMode) error {
	if allowed(systemTransitions, systemEmergency, from, to) {
		return nil
	}
	return &TransitionError{Machine: MachineSystem, From: from.String(), To: to.String()}
}

func ValidateChannelTransition(id ChannelID, from, to ChannelPhase) error {
	if allowed(channelTransitions, channelEmergency, from, to) {
		return nil
	}
	return &TransitionError{Machine: MachineChannel(id), From: from.String(), To: to.String()}
}

func ValidateSensorTransition(from, to SensorPhase) error {
	if allowed(sensorTransitions, sensorEmergency, from, to) {
		return nil
	}
	return &TransitionError{Machine: MachineSensor, From: from.String(), To: to.String()}
}

// IsSystemEmergency reports whether mode is reachable from any system mode.
func IsSystemEmergency(mode SystemMode) bool {
	return slices.Contains(systemEmergency, mode)
}

func IsChannelEmergency(phase ChannelPhase) bool {
	return slices.Contains(channelEmergency, phase)
}
