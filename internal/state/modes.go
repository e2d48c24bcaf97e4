package state

import (
	"fmt"
	"strconv"
	"strings"
)

// SystemMode is the top-level operating mode of the controller.
type SystemMode int

const (
	SystemStartup SystemMode = iota
	SystemInitializing
	SystemMonitoring
	SystemDosing
	SystemCalibrating
	SystemError
	SystemMaintenance
	SystemShutdown
)

func (m SystemMode) String() string {
	switch m {
	case SystemStartup:
		return "STARTUP"
	case SystemInitializing:
		return "INITIALIZING"
	case SystemMonitoring:
		return "MONITORING"
	case SystemDosing:
		return "DOSING"
	case SystemCalibrating:
		return "CALIBRATING"
	case SystemError:
		return "ERROR"
	case SystemMaintenance:
		return "MAINTENANCE"
	case SystemShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

func (m SystemMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ChannelPhase is the actuation phase of a single dosing channel.
type ChannelPhase int

const (
	ChannelIdle ChannelPhase = iota
	ChannelPriming
	ChannelDosing
	ChannelCoolingDown
	ChannelError
	ChannelMaintenance
)

func (p ChannelPhase) String() string {
	switch p {
	case ChannelIdle:
		return "IDLE"
	case ChannelPriming:
		return "PRIMING"
	case ChannelDosing:
		return "DOSING"
	case ChannelCoolingDown:
		return "COOLING_DOWN"
	case ChannelError:
		return "ERROR"
	case ChannelMaintenance:
		return "MAINTENANCE"
	default:
		return "UNKNOWN"
	}
}

func (p ChannelPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// SensorPhase is the phase of the acquisition cycle.
type SensorPhase int

const (
	SensorInitializing SensorPhase = iota
	SensorWarmingUp
	SensorReading
	SensorFiltering
	SensorReady
	SensorError
)

func (p SensorPhase) String() string {
	switch p {
	case SensorInitializing:
		return "INITIALIZING"
	case SensorWarmingUp:
		return "WARMING_UP"
	case SensorReading:
		return "READING"
	case SensorFiltering:
		return "FILTERING"
	case SensorReady:
		return "READY"
	case SensorError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (p SensorPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type CalibrationPhase int

const (
	CalibrationIdle CalibrationPhase = iota
	CalibrationActive
)

func (p CalibrationPhase) String() string {
	switch p {
	case CalibrationIdle:
		return "IDLE"
	case CalibrationActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

func (p CalibrationPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ChannelID identifies one of the four dosing lines.
type ChannelID int

const (
	PHUp ChannelID = iota
	PHDown
	NutrientA
	NutrientB
)

// NumChannels is the number of dosing channels wired to the controller.
const NumChannels = 4

func (c ChannelID) String() string {
	switch c {
	case PHUp:
		return "pH_Up"
	case PHDown:
		return "pH_Down"
	case NutrientA:
		return "Nut_A"
	case NutrientB:
		return "Nut_B"
	default:
		return "UNKNOWN"
	}
}

func (c ChannelID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c ChannelID) Valid() bool {
	return c >= 0 && c < NumChannels
}

// Channels lists every channel in index order.
func Channels() []ChannelID {
	return []ChannelID{PHUp, PHDown, NutrientA, NutrientB}
}

// ParseChannel accepts a channel name (case-insensitive) or its index.
func ParseChannel(s string) (ChannelID, error) {
	for _, id := range Channels() {
		if strings.EqualFold(s, id.String()) {
			return id, nil
		}
	}

	n, err := strconv.Atoi(s)
	if err == nil && ChannelID(n).Valid() {
		return ChannelID(n), nil
	}

	return 0, fmt.Errorf("unknown channel: %q", s)
}
