package hardware

import (
	"fmt"

	"github.com/mykyno/hydroponik/internal/state"
)

// SensorID selects an analog probe.
type SensorID int

const (
	SensorPH SensorID = iota
	SensorEC
)

func (s SensorID) String() string {
	switch s {
	case SensorPH:
		return "ph"
	case SensorEC:
		return "ec"
	default:
		return "unknown"
	}
}

// Actuator drives a channel's pump. A duty of 0 switches it off.
type Actuator interface {
	SetDuty(ch state.ChannelID, percent float32) error
}

// AnalogInput returns raw ADC counts for a probe.
type AnalogInput interface {
	ReadRaw(id SensorID) (uint16, error)
}

type TemperatureSensor interface {
	ReadCelsius() (float32, error)
}

// DistanceSensor reports the distance to the liquid surface. A negative
// value is the fault sentinel.
type DistanceSensor interface {
	ReadCm() (float32, error)
}

// SensorPower gates the supply of the analog probes.
type SensorPower interface {
	SetSensorPower(on bool) error
}

// Backend bundles every capability the controller consumes.
type Backend interface {
	Actuator
	AnalogInput
	TemperatureSensor
	DistanceSensor
	SensorPower
	Close() error
}

func clampDuty(percent float32) float32 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

func checkChannel(ch state.ChannelID) error {
	if !ch.Valid() {
		return fmt.Errorf("invalid channel: %d", ch)
	}
	return nil
}
