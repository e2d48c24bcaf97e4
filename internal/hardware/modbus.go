package hardware

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mykyno/hydroponik/internal/modbus"
	"github.com/mykyno/hydroponik/internal/state"
)

// RegisterIO is the subset of the Modbus client the backend needs.
type RegisterIO interface {
	ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]uint16, error)
	ReadInputRegisters(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]uint16, error)
	WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error
	Close() error
}

// ModbusBackend talks to a Modbus-TCP I/O module described by a Profile.
// Probe registers carry raw ADC counts; temperature and distance are scaled
// engineering values.
type ModbusBackend struct {
	io      RegisterIO
	profile *Profile
	timeout time.Duration
}

func NewModbusBackend(address string, profile *Profile, timeout time.Duration) (*ModbusBackend, error) {
	client := modbus.NewClient(address, timeout)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewModbusBackendWithIO(client, profile, timeout), nil
}

func NewModbusBackendWithIO(io RegisterIO, profile *Profile, timeout time.Duration) *ModbusBackend {
	return &ModbusBackend{io: io, profile: profile, timeout: timeout}
}

func (b *ModbusBackend) read(r Register) (uint16, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var regs []uint16
	var err error
	if r.Kind == RegisterHolding {
		regs, err = b.io.ReadHoldingRegisters(ctx, b.profile.UnitID, r.Address, 1)
	} else {
		regs, err = b.io.ReadInputRegisters(ctx, b.profile.UnitID, r.Address, 1)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read register %d: %w", r.Address, err)
	}
	if len(regs) != 1 {
		return 0, fmt.Errorf("register %d: expected 1 value, got %d", r.Address, len(regs))
	}
	return regs[0], nil
}

func (b *ModbusBackend) write(r Register, value uint16) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.io.WriteSingleRegister(ctx, b.profile.UnitID, r.Address, value); err != nil {
		return fmt.Errorf("failed to write register %d: %w", r.Address, err)
	}
	return nil
}

func (b *ModbusBackend) SetDuty(ch state.ChannelID, percent float32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	raw := math.Round(float64(clampDuty(percent) * b.profile.DutyScale))
	return b.write(b.profile.ChannelRegister(ch), uint16(raw))
}

func (b *ModbusBackend) ReadRaw(id SensorID) (uint16, error) {
	switch id {
	case SensorPH:
		return b.read(b.profile.Signals.PH)
	case SensorEC:
		return b.read(b.profile.Signals.EC)
	default:
		return 0, fmt.Errorf("unknown sensor: %d", id)
	}
}

func (b *ModbusBackend) ReadCelsius() (float32, error) {
	r := b.profile.Signals.Temperature
	raw, err := b.read(r)
	if err != nil {
		return 0, err
	}
	return r.value(raw), nil
}

func (b *ModbusBackend) ReadCm() (float32, error) {
	r := b.profile.Signals.Distance
	raw, err := b.read(r)
	if err != nil {
		return 0, err
	}
	return r.value(raw), nil
}

// SetSensorPower is a no-op when the profile has no power register.
func (b *ModbusBackend) SetSensorPower(on bool) error {
	if b.profile.SensorPower == nil {
		return nil
	}
	var v uint16
	if on {
		v = 1
	}
	return b.write(*b.profile.SensorPower, v)
}

// Close zeroes every duty register before dropping the connection.
func (b *ModbusBackend) Close() error {
	for _, id := range state.Channels() {
		b.SetDuty(id, 0)
	}
	return b.io.Close()
}
