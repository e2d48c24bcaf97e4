package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/state"
	"go.uber.org/zap"
)

// CommandSource yields single-character operator commands without blocking.
type CommandSource interface {
	Poll() (byte, bool)
}

// OutputSink receives one line of operator output at a time.
type OutputSink interface {
	Emit(line string)
}

// Controller is the part of control.Runner the console drives.
type Controller interface {
	Do(ctx context.Context, fn func(*control.Coordinator) error) error
	Snapshot() control.Snapshot
}

var targets = [...]float32{5.5, 6.0, 6.5, 7.0}

var manualRates = map[byte]struct {
	channel state.ChannelID
	rate    float32
}{
	'1': {state.PHUp, 30},
	'2': {state.PHDown, 25},
	'3': {state.NutrientA, 20},
	'4': {state.NutrientB, 20},
}

const (
	manualDoseML   float32 = 10
	pollInterval           = 50 * time.Millisecond
	commandTimeout         = 5 * time.Second
)

// Console interprets operator keys against a running controller.
type Console struct {
	source CommandSource
	sink   OutputSink
	ctl    Controller
	logger *zap.Logger

	targetIdx int
}

func New(source CommandSource, sink OutputSink, ctl Controller, logger *zap.Logger) *Console {
	return &Console{
		source:    source,
		sink:      sink,
		ctl:       ctl,
		logger:    logger,
		targetIdx: 2,
	}
}

// Run polls the source until ctx is cancelled.
func (c *Console) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	c.logger.Info("Operator console started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				key, ok := c.source.Poll()
				if !ok {
					break
				}
				c.Handle(ctx, key)
			}
		}
	}
}

// Handle executes one command. Unknown keys are ignored, as is everything
// while the system is shutting down.
func (c *Console) Handle(ctx context.Context, key byte) {
	if c.ctl.Snapshot().System == state.SystemShutdown {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch key {
	case 's':
		c.showCalibration(ctx)
	case 'S':
		c.showStates()
	case 'q':
		c.showChannels()

	case 'r':
		c.run(ctx, "Calibration reset to defaults and saved", func(co *control.Coordinator) error {
			return co.ResetCalibration()
		})

	case 'a':
		enabled := !c.ctl.Snapshot().AutoMode
		c.run(ctx, fmt.Sprintf("Auto pH control: %s", onOff(enabled)), func(co *control.Coordinator) error {
			co.SetAutoMode(enabled)
			return nil
		})

	case 't':
		c.targetIdx = (c.targetIdx + 1) % len(targets)
		target := targets[c.targetIdx]
		var applied float32
		err := c.ctl.Do(ctx, func(co *control.Coordinator) error {
			applied = co.SetTarget(target)
			return nil
		})
		if c.report(err) {
			c.sink.Emit(fmt.Sprintf("pH target set to %.1f", applied))
		}

	case 'm':
		c.run(ctx, fmt.Sprintf("Manual dose started: %.1fml %s", manualDoseML, state.PHUp), func(co *control.Coordinator) error {
			_, err := co.ManualDose(state.PHUp, manualDoseML)
			return err
		})

	case '1', '2', '3', '4':
		m := manualRates[key]
		c.run(ctx, fmt.Sprintf("%s started at %.1f ml/min", m.channel, m.rate), func(co *control.Coordinator) error {
			return co.ManualStart(m.channel, m.rate)
		})

	case 'R':
		if c.ctl.Snapshot().System != state.SystemError {
			c.sink.Emit("System not in ERROR - no recovery needed")
			return
		}
		c.run(ctx, "System recovered from ERROR", func(co *control.Coordinator) error {
			return co.RecoverFromError()
		})

	case 'M':
		if c.ctl.Snapshot().System == state.SystemMaintenance {
			c.run(ctx, "Maintenance mode OFF - system operational", func(co *control.Coordinator) error {
				return co.ExitMaintenance()
			})
			return
		}
		c.run(ctx, "Maintenance mode ON - pumps disabled", func(co *control.Coordinator) error {
			return co.EnterMaintenance()
		})

	case 'x':
		c.run(ctx, "EMERGENCY STOP - all pumps stopped, system in ERROR", func(co *control.Coordinator) error {
			co.EmergencyStop()
			return nil
		})

	case 'z':
		c.run(ctx, "All pumps stopped", func(co *control.Coordinator) error {
			co.StopAll()
			return nil
		})

	case 'p':
		c.sink.Emit("pH calibration: POST /api/v1/calibration/begin, GET /api/v1/calibration/sample in each buffer, POST /api/v1/calibration/ph")
	case 'e':
		c.sink.Emit("EC calibration: POST /api/v1/calibration/begin, GET /api/v1/calibration/sample in each standard, POST /api/v1/calibration/ec")
	case 'v':
		c.sink.Emit("Volume calibration: POST /api/v1/calibration/begin, GET /api/v1/calibration/sample at empty, half and full, POST /api/v1/calibration/volume")
	}
}

// run executes fn on the control loop and emits ok when it succeeds.
func (c *Console) run(ctx context.Context, ok string, fn func(*control.Coordinator) error) {
	if c.report(c.ctl.Do(ctx, fn)) {
		c.sink.Emit(ok)
	}
}

func (c *Console) report(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, control.ErrNotRunning) {
		c.sink.Emit("Controller not running")
	} else {
		c.sink.Emit(fmt.Sprintf("Command failed: %v", err))
	}
	c.logger.Debug("Console command failed", zap.Error(err))
	return false
}

func (c *Console) showCalibration(ctx context.Context) {
	var text []string
	err := c.ctl.Do(ctx, func(co *control.Coordinator) error {
		p := co.Calibration()
		text = []string{
			"=== CALIBRATION ===",
			fmt.Sprintf("pH: slope=%.5f offset=%.3f", p.PHSlope, p.PHOffset),
			fmt.Sprintf("EC: slope=%.5f offset=%.3f", p.ECSlope, p.ECOffset),
		}
		if p.VolumeCalibrated() {
			text = append(text, fmt.Sprintf("Volume: empty=%.1fcm half=%.1fcm full=%.1fcm max=%.1fL",
				p.EmptyDistance, p.HalfDistance, p.FullDistance, p.MaxVolume))
		} else {
			text = append(text, "Volume: not calibrated")
		}
		return nil
	})
	if !c.report(err) {
		return
	}
	for _, line := range text {
		c.sink.Emit(line)
	}
}

func (c *Console) showStates() {
	snap := c.ctl.Snapshot()
	c.sink.Emit("=== STATES ===")
	c.sink.Emit(fmt.Sprintf("System: %s (%dms)", snap.System, snap.SystemDurationMs))
	c.sink.Emit(fmt.Sprintf("Sensor: %s (%dms)", snap.Sensor, snap.SensorDurationMs))
	c.sink.Emit(fmt.Sprintf("Calibration: %s", snap.Calibration))
	for _, ch := range snap.Channels {
		c.sink.Emit(fmt.Sprintf("%s: %s (%dms)", ch.Channel, ch.Phase, ch.PhaseDurationMs))
	}
	if snap.Reading.Valid {
		r := snap.Reading
		c.sink.Emit(fmt.Sprintf("Reading: pH=%.2f EC=%.2f volume=%.1fL temp=%.1fC",
			r.PH, r.EC, r.VolumeLiters, r.TemperatureC))
	} else {
		c.sink.Emit("Reading: none yet")
	}
	if snap.ErrorReason != "" {
		c.sink.Emit(fmt.Sprintf("Error: %s", snap.ErrorReason))
	}
}

func (c *Console) showChannels() {
	snap := c.ctl.Snapshot()
	c.sink.Emit(fmt.Sprintf("=== PUMPS === auto=%s target=%.2f", onOff(snap.AutoMode), snap.Target))
	for _, ch := range snap.Channels {
		c.sink.Emit(fmt.Sprintf("%s: %s %dms running=%t planned=%dms duty=%.1f%% doses/h=%d total=%.1fml",
			ch.Channel, ch.Phase, ch.PhaseDurationMs, ch.Running, ch.PlannedDurationMs,
			ch.TargetDuty, ch.DosesThisHour, ch.TotalDosedML))
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
