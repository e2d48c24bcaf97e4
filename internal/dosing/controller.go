package dosing

import (
	"math"

	"github.com/google/uuid"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/state"
	"go.uber.org/zap"
)

// Controller owns the four dosing channels. It decides whether a dose is
// permitted, sizes it, and drives each channel through
// Priming -> Dosing -> CoolingDown.
type Controller struct {
	cfg      Config
	states   *state.Manager
	actuator hardware.Actuator
	logger   *zap.Logger

	channels [state.NumChannels]*Channel
	autoPH   bool
	events   []DoseEvent
}

func NewController(cfg Config, states *state.Manager, actuator hardware.Actuator, logger *zap.Logger) *Controller {
	c := &Controller{
		cfg:      cfg,
		states:   states,
		actuator: actuator,
		logger:   logger,
	}

	now := states.Now()
	for _, id := range state.Channels() {
		c.channels[id] = &Channel{
			ID: id,
			PID: PID{
				Gains:     cfg.Gains,
				Target:    cfg.TargetPH,
				HourStart: now,
			},
		}
	}
	return c
}

// ==================== CONTROL LOOP SETTINGS ====================

func (c *Controller) AutoMode() bool {
	return c.autoPH
}

// SetAutoMode toggles automatic pH dosing. Enabling it clears PID history.
func (c *Controller) SetAutoMode(enabled bool) {
	c.autoPH = enabled
	if enabled {
		c.resetLoop()
	}
	c.logger.Info("Auto pH control changed", zap.Bool("enabled", enabled))
}

// SetTarget clamps and applies a new pH setpoint and returns the value used.
func (c *Controller) SetTarget(target float32) float32 {
	target = clamp(target, minTargetPH, maxTargetPH)
	for _, ch := range c.channels {
		ch.PID.Target = target
	}
	c.resetLoop()
	c.logger.Info("pH target changed", zap.Float32("target", target))
	return target
}

func (c *Controller) Target() float32 {
	return c.channels[state.PHUp].PID.Target
}

// SetGains clamps and applies new PID gains and returns the values used.
func (c *Controller) SetGains(g Gains) Gains {
	g = Gains{
		Kp: clamp(g.Kp, minKp, maxKp),
		Ki: clamp(g.Ki, minKi, maxKi),
		Kd: clamp(g.Kd, minKd, maxKd),
	}
	for _, ch := range c.channels {
		ch.PID.Gains = g
	}
	c.resetLoop()
	c.logger.Info("PID gains changed",
		zap.Float32("kp", g.Kp),
		zap.Float32("ki", g.Ki),
		zap.Float32("kd", g.Kd))
	return g
}

func (c *Controller) Gains() Gains {
	return c.channels[state.PHUp].PID.Gains
}

// All channels share one loop configuration.
func (c *Controller) resetLoop() {
	for _, ch := range c.channels {
		ch.PID.Reset()
	}
}

// ==================== SAFETY GATE ====================

// CanDose reports whether a dose may start on the channel now. It rolls the
// hourly window as a side effect.
func (c *Controller) CanDose(id state.ChannelID) error {
	if !id.Valid() {
		return reject(id, ReasonInvalidChannel)
	}
	ch := c.channels[id]
	now := c.states.Now()

	if c.states.Channel(id) != state.ChannelIdle {
		return reject(id, ReasonChannelBusy)
	}

	if since, dosed := ch.PID.SinceLastDose(now); dosed && since < c.cfg.MinDoseIntervalMs {
		return reject(id, ReasonDoseInterval)
	}

	ch.PID.RollHour(now)
	if ch.PID.DosesThisHour >= c.cfg.MaxDosesPerHour ||
		ch.PID.DosesWithin(now, hourMs) >= c.cfg.MaxDosesPerHour {
		return reject(id, ReasonHourlyCap)
	}

	if !c.dosingAllowed() {
		return reject(id, ReasonSystemMode)
	}

	return nil
}

func (c *Controller) dosingAllowed() bool {
	mode := c.states.System()
	return mode == state.SystemMonitoring || mode == state.SystemDosing
}

// ==================== AUTOMATIC PATH ====================

// Evaluate runs the automatic pH decision for one filtered reading. A gated
// or implausible reading is a silent no-op. At most one dose starts per call.
func (c *Controller) Evaluate(currentPH, volumeLiters float32) (DoseEvent, bool) {
	if !c.autoPH {
		return DoseEvent{}, false
	}
	if volumeLiters < c.cfg.MinVolumeLiters || volumeLiters > c.cfg.MaxVolumeLiters {
		c.logger.Debug("Volume outside dosing range", zap.Float32("volume_liters", volumeLiters))
		return DoseEvent{}, false
	}
	if currentPH < c.cfg.MinPH || currentPH > c.cfg.MaxPH {
		c.logger.Debug("pH outside dosing range", zap.Float32("ph", currentPH))
		return DoseEvent{}, false
	}

	// No deadband: anything not above target is treated as too low.
	id := state.PHUp
	if currentPH > c.Target() {
		id = state.PHDown
	}

	if err := c.CanDose(id); err != nil {
		c.logger.Debug("Automatic dose gated", zap.Error(err))
		return DoseEvent{}, false
	}

	ch := c.channels[id]
	output := ch.PID.Update(currentPH, c.cfg.IntegralLimit)
	ml := DoseVolume(output, volumeLiters, c.cfg.MinDoseML, c.cfg.MaxDoseML)
	if !(ml >= c.cfg.MinDoseML) {
		return DoseEvent{}, false
	}

	ev, err := c.startDose(id, ml, c.cfg.FlowRate, SourceAuto, currentPH)
	if err != nil {
		c.logger.Warn("Automatic dose failed to start", zap.Error(err))
		return DoseEvent{}, false
	}

	c.logger.Info("pH dose started",
		zap.Stringer("channel", id),
		zap.Float32("ml", ml),
		zap.Float32("ph", currentPH),
		zap.Float32("target", ev.Target),
		zap.Float32("volume_liters", volumeLiters))
	return ev, true
}

// ==================== MANUAL PATHS ====================

// ManualDose starts an operator-requested dose of ml (clamped to the dose
// range) through the normal priming sequence. It passes the same safety gate
// as automatic dosing.
func (c *Controller) ManualDose(id state.ChannelID, ml float32) (DoseEvent, error) {
	if err := c.CanDose(id); err != nil {
		return DoseEvent{}, err
	}

	ml = clamp(ml, c.cfg.MinDoseML, c.cfg.MaxDoseML)
	ev, err := c.startDose(id, ml, c.cfg.FlowRate, SourceManual, 0)
	if err != nil {
		return DoseEvent{}, err
	}

	c.logger.Info("Manual dose started", zap.Stringer("channel", id), zap.Float32("ml", ml))
	return ev, nil
}

// ManualStart runs a pump continuously at flowRate (clamped to the pump's
// range), skipping priming. The channel must be Idle and the system must be
// Monitoring or Dosing; the interval and hourly cap do not apply. The run is
// bounded by the actuation ceiling.
func (c *Controller) ManualStart(id state.ChannelID, flowRate float32) error {
	if !id.Valid() {
		return reject(id, ReasonInvalidChannel)
	}
	if c.states.Channel(id) != state.ChannelIdle {
		return reject(id, ReasonChannelBusy)
	}
	if !c.dosingAllowed() {
		return reject(id, ReasonSystemMode)
	}

	flowRate = clamp(flowRate, c.cfg.MinFlowRate, c.cfg.MaxFlowRate)
	ch := c.channels[id]
	ch.TargetDuty = DutyForFlowRate(flowRate)
	ch.PlannedDurationMs = c.cfg.MaxActuationMs
	ch.PhaseStart = c.states.Now()
	ch.Running = true

	// Idle -> Dosing is not a table edge; this is the operator override.
	c.states.ForceChannel(id, state.ChannelDosing)
	c.apply(ch, ch.TargetDuty)

	c.logger.Info("Manual start",
		zap.Stringer("channel", id),
		zap.Float32("flow_rate", flowRate),
		zap.Float32("duty", ch.TargetDuty))
	return nil
}

// ManualStop switches a channel's pump off. A dosing channel cools down;
// a priming or parked channel returns straight to Idle.
func (c *Controller) ManualStop(id state.ChannelID) error {
	if !id.Valid() {
		return reject(id, ReasonInvalidChannel)
	}
	ch := c.channels[id]
	c.apply(ch, 0)
	ch.Running = false

	switch phase := c.states.Channel(id); phase {
	case state.ChannelDosing:
		return c.states.TransitionChannel(id, phase, state.ChannelCoolingDown)
	case state.ChannelPriming, state.ChannelMaintenance:
		return c.states.TransitionChannel(id, phase, state.ChannelIdle)
	}
	return nil
}

// StopAll zeroes every pump and forces every channel to Idle.
func (c *Controller) StopAll() {
	for _, ch := range c.channels {
		c.forceZero(ch)
		ch.Running = false
		c.states.ForceChannel(ch.ID, state.ChannelIdle)
	}
	c.logger.Warn("All pumps stopped")
}

// ForceOff zeroes a channel's pump unconditionally. The safety monitor uses
// it before escalating a channel to Error.
func (c *Controller) ForceOff(id state.ChannelID) {
	ch := c.channels[id]
	c.forceZero(ch)
	ch.Running = false
}

// ==================== PHASE SEQUENCING ====================

func (c *Controller) startDose(id state.ChannelID, ml, flowRate float32, source Source, ph float32) (DoseEvent, error) {
	ch := c.channels[id]
	now := c.states.Now()

	durationMs := float64(ml) / float64(flowRate) * 60000
	if durationMs > float64(c.cfg.MaxActuationMs) {
		durationMs = float64(c.cfg.MaxActuationMs)
	}

	if err := c.states.TransitionChannel(id, state.ChannelIdle, state.ChannelPriming); err != nil {
		return DoseEvent{}, err
	}

	ch.PlannedDurationMs = uint32(math.Round(durationMs))
	ch.TargetDuty = DutyForFlowRate(flowRate)
	ch.PhaseStart = now
	ch.Running = true
	ch.PID.recordDose(now, ml)
	c.apply(ch, c.cfg.PrimingDuty)

	ev := DoseEvent{
		ID:          uuid.New(),
		Channel:     id,
		Source:      source,
		VolumeML:    ml,
		DurationMs:  ch.PlannedDurationMs,
		FlowRate:    flowRate,
		DutyPercent: ch.TargetDuty,
		PH:          ph,
		Target:      ch.PID.Target,
		AtMs:        now,
	}
	c.events = append(c.events, ev)
	return ev, nil
}

// Tick advances every channel's actuation phase from elapsed time.
func (c *Controller) Tick() {
	for _, ch := range c.channels {
		c.tickChannel(ch)
	}
}

func (c *Controller) tickChannel(ch *Channel) {
	phase := c.states.Channel(ch.ID)
	elapsed := c.states.ChannelDuration(ch.ID)

	switch phase {
	case state.ChannelPriming:
		if elapsed < c.cfg.PrimingWindowMs {
			c.apply(ch, c.cfg.PrimingDuty)
			ch.Running = true
			return
		}
		if err := c.states.TransitionChannel(ch.ID, phase, state.ChannelDosing); err == nil {
			c.apply(ch, ch.TargetDuty)
		}

	case state.ChannelDosing:
		if elapsed < ch.PlannedDurationMs {
			c.apply(ch, ch.TargetDuty)
			ch.Running = true
			return
		}
		c.apply(ch, 0)
		ch.Running = false
		c.states.TransitionChannel(ch.ID, phase, state.ChannelCoolingDown)
		c.logger.Info("Dose completed",
			zap.Stringer("channel", ch.ID),
			zap.Uint32("duration_ms", ch.PlannedDurationMs))

	default:
		// Idle, CoolingDown, Error and Maintenance all hold the pump off.
		c.apply(ch, 0)
		ch.Running = false
	}
}

// apply writes a duty to the actuator when it differs from the last value
// written successfully.
func (c *Controller) apply(ch *Channel, duty float32) {
	if ch.dutyKnown && ch.appliedDuty == duty {
		return
	}
	if err := c.actuator.SetDuty(ch.ID, duty); err != nil {
		ch.dutyKnown = false
		c.logger.Error("Failed to set pump duty",
			zap.Stringer("channel", ch.ID),
			zap.Float32("duty", duty),
			zap.Error(err))
		return
	}
	ch.appliedDuty = duty
	ch.dutyKnown = true
}

// forceZero writes zero even if the cached duty already says so.
func (c *Controller) forceZero(ch *Channel) {
	ch.dutyKnown = false
	c.apply(ch, 0)
}

// ==================== INSPECTION ====================

func (c *Controller) Status(id state.ChannelID) ChannelStatus {
	ch := c.channels[id]
	return ChannelStatus{
		Channel:           id,
		Phase:             c.states.Channel(id),
		PhaseDurationMs:   c.states.ChannelDuration(id),
		Running:           ch.Running,
		PlannedDurationMs: ch.PlannedDurationMs,
		TargetDuty:        ch.TargetDuty,
		AppliedDuty:       ch.appliedDuty,
		DosesThisHour:     ch.PID.DosesThisHour,
		TotalDosedML:      ch.PID.TotalDosedML,
	}
}

// PID exposes a channel's controller state for inspection and tests.
func (c *Controller) PID(id state.ChannelID) *PID {
	return &c.channels[id].PID
}

// TakeEvents returns and clears the dose events recorded since the last call.
func (c *Controller) TakeEvents() []DoseEvent {
	ev := c.events
	c.events = nil
	return ev
}
