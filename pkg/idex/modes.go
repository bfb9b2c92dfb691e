// Dual carriage support - carriage mode state machine
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package idex

import (
	"fmt"

	"idex-host/pkg/config"
	"idex-host/pkg/errors"
	"idex-host/pkg/events"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

// ModeController is the state machine governing each carriage's operating
// mode and which carriage incoming axis commands target. Mode transitions
// take effect only between motions, never mid-move.
type ModeController struct {
	cfg    config.DualCarriageConfig
	ap     *motion.AxisPosition
	guard  *SafetyGuard
	binder *Binder
	queues [motion.NumCarriages]*motion.Queue
	solver motion.Solver
	bus    *events.Bus
	logger *log.Logger

	// extruderFor maps each carriage to its home extruder.
	extruderFor [motion.NumCarriages]string

	// mode is the secondary carriage's mode; the primary is always
	// INDEPENDENT.
	mode   CarriageMode
	active int

	// exclusive marks a multi-command critical section (mode transition
	// or tool activation); new motion commands are rejected while held.
	exclusive bool
}

// NewModeController creates the state machine over the shared axis.
func NewModeController(cfg config.DualCarriageConfig, ap *motion.AxisPosition, guard *SafetyGuard,
	binder *Binder, queues [motion.NumCarriages]*motion.Queue, solver motion.Solver,
	extruders []Extruder, bus *events.Bus, logger *log.Logger) *ModeController {
	mc := &ModeController{
		cfg:    cfg,
		ap:     ap,
		guard:  guard,
		binder: binder,
		queues: queues,
		solver: solver,
		bus:    bus,
		logger: logger,
		mode:   ModeIndependent,
		active: 0,
	}
	for _, e := range extruders {
		if e.Carriage >= 0 && e.Carriage < motion.NumCarriages {
			mc.extruderFor[e.Carriage] = e.Name
		}
	}
	return mc
}

// Mode returns the carriage's operating mode.
func (mc *ModeController) Mode(carriage int) CarriageMode {
	if carriage == 0 {
		return ModeIndependent
	}
	return mc.mode
}

// ActiveCarriage returns the carriage that incoming axis motion commands
// currently target.
func (mc *ModeController) ActiveCarriage() int {
	return mc.active
}

// acquireExclusive starts a scoped critical section spanning multiple
// motion commands. The returned release must run on all exit paths.
func (mc *ModeController) acquireExclusive() (release func(), err error) {
	if mc.exclusive {
		return nil, errors.RuntimeError("another mode transition or tool activation is in progress")
	}
	mc.exclusive = true
	return func() { mc.exclusive = false }, nil
}

// Move routes an axis motion command to the active carriage.
func (mc *ModeController) Move(target, speed float64) error {
	if mc.exclusive {
		return errors.RuntimeError("motion rejected: exclusive operation in progress")
	}
	return mc.moveCarriage(mc.active, target, speed)
}

// MoveCarriage routes an axis motion command to an explicit carriage.
func (mc *ModeController) MoveCarriage(carriage int, target, speed float64) error {
	if mc.exclusive {
		return errors.RuntimeError("motion rejected: exclusive operation in progress")
	}
	return mc.moveCarriage(carriage, target, speed)
}

func (mc *ModeController) moveCarriage(carriage int, target, speed float64) error {
	if carriage < 0 || carriage >= motion.NumCarriages {
		return errors.RuntimeError(fmt.Sprintf("invalid carriage %d", carriage))
	}
	if mc.binder.CarriageIsSlave(carriage) {
		return errors.RuntimeError(fmt.Sprintf(
			"carriage %d is in %s mode; its position is derived from the master", carriage, mc.mode))
	}
	// When the other carriage is a bound slave it moves in tandem, so the
	// separation is fixed at binding time; checking against its pre-move
	// position here would reject valid moves.
	if !mc.binder.CarriageIsSlave(1 - carriage) {
		if err := mc.guard.ValidateMove(carriage, target); err != nil {
			return err
		}
	}
	mc.ap.Set(carriage, target)
	q := mc.queues[carriage]
	q.Submit(target, speed)
	return q.Drain()
}

// Home homes one carriage: the carriage moves to its endstop and its
// position resets there. If the other carriage has not homed yet the
// separation check is skipped and a warning-grade error is returned;
// homing still proceeds.
func (mc *ModeController) Home(carriage int) error {
	if carriage < 0 || carriage >= motion.NumCarriages {
		return errors.RuntimeError(fmt.Sprintf("invalid carriage %d", carriage))
	}
	if mc.binder.CarriageIsSlave(carriage) {
		return errors.RuntimeError(fmt.Sprintf("cannot home carriage %d while in %s mode", carriage, mc.mode))
	}
	warn := mc.guard.ValidateHoming(carriage)
	if warn != nil && !errors.IsWarning(warn) {
		return warn
	}

	cc := mc.carriageConfig(carriage)
	if err := mc.solver.QueueMove(carriage, cc.PositionEndstop, cc.HomingSpeed); err != nil {
		return errors.RuntimeErrorQueue("homing move", err.Error())
	}
	mc.ap.ResetToEndstop(carriage)
	mc.logger.Info("carriage %d homed at %.3f", carriage, cc.PositionEndstop)
	return warn
}

func (mc *ModeController) carriageConfig(carriage int) config.CarriageConfig {
	if carriage == 0 {
		return mc.cfg.Primary
	}
	return mc.cfg.Secondary
}

// SelectCarriage changes which physical stepper subsequent axis motion
// commands target. Valid only while the target carriage is INDEPENDENT;
// it does not alter the active extruder.
func (mc *ModeController) SelectCarriage(carriage int) error {
	if carriage < 0 || carriage >= motion.NumCarriages {
		return errors.RuntimeError(fmt.Sprintf("invalid carriage %d", carriage))
	}
	if mc.Mode(carriage) != ModeIndependent || mc.binder.CarriageIsSlave(carriage) {
		return errors.InvalidTransitionError(carriage, mc.Mode(carriage).String(), "ACTIVE",
			"carriage is not independently addressable")
	}
	mc.active = carriage
	return nil
}

// SetMode transitions the carriage's operating mode. COPY and MIRROR
// require both carriages to first park at well-defined reference
// positions; the binding then applies at a queue-drain boundary.
// Requesting the current mode is an idempotent no-op with a reported
// warning.
func (mc *ModeController) SetMode(carriage int, mode CarriageMode) error {
	if carriage == 0 && mode != ModeIndependent {
		return errors.InvalidTransitionError(carriage, ModeIndependent.String(), mode.String(),
			"the primary carriage is always INDEPENDENT")
	}
	if carriage == 0 {
		return nil
	}
	if carriage != 1 {
		return errors.RuntimeError(fmt.Sprintf("invalid carriage %d", carriage))
	}

	current := mc.mode
	if mode == current {
		msg := fmt.Sprintf("carriage %d already in %s mode", carriage, mode)
		mc.bus.Publish(events.TypeInvalidTransition, msg, map[string]interface{}{
			"carriage": carriage, "mode": mode.String(),
		})
		mc.logger.Warn("%s", msg)
		return nil
	}

	release, err := mc.acquireExclusive()
	if err != nil {
		return err
	}
	defer release()

	switch {
	case mode == ModeIndependent:
		return mc.leaveBoundMode(carriage, current)
	case current != ModeIndependent:
		// COPY <-> MIRROR must pass through INDEPENDENT so the rebind
		// starts from parked reference positions.
		return errors.InvalidTransitionError(carriage, current.String(), mode.String(),
			"switch to INDEPENDENT first")
	default:
		return mc.enterBoundMode(carriage, mode)
	}
}

// enterBoundMode parks both carriages at their reference positions, binds
// the slave's extruder to the master's queue and marks the new mode.
func (mc *ModeController) enterBoundMode(carriage int, mode CarriageMode) error {
	if !mc.ap.IsHomed(0) || !mc.ap.IsHomed(1) {
		return errors.InvalidTransitionError(carriage, ModeIndependent.String(), mode.String(),
			"both carriages must be homed before parking")
	}

	masterPark := mc.cfg.Primary.ParkPosition
	slavePark := mc.referencePosition(mode)
	var t Transform
	if mode == ModeCopy {
		t = CopyTransform(slavePark - masterPark)
	} else {
		t = MirrorTransform(slavePark + masterPark)
	}

	// Binding-time safety: the derived slave position at the parked
	// reference must itself honor the separation invariant, since the
	// invariant is not re-checked continuously in bound modes.
	if err := mc.guard.ValidateMove(carriage, slavePark); err != nil {
		return err
	}

	// Park the slave first so the master's retreat cannot collide.
	if err := mc.moveCarriage(carriage, slavePark, mc.cfg.Secondary.HomingSpeed); err != nil {
		return err
	}
	if err := mc.moveCarriage(0, masterPark, mc.cfg.Primary.HomingSpeed); err != nil {
		return err
	}

	slaveExtruder := mc.extruderFor[carriage]
	if err := mc.binder.Bind(slaveExtruder, 0, t); err != nil {
		return err
	}
	mc.mode = mode
	mc.active = 0

	mc.bus.Publish(events.TypeModeSwitched, fmt.Sprintf("carriage %d now in %s mode", carriage, mode),
		map[string]interface{}{"carriage": carriage, "mode": mode.String()})
	mc.logger.Info("carriage %d switched to %s (master parked %.3f, slave parked %.3f)",
		carriage, mode, masterPark, slavePark)
	return nil
}

// leaveBoundMode unbinds the slave and restores independent addressing.
// The slave's position stays at its last bound-derived value; no implicit
// re-home is required.
func (mc *ModeController) leaveBoundMode(carriage int, from CarriageMode) error {
	slaveExtruder := mc.extruderFor[carriage]
	if err := mc.binder.Unbind(slaveExtruder); err != nil {
		return err
	}
	mc.mode = ModeIndependent

	mc.bus.Publish(events.TypeModeSwitched, fmt.Sprintf("carriage %d now in INDEPENDENT mode", carriage),
		map[string]interface{}{"carriage": carriage, "mode": ModeIndependent.String()})
	mc.logger.Info("carriage %d switched %s -> INDEPENDENT at %.3f", carriage, from, mc.ap.Get(carriage))
	return nil
}

// resetAfterFault clears bound-mode bookkeeping after a fault flush
// dropped the binding out from under the state machine.
func (mc *ModeController) resetAfterFault() {
	if mc.mode == ModeIndependent {
		return
	}
	if !mc.binder.CarriageIsSlave(1) {
		mc.mode = ModeIndependent
		mc.active = 0
	}
}

// referencePosition returns the slave's parking reference for a bound
// mode: the axis midpoint for COPY (each carriage covers half the axis),
// the far end for MIRROR.
func (mc *ModeController) referencePosition(mode CarriageMode) float64 {
	axisMin := mc.cfg.Primary.PositionEndstop
	axisMax := mc.cfg.Secondary.PositionMax
	if mode == ModeCopy {
		return (axisMin + axisMax) / 2
	}
	return axisMax
}
