// Dual carriage coordination core - top level assembly
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

// Controller assembles the coordination core from a parsed machine config
// and exposes the operation surface the gcode and API layers drive. All
// methods run on the host's single command-processing goroutine.
type Controller struct {
	machine *config.MachineConfig

	ap     *motion.AxisPosition
	queues [motion.NumCarriages]*motion.Queue
	solver motion.Solver

	guard       *SafetyGuard
	binder      *Binder
	modes       *ModeController
	coordinator *Coordinator
	faults      *FaultMonitor

	extruders []Extruder
	logger    *log.Logger
}

// NewController wires the coordination core together over the given
// solver.
func NewController(machine *config.MachineConfig, solver motion.Solver,
	bus *events.Bus, logger *log.Logger) *Controller {
	dc := machine.DualCarriage
	ap := motion.NewAxisPosition(dc.Primary.PositionEndstop, dc.Secondary.PositionEndstop)

	c := &Controller{
		machine: machine,
		ap:      ap,
		solver:  solver,
		logger:  logger,
	}
	for i := 0; i < motion.NumCarriages; i++ {
		carriage := i
		c.queues[i] = motion.NewQueue(carriage, solver, func(mv motion.Move) {
			ap.SetActual(carriage, mv.Target)
		})
	}

	var extruders []Extruder
	for i, ec := range machine.Extruders {
		extruders = append(extruders, Extruder{Name: ec.Name, Carriage: i})
	}
	c.extruders = extruders

	var fans []string
	for _, fc := range machine.Fans {
		fans = append(fans, fc.Name)
	}

	tools := make([]Tool, 0, len(machine.Tools))
	for _, tc := range machine.Tools {
		park := carriageFor(dc, tc.Carriage).ParkPosition
		if tc.ParkPosition != nil {
			park = *tc.ParkPosition
		}
		tools = append(tools, Tool{
			Number:       tc.Number,
			Carriage:     tc.Carriage,
			Extruder:     tc.Extruder,
			Fan:          tc.Fan,
			ParkPosition: park,
			Offset:       tc.GcodeOffset,
		})
	}

	c.guard = NewSafetyGuard(ap, dc.SafeDistance, bus, logger)
	c.binder = NewBinder(c.queues, ap, solver, extruders, bus, logger)
	c.modes = NewModeController(dc, ap, c.guard, c.binder, c.queues, solver, extruders, bus, logger)
	c.coordinator = NewCoordinator(tools, extruders, fans, c.modes, bus, logger)
	c.faults = NewFaultMonitor(c.queues, c.binder, bus, logger)
	c.faults.OnFault(func(int, string) { c.modes.resetAfterFault() })
	return c
}

func carriageFor(dc config.DualCarriageConfig, id int) config.CarriageConfig {
	if id == 0 {
		return dc.Primary
	}
	return dc.Secondary
}

// Axis returns the shared axis position tracker.
func (c *Controller) Axis() *motion.AxisPosition { return c.ap }

// Guard returns the separation guard.
func (c *Controller) Guard() *SafetyGuard { return c.guard }

// Binder returns the motion-queue binder.
func (c *Controller) Binder() *Binder { return c.binder }

// Modes returns the carriage mode state machine.
func (c *Controller) Modes() *ModeController { return c.modes }

// Coordinator returns the tool activation coordinator.
func (c *Controller) Coordinator() *Coordinator { return c.coordinator }

// Faults returns the fault stop monitor.
func (c *Controller) Faults() *FaultMonitor { return c.faults }

// Machine returns the parsed machine description.
func (c *Controller) Machine() *config.MachineConfig { return c.machine }

// Move commands the active carriage on the shared axis.
func (c *Controller) Move(target, speed float64) error {
	if err := c.faults.CheckOperational(); err != nil {
		return err
	}
	return c.modes.Move(target, speed)
}

// Home homes the given carriage.
func (c *Controller) Home(carriage int) error {
	if err := c.faults.CheckOperational(); err != nil {
		return err
	}
	return c.modes.Home(carriage)
}

// SetMode transitions a carriage's operating mode.
func (c *Controller) SetMode(carriage int, mode CarriageMode) error {
	if err := c.faults.CheckOperational(); err != nil {
		return err
	}
	return c.modes.SetMode(carriage, mode)
}

// SelectCarriage switches which carriage subsequent axis commands target.
func (c *Controller) SelectCarriage(carriage int) error {
	if err := c.faults.CheckOperational(); err != nil {
		return err
	}
	return c.modes.SelectCarriage(carriage)
}

// ActivateTool runs the atomic tool activation sequence.
func (c *Controller) ActivateTool(tool int) error {
	if err := c.faults.CheckOperational(); err != nil {
		return err
	}
	return c.coordinator.ActivateTool(tool)
}

// SyncExtruderMotion binds the named extruder's motion to the carriage
// that drives motionQueue's extruder, preserving the current relative
// offset. An empty motionQueue unbinds.
func (c *Controller) SyncExtruderMotion(extruder, motionQueue string) error {
	if err := c.faults.CheckOperational(); err != nil {
		return err
	}
	if motionQueue == "" {
		return c.binder.Unbind(extruder)
	}
	slave, ok := c.carriageOfExtruder(extruder)
	if !ok {
		return errors.RuntimeError(fmt.Sprintf("unknown extruder '%s'", extruder))
	}
	master, ok := c.carriageOfExtruder(motionQueue)
	if !ok {
		return errors.RuntimeError(fmt.Sprintf("unknown motion queue '%s'", motionQueue))
	}
	offset := c.ap.Get(slave) - c.ap.Get(master)
	return c.binder.Bind(extruder, master, CopyTransform(offset))
}

func (c *Controller) carriageOfExtruder(name string) (int, bool) {
	for _, e := range c.extruders {
		if e.Name == name {
			return e.Carriage, true
		}
	}
	return 0, false
}

// Status returns the dual_carriage status object reported over the API.
func (c *Controller) Status() map[string]interface{} {
	ts := c.coordinator.State()
	return map[string]interface{}{
		"carriage_0":      c.modes.Mode(0).String(),
		"carriage_1":      c.modes.Mode(1).String(),
		"active_carriage": c.modes.ActiveCarriage(),
		"positions":       []float64{c.ap.Get(0), c.ap.Get(1)},
		"homed":           []bool{c.ap.IsHomed(0), c.ap.IsHomed(1)},
		"safe_distance":   c.guard.SafeDistance(),
		"active_tool":     ts.ActiveTool,
		"active_extruder": ts.ActiveExtruder,
		"fault":           c.faults.Status(),
	}
}
