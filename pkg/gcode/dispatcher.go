// G-Code command dispatch
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"fmt"
	"strings"

	"idex-host/pkg/errors"
	"idex-host/pkg/idex"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

// Handler executes one parsed command.
type Handler func(cmd *Command) error

// Dispatcher routes parsed gcode commands to their handlers. Commands
// execute strictly in arrival order on the caller's goroutine.
type Dispatcher struct {
	ctrl    *idex.Controller
	ms      *MoveState
	logger  *log.Logger
	respond func(string)

	handlers map[string]Handler
}

// NewDispatcher wires the command surface over the controller. The
// coordinator's motion scope and offset sink are registered here so tool
// activation parks transparently and offsets flow into the coordinate
// state.
func NewDispatcher(ctrl *idex.Controller, logger *log.Logger) *Dispatcher {
	d := &Dispatcher{
		ctrl:     ctrl,
		ms:       NewMoveState(ctrl, ctrl.Machine().DualCarriage.Axis),
		logger:   logger,
		handlers: make(map[string]Handler),
	}
	d.respond = func(msg string) { d.logger.Info("%s", msg) }

	ctrl.Coordinator().SetMotionScope(d.ms)
	ctrl.Coordinator().SetOffsetSink(d.ms.SetToolOffset)

	d.Register("G0", d.cmdG1)
	d.Register("G1", d.cmdG1)
	d.Register("G28", d.cmdG28)
	d.Register("G90", func(*Command) error { d.ms.SetAbsolute(true); return nil })
	d.Register("G91", func(*Command) error { d.ms.SetAbsolute(false); return nil })
	d.Register("G92", d.cmdG92)
	d.Register("M114", d.cmdM114)
	d.Register("M112", d.cmdM112)
	d.Register("FIRMWARE_RESTART", d.cmdFirmwareRestart)
	d.Register("T0", func(*Command) error { return d.activateTool(0) })
	d.Register("T1", func(*Command) error { return d.activateTool(1) })
	d.Register("SET_DUAL_CARRIAGE", d.cmdSetDualCarriage)
	d.Register("SYNC_EXTRUDER_MOTION", d.cmdSyncExtruderMotion)
	d.Register("ACTIVATE_EXTRUDER", d.cmdActivateExtruder)
	d.Register("ACTIVATE_FAN", d.cmdActivateFan)
	d.Register("SET_GCODE_OFFSET", d.ms.OffsetCommand)
	d.Register("SAVE_GCODE_STATE", d.cmdSaveState)
	d.Register("RESTORE_GCODE_STATE", d.cmdRestoreState)
	return d
}

// SetResponder redirects command output (M114 and friends).
func (d *Dispatcher) SetResponder(fn func(string)) {
	d.respond = fn
}

// MoveState returns the coordinate state, for status reporting.
func (d *Dispatcher) MoveState() *MoveState {
	return d.ms
}

// Register installs a handler, replacing any previous one.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[strings.ToUpper(name)] = h
}

// Execute parses and runs one gcode line. Warning-grade errors (homing
// order) are reported and swallowed; everything else propagates.
func (d *Dispatcher) Execute(line string) error {
	cmd, err := ParseLine(line)
	if err != nil {
		return err
	}
	if cmd == nil {
		return nil
	}
	return d.ExecuteCommand(cmd)
}

// ExecuteCommand runs one parsed command.
func (d *Dispatcher) ExecuteCommand(cmd *Command) error {
	h, ok := d.handlers[cmd.Name]
	if !ok {
		return errors.GCodeUnknownCommandError(cmd.Name)
	}
	err := h(cmd)
	if err != nil && errors.IsWarning(err) {
		d.respond("// " + err.Error())
		return nil
	}
	return err
}

// ExecuteScript runs newline-separated gcode lines, stopping at the
// first error.
func (d *Dispatcher) ExecuteScript(script string) error {
	for _, line := range strings.Split(script, "\n") {
		if err := d.Execute(line); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) cmdG1(cmd *Command) error {
	return d.ms.MoveCommand(cmd)
}

// cmdG28 homes the shared axis: the primary carriage first, then the
// secondary. The first homing legitimately runs with the other carriage
// unverified; the resulting warning is reported, not fatal.
func (d *Dispatcher) cmdG28(cmd *Command) error {
	axisArg := strings.ToUpper(d.ctrl.Machine().DualCarriage.Axis)
	if len(cmd.Args) > 0 && !cmd.HasArg(axisArg) {
		return nil
	}
	for carriage := 0; carriage < motion.NumCarriages; carriage++ {
		if err := d.ctrl.Home(carriage); err != nil {
			if errors.IsWarning(err) {
				d.respond("// " + err.Error())
				continue
			}
			return err
		}
	}
	d.ms.SyncSharedAxis()
	return nil
}

func (d *Dispatcher) cmdG92(cmd *Command) error {
	anySet := false
	for i, name := range axisNames {
		if !cmd.HasArg(name) {
			continue
		}
		v, err := cmd.FloatArg(name, 0)
		if err != nil {
			return err
		}
		d.ms.SetBase(i, v)
		anySet = true
	}
	if !anySet {
		d.ms.ResetBase()
	}
	return nil
}

func (d *Dispatcher) cmdM114(*Command) error {
	pos := d.ms.Position()
	d.respond(fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f", pos[0], pos[1], pos[2]))
	return nil
}

// cmdM112 is the emergency stop: fault-stops the active carriage and
// flushes its pending bound commands.
func (d *Dispatcher) cmdM112(*Command) error {
	d.ctrl.Faults().TriggerFaultStop(d.ctrl.Modes().ActiveCarriage(), "M112 emergency stop")
	return nil
}

func (d *Dispatcher) cmdFirmwareRestart(*Command) error {
	if err := d.ctrl.Faults().Reset(); err != nil {
		return err
	}
	d.ms.SyncSharedAxis()
	return nil
}

func (d *Dispatcher) activateTool(tool int) error {
	if err := d.ctrl.ActivateTool(tool); err != nil {
		return err
	}
	d.ms.SyncSharedAxis()
	return nil
}

func (d *Dispatcher) cmdSetDualCarriage(cmd *Command) error {
	carriage, err := cmd.RequireInt("CARRIAGE")
	if err != nil {
		return err
	}
	if cmd.HasArg("MODE") {
		raw := strings.ToUpper(cmd.StrArg("MODE", ""))
		mode, ok := idex.ParseCarriageMode(raw)
		if !ok {
			return errors.GCodeInvalidParameterError(cmd.Name, "MODE", raw,
				"expected INDEPENDENT, COPY or MIRROR")
		}
		if err := d.ctrl.SetMode(carriage, mode); err != nil {
			return err
		}
		d.ms.SyncSharedAxis()
		return nil
	}
	if err := d.ctrl.SelectCarriage(carriage); err != nil {
		return err
	}
	d.ms.SyncSharedAxis()
	return nil
}

func (d *Dispatcher) cmdSyncExtruderMotion(cmd *Command) error {
	extruder, err := cmd.RequireStr("EXTRUDER")
	if err != nil {
		return err
	}
	queue, err := cmd.RequireStr("MOTION_QUEUE")
	if err != nil {
		return err
	}
	return d.ctrl.SyncExtruderMotion(extruder, queue)
}

func (d *Dispatcher) cmdActivateExtruder(cmd *Command) error {
	extruder, err := cmd.RequireStr("EXTRUDER")
	if err != nil {
		return err
	}
	return d.ctrl.Coordinator().ActivateExtruder(extruder)
}

func (d *Dispatcher) cmdActivateFan(cmd *Command) error {
	fan, err := cmd.RequireStr("FAN")
	if err != nil {
		return err
	}
	return d.ctrl.Coordinator().ActivateFan(fan)
}

func (d *Dispatcher) cmdSaveState(cmd *Command) error {
	d.ms.Save(cmd.StrArg("NAME", "default"))
	return nil
}

func (d *Dispatcher) cmdRestoreState(cmd *Command) error {
	name := cmd.StrArg("NAME", "default")
	move, err := cmd.IntArg("MOVE", 0)
	if err != nil {
		return err
	}
	if move == 0 {
		return d.ms.Restore(name)
	}
	speed, err := cmd.FloatArg("MOVE_SPEED", 100.0)
	if err != nil {
		return err
	}
	return d.ms.RestoreMove(name, speed)
}
