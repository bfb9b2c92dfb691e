// G-Code coordinate state (absolute/relative, offsets, saved states)
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"fmt"

	"idex-host/pkg/errors"
	"idex-host/pkg/idex"
)

// savedState is one SAVE_GCODE_STATE snapshot. The tool offset is owned
// by tool activation and deliberately excluded, so restoring a state
// saved before a tool change keeps the new tool's offset.
type savedState struct {
	absoluteCoord bool
	basePosition  [3]float64
	lastPosition  [3]float64
	speed         float64
}

// MoveState tracks the gcode coordinate state and routes shared-axis
// motion to the dual-carriage controller. Only the configured shared
// axis produces carriage motion; the other axes are tracked for
// coordinate bookkeeping.
type MoveState struct {
	ctrl      *idex.Controller
	axisIndex int

	absoluteCoord bool
	basePosition  [3]float64
	lastPosition  [3]float64
	toolOffset    [3]float64

	speed       float64
	speedFactor float64

	savedStates map[string]*savedState
}

var axisNames = [3]string{"X", "Y", "Z"}

// NewMoveState creates the coordinate state over the controller. axis is
// the shared dual-carriage axis name ("x" or "y").
func NewMoveState(ctrl *idex.Controller, axis string) *MoveState {
	idx := 0
	if axis == "y" {
		idx = 1
	}
	ms := &MoveState{
		ctrl:          ctrl,
		axisIndex:     idx,
		absoluteCoord: true,
		speed:         25.0,
		speedFactor:   1.0 / 60.0,
		savedStates:   make(map[string]*savedState),
	}
	return ms
}

// SetAbsolute switches between absolute (G90) and relative (G91) mode.
func (ms *MoveState) SetAbsolute(abs bool) {
	ms.absoluteCoord = abs
}

// Absolute reports the current coordinate mode.
func (ms *MoveState) Absolute() bool {
	return ms.absoluteCoord
}

// SetToolOffset replaces the tool coordinate offset. Registered as the
// coordinator's offset sink, so tool activation and rollback both route
// through here.
func (ms *MoveState) SetToolOffset(offset [3]float64) error {
	ms.toolOffset = offset
	return nil
}

// ToolOffset returns the current tool coordinate offset.
func (ms *MoveState) ToolOffset() [3]float64 {
	return ms.toolOffset
}

// SetOffset adjusts one axis of the tool offset (SET_GCODE_OFFSET).
func (ms *MoveState) SetOffset(axis int, value float64) {
	ms.toolOffset[axis] = value
}

// SetBase implements G92: re-maps the current position to the given
// gcode coordinate without moving.
func (ms *MoveState) SetBase(axis int, value float64) {
	ms.basePosition[axis] = ms.lastPosition[axis] - value
}

// ResetBase implements bare G92: all gcode coordinates become zero.
func (ms *MoveState) ResetBase() {
	ms.basePosition = ms.lastPosition
}

// Position returns the current gcode-space position.
func (ms *MoveState) Position() [3]float64 {
	var out [3]float64
	for i := range out {
		out[i] = ms.lastPosition[i] - ms.basePosition[i] - ms.toolOffset[i]
	}
	return out
}

// MoveCommand executes a G0/G1 command.
func (ms *MoveState) MoveCommand(cmd *Command) error {
	moveShared := false
	for i, name := range axisNames {
		if !cmd.HasArg(name) {
			continue
		}
		v, err := cmd.FloatArg(name, 0)
		if err != nil {
			return err
		}
		if ms.absoluteCoord {
			ms.lastPosition[i] = v + ms.basePosition[i] + ms.toolOffset[i]
		} else {
			ms.lastPosition[i] += v
		}
		if i == ms.axisIndex {
			moveShared = true
		}
	}
	if cmd.HasArg("F") {
		f, err := cmd.FloatArg("F", 0)
		if err != nil {
			return err
		}
		if f <= 0 {
			return errors.GCodeInvalidParameterError(cmd.Name, "F", cmd.StrArg("F", ""), "speed must be positive")
		}
		ms.speed = f * ms.speedFactor
	}
	if !moveShared {
		return nil
	}
	return ms.ctrl.Move(ms.lastPosition[ms.axisIndex], ms.speed)
}

// OffsetCommand executes SET_GCODE_OFFSET: sets per-axis tool offsets
// and, with MOVE=1, moves the shared axis so the current gcode position
// stays fixed under the new offset.
func (ms *MoveState) OffsetCommand(cmd *Command) error {
	gpos := ms.Position()
	for i, name := range axisNames {
		if !cmd.HasArg(name) {
			continue
		}
		v, err := cmd.FloatArg(name, 0)
		if err != nil {
			return err
		}
		ms.toolOffset[i] = v
	}
	move, err := cmd.IntArg("MOVE", 0)
	if err != nil {
		return err
	}
	if move == 0 {
		return nil
	}
	speed, err := cmd.FloatArg("MOVE_SPEED", ms.speed)
	if err != nil {
		return err
	}
	for i := range ms.lastPosition {
		ms.lastPosition[i] = gpos[i] + ms.basePosition[i] + ms.toolOffset[i]
	}
	return ms.ctrl.Move(ms.lastPosition[ms.axisIndex], speed)
}

// SyncSharedAxis refreshes the tracked shared-axis position from the
// controller, after homing or a carriage switch.
func (ms *MoveState) SyncSharedAxis() {
	ms.lastPosition[ms.axisIndex] = ms.ctrl.Axis().Get(ms.ctrl.Modes().ActiveCarriage())
}

// Save snapshots the coordinate state under the given name.
func (ms *MoveState) Save(name string) {
	if name == "" {
		name = "default"
	}
	ms.savedStates[name] = &savedState{
		absoluteCoord: ms.absoluteCoord,
		basePosition:  ms.basePosition,
		lastPosition:  ms.lastPosition,
		speed:         ms.speed,
	}
}

// Restore restores a previously saved coordinate state without moving.
func (ms *MoveState) Restore(name string) error {
	return ms.restore(name, false, 0)
}

// RestoreMove restores a saved state and moves the shared axis back to
// the saved position at the given speed.
func (ms *MoveState) RestoreMove(name string, speed float64) error {
	return ms.restore(name, true, speed)
}

func (ms *MoveState) restore(name string, move bool, speed float64) error {
	if name == "" {
		name = "default"
	}
	st, ok := ms.savedStates[name]
	if !ok {
		return errors.RuntimeError(fmt.Sprintf("gcode state '%s' not found", name))
	}
	ms.absoluteCoord = st.absoluteCoord
	ms.basePosition = st.basePosition
	ms.speed = st.speed

	if move && speed > 0 {
		ms.lastPosition = st.lastPosition
		return ms.ctrl.Move(ms.lastPosition[ms.axisIndex], speed)
	}
	ms.lastPosition = st.lastPosition
	return nil
}

// Status returns the gcode_move status object reported over the API.
func (ms *MoveState) Status() map[string]interface{} {
	pos := ms.Position()
	return map[string]interface{}{
		"absolute_coordinates": ms.absoluteCoord,
		"speed":                ms.speed,
		"gcode_position":       pos[:],
		"homing_origin":        ms.toolOffset[:],
	}
}
