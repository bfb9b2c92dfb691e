// Dual carriage coordination core - carriage and tool state model
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package idex coordinates two independently addressable carriages that
// share one linear axis. It owns the carriage mode state machine, the
// minimum-separation invariant, and the motion-queue synchronization
// between the carriages' drive trains and their extruders.
package idex

// CarriageMode is the operating mode of a non-primary carriage. The
// primary carriage (id 0) is always INDEPENDENT.
type CarriageMode int

const (
	// ModeIndependent is the default: the carriage is addressed directly.
	ModeIndependent CarriageMode = iota

	// ModeCopy derives the carriage's motion from the master's queue with
	// an identity transform.
	ModeCopy

	// ModeMirror derives the carriage's motion from the master's queue
	// reflected about the axis midpoint.
	ModeMirror
)

func (m CarriageMode) String() string {
	switch m {
	case ModeIndependent:
		return "INDEPENDENT"
	case ModeCopy:
		return "COPY"
	case ModeMirror:
		return "MIRROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCarriageMode maps a SET_DUAL_CARRIAGE MODE= value to a mode.
func ParseCarriageMode(s string) (CarriageMode, bool) {
	switch s {
	case "INDEPENDENT":
		return ModeIndependent, true
	case "COPY":
		return ModeCopy, true
	case "MIRROR":
		return ModeMirror, true
	}
	return ModeIndependent, false
}

// Extruder couples an extruder to its home carriage. Thermal parameters
// are opaque to this core. The extruder's motion queue is its own
// carriage's queue by default, or another carriage's queue when bound.
type Extruder struct {
	Name     string
	Carriage int
}

// Tool maps a tool number to the carriage/extruder/fan/offset combination
// selected atomically on activation.
type Tool struct {
	Number   int
	Carriage int
	Extruder string
	Fan      string

	// ParkPosition is the fixed coordinate the tool's carriage parks at
	// before deactivation.
	ParkPosition float64

	// Offset is the coordinate offset (X, Y, Z) applied when the tool
	// becomes active.
	Offset [3]float64
}

// ToolState is the process-wide active tool selection. Mutated only by the
// Coordinator; read by the gcode layer to resolve subsequent commands.
type ToolState struct {
	ActiveTool     int
	ActiveExtruder string
	ActiveFan      string
	ActiveCarriage int
	GcodeOffset    [3]float64
}
