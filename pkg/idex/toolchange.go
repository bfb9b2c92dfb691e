package idex

import (
	"fmt"

	"idex-host/pkg/errors"
	"idex-host/pkg/events"
	"idex-host/pkg/log"
)

// MotionStateScope saves and restores the caller's motion state (coordinate
// mode, offsets, feedrate) around internal parking moves, so tool
// activation is transparent to the surrounding gcode. The gcode layer
// provides the implementation (SAVE_GCODE_STATE / RESTORE_GCODE_STATE).
type MotionStateScope interface {
	Save(name string)
	Restore(name string) error
}

// Coordinator orchestrates carriage selection, extruder activation, fan
// activation and coordinate-offset application as one logical, ordered
// operation (T0/T1 semantics). Steps are atomic from the caller's
// perspective: failure in any step aborts the rest and rolls ToolState
// back to its pre-call value.
type Coordinator struct {
	tools     map[int]Tool
	extruders map[string]struct{}
	fans      map[string]struct{}
	modes     *ModeController
	scope     MotionStateScope
	bus       *events.Bus
	logger    *log.Logger

	state ToolState

	// offsetSink receives the coordinate offset applied on activation.
	// The gcode layer registers it to mirror the offset into its
	// coordinate state.
	offsetSink func(offset [3]float64) error

	// afterStep, when set, runs after each completed activation step.
	// Tests use it to inject faults between steps.
	afterStep func(step string) error
}

// NewCoordinator creates the coordinator. The initial ToolState selects
// tool 0 with no offset applied.
func NewCoordinator(tools []Tool, extruders []Extruder, fans []string,
	modes *ModeController, bus *events.Bus, logger *log.Logger) *Coordinator {
	c := &Coordinator{
		tools:     make(map[int]Tool, len(tools)),
		extruders: make(map[string]struct{}, len(extruders)),
		fans:      make(map[string]struct{}, len(fans)),
		modes:     modes,
		bus:       bus,
		logger:    logger,
	}
	for _, t := range tools {
		c.tools[t.Number] = t
	}
	for _, e := range extruders {
		c.extruders[e.Name] = struct{}{}
	}
	for _, f := range fans {
		c.fans[f] = struct{}{}
	}
	if t0, ok := c.tools[0]; ok {
		c.state = ToolState{
			ActiveTool:     0,
			ActiveExtruder: t0.Extruder,
			ActiveFan:      t0.Fan,
			ActiveCarriage: t0.Carriage,
		}
	}
	return c
}

// SetMotionScope registers the gcode layer's save/restore implementation.
func (c *Coordinator) SetMotionScope(scope MotionStateScope) {
	c.scope = scope
}

// SetOffsetSink registers the callback that receives applied tool
// offsets.
func (c *Coordinator) SetOffsetSink(fn func(offset [3]float64) error) {
	c.offsetSink = fn
}

// State returns the current ToolState.
func (c *Coordinator) State() ToolState {
	return c.state
}

// ActivateExtruder switches the active extruder without a carriage or
// offset change (ACTIVATE_EXTRUDER).
func (c *Coordinator) ActivateExtruder(name string) error {
	if _, ok := c.extruders[name]; !ok {
		return errors.RuntimeError(fmt.Sprintf("unknown extruder '%s'", name))
	}
	if c.state.ActiveExtruder == name {
		return nil
	}
	c.state.ActiveExtruder = name
	c.logger.Info("active extruder: %s", name)
	return nil
}

// ActivateFan switches the active part-cooling fan (ACTIVATE_FAN).
func (c *Coordinator) ActivateFan(name string) error {
	if _, ok := c.fans[name]; !ok {
		return errors.RuntimeError(fmt.Sprintf("unknown fan '%s'", name))
	}
	c.state.ActiveFan = name
	c.logger.Info("active fan: %s", name)
	return nil
}

// ActivateTool performs, in strict order: park the active carriage, set
// the active extruder, set the active fan, select the carriage, apply the
// tool's coordinate offset. The coordinator holds exclusive access for
// the duration; no motion command is accepted between steps.
func (c *Coordinator) ActivateTool(toolNum int) error {
	tool, ok := c.tools[toolNum]
	if !ok {
		return errors.RuntimeError(fmt.Sprintf("unknown tool %d", toolNum))
	}

	release, err := c.modes.acquireExclusive()
	if err != nil {
		return err
	}
	defer release()

	prevState := c.state
	prevActive := c.modes.ActiveCarriage()

	// The motion-state scope is restored on every exit path, including
	// early abort from a failed step.
	if c.scope != nil {
		c.scope.Save("_tool_change")
		defer func() {
			if rerr := c.scope.Restore("_tool_change"); rerr != nil {
				c.logger.WithError(rerr).Error("tool change state restore failed")
			}
		}()
	}

	rollback := func(step string, cause error) error {
		c.state = prevState
		c.modes.active = prevActive
		if c.offsetSink != nil {
			if serr := c.offsetSink(prevState.GcodeOffset); serr != nil {
				c.logger.WithError(serr).Error("offset rollback failed")
			}
		}
		aerr := errors.ToolActivationError(toolNum, step, cause)
		c.bus.Publish(events.TypeToolActivationFailed, aerr.Message, map[string]interface{}{
			"tool": toolNum, "step": step,
		})
		return aerr
	}

	// Step 1: park the currently active carriage at its tool's park
	// position.
	activeTool, ok := c.tools[c.state.ActiveTool]
	if !ok {
		activeTool = tool
	}
	if err := c.modes.moveCarriage(activeTool.Carriage, activeTool.ParkPosition,
		c.modes.carriageConfig(activeTool.Carriage).HomingSpeed); err != nil {
		return rollback("park", err)
	}
	if err := c.checkpoint("park"); err != nil {
		return rollback("park", err)
	}

	// Step 2: active extruder.
	if _, ok := c.extruders[tool.Extruder]; !ok {
		return rollback("set_extruder", errors.RuntimeError(fmt.Sprintf("unknown extruder '%s'", tool.Extruder)))
	}
	c.state.ActiveExtruder = tool.Extruder
	if err := c.checkpoint("set_extruder"); err != nil {
		return rollback("set_extruder", err)
	}

	// Step 3: active fan.
	if tool.Fan != "" {
		if _, ok := c.fans[tool.Fan]; !ok {
			return rollback("set_fan", errors.RuntimeError(fmt.Sprintf("unknown fan '%s'", tool.Fan)))
		}
	}
	c.state.ActiveFan = tool.Fan
	if err := c.checkpoint("set_fan"); err != nil {
		return rollback("set_fan", err)
	}

	// Step 4: carriage selection.
	if err := c.modes.SelectCarriage(tool.Carriage); err != nil {
		return rollback("select_carriage", err)
	}
	if err := c.checkpoint("select_carriage"); err != nil {
		return rollback("select_carriage", err)
	}

	// Step 5: coordinate offset.
	if c.offsetSink != nil {
		if err := c.offsetSink(tool.Offset); err != nil {
			return rollback("apply_offset", err)
		}
	}
	c.state.GcodeOffset = tool.Offset
	c.state.ActiveCarriage = tool.Carriage
	c.state.ActiveTool = tool.Number
	if err := c.checkpoint("apply_offset"); err != nil {
		return rollback("apply_offset", err)
	}

	c.bus.Publish(events.TypeToolActivated, fmt.Sprintf("tool %d active", toolNum), map[string]interface{}{
		"tool":     toolNum,
		"carriage": tool.Carriage,
		"extruder": tool.Extruder,
	})
	c.logger.Info("tool %d activated (carriage %d, extruder %s, fan %s)",
		toolNum, tool.Carriage, tool.Extruder, tool.Fan)
	return nil
}

func (c *Coordinator) checkpoint(step string) error {
	if c.afterStep == nil {
		return nil
	}
	return c.afterStep(step)
}
