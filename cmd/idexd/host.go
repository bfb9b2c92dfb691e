package main

import (
	"sync"

	"idex-host/pkg/gcode"
	"idex-host/pkg/idex"
)

// host adapts the coordination core to the API server. The mutex
// serializes all command execution: commands run to completion in
// arrival order, whether they come from stdin or the API.
type host struct {
	mu   sync.Mutex
	ctrl *idex.Controller
	disp *gcode.Dispatcher
}

func newHost(ctrl *idex.Controller, disp *gcode.Dispatcher) *host {
	return &host{ctrl: ctrl, disp: disp}
}

func (h *host) ObjectsList() []string {
	return []string{"dual_carriage", "gcode_move", "fault"}
}

func (h *host) ObjectStatus(name string, attrs []string) map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	var status map[string]interface{}
	switch name {
	case "dual_carriage":
		status = h.ctrl.Status()
	case "gcode_move":
		status = h.disp.MoveState().Status()
	case "fault":
		status = h.ctrl.Faults().Status()
	default:
		return nil
	}
	if len(attrs) == 0 {
		return status
	}
	filtered := make(map[string]interface{}, len(attrs))
	for _, attr := range attrs {
		if val, ok := status[attr]; ok {
			filtered[attr] = val
		}
	}
	return filtered
}

func (h *host) ExecuteGCode(script string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disp.ExecuteScript(script)
}

func (h *host) EmergencyStop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctrl.Faults().TriggerFaultStop(h.ctrl.Modes().ActiveCarriage(), "emergency stop")
}

func (h *host) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctrl.Faults().State() != idex.FaultStateRunning {
		return "shutdown"
	}
	return "ready"
}
