package gcode

import (
	"io"
	"math"
	"testing"

	"idex-host/pkg/config"
	"idex-host/pkg/errors"
	"idex-host/pkg/events"
	"idex-host/pkg/idex"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

const testConfig = `
[stepper_x]
position_endstop: 0
position_max: 200
homing_speed: 50

[dual_carriage]
axis: x
safe_distance: 40
position_endstop: 200
position_max: 200

[extruder]

[extruder1]

[fan]

[fan_generic fan1]

[tool 0]
carriage: 0
extruder: extruder
fan: fan

[tool 1]
carriage: 1
extruder: extruder1
fan: fan1
gcode_offset: 0.5, 0, 0
`

func newTestDispatcher(t *testing.T) (*Dispatcher, *idex.Controller) {
	t.Helper()
	cfg, err := config.LoadString(testConfig)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	machine, err := config.ParseMachineConfig(cfg)
	if err != nil {
		t.Fatalf("ParseMachineConfig: %v", err)
	}
	logger := log.New("test")
	logger.SetWriter(io.Discard)
	ctrl := idex.NewController(machine, motion.NewSimSolver(), events.NewBus(0), logger)
	d := NewDispatcher(ctrl, logger)
	d.SetResponder(func(string) {})
	return d, ctrl
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHomeAndMove(t *testing.T) {
	d, ctrl := newTestDispatcher(t)

	if err := d.Execute("G28"); err != nil {
		t.Fatalf("G28: %v", err)
	}
	if got := ctrl.Axis().Get(0); got != 0 {
		t.Errorf("carriage 0 homed at %.3f, want 0", got)
	}
	if got := ctrl.Axis().Get(1); got != 200 {
		t.Errorf("carriage 1 homed at %.3f, want 200", got)
	}

	if err := d.Execute("G1 X50 F3000"); err != nil {
		t.Fatalf("G1: %v", err)
	}
	if got := ctrl.Axis().Get(0); got != 50 {
		t.Errorf("position = %.3f, want 50", got)
	}
}

func TestMoveRejectedBySafety(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.Execute("G28"); err != nil {
		t.Fatal(err)
	}

	err := d.Execute("G1 X170 F3000")
	if !errors.Is(err, errors.ErrCollision) {
		t.Fatalf("expected ErrCollision, got %v", err)
	}
	if got := ctrl.Axis().Get(0); got != 0 {
		t.Errorf("rejected move changed position: %.3f", got)
	}
}

func TestSelectCarriage(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.Execute("G28"); err != nil {
		t.Fatal(err)
	}

	if err := d.Execute("SET_DUAL_CARRIAGE CARRIAGE=1"); err != nil {
		t.Fatalf("SET_DUAL_CARRIAGE: %v", err)
	}
	if got := ctrl.Modes().ActiveCarriage(); got != 1 {
		t.Fatalf("active carriage = %d, want 1", got)
	}
	if err := d.Execute("G1 X120 F3000"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(1); got != 120 {
		t.Errorf("carriage 1 position = %.3f, want 120", got)
	}
	if got := ctrl.Axis().Get(0); got != 0 {
		t.Errorf("carriage 0 moved: %.3f", got)
	}
}

func TestSetModeViaGcode(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.Execute("G28"); err != nil {
		t.Fatal(err)
	}

	if err := d.Execute("SET_DUAL_CARRIAGE CARRIAGE=1 MODE=COPY"); err != nil {
		t.Fatalf("SET_DUAL_CARRIAGE MODE=COPY: %v", err)
	}
	if ctrl.Modes().Mode(1) != idex.ModeCopy {
		t.Fatal("mode not COPY")
	}

	// The coordinate state follows the parked master.
	if err := d.Execute("G1 X50 F3000"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(1); got != 150 {
		t.Errorf("slave = %.3f, want 150", got)
	}

	if err := d.Execute("SET_DUAL_CARRIAGE CARRIAGE=1 MODE=BOGUS"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestToolChangeViaGcode(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.Execute("G28"); err != nil {
		t.Fatal(err)
	}

	if err := d.Execute("T1"); err != nil {
		t.Fatalf("T1: %v", err)
	}
	state := ctrl.Coordinator().State()
	if state.ActiveTool != 1 || state.ActiveExtruder != "extruder1" {
		t.Errorf("tool state = %+v", state)
	}
	if got := ctrl.Modes().ActiveCarriage(); got != 1 {
		t.Errorf("active carriage = %d, want 1", got)
	}
	if got := d.MoveState().ToolOffset(); got != [3]float64{0.5, 0, 0} {
		t.Errorf("tool offset = %v", got)
	}

	// The offset shifts subsequent absolute moves.
	if err := d.Execute("G1 X100 F3000"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(1); !almostEqual(got, 100.5) {
		t.Errorf("offset not applied: %.3f, want 100.5", got)
	}
}

func TestRelativeMode(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.ExecuteScript("G28\nG1 X50 F3000\nG91\nG1 X10\nG1 X-5"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(0); got != 55 {
		t.Errorf("position = %.3f, want 55", got)
	}
	if err := d.Execute("G90"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute("G1 X60"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(0); got != 60 {
		t.Errorf("position = %.3f, want 60", got)
	}
}

func TestSaveRestoreState(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.ExecuteScript("G28\nG91\nSAVE_GCODE_STATE NAME=a\nG90"); err != nil {
		t.Fatal(err)
	}
	if d.MoveState().Absolute() != true {
		t.Fatal("G90 did not apply")
	}
	if err := d.Execute("RESTORE_GCODE_STATE NAME=a"); err != nil {
		t.Fatal(err)
	}
	if d.MoveState().Absolute() {
		t.Error("restore did not bring back relative mode")
	}
	if err := d.Execute("RESTORE_GCODE_STATE NAME=missing"); err == nil {
		t.Error("expected error for unknown state name")
	}
}

func TestRestoreStateWithMove(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.ExecuteScript("G28\nG1 X50 F3000\nSAVE_GCODE_STATE NAME=a\nG1 X80"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute("RESTORE_GCODE_STATE NAME=a MOVE=1 MOVE_SPEED=100"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(0); got != 50 {
		t.Errorf("restore move went to %.3f, want 50", got)
	}
}

func TestSetGcodeOffset(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.ExecuteScript("G28\nG1 X50 F3000"); err != nil {
		t.Fatal(err)
	}

	if err := d.Execute("SET_GCODE_OFFSET X=2"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute("G1 X50"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(0); !almostEqual(got, 52) {
		t.Errorf("offset move = %.3f, want 52", got)
	}

	// MOVE=1 re-applies the offset immediately.
	if err := d.Execute("SET_GCODE_OFFSET X=0 MOVE=1"); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Axis().Get(0); !almostEqual(got, 50) {
		t.Errorf("re-applied move = %.3f, want 50", got)
	}
}

func TestSyncExtruderMotionViaGcode(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.Execute("G28"); err != nil {
		t.Fatal(err)
	}

	if err := d.Execute("SYNC_EXTRUDER_MOTION EXTRUDER=extruder1 MOTION_QUEUE=extruder"); err != nil {
		t.Fatalf("SYNC_EXTRUDER_MOTION: %v", err)
	}
	if !ctrl.Binder().IsBound("extruder1") {
		t.Fatal("extruder1 not bound")
	}
	if err := d.Execute("SYNC_EXTRUDER_MOTION EXTRUDER=extruder1 MOTION_QUEUE="); err != nil {
		t.Fatal(err)
	}
	if ctrl.Binder().IsBound("extruder1") {
		t.Error("extruder1 still bound")
	}
}

func TestActivateExtruderAndFan(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	if err := d.Execute("ACTIVATE_EXTRUDER EXTRUDER=extruder1"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute("ACTIVATE_FAN FAN=fan1"); err != nil {
		t.Fatal(err)
	}
	state := ctrl.Coordinator().State()
	if state.ActiveExtruder != "extruder1" || state.ActiveFan != "fan1" {
		t.Errorf("state = %+v", state)
	}
}

func TestUnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	err := d.Execute("FROBNICATE")
	if !errors.Is(err, errors.ErrGCodeUnknownCmd) {
		t.Errorf("expected ErrGCodeUnknownCmd, got %v", err)
	}
}

func TestEmergencyStopCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.Execute("G28"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute("M112"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute("G1 X50 F3000"); !errors.Is(err, errors.ErrFaultStop) {
		t.Fatalf("expected ErrFaultStop, got %v", err)
	}
	if err := d.Execute("FIRMWARE_RESTART"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute("G1 X50 F3000"); err != nil {
		t.Errorf("move after restart: %v", err)
	}
}
