package idex

import (
	"io"
	"testing"

	"idex-host/pkg/config"
	"idex-host/pkg/errors"
	"idex-host/pkg/events"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

// Test fixture: carriage 0 homes at 0, carriage 1 at 200, shared axis
// 0..200 with a 40mm safe distance.

func testMachine(safeDistance float64) *config.MachineConfig {
	return &config.MachineConfig{
		DualCarriage: config.DualCarriageConfig{
			Axis:         "x",
			SafeDistance: safeDistance,
			Primary: config.CarriageConfig{
				ID: 0, PositionEndstop: 0, PositionMax: 200, HomingSpeed: 50, ParkPosition: 0,
			},
			Secondary: config.CarriageConfig{
				ID: 1, PositionEndstop: 200, PositionMax: 200, HomingSpeed: 50, ParkPosition: 200,
			},
		},
		Extruders: []config.ExtruderConfig{{Name: "extruder"}, {Name: "extruder1"}},
		Fans:      []config.FanConfig{{Name: "fan", MaxPower: 1}, {Name: "fan1", MaxPower: 1}},
		Tools: []config.ToolConfig{
			{Number: 0, Carriage: 0, Extruder: "extruder", Fan: "fan"},
			{Number: 1, Carriage: 1, Extruder: "extruder1", Fan: "fan1", GcodeOffset: [3]float64{0.5, 0, 0}},
		},
	}
}

func testLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

func newTestController(t *testing.T, safeDistance float64) (*Controller, *events.Bus) {
	t.Helper()
	bus := events.NewBus(0)
	ctrl := NewController(testMachine(safeDistance), motion.NewSimSolver(), bus, testLogger())
	return ctrl, bus
}

func mustHome(t *testing.T, ctrl *Controller) {
	t.Helper()
	for carriage := 0; carriage < motion.NumCarriages; carriage++ {
		if err := ctrl.Home(carriage); err != nil && !errors.IsWarning(err) {
			t.Fatalf("Home(%d): %v", carriage, err)
		}
	}
}

func hasEvent(bus *events.Bus, typ events.Type) bool {
	for _, ev := range bus.History() {
		if ev.Type == typ {
			return true
		}
	}
	return false
}
