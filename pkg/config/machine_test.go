package config

import "testing"

const sampleConfig = `
[stepper_x]
position_endstop: 0
position_max: 350
homing_speed: 60
park_position: 2

[dual_carriage]
axis: x
safe_distance: 42.5
position_endstop: 350
position_max: 350

[extruder]
heater_pin: PA1

[extruder1]
heater_pin: PA2

[fan]
max_power: 0.8

[fan_generic fan1]

[tool 0]
carriage: 0
extruder: extruder
fan: fan

[tool 1]
carriage: 1
extruder: extruder1
fan: fan1
park_position: 348
gcode_offset: 0.4, -0.2, 0.1
`

func TestParseMachineConfig(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	mc, err := ParseMachineConfig(cfg)
	if err != nil {
		t.Fatalf("ParseMachineConfig: %v", err)
	}

	dc := mc.DualCarriage
	if dc.Axis != "x" {
		t.Errorf("axis = %s", dc.Axis)
	}
	if dc.SafeDistance != 42.5 {
		t.Errorf("safe_distance = %.3f", dc.SafeDistance)
	}
	if dc.Primary.PositionEndstop != 0 || dc.Primary.PositionMax != 350 {
		t.Errorf("primary = %+v", dc.Primary)
	}
	if dc.Primary.HomingSpeed != 60 || dc.Primary.ParkPosition != 2 {
		t.Errorf("primary = %+v", dc.Primary)
	}
	if dc.Secondary.PositionEndstop != 350 {
		t.Errorf("secondary = %+v", dc.Secondary)
	}
	// park_position defaults to the endstop.
	if dc.Secondary.ParkPosition != 350 {
		t.Errorf("secondary park = %.3f", dc.Secondary.ParkPosition)
	}

	if len(mc.Extruders) != 2 || mc.Extruders[0].Name != "extruder" || mc.Extruders[1].Name != "extruder1" {
		t.Errorf("extruders = %+v", mc.Extruders)
	}
	if len(mc.Fans) != 2 || mc.Fans[0].MaxPower != 0.8 {
		t.Errorf("fans = %+v", mc.Fans)
	}

	if len(mc.Tools) != 2 {
		t.Fatalf("tools = %+v", mc.Tools)
	}
	t1 := mc.Tools[1]
	if t1.Carriage != 1 || t1.Extruder != "extruder1" || t1.Fan != "fan1" {
		t.Errorf("tool 1 = %+v", t1)
	}
	if t1.ParkPosition == nil || *t1.ParkPosition != 348 {
		t.Errorf("tool 1 park = %v", t1.ParkPosition)
	}
	if t1.GcodeOffset != [3]float64{0.4, -0.2, 0.1} {
		t.Errorf("tool 1 offset = %v", t1.GcodeOffset)
	}
}

func TestParseMachineConfigDefaultsTools(t *testing.T) {
	cfg, err := LoadString(`
[stepper_x]
position_endstop: 0
position_max: 300

[dual_carriage]
safe_distance: 30
position_endstop: 300
position_max: 300

[extruder]

[extruder1]

[fan]
`)
	if err != nil {
		t.Fatal(err)
	}
	mc, err := ParseMachineConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(mc.Tools) != 2 {
		t.Fatalf("tools = %+v", mc.Tools)
	}
	if mc.Tools[0].Extruder != "extruder" || mc.Tools[1].Extruder != "extruder1" {
		t.Errorf("default tools = %+v", mc.Tools)
	}
	if mc.Tools[1].Carriage != 1 {
		t.Errorf("tool 1 carriage = %d", mc.Tools[1].Carriage)
	}
}

func TestParseMachineConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  string
	}{
		{"missing dual_carriage", `
[stepper_x]
position_endstop: 0
position_max: 300
`},
		{"negative safe_distance", `
[stepper_x]
position_endstop: 0
position_max: 300

[dual_carriage]
safe_distance: -1
position_endstop: 300
position_max: 300

[extruder]

[extruder1]
`},
		{"bad axis", `
[stepper_z]
position_endstop: 0
position_max: 300

[dual_carriage]
axis: z
safe_distance: 30
position_endstop: 300
position_max: 300

[extruder]

[extruder1]
`},
		{"missing extruder1", `
[stepper_x]
position_endstop: 0
position_max: 300

[dual_carriage]
safe_distance: 30
position_endstop: 300
position_max: 300

[extruder]
`},
	}
	for _, tt := range tests {
		cfg, err := LoadString(tt.cfg)
		if err != nil {
			continue
		}
		if _, err := ParseMachineConfig(cfg); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
