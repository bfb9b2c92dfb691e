package config

import (
	"fmt"
	"strconv"
	"strings"

	"idex-host/pkg/errors"
)

// CarriageConfig holds the per-carriage axis parameters.
type CarriageConfig struct {
	ID              int
	PositionEndstop float64
	PositionMax     float64
	HomingSpeed     float64

	// ParkPosition is the fixed coordinate the carriage retreats to before
	// a mode or tool switch. Defaults to the endstop position.
	ParkPosition float64
}

// DualCarriageConfig holds the shared-axis parameters for both carriages.
// The primary carriage (id 0) comes from its stepper section; the secondary
// (id 1) from [dual_carriage].
type DualCarriageConfig struct {
	Axis string // shared axis name, "x" or "y"

	// SafeDistance is the minimum allowed separation between the two
	// carriages, shared by both.
	SafeDistance float64

	Primary   CarriageConfig
	Secondary CarriageConfig
}

// ExtruderConfig identifies an extruder. Thermal parameters are opaque to
// this host and passed through to the heater layer.
type ExtruderConfig struct {
	Name    string
	Thermal map[string]string
}

// FanConfig identifies a tool fan.
type FanConfig struct {
	Name     string
	MaxPower float64
}

// ToolConfig maps a tool number (T0/T1) to its carriage, extruder, fan,
// park position and coordinate offset.
type ToolConfig struct {
	Number   int
	Carriage int
	Extruder string
	Fan      string

	// ParkPosition overrides the carriage park position when set.
	ParkPosition *float64

	// GcodeOffset is the per-tool coordinate offset (X, Y, Z) applied on
	// activation.
	GcodeOffset [3]float64
}

// MachineConfig is the fully parsed machine description.
type MachineConfig struct {
	DualCarriage DualCarriageConfig
	Extruders    []ExtruderConfig
	Fans         []FanConfig
	Tools        []ToolConfig
}

// ParseMachineConfig extracts the IDEX machine description from a loaded
// config. Section layout follows Klipper conventions: [stepper_<axis>] for
// the primary carriage, [dual_carriage] for the secondary, [extruder] and
// [extruder1], [fan ...] for tool fans and [tool N] for tool mappings.
func ParseMachineConfig(cfg *Config) (*MachineConfig, error) {
	mc := &MachineConfig{}

	dcSec, err := cfg.GetSection("dual_carriage")
	if err != nil {
		return nil, err
	}
	axis, err := dcSec.GetChoice("axis", []string{"x", "y"}, "x")
	if err != nil {
		return nil, err
	}
	mc.DualCarriage.Axis = axis

	primary, err := parseCarriage(cfg, "stepper_"+axis, 0)
	if err != nil {
		return nil, err
	}
	secondary, err := parseCarriageSection(dcSec, 1)
	if err != nil {
		return nil, err
	}
	mc.DualCarriage.Primary = *primary
	mc.DualCarriage.Secondary = *secondary

	zero := 0.0
	safeDistance, err := dcSec.GetFloatWithBounds("safe_distance", FloatBounds{MinVal: &zero})
	if err != nil {
		return nil, err
	}
	mc.DualCarriage.SafeDistance = safeDistance

	for _, name := range []string{"extruder", "extruder1"} {
		sec, err := cfg.GetSection(name)
		if err != nil {
			return nil, err
		}
		mc.Extruders = append(mc.Extruders, ExtruderConfig{
			Name:    name,
			Thermal: sec.RawOptions(),
		})
	}

	if sec := cfg.GetSectionOptional("fan"); sec != nil {
		fan, err := parseFan(sec, "fan")
		if err != nil {
			return nil, err
		}
		mc.Fans = append(mc.Fans, *fan)
	}
	for _, sec := range cfg.GetPrefixSections("fan_generic ") {
		name := strings.TrimSpace(strings.TrimPrefix(sec.GetName(), "fan_generic "))
		if name == "" {
			return nil, errors.ConfigValidationError(sec.GetName(), "", "fan_generic requires a name")
		}
		fan, err := parseFan(sec, name)
		if err != nil {
			return nil, err
		}
		mc.Fans = append(mc.Fans, *fan)
	}

	tools, err := parseTools(cfg, mc)
	if err != nil {
		return nil, err
	}
	mc.Tools = tools

	return mc, nil
}

func parseCarriage(cfg *Config, section string, id int) (*CarriageConfig, error) {
	sec, err := cfg.GetSection(section)
	if err != nil {
		return nil, err
	}
	return parseCarriageSection(sec, id)
}

func parseCarriageSection(sec *Section, id int) (*CarriageConfig, error) {
	endstop, err := sec.GetFloat("position_endstop")
	if err != nil {
		return nil, err
	}
	max, err := sec.GetFloat("position_max")
	if err != nil {
		return nil, err
	}
	if max <= endstop && id == 0 {
		return nil, errors.ConfigValidationError(sec.GetName(), "position_max",
			"must be above position_endstop")
	}
	zero := 0.0
	homingSpeed, err := sec.GetFloatWithBounds("homing_speed", FloatBounds{Above: &zero}, 25.0)
	if err != nil {
		return nil, err
	}
	park, err := sec.GetFloat("park_position", endstop)
	if err != nil {
		return nil, err
	}
	return &CarriageConfig{
		ID:              id,
		PositionEndstop: endstop,
		PositionMax:     max,
		HomingSpeed:     homingSpeed,
		ParkPosition:    park,
	}, nil
}

func parseFan(sec *Section, name string) (*FanConfig, error) {
	zero := 0.0
	one := 1.0
	maxPower, err := sec.GetFloatWithBounds("max_power", FloatBounds{Above: &zero, MaxVal: &one}, 1.0)
	if err != nil {
		return nil, err
	}
	return &FanConfig{Name: name, MaxPower: maxPower}, nil
}

// parseTools reads [tool N] sections. When absent, a default two-tool
// mapping is synthesized: tool 0 on carriage 0 with the first extruder and
// fan, tool 1 on carriage 1 with the second.
func parseTools(cfg *Config, mc *MachineConfig) ([]ToolConfig, error) {
	secs := cfg.GetPrefixSections("tool ")
	if len(secs) == 0 {
		return defaultTools(mc), nil
	}

	var tools []ToolConfig
	for _, sec := range secs {
		numStr := strings.TrimSpace(strings.TrimPrefix(sec.GetName(), "tool "))
		num, err := strconv.Atoi(numStr)
		if err != nil || num < 0 || num > 1 {
			return nil, errors.ConfigValidationError(sec.GetName(), "",
				fmt.Sprintf("invalid tool number '%s' (expected 0 or 1)", numStr))
		}
		carriage, err := sec.GetInt("carriage", num)
		if err != nil {
			return nil, err
		}
		if carriage != 0 && carriage != 1 {
			return nil, errors.ConfigValidationError(sec.GetName(), "carriage",
				"must be 0 or 1")
		}
		extruder, err := sec.Get("extruder")
		if err != nil {
			return nil, err
		}
		fanName, err := sec.Get("fan", "")
		if err != nil {
			return nil, err
		}
		tool := ToolConfig{
			Number:   num,
			Carriage: carriage,
			Extruder: extruder,
			Fan:      fanName,
		}
		if sec.HasOption("park_position") {
			park, err := sec.GetFloat("park_position")
			if err != nil {
				return nil, err
			}
			tool.ParkPosition = &park
		}
		offsets, err := sec.GetFloatList("gcode_offset", ",", []float64{0, 0, 0})
		if err != nil {
			return nil, err
		}
		if len(offsets) != 3 {
			return nil, errors.ConfigValidationError(sec.GetName(), "gcode_offset",
				"expected three comma-separated values (X, Y, Z)")
		}
		copy(tool.GcodeOffset[:], offsets)
		tools = append(tools, tool)
	}
	return tools, nil
}

func defaultTools(mc *MachineConfig) []ToolConfig {
	tools := make([]ToolConfig, 0, 2)
	for i := 0; i < 2; i++ {
		tool := ToolConfig{Number: i, Carriage: i}
		if i < len(mc.Extruders) {
			tool.Extruder = mc.Extruders[i].Name
		}
		if i < len(mc.Fans) {
			tool.Fan = mc.Fans[i].Name
		}
		tools = append(tools, tool)
	}
	return tools
}
