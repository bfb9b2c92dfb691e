package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadStringBasic(t *testing.T) {
	cfg, err := LoadString(`
# leading comment
[printer]
max_velocity: 300
kinematics = cartesian

[stepper_x]
position_endstop: 0
position_max: 200
`)
	if err != nil {
		t.Fatal(err)
	}

	sec, err := cfg.GetSection("printer")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := sec.Get("kinematics"); v != "cartesian" {
		t.Errorf("kinematics = %q", v)
	}
	if v, _ := sec.GetFloat("max_velocity"); v != 300 {
		t.Errorf("max_velocity = %v", v)
	}
	if _, err := cfg.GetSection("missing"); err == nil {
		t.Error("expected error for missing section")
	}
}

func TestSaveConfigLines(t *testing.T) {
	cfg, err := LoadString(`
[stepper_x]
position_endstop: 0
#*# [stepper_x]
#*# position_max: 250
`)
	if err != nil {
		t.Fatal(err)
	}
	sec, err := cfg.GetSection("stepper_x")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := sec.GetFloat("position_max"); v != 250 {
		t.Errorf("SAVE_CONFIG option not merged: %v", v)
	}
}

func TestIncludeRejectedInStrings(t *testing.T) {
	if _, err := LoadString("[include other.cfg]\n"); err == nil {
		t.Error("expected error for [include] in a string config")
	}
}

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	inc := filepath.Join(dir, "extra.cfg")
	if err := os.WriteFile(inc, []byte("[fan]\nmax_power: 0.5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "printer.cfg")
	if err := os.WriteFile(main, []byte("[include extra.cfg]\n[printer]\nkinematics: cartesian\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.HasSection("fan") {
		t.Error("included section missing")
	}
	if !cfg.HasSection("printer") {
		t.Error("main section missing")
	}
}

func TestUnusedTracking(t *testing.T) {
	cfg, err := LoadString(`
[used]
read_me: 1
skip_me: 2

[never_touched]
x: 1
`)
	if err != nil {
		t.Fatal(err)
	}
	sec, err := cfg.GetSection("used")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sec.GetInt("read_me"); err != nil {
		t.Fatal(err)
	}

	unused := cfg.GetUnusedSections()
	if len(unused) != 1 || unused[0] != "never_touched" {
		t.Errorf("unused sections = %v", unused)
	}
	if err := cfg.CheckUnusedOptions(); err == nil {
		t.Error("expected unused-option error for skip_me")
	}
}

func TestTypedGetters(t *testing.T) {
	cfg, err := LoadString(`
[s]
f: 1.5
i: 7
b: yes
choice: COPY
list: 1, 2, 3
`)
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := cfg.GetSection("s")

	if v, err := sec.GetFloat("f"); err != nil || v != 1.5 {
		t.Errorf("GetFloat = %v, %v", v, err)
	}
	if v, err := sec.GetInt("i"); err != nil || v != 7 {
		t.Errorf("GetInt = %v, %v", v, err)
	}
	if v, err := sec.GetBool("b"); err != nil || !v {
		t.Errorf("GetBool = %v, %v", v, err)
	}
	if v, err := sec.GetChoice("choice", []string{"INDEPENDENT", "COPY", "MIRROR"}); err != nil || v != "COPY" {
		t.Errorf("GetChoice = %v, %v", v, err)
	}
	if v, err := sec.GetFloatList("list", ","); err != nil || len(v) != 3 || v[2] != 3 {
		t.Errorf("GetFloatList = %v, %v", v, err)
	}
	if v, err := sec.GetFloat("missing", 9); err != nil || v != 9 {
		t.Errorf("fallback = %v, %v", v, err)
	}

	zero := 0.0
	if _, err := sec.GetFloatWithBounds("f", FloatBounds{Above: &zero}); err != nil {
		t.Errorf("bounds ok case: %v", err)
	}
	two := 2.0
	if _, err := sec.GetFloatWithBounds("f", FloatBounds{MinVal: &two}); err == nil {
		t.Error("expected bounds violation")
	}
}
