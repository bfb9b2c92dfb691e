// G-Code line parsing
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package gcode parses and dispatches the host's command surface: the
// standard motion commands plus the extended dual-carriage commands
// (SET_DUAL_CARRIAGE, SYNC_EXTRUDER_MOTION, T0/T1 and friends).
package gcode

import (
	"regexp"
	"strconv"
	"strings"

	"idex-host/pkg/errors"
)

// Command is one parsed gcode line.
type Command struct {
	Name string
	Args map[string]string
	Raw  string
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// ParseLine parses one gcode line. Blank lines and comment-only lines
// return (nil, nil). Classic single-letter arguments (X10.5) and extended
// KEY=value arguments are both accepted.
func ParseLine(line string) (*Command, error) {
	ln := strings.TrimSpace(line)
	if ln == "" {
		return nil, nil
	}
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, nil
	}

	fields := strings.Fields(ln)
	name := strings.ToUpper(fields[0])
	args := map[string]string{}
	for _, f := range fields[1:] {
		if strings.Contains(f, "=") {
			kv := strings.SplitN(f, "=", 2)
			k := strings.ToUpper(strings.TrimSpace(kv[0]))
			v := strings.TrimSpace(kv[1])
			if k != "" {
				args[k] = v
			}
			continue
		}
		// Bare axis letters (G28 X) carry an empty value.
		k := strings.ToUpper(f[:1])
		args[k] = strings.TrimSpace(f[1:])
	}
	return &Command{Name: name, Args: args, Raw: line}, nil
}

// FloatArg returns the named argument as a float, or def when absent.
func (c *Command) FloatArg(key string, def float64) (float64, error) {
	raw, ok := c.Args[strings.ToUpper(key)]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.GCodeInvalidParameterError(c.Name, key, raw, "not a number")
	}
	return f, nil
}

// IntArg returns the named argument as an int, or def when absent.
func (c *Command) IntArg(key string, def int) (int, error) {
	raw, ok := c.Args[strings.ToUpper(key)]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.GCodeInvalidParameterError(c.Name, key, raw, "not an integer")
	}
	return n, nil
}

// StrArg returns the named argument, or def when absent.
func (c *Command) StrArg(key, def string) string {
	if raw, ok := c.Args[strings.ToUpper(key)]; ok {
		return raw
	}
	return def
}

// RequireStr returns the named argument or a missing-parameter error.
func (c *Command) RequireStr(key string) (string, error) {
	raw, ok := c.Args[strings.ToUpper(key)]
	if !ok {
		return "", errors.GCodeMissingParameterError(c.Name, key)
	}
	return raw, nil
}

// RequireInt returns the named argument as an int or an error.
func (c *Command) RequireInt(key string) (int, error) {
	raw, err := c.RequireStr(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.GCodeInvalidParameterError(c.Name, key, raw, "not an integer")
	}
	return n, nil
}

// HasArg reports whether the argument is present.
func (c *Command) HasArg(key string) bool {
	_, ok := c.Args[strings.ToUpper(key)]
	return ok
}
