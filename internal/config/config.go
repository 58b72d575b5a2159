// Package config loads the optional machine-profile file spec.md §6
// allows as an alternative to passing every CLI flag by hand. A
// profile carries the same values as the CLI flags. cmd/arcvm merges
// every flag value over it, and -m, -d, -c and --debug always carry a
// value (their defaults when not given), so only the profile's program
// and drive entries take effect there.
//
// Stdlib encoding/json only: no repo in the corpus reaches for a
// third-party config/serialization library for a flat settings file
// (oisee-z80-optimizer and IntuitionEngine both parse their own flags
// directly; nothing in the pack imports viper, koanf or similar), and
// a machine profile is exactly the shape encoding/json already fits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Profile mirrors the CLI flag surface spec.md §6 defines: program
// image path, RAM size in bytes, drive image path and the console/
// debug transport specs.
type Profile struct {
	ProgramPath   string `json:"program"`
	RAMSize       uint64 `json:"ram_size"`
	Display       string `json:"display,omitempty"`
	DrivePath     string `json:"drive,omitempty"`
	ConsoleTarget string `json:"console,omitempty"`
	DebugTarget   string `json:"debug,omitempty"`
}

// Load reads and parses a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &p, nil
}

// Merge overlays flag values onto p, returning the values cmd/arcvm
// should actually use. Any flagVal that is non-zero wins over the
// profile's value for that field; flags are never overridden by the
// profile.
func Merge(p *Profile, programPath string, ramSize uint64, display, drivePath, consoleTarget, debugTarget string) Profile {
	out := Profile{}
	if p != nil {
		out = *p
	}
	if programPath != "" {
		out.ProgramPath = programPath
	}
	if ramSize != 0 {
		out.RAMSize = ramSize
	}
	if display != "" {
		out.Display = display
	}
	if drivePath != "" {
		out.DrivePath = drivePath
	}
	if consoleTarget != "" {
		out.ConsoleTarget = consoleTarget
	}
	if debugTarget != "" {
		out.DebugTarget = debugTarget
	}
	return out
}
