package drive

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// control modes
const (
	ModeVelocity = "velocity"
	ModePosition = "position"
)

// driver kinds
const (
	DriverCAN    = "can"
	DriverSerial = "serial"
	DriverSim    = "sim"
)

// DriveConfig is the immutable per-run configuration, loaded once at startup.
// Values are range-clamped at load time; no further validation logic lives in
// the control core.
type DriveConfig struct {
	Version int           `yaml:"version"`
	Control ControlConfig `yaml:"control"`
	Encoder EncoderConfig `yaml:"encoder"`
	Stall   StallConfig   `yaml:"stall"`
	Driver  DriverConfig  `yaml:"driver"`
}

// ControlConfig carries the control-law numerics. Gains are scaled integers
// with FracBits fractional bits; OutputMax is in duty units where 10000 means
// 100.00% duty.
type ControlConfig struct {
	PeriodMs      int    `yaml:"period_ms"`
	FracBits      uint   `yaml:"frac_bits"`
	Kp            int64  `yaml:"kp"`
	Ki            int64  `yaml:"ki"`
	Kd            int64  `yaml:"kd"`
	IntegralClamp int64  `yaml:"integral_clamp"`
	OutputMax     int64  `yaml:"output_max"`
	DeadZone      int64  `yaml:"dead_zone"`
	Mode          string `yaml:"mode"`
}

type EncoderConfig struct {
	CountsPerRev int  `yaml:"counts_per_rev"`
	WindowTicks  int  `yaml:"window_ticks"`
	Invert       bool `yaml:"invert"`
}

type StallConfig struct {
	ThresholdRPM int64 `yaml:"threshold_rpm"`
	HoldMs       int   `yaml:"hold_ms"`
}

type DriverConfig struct {
	Kind string `yaml:"kind"`
	Bus  string `yaml:"bus"`  // CAN interface name
	Node uint32 `yaml:"node"` // CAN node ID
	Port string `yaml:"port"` // serial device
	Baud int    `yaml:"baud"`
}

func LoadConfig(path string) (config DriveConfig, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("unable to read config file: %w", err)
	}

	if err = yaml.Unmarshal(raw, &config); err != nil {
		return config, fmt.Errorf("unable to unmarshal yaml: %w", err)
	}

	config.ClampRanges()
	return config, nil
}

// ClampRanges pins every field into its physically sensible range so a sloppy
// config file degrades to a safe controller rather than a broken one.
func (c *DriveConfig) ClampRanges() {
	if c.Control.PeriodMs < 1 {
		c.Control.PeriodMs = 1
	}
	if c.Control.FracBits == 0 {
		c.Control.FracBits = 16
	}
	if c.Control.FracBits > 30 {
		c.Control.FracBits = 30
	}
	if c.Control.OutputMax < 1 {
		c.Control.OutputMax = 10000
	}
	if c.Control.DeadZone < 0 {
		c.Control.DeadZone = 0
	}
	if c.Control.DeadZone > c.Control.OutputMax {
		c.Control.DeadZone = c.Control.OutputMax
	}
	if c.Control.IntegralClamp < 0 {
		c.Control.IntegralClamp = -c.Control.IntegralClamp
	}
	if c.Control.Mode != ModePosition {
		c.Control.Mode = ModeVelocity
	}

	if c.Encoder.CountsPerRev < 1 {
		c.Encoder.CountsPerRev = 1
	}
	if c.Encoder.WindowTicks < 1 {
		c.Encoder.WindowTicks = 1
	}

	if c.Stall.ThresholdRPM < 1 {
		c.Stall.ThresholdRPM = 1
	}
	if c.Stall.HoldMs < c.Control.PeriodMs {
		c.Stall.HoldMs = c.Control.PeriodMs
	}
}

// StallTicks converts the configured stall hold duration into whole control
// periods.
func (c *DriveConfig) StallTicks() int {
	return c.Stall.HoldMs / c.Control.PeriodMs
}
