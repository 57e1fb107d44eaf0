// Package config loads the ADCS tuning parameters from JSON. All fields are
// optional; the Get* accessors supply defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig is the root tuning configuration. The schema matches the
// /api/adcs/command gain-update payload so the same names work for startup
// configuration and live updates.
type TuningConfig struct {
	// PD controller
	Kp       *float64 `json:"kp,omitempty"`
	Kd       *float64 `json:"kd,omitempty"`
	Deadband *float64 `json:"deadband,omitempty"` // degrees
	MaxPower *float64 `json:"max_power,omitempty"`
	MinPower *float64 `json:"min_power,omitempty"` // floor applied when nonzero
	// Bang-bang output mode
	BangPower *float64 `json:"bang_power,omitempty"`
	MinDwell  *string  `json:"min_dwell,omitempty"` // duration string like "200ms"

	// Loop rates
	SensorRateHz  *float64 `json:"sensor_rate_hz,omitempty"`
	ControlRateHz *float64 `json:"control_rate_hz,omitempty"`
	EnvScanRateHz *float64 `json:"env_scan_rate_hz,omitempty"`

	// Environmental (sun-seek) mode. The lux threshold and peak separation
	// are hardware and lighting dependent; defaults match the bench rig.
	EnvLuxThreshold      *float64 `json:"env_lux_threshold,omitempty"`
	EnvPeakSeparationDeg *float64 `json:"env_peak_separation_deg,omitempty"`
	EnvSweepLeadDeg      *float64 `json:"env_sweep_lead_deg,omitempty"`
	EnvSettleRate        *float64 `json:"env_settle_rate,omitempty"` // deg/s
	EnvSettleSeconds     *float64 `json:"env_settle_seconds,omitempty"`
	EnvRotations         *int     `json:"env_rotations,omitempty"`

	// Lux sensor geometry: channel number -> mounting angle in degrees.
	LuxAngles map[string]float64 `json:"lux_angles,omitempty"`
	// Mux channels carrying lux sensors.
	LuxChannels []int `json:"lux_channels,omitempty"`

	// Calibration
	CalibrationSamples  *int    `json:"calibration_samples,omitempty"`
	CalibrationInterval *string `json:"calibration_interval,omitempty"`

	// Manual (open-loop) drive power.
	ManualPower *float64 `json:"manual_power,omitempty"`

	// Hardware paths
	I2CPath   *string `json:"i2c_path,omitempty"`
	MotorPath *string `json:"motor_path,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted from
// the file keep their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any set values are usable.
func (c *TuningConfig) Validate() error {
	if c.Deadband != nil && *c.Deadband < 0 {
		return fmt.Errorf("deadband must be non-negative, got %f", *c.Deadband)
	}
	if c.MaxPower != nil && (*c.MaxPower <= 0 || *c.MaxPower > 100) {
		return fmt.Errorf("max_power must be in (0, 100], got %f", *c.MaxPower)
	}
	if c.BangPower != nil && (*c.BangPower <= 0 || *c.BangPower > 100) {
		return fmt.Errorf("bang_power must be in (0, 100], got %f", *c.BangPower)
	}
	if c.MinDwell != nil && *c.MinDwell != "" {
		if _, err := time.ParseDuration(*c.MinDwell); err != nil {
			return fmt.Errorf("invalid min_dwell %q: %w", *c.MinDwell, err)
		}
	}
	if c.CalibrationInterval != nil && *c.CalibrationInterval != "" {
		if _, err := time.ParseDuration(*c.CalibrationInterval); err != nil {
			return fmt.Errorf("invalid calibration_interval %q: %w", *c.CalibrationInterval, err)
		}
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"sensor_rate_hz", c.SensorRateHz},
		{"control_rate_hz", c.ControlRateHz},
		{"env_scan_rate_hz", c.EnvScanRateHz},
	} {
		if f.v != nil && *f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", f.name, *f.v)
		}
	}
	for _, ch := range c.LuxChannels {
		if ch < 0 || ch > 7 {
			return fmt.Errorf("lux channel %d out of mux range 0-7", ch)
		}
	}
	if c.EnvRotations != nil && *c.EnvRotations < 1 {
		return fmt.Errorf("env_rotations must be at least 1, got %d", *c.EnvRotations)
	}
	return nil
}

func (c *TuningConfig) GetKp() float64 {
	if c.Kp == nil {
		return 10.0
	}
	return *c.Kp
}

func (c *TuningConfig) GetKd() float64 {
	if c.Kd == nil {
		return 2.0
	}
	return *c.Kd
}

func (c *TuningConfig) GetDeadband() float64 {
	if c.Deadband == nil {
		return 1.0
	}
	return *c.Deadband
}

func (c *TuningConfig) GetMaxPower() float64 {
	if c.MaxPower == nil {
		return 100.0
	}
	return *c.MaxPower
}

func (c *TuningConfig) GetMinPower() float64 {
	if c.MinPower == nil {
		return 5.0
	}
	return *c.MinPower
}

func (c *TuningConfig) GetBangPower() float64 {
	if c.BangPower == nil {
		return 70.0
	}
	return *c.BangPower
}

// GetMinDwell returns the minimum time between bang-bang direction changes.
func (c *TuningConfig) GetMinDwell() time.Duration {
	if c.MinDwell == nil || *c.MinDwell == "" {
		return 200 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.MinDwell)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

func (c *TuningConfig) GetSensorRateHz() float64 {
	if c.SensorRateHz == nil {
		return 20.0
	}
	return *c.SensorRateHz
}

func (c *TuningConfig) GetControlRateHz() float64 {
	if c.ControlRateHz == nil {
		return 20.0
	}
	return *c.ControlRateHz
}

func (c *TuningConfig) GetEnvScanRateHz() float64 {
	if c.EnvScanRateHz == nil {
		return 20.0
	}
	return *c.EnvScanRateHz
}

func (c *TuningConfig) GetEnvLuxThreshold() float64 {
	if c.EnvLuxThreshold == nil {
		return 50.0
	}
	return *c.EnvLuxThreshold
}

func (c *TuningConfig) GetEnvPeakSeparationDeg() float64 {
	if c.EnvPeakSeparationDeg == nil {
		return 10.0
	}
	return *c.EnvPeakSeparationDeg
}

func (c *TuningConfig) GetEnvSweepLeadDeg() float64 {
	if c.EnvSweepLeadDeg == nil {
		return 30.0
	}
	return *c.EnvSweepLeadDeg
}

func (c *TuningConfig) GetEnvSettleRate() float64 {
	if c.EnvSettleRate == nil {
		return 1.0
	}
	return *c.EnvSettleRate
}

func (c *TuningConfig) GetEnvSettleSeconds() float64 {
	if c.EnvSettleSeconds == nil {
		return 2.0
	}
	return *c.EnvSettleSeconds
}

func (c *TuningConfig) GetEnvRotations() int {
	if c.EnvRotations == nil {
		return 2
	}
	return *c.EnvRotations
}

// GetLuxAngles returns channel -> mounting angle, defaulting to the bench
// rig's three-sensor layout.
func (c *TuningConfig) GetLuxAngles() map[int]float64 {
	if len(c.LuxAngles) == 0 {
		return map[int]float64{1: 90, 2: -150, 3: -30}
	}
	out := make(map[int]float64, len(c.LuxAngles))
	for k, v := range c.LuxAngles {
		var ch int
		if _, err := fmt.Sscanf(k, "%d", &ch); err == nil {
			out[ch] = v
		}
	}
	return out
}

func (c *TuningConfig) GetLuxChannels() []int {
	if len(c.LuxChannels) == 0 {
		return []int{1, 2, 3}
	}
	return append([]int(nil), c.LuxChannels...)
}

func (c *TuningConfig) GetCalibrationSamples() int {
	if c.CalibrationSamples == nil {
		return 2000
	}
	return *c.CalibrationSamples
}

func (c *TuningConfig) GetCalibrationInterval() time.Duration {
	if c.CalibrationInterval == nil || *c.CalibrationInterval == "" {
		return 4 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CalibrationInterval)
	if err != nil {
		return 4 * time.Millisecond
	}
	return d
}

func (c *TuningConfig) GetManualPower() float64 {
	if c.ManualPower == nil {
		return 100.0
	}
	return *c.ManualPower
}

func (c *TuningConfig) GetI2CPath() string {
	if c.I2CPath == nil || *c.I2CPath == "" {
		return "/dev/i2c-1"
	}
	return *c.I2CPath
}

func (c *TuningConfig) GetMotorPath() string {
	if c.MotorPath == nil || *c.MotorPath == "" {
		return "/dev/ttyACM0"
	}
	return *c.MotorPath
}
