package config

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "rotor.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if *cfg != Default() {
		t.Errorf("Load of missing file = %+v, want defaults", cfg)
	}
}

func TestLoadMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotor.yaml")
	if err := ioutil.WriteFile(path, []byte(`
control:
  tolerance: 0.5
  park_az: 90
elevation:
  limit_max: 85
`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.Tolerance != 0.5 {
		t.Errorf("tolerance = %g, want 0.5", cfg.Control.Tolerance)
	}
	if cfg.Control.ParkAz != 90 {
		t.Errorf("park_az = %g, want 90", cfg.Control.ParkAz)
	}
	if cfg.Elevation.LimitMax != 85 {
		t.Errorf("elevation.limit_max = %g, want 85", cfg.Elevation.LimitMax)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Control.PWMFast != 65535 {
		t.Errorf("pwm_fast = %d, want default 65535", cfg.Control.PWMFast)
	}
	if cfg.Azimuth.VMax != 2.32 {
		t.Errorf("azimuth.volt_max = %g, want default 2.32", cfg.Azimuth.VMax)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotor.yaml")
	if err := ioutil.WriteFile(path, []byte("control: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed yaml succeeded, want error")
	}
}

func TestValidateRejects(t *testing.T) {
	for _, test := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero tolerance", func(c *Config) { c.Control.Tolerance = 0 }, "tolerance"},
		{"negative tolerance", func(c *Config) { c.Control.Tolerance = -1 }, "tolerance"},
		{"slow threshold below tolerance", func(c *Config) { c.Control.SlowThreshold = 0.5 }, "slow_threshold"},
		{"pwm slow above fast", func(c *Config) { c.Control.PWMSlow = 65535; c.Control.PWMFast = 32768 }, "pwm"},
		{"pwm min above slow", func(c *Config) { c.Control.PWMMin = 40000 }, "pwm"},
		{"zero update interval", func(c *Config) { c.Control.PositionUpdateMS = 0 }, "position_update_ms"},
		{"inverted degree range", func(c *Config) { c.Azimuth.DegMax = -10 }, "deg_max"},
		{"inverted voltage range", func(c *Config) { c.Elevation.VMax = 0.1 }, "volt_max"},
		{"inverted limits", func(c *Config) { c.Elevation.LimitMin = 90; c.Elevation.LimitMax = 0 }, "limit_max"},
		{"zero vref", func(c *Config) { c.ADC.VRef = 0 }, "vref"},
		{"zero step", func(c *Config) { c.Simulator.StepMS = 0 }, "step_ms"},
		{"momentum of one", func(c *Config) { c.Simulator.Momentum = 1 }, "momentum"},
		{"negative noise", func(c *Config) { c.Simulator.NoiseStdDev = -0.001 }, "noise"},
		{"zero multiplier", func(c *Config) { c.Simulator.SpeedMultiplier = 0 }, "speed_multiplier"},
		{"unknown backend", func(c *Config) { c.Backend = "gpio" }, "backend"},
		{"mcb without port", func(c *Config) { c.Backend = "mcb"; c.MCB.Port = ""; c.MCB.URL = "" }, "mcb"},
		{"acu without port", func(c *Config) { c.Backend = "acu"; c.ACU.Port = "" }, "acu"},
		{"latitude out of range", func(c *Config) { c.Observer.Latitude = 91 }, "latitude"},
		{"horizon mask out of range", func(c *Config) { c.Observer.MinElevation = 90 }, "min_elevation"},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted a bad config")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %q, want mention of %q", err, test.want)
			}
		})
	}
}

func TestDegenerateVoltageSpanAllowed(t *testing.T) {
	// A flat calibration is degraded hardware, not a config error; the
	// mapping degenerates to DegMin at runtime.
	cfg := Default()
	cfg.Azimuth.VMin = 1.0
	cfg.Azimuth.VMax = 1.0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate rejected equal volt_min/volt_max: %v", err)
	}
}
