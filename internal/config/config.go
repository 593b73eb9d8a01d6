// Package config loads and validates the rotor controller configuration.
// Every field has a default matching the shipped hardware, so a missing
// file is not an error; a present file only needs the fields it changes.
// Validation happens here, once, at load time; the control loop assumes
// a well-formed configuration.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/w1xm/rotor_controller/rotor"
)

// Control configures the position controller.
type Control struct {
	// Tolerance is the angular error, in degrees, inside which an axis
	// counts as arrived.
	Tolerance float64 `yaml:"tolerance"`
	// SlowThreshold is the angular error below which the drive ramps
	// down linearly instead of running at PWMFast.
	SlowThreshold float64 `yaml:"slow_threshold"`
	PWMFast       uint16  `yaml:"pwm_fast"`
	PWMSlow       uint16  `yaml:"pwm_slow"`
	PWMMin        uint16  `yaml:"pwm_min"`
	// PositionUpdateMS is the control tick period in milliseconds.
	PositionUpdateMS int     `yaml:"position_update_ms"`
	ParkAz           float64 `yaml:"park_az"`
	ParkEl           float64 `yaml:"park_el"`
}

// UpdateInterval returns the control tick period.
func (c Control) UpdateInterval() time.Duration {
	return time.Duration(c.PositionUpdateMS) * time.Millisecond
}

// Axis holds the sensor calibration and the safety limits for one axis.
// Targets are clamped into [LimitMin, LimitMax]; the calibration degree
// range is the sensor's travel and need not match the limits.
type Axis struct {
	rotor.Calibration `yaml:",inline"`
	LimitMin          float64 `yaml:"limit_min"`
	LimitMax          float64 `yaml:"limit_max"`
}

// ADC describes the analog front end shared by both axes.
type ADC struct {
	VRef float64 `yaml:"vref"`
}

// Simulator configures the plant model. PWMMin here is the plant's own
// minimum-drive threshold (a property of the modeled motors), kept
// separate from the controller's speed-tier floor even though the
// defaults coincide.
type Simulator struct {
	StepMS          int     `yaml:"step_ms"`
	MaxAzSpeed      float64 `yaml:"max_az_speed"`
	MaxElSpeed      float64 `yaml:"max_el_speed"`
	Momentum        float64 `yaml:"momentum"`
	PWMMin          uint16  `yaml:"pwm_min"`
	NoiseStdDev     float64 `yaml:"noise_stddev"`
	StartAz         float64 `yaml:"start_az"`
	StartEl         float64 `yaml:"start_el"`
	SpeedMultiplier float64 `yaml:"speed_multiplier"`
}

// StepInterval returns the plant tick period.
func (s Simulator) StepInterval() time.Duration {
	return time.Duration(s.StepMS) * time.Millisecond
}

// MCB configures the Modbus motor control board. Port/Baud open a local
// serial connection; URL talks to a remote mcb_server instead.
type MCB struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	URL  string `yaml:"url"`
}

// ACU configures the serial-attached interface MCU.
type ACU struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// Observer is the antenna site, used for satellite pass prediction.
type Observer struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	AltitudeM float64 `yaml:"altitude_m"`
	// MinElevation is the horizon mask in degrees; passes are tracked
	// only while the predicted elevation is above it.
	MinElevation float64 `yaml:"min_elevation"`
}

type Config struct {
	// Backend selects what moves the antenna: "simulator", "mcb" or "acu".
	Backend   string    `yaml:"backend"`
	Control   Control   `yaml:"control"`
	Azimuth   Axis      `yaml:"azimuth"`
	Elevation Axis      `yaml:"elevation"`
	ADC       ADC       `yaml:"adc"`
	Simulator Simulator `yaml:"simulator"`
	MCB       MCB       `yaml:"mcb"`
	ACU       ACU       `yaml:"acu"`
	Observer  Observer  `yaml:"observer"`
}

// Default returns the configuration for the shipped hardware.
func Default() Config {
	return Config{
		Backend: "simulator",
		Control: Control{
			Tolerance:        1.0,
			SlowThreshold:    5.0,
			PWMFast:          65535,
			PWMSlow:          32768,
			PWMMin:           19660,
			PositionUpdateMS: 50,
			ParkAz:           0,
			ParkEl:           0,
		},
		Azimuth: Axis{
			Calibration: rotor.Calibration{VMin: 0.54, VMax: 2.32, DegMin: 0, DegMax: 360},
			LimitMin:    0,
			LimitMax:    360,
		},
		Elevation: Axis{
			Calibration: rotor.Calibration{VMin: 0.53, VMax: 0.98, DegMin: 0, DegMax: 90},
			LimitMin:    0,
			LimitMax:    90,
		},
		ADC: ADC{VRef: 3.3},
		Simulator: Simulator{
			StepMS:          20,
			MaxAzSpeed:      6.0,
			MaxElSpeed:      4.0,
			Momentum:        0.3,
			PWMMin:          19660,
			NoiseStdDev:     0.005,
			StartAz:         180,
			StartEl:         45,
			SpeedMultiplier: 1.0,
		},
		MCB: MCB{Port: "/dev/ttyUSB0", Baud: 19200},
		ACU: ACU{Port: "/dev/ttyACM0", Baud: 115200},
		Observer: Observer{
			Latitude:  42.360,
			Longitude: -71.094,
			AltitudeM: 52,
		},
	}
}

// Load reads path and returns the merged configuration. A nonexistent
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects configurations the control loop cannot run safely
// under: non-monotonic speed tiers, inverted ranges, degenerate rates.
func (c *Config) Validate() error {
	switch c.Backend {
	case "simulator", "mcb", "acu":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	ctl := c.Control
	if ctl.Tolerance <= 0 {
		return fmt.Errorf("control.tolerance must be > 0, got %g", ctl.Tolerance)
	}
	if ctl.SlowThreshold <= ctl.Tolerance {
		return fmt.Errorf("control.slow_threshold (%g) must be > tolerance (%g)", ctl.SlowThreshold, ctl.Tolerance)
	}
	if ctl.PWMMin > ctl.PWMSlow || ctl.PWMSlow > ctl.PWMFast {
		return fmt.Errorf("pwm tiers must be ordered min <= slow <= fast, got %d/%d/%d", ctl.PWMMin, ctl.PWMSlow, ctl.PWMFast)
	}
	if ctl.PositionUpdateMS <= 0 {
		return fmt.Errorf("control.position_update_ms must be > 0, got %d", ctl.PositionUpdateMS)
	}
	for _, axis := range []struct {
		name string
		a    Axis
	}{
		{"azimuth", c.Azimuth},
		{"elevation", c.Elevation},
	} {
		if axis.a.DegMax <= axis.a.DegMin {
			return fmt.Errorf("%s.deg_max (%g) must be > deg_min (%g)", axis.name, axis.a.DegMax, axis.a.DegMin)
		}
		if axis.a.VMax < axis.a.VMin {
			return fmt.Errorf("%s.volt_max (%g) must be >= volt_min (%g)", axis.name, axis.a.VMax, axis.a.VMin)
		}
		if axis.a.LimitMax <= axis.a.LimitMin {
			return fmt.Errorf("%s.limit_max (%g) must be > limit_min (%g)", axis.name, axis.a.LimitMax, axis.a.LimitMin)
		}
	}
	if c.ADC.VRef <= 0 {
		return fmt.Errorf("adc.vref must be > 0, got %g", c.ADC.VRef)
	}
	sim := c.Simulator
	if sim.StepMS <= 0 {
		return fmt.Errorf("simulator.step_ms must be > 0, got %d", sim.StepMS)
	}
	if sim.Momentum < 0 || sim.Momentum >= 1 {
		return fmt.Errorf("simulator.momentum must be in [0, 1), got %g", sim.Momentum)
	}
	if sim.MaxAzSpeed <= 0 || sim.MaxElSpeed <= 0 {
		return fmt.Errorf("simulator speeds must be > 0, got %g/%g", sim.MaxAzSpeed, sim.MaxElSpeed)
	}
	if sim.NoiseStdDev < 0 {
		return fmt.Errorf("simulator.noise_stddev must be >= 0, got %g", sim.NoiseStdDev)
	}
	if sim.SpeedMultiplier <= 0 {
		return fmt.Errorf("simulator.speed_multiplier must be > 0, got %g", sim.SpeedMultiplier)
	}
	if c.Backend == "mcb" && c.MCB.URL == "" && c.MCB.Port == "" {
		return fmt.Errorf("mcb backend needs mcb.port or mcb.url")
	}
	if c.Backend == "acu" && c.ACU.Port == "" {
		return fmt.Errorf("acu backend needs acu.port")
	}
	obs := c.Observer
	if obs.Latitude < -90 || obs.Latitude > 90 {
		return fmt.Errorf("observer.latitude must be in [-90, 90], got %g", obs.Latitude)
	}
	if obs.Longitude < -180 || obs.Longitude > 180 {
		return fmt.Errorf("observer.longitude must be in [-180, 180], got %g", obs.Longitude)
	}
	if obs.MinElevation < 0 || obs.MinElevation >= 90 {
		return fmt.Errorf("observer.min_elevation must be in [0, 90), got %g", obs.MinElevation)
	}
	return nil
}
