// Package rotor defines the contract between the position controller and
// whatever is actually moving the antenna: a sensed angle per axis and a
// pair of directional PWM channels per axis.
package rotor

import "math"

type Axis int

const (
	AxisAzimuth Axis = iota
	AxisElevation
)

func (a Axis) String() string {
	switch a {
	case AxisAzimuth:
		return "azimuth"
	case AxisElevation:
		return "elevation"
	}
	return "unknown"
}

// Direction selects one of the four drive channels. CW and Up move their
// axis toward larger angles.
type Direction int

const (
	CW Direction = iota
	CCW
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case CW:
		return "cw"
	case CCW:
		return "ccw"
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "unknown"
}

// Axis returns the axis the direction belongs to.
func (d Direction) Axis() Axis {
	if d == CW || d == CCW {
		return AxisAzimuth
	}
	return AxisElevation
}

// Opposite returns the opposing channel on the same axis.
func (d Direction) Opposite() Direction {
	switch d {
	case CW:
		return CCW
	case CCW:
		return CW
	case Up:
		return Down
	}
	return Up
}

// PositionSource reports the sensed angle for an axis. Providers average
// several ADC samples per reading, so two consecutive calls may differ
// slightly even with the rotor at rest.
type PositionSource interface {
	// Position returns the calibrated angle in degrees.
	Position(axis Axis) float64
	// Voltage returns the averaged sensor voltage in volts.
	Voltage(axis Axis) float64
}

// Actuator drives the two H-bridges. Magnitude is a duty cycle from 0 to
// 65535; the plant treats anything under its minimum threshold as zero.
// Implementations release the opposing channel before energizing one, and
// never surface transport errors to the caller; a failed write is logged
// and the next control tick recomputes.
type Actuator interface {
	Drive(axis Axis, dir Direction, magnitude uint16)
	Stop(axis Axis)
}

// Calibration maps sensor voltage to degrees for one axis.
type Calibration struct {
	VMin   float64 `yaml:"volt_min"`
	VMax   float64 `yaml:"volt_max"`
	DegMin float64 `yaml:"deg_min"`
	DegMax float64 `yaml:"deg_max"`
}

// Degrees converts a voltage reading to an angle. The voltage is clamped
// into [VMin, VMax] first; a degenerate span (VMax == VMin) maps to
// DegMin. Results are rounded to 0.1 degree, the useful resolution of the
// feedback pots.
func (c Calibration) Degrees(volts float64) float64 {
	if volts < c.VMin {
		volts = c.VMin
	} else if volts > c.VMax {
		volts = c.VMax
	}
	span := c.VMax - c.VMin
	if span == 0 {
		return c.DegMin
	}
	deg := c.DegMin + (volts-c.VMin)/span*(c.DegMax-c.DegMin)
	return math.Round(deg*10) / 10
}

// Voltage is the inverse mapping, used by the simulator's ADC model to
// turn a plant angle back into a pot voltage.
func (c Calibration) Voltage(degrees float64) float64 {
	if degrees < c.DegMin {
		degrees = c.DegMin
	} else if degrees > c.DegMax {
		degrees = c.DegMax
	}
	span := c.DegMax - c.DegMin
	if span == 0 {
		return c.VMin
	}
	return c.VMin + (degrees-c.DegMin)/span*(c.VMax-c.VMin)
}
