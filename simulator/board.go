package simulator

import (
	"math/rand"

	"github.com/w1xm/rotor_controller/rotor"
)

// Board is the simulated I/O board: the actuator side writes duty
// commands into the shared register, and the sensor side models the ADC
// the production hardware reads (pot voltage from the plant angle, noise,
// clamp to the reference rail, 16-bit quantization), so position readings
// take exactly the round trip they take on real hardware.
type Board struct {
	reg          *Register
	azCal, elCal rotor.Calibration
	vref         float64
	noise        float64
}

// NewBoard wraps reg in the boundary contract. noiseStdDev is the ADC
// noise sigma in volts; zero gives deterministic readings for tests.
func NewBoard(reg *Register, azCal, elCal rotor.Calibration, vref, noiseStdDev float64) *Board {
	return &Board{reg: reg, azCal: azCal, elCal: elCal, vref: vref, noise: noiseStdDev}
}

// Drive commands one channel, releasing the opposing one first.
func (b *Board) Drive(axis rotor.Axis, dir rotor.Direction, magnitude uint16) {
	b.reg.SetDuty(dir.Opposite(), 0)
	b.reg.SetDuty(dir, magnitude)
}

// Stop releases both channels of an axis.
func (b *Board) Stop(axis rotor.Axis) {
	if axis == rotor.AxisAzimuth {
		b.reg.SetDuty(rotor.CW, 0)
		b.reg.SetDuty(rotor.CCW, 0)
		return
	}
	b.reg.SetDuty(rotor.Up, 0)
	b.reg.SetDuty(rotor.Down, 0)
}

// Position returns the plant angle as the sensor path would report it.
func (b *Board) Position(axis rotor.Axis) float64 {
	return b.cal(axis).Degrees(b.Voltage(axis))
}

// Voltage returns an 8-sample averaged reading of the modeled ADC.
func (b *Board) Voltage(axis rotor.Axis) float64 {
	const samples = 8
	var sum float64
	for i := 0; i < samples; i++ {
		sum += float64(b.counts(axis))
	}
	return sum / samples / 65535 * b.vref
}

func (b *Board) cal(axis rotor.Axis) rotor.Calibration {
	if axis == rotor.AxisElevation {
		return b.elCal
	}
	return b.azCal
}

// counts models a single ADC conversion.
func (b *Board) counts(axis rotor.Axis) uint16 {
	az, el := b.reg.Positions()
	deg := az
	if axis == rotor.AxisElevation {
		deg = el
	}
	v := b.cal(axis).Voltage(deg)
	if b.noise > 0 {
		v += rand.NormFloat64() * b.noise
	}
	if v < 0 {
		v = 0
	} else if v > b.vref {
		v = b.vref
	}
	return uint16(v / b.vref * 65535)
}
