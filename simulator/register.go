package simulator

import (
	"sync"

	"github.com/w1xm/rotor_controller/rotor"
)

// Register is the synchronization point between the controller's tick and
// the plant's tick: the two last-known axis positions and the four
// commanded duty magnitudes. Multi-field reads are atomic with respect to
// writers; position writes clamp to the calibrated degree ranges. It is
// constructed once and handed to everything that needs it; there is no
// package-level instance.
type Register struct {
	mu           sync.RWMutex
	azMin, azMax float64
	elMin, elMax float64
	az, el       float64
	duty         [4]uint16
}

func channel(dir rotor.Direction) int {
	switch dir {
	case rotor.CW:
		return 0
	case rotor.CCW:
		return 1
	case rotor.Up:
		return 2
	}
	return 3
}

// NewRegister creates a register whose positions are clamped into the
// calibrated degree range of each axis. Positions start at the low end;
// callers position the plant with Simulator.Reset.
func NewRegister(azCal, elCal rotor.Calibration) *Register {
	return &Register{
		azMin: azCal.DegMin, azMax: azCal.DegMax,
		elMin: elCal.DegMin, elMax: elCal.DegMax,
		az: azCal.DegMin, el: elCal.DegMin,
	}
}

// Positions returns both axis angles as one consistent pair.
func (r *Register) Positions() (az, el float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.az, r.el
}

// SetPositions stores both axis angles, clamped to the calibrated ranges.
func (r *Register) SetPositions(az, el float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.az = clamp(az, r.azMin, r.azMax)
	r.el = clamp(el, r.elMin, r.elMax)
}

// Duties returns all four drive magnitudes as one consistent group.
func (r *Register) Duties() (cw, ccw, up, down uint16) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duty[0], r.duty[1], r.duty[2], r.duty[3]
}

// SetDuty stores one drive magnitude.
func (r *Register) SetDuty(dir rotor.Direction, v uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duty[channel(dir)] = v
}

// ZeroDuties releases all four channels.
func (r *Register) ZeroDuties() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duty = [4]uint16{}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
