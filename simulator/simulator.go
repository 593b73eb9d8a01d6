// Package simulator stands in for the physical rotor: a plant model that
// integrates drive commands into angular velocity and position, and a
// simulated I/O board that exposes the result through the same boundary
// the real hardware uses. The controller cannot tell the difference,
// which is the point.
package simulator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/w1xm/rotor_controller/internal/config"
)

// snapEpsilon is the velocity in deg/s under which the plant stops
// creeping: when both the commanded and the smoothed velocity fall below
// it, the smoothed velocity becomes exactly zero.
const snapEpsilon = 0.1

// Simulator integrates the duty commands in the shared register into
// simulated rotor motion. The momentum term low-passes command changes,
// so a step command converges exponentially instead of instantly, close
// enough to a brushed gearmotor for the control loop to be honest.
type Simulator struct {
	reg *Register
	cfg config.Simulator

	mu           sync.Mutex
	azVel, elVel float64
	speedMult    float64
}

func New(reg *Register, cfg config.Simulator) *Simulator {
	s := &Simulator{reg: reg, cfg: cfg}
	s.Reset(cfg.StartAz, cfg.StartEl, cfg.SpeedMultiplier)
	return s
}

// Run steps the plant at the configured rate until ctx is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	interval := s.cfg.StepInterval()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		s.Step(interval.Seconds())
	}
}

// Step advances the physics by dt seconds: duty commands become target
// velocities, momentum smooths them, position integrates and clamps.
func (s *Simulator) Step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cw, ccw, up, down := s.reg.Duties()
	azTarget := s.targetVelocity(cw, ccw, s.cfg.MaxAzSpeed)
	elTarget := s.targetVelocity(up, down, s.cfg.MaxElSpeed)

	s.azVel = smooth(s.azVel, azTarget, s.cfg.Momentum)
	s.elVel = smooth(s.elVel, elTarget, s.cfg.Momentum)

	az, el := s.reg.Positions()
	s.reg.SetPositions(az+s.azVel*dt, el+s.elVel*dt)
}

// targetVelocity turns a pair of opposing duty commands into a signed
// velocity. The strictly stronger channel wins; equal commands cancel.
func (s *Simulator) targetVelocity(pos, neg uint16, maxSpeed float64) float64 {
	var v float64
	switch {
	case pos > neg:
		v = s.dutyToSpeed(pos, maxSpeed)
	case neg > pos:
		v = -s.dutyToSpeed(neg, maxSpeed)
	}
	return v * s.speedMult
}

// dutyToSpeed maps [threshold, 65535] linearly onto [0, maxSpeed].
// Anything under the threshold does not break static friction.
func (s *Simulator) dutyToSpeed(duty uint16, maxSpeed float64) float64 {
	min := s.cfg.PWMMin
	if duty < min {
		return 0
	}
	span := float64(65535 - min)
	if span == 0 {
		return maxSpeed
	}
	return float64(duty-min) / span * maxSpeed
}

func smooth(vel, target, momentum float64) float64 {
	vel = vel*momentum + target*(1-momentum)
	if math.Abs(target) < snapEpsilon && math.Abs(vel) < snapEpsilon {
		return 0
	}
	return vel
}

// Velocities returns the current smoothed axis velocities in deg/s.
func (s *Simulator) Velocities() (az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.azVel, s.elVel
}

// Reset reinitializes the plant between scenarios: positions move to the
// given angles, velocities and duty commands are zeroed, and target
// velocities are scaled by speedMultiplier from here on (1.0 = real
// time).
func (s *Simulator) Reset(az, el, speedMultiplier float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.azVel, s.elVel = 0, 0
	s.speedMult = speedMultiplier
	s.reg.SetPositions(az, el)
	s.reg.ZeroDuties()
}
