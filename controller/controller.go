// Package controller implements the closed-loop position controller for a
// two-axis rotor. It owns the target state and the operating-state machine,
// and on every tick turns per-axis position error into speed-tiered drive
// commands through the rotor boundary interfaces.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/w1xm/rotor_controller/internal/config"
	"github.com/w1xm/rotor_controller/rotor"
)

// State is the controller's operating state. Exactly one holds at a time.
type State int

const (
	StateIdle State = iota
	StateMovingAz
	StateMovingEl
	StateMovingBoth
	StateManualAzCW
	StateManualAzCCW
	StateManualElUp
	StateManualElDown
	StateParking
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateMovingAz:     "moving_az",
	StateMovingEl:     "moving_el",
	StateMovingBoth:   "moving_both",
	StateManualAzCW:   "manual_az_cw",
	StateManualAzCCW:  "manual_az_ccw",
	StateManualElUp:   "manual_el_up",
	StateManualElDown: "manual_el_down",
	StateParking:      "parking",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range stateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}

// Mode selects between operator-driven and program-driven positioning. It
// is advisory: collaborators consult it, the tick does not.
type Mode int

const (
	ModeManual Mode = iota
	ModeAuto
)

func (m Mode) String() string {
	if m == ModeAuto {
		return "auto"
	}
	return "manual"
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseMode(name)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode maps the wire strings "manual" and "auto" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "manual":
		return ModeManual, nil
	case "auto":
		return ModeAuto, nil
	}
	return ModeManual, fmt.Errorf("unknown mode %q", s)
}

// Status is a point-in-time snapshot of the controller. Target fields are
// nil when the axis has no automatic-positioning target.
type Status struct {
	Azimuth   float64  `json:"azimuth"`
	Elevation float64  `json:"elevation"`
	AzVoltage float64  `json:"az_voltage"`
	ElVoltage float64  `json:"el_voltage"`
	TargetAz  *float64 `json:"target_az"`
	TargetEl  *float64 `json:"target_el"`
	State     State    `json:"state"`
	Mode      Mode     `json:"mode"`
}

type StatusCallback func(status Status)

// Controller steers the rotor toward its targets. All public operations
// are safe to call concurrently with the tick.
type Controller struct {
	cfg      config.Control
	az, el   config.Axis
	pos      rotor.PositionSource
	act      rotor.Actuator
	callback StatusCallback

	mu            sync.Mutex
	targetAz      *float64
	targetEl      *float64
	state         State
	mode          Mode
	stopRequested bool
}

// New wires a controller to its position source and actuator. callback, if
// non-nil, is invoked with a fresh snapshot after every public mutation
// and every tick, without the controller lock held.
func New(cfg config.Control, az, el config.Axis, pos rotor.PositionSource, act rotor.Actuator, callback StatusCallback) *Controller {
	return &Controller{
		cfg:      cfg,
		az:       az,
		el:       el,
		pos:      pos,
		act:      act,
		callback: callback,
	}
}

// Status returns a snapshot of positions, voltages, targets, and state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	s := Status{
		Azimuth:   c.pos.Position(rotor.AxisAzimuth),
		Elevation: c.pos.Position(rotor.AxisElevation),
		AzVoltage: roundMilli(c.pos.Voltage(rotor.AxisAzimuth)),
		ElVoltage: roundMilli(c.pos.Voltage(rotor.AxisElevation)),
		State:     c.state,
		Mode:      c.mode,
	}
	if c.targetAz != nil {
		v := *c.targetAz
		s.TargetAz = &v
	}
	if c.targetEl != nil {
		v := *c.targetEl
		s.TargetEl = &v
	}
	return s
}

func roundMilli(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func (c *Controller) notify(s Status) {
	if c.callback != nil {
		c.callback(s)
	}
}

// SetTarget starts automatic positioning. Each non-nil angle is clamped to
// the axis limits and stored as that axis's target; a nil angle leaves the
// axis's current target alone. Any pending stop request is cleared.
func (c *Controller) SetTarget(az, el *float64) {
	c.mu.Lock()
	c.setTargetLocked(az, el)
	s := c.statusLocked()
	c.mu.Unlock()
	c.notify(s)
}

func (c *Controller) setTargetLocked(az, el *float64) {
	c.stopRequested = false
	if az != nil {
		v := clamp(*az, c.az.LimitMin, c.az.LimitMax)
		c.targetAz = &v
	}
	if el != nil {
		v := clamp(*el, c.el.LimitMin, c.el.LimitMax)
		c.targetEl = &v
	}
	switch {
	case c.targetAz != nil && c.targetEl != nil:
		c.state = StateMovingBoth
	case c.targetAz != nil:
		c.state = StateMovingAz
	case c.targetEl != nil:
		c.state = StateMovingEl
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Manual movement always pre-empts automatic positioning: both targets are
// dropped and the axis runs at full speed until stopped.

func (c *Controller) ManualAzCW()   { c.manual(StateManualAzCW, rotor.CW) }
func (c *Controller) ManualAzCCW()  { c.manual(StateManualAzCCW, rotor.CCW) }
func (c *Controller) ManualElUp()   { c.manual(StateManualElUp, rotor.Up) }
func (c *Controller) ManualElDown() { c.manual(StateManualElDown, rotor.Down) }

func (c *Controller) manual(state State, dir rotor.Direction) {
	c.mu.Lock()
	c.stopRequested = false
	c.targetAz = nil
	c.targetEl = nil
	c.state = state
	c.act.Drive(dir.Axis(), dir, c.cfg.PWMFast)
	s := c.statusLocked()
	c.mu.Unlock()
	c.notify(s)
}

// Stop halts all movement immediately. Safe from any state; the stop
// request keeps the actuators zeroed on every following tick until a new
// movement command arrives.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopRequested = true
	c.act.Stop(rotor.AxisAzimuth)
	c.act.Stop(rotor.AxisElevation)
	c.targetAz = nil
	c.targetEl = nil
	c.state = StateIdle
	s := c.statusLocked()
	c.mu.Unlock()
	c.notify(s)
}

// Park drives both axes to the configured park position. The Parking state
// is replaced by the target-derived moving state before the snapshot is
// taken, so it is not normally observable.
func (c *Controller) Park() {
	c.mu.Lock()
	c.state = StateParking
	az, el := c.cfg.ParkAz, c.cfg.ParkEl
	c.setTargetLocked(&az, &el)
	s := c.statusLocked()
	c.mu.Unlock()
	c.notify(s)
}

// SetMode records the operating mode.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	s := c.statusLocked()
	c.mu.Unlock()
	c.notify(s)
}

// Speed returns the drive magnitude for an axis the given distance away
// from its target: zero inside the tolerance, a linear ramp between
// tolerance and the slow threshold, full speed beyond it.
func (c *Controller) Speed(distance float64) uint16 {
	switch {
	case distance <= c.cfg.Tolerance:
		return 0
	case distance <= c.cfg.SlowThreshold:
		ratio := distance / c.cfg.SlowThreshold
		return uint16(float64(c.cfg.PWMMin) + float64(c.cfg.PWMSlow-c.cfg.PWMMin)*ratio)
	default:
		return c.cfg.PWMFast
	}
}

// Tick runs one control pass: honor a pending stop, then steer each axis
// that has a target toward it, clearing the target on arrival.
func (c *Controller) Tick() {
	c.mu.Lock()
	c.tickLocked()
	s := c.statusLocked()
	c.mu.Unlock()
	c.notify(s)
}

func (c *Controller) tickLocked() {
	if c.stopRequested {
		c.act.Stop(rotor.AxisAzimuth)
		c.act.Stop(rotor.AxisElevation)
		return
	}

	if c.targetAz != nil {
		c.targetAz = c.steer(rotor.AxisAzimuth, *c.targetAz, rotor.CW, rotor.CCW)
	}
	if c.targetEl != nil {
		c.targetEl = c.steer(rotor.AxisElevation, *c.targetEl, rotor.Up, rotor.Down)
	}

	// A moving state collapses straight to idle only once both targets are
	// done; one axis arriving early never downgrades MovingBoth.
	if c.targetAz == nil && c.targetEl == nil {
		switch c.state {
		case StateMovingAz, StateMovingEl, StateMovingBoth, StateParking:
			c.state = StateIdle
		}
	}
}

// steer drives one axis toward target and returns the remaining target,
// nil once the axis is within tolerance.
func (c *Controller) steer(axis rotor.Axis, target float64, fwd, rev rotor.Direction) *float64 {
	current := c.pos.Position(axis)
	err := target - current
	if math.Abs(err) <= c.cfg.Tolerance {
		c.act.Stop(axis)
		return nil
	}
	dir := fwd
	if err < 0 {
		dir = rev
	}
	c.act.Drive(axis, dir, c.Speed(math.Abs(err)))
	return &target
}

// Run drives the control loop until ctx is canceled. Both actuators are
// left stopped on the way out; cancellation never leaves a motor
// energized.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.UpdateInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.act.Stop(rotor.AxisAzimuth)
			c.act.Stop(rotor.AxisElevation)
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}
