package simulator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/w1xm/rotor_controller/internal/config"
	"github.com/w1xm/rotor_controller/rotor"
)

var (
	testAzCal = rotor.Calibration{VMin: 0.54, VMax: 2.32, DegMin: 0, DegMax: 360}
	testElCal = rotor.Calibration{VMin: 0.53, VMax: 0.98, DegMin: 0, DegMax: 90}
)

func testConfig() config.Simulator {
	return config.Simulator{
		StepMS:          20,
		MaxAzSpeed:      6.0,
		MaxElSpeed:      4.0,
		Momentum:        0.3,
		PWMMin:          19660,
		StartAz:         180,
		StartEl:         45,
		SpeedMultiplier: 1.0,
	}
}

func newTestSim() (*Simulator, *Register) {
	reg := NewRegister(testAzCal, testElCal)
	return New(reg, testConfig()), reg
}

const dt = 0.02

func TestMomentumConvergence(t *testing.T) {
	// Under a constant full-speed command the smoothed velocity after N
	// ticks is max_speed * (1 - momentum^N): convergent, no overshoot.
	for _, n := range []int{1, 2, 5, 20, 100} {
		sim, reg := newTestSim()
		reg.SetDuty(rotor.CW, 65535)
		for i := 0; i < n; i++ {
			sim.Step(dt)
			if az, _ := sim.Velocities(); az > 6.0 {
				t.Fatalf("tick %d: azimuth velocity %g overshot max 6.0", i, az)
			}
		}
		az, el := sim.Velocities()
		want := 6.0 * (1 - math.Pow(0.3, float64(n)))
		if math.Abs(az-want) > 1e-9 {
			t.Errorf("after %d ticks: az velocity = %g, want %g", n, az, want)
		}
		if el != 0 {
			t.Errorf("after %d ticks: el velocity = %g, want 0", n, el)
		}
	}
}

func TestDutyThreshold(t *testing.T) {
	for _, test := range []struct {
		duty uint16
		want float64 // target velocity before smoothing
	}{
		{0, 0},
		{19659, 0}, // just under the threshold: static friction wins
		{19660, 0}, // exactly at the threshold the linear map starts at zero
		{42598, float64(42598-19660) / float64(65535-19660) * 6.0},
		{65535, 6.0},
	} {
		sim, reg := newTestSim()
		reg.SetDuty(rotor.CW, test.duty)
		sim.Step(dt)
		az, _ := sim.Velocities()
		want := test.want * (1 - 0.3)
		if math.Abs(az-want) > 1e-9 {
			t.Errorf("duty %d: velocity after one tick = %g, want %g", test.duty, az, want)
		}
	}
}

func TestOpposingCommands(t *testing.T) {
	for _, test := range []struct {
		cw, ccw uint16
		sign    int
	}{
		{65535, 65535, 0}, // equal commands net to zero
		{65535, 30000, 1}, // strictly greater magnitude wins
		{30000, 65535, -1},
	} {
		sim, reg := newTestSim()
		reg.SetDuty(rotor.CW, test.cw)
		reg.SetDuty(rotor.CCW, test.ccw)
		sim.Step(dt)
		az, _ := sim.Velocities()
		switch {
		case test.sign == 0 && az != 0:
			t.Errorf("cw=%d ccw=%d: velocity = %g, want 0", test.cw, test.ccw, az)
		case test.sign > 0 && az <= 0:
			t.Errorf("cw=%d ccw=%d: velocity = %g, want > 0", test.cw, test.ccw, az)
		case test.sign < 0 && az >= 0:
			t.Errorf("cw=%d ccw=%d: velocity = %g, want < 0", test.cw, test.ccw, az)
		}
	}
}

func TestPositionStaysInRange(t *testing.T) {
	sim, reg := newTestSim()
	sim.Reset(359.5, 89.5, 1.0)
	reg.SetDuty(rotor.CW, 65535)
	reg.SetDuty(rotor.Up, 65535)
	for i := 0; i < 200; i++ {
		sim.Step(dt)
		az, el := reg.Positions()
		if az > 360 || el > 90 {
			t.Fatalf("tick %d: position (%g, %g) escaped range", i, az, el)
		}
	}
	if az, el := reg.Positions(); az != 360 || el != 90 {
		t.Errorf("position = (%g, %g), want pinned at (360, 90)", az, el)
	}

	// And the same against the low stops.
	sim.Reset(0.5, 0.5, 1.0)
	reg.SetDuty(rotor.CCW, 65535)
	reg.SetDuty(rotor.Down, 65535)
	for i := 0; i < 200; i++ {
		sim.Step(dt)
		az, el := reg.Positions()
		if az < 0 || el < 0 {
			t.Fatalf("tick %d: position (%g, %g) escaped range", i, az, el)
		}
	}
}

func TestPositionInRangeUnderRandomCommands(t *testing.T) {
	sim, reg := newTestSim()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		if i%7 == 0 {
			reg.SetDuty(rotor.CW, uint16(rng.Intn(65536)))
			reg.SetDuty(rotor.CCW, uint16(rng.Intn(65536)))
			reg.SetDuty(rotor.Up, uint16(rng.Intn(65536)))
			reg.SetDuty(rotor.Down, uint16(rng.Intn(65536)))
		}
		sim.Step(dt)
		az, el := reg.Positions()
		if az < 0 || az > 360 || el < 0 || el > 90 {
			t.Fatalf("tick %d: position (%g, %g) escaped range", i, az, el)
		}
	}
}

func TestVelocitySnapsToZero(t *testing.T) {
	sim, reg := newTestSim()
	reg.SetDuty(rotor.CW, 65535)
	for i := 0; i < 10; i++ {
		sim.Step(dt)
	}
	reg.ZeroDuties()
	// Decay is geometric (factor 0.3 per tick); within a handful of ticks
	// the epsilon snap must make the velocity exactly zero.
	for i := 0; i < 10; i++ {
		sim.Step(dt)
	}
	if az, el := sim.Velocities(); az != 0 || el != 0 {
		t.Errorf("velocities after release = (%g, %g), want exactly (0, 0)", az, el)
	}
	before, _ := reg.Positions()
	sim.Step(dt)
	after, _ := reg.Positions()
	if before != after {
		t.Errorf("position crept from %g to %g with zero velocity", before, after)
	}
}

func TestReset(t *testing.T) {
	sim, reg := newTestSim()
	reg.SetDuty(rotor.CW, 65535)
	for i := 0; i < 5; i++ {
		sim.Step(dt)
	}
	sim.Reset(180, 45, 2.0)
	if az, el := sim.Velocities(); az != 0 || el != 0 {
		t.Errorf("velocities after Reset = (%g, %g), want (0, 0)", az, el)
	}
	if az, el := reg.Positions(); az != 180 || el != 45 {
		t.Errorf("positions after Reset = (%g, %g), want (180, 45)", az, el)
	}
	if cw, ccw, up, down := reg.Duties(); cw != 0 || ccw != 0 || up != 0 || down != 0 {
		t.Errorf("duties after Reset = (%d, %d, %d, %d), want all zero", cw, ccw, up, down)
	}

	// The multiplier scales the commanded velocity, so one tick at full
	// drive reaches 2 * 6.0 * (1 - momentum).
	reg.SetDuty(rotor.CW, 65535)
	sim.Step(dt)
	az, _ := sim.Velocities()
	want := 2.0 * 6.0 * (1 - 0.3)
	if math.Abs(az-want) > 1e-9 {
		t.Errorf("velocity with multiplier 2 = %g, want %g", az, want)
	}
}
