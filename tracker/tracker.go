// Package tracker steers the rotor along a satellite pass. A two-line
// element set is propagated with SGP4 once a second; while the predicted
// elevation is above the horizon mask the look angles feed the controller
// as position targets.
package tracker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/w1xm/rotor_controller/internal/config"
)

// Positioner is the slice of the controller the tracker needs.
type Positioner interface {
	SetTarget(az, el *float64)
	Stop()
}

const earthRadiusKm = 6371.0

type vec3 struct{ x, y, z float64 }

func (v vec3) dot(o vec3) float64 { return v.x*o.x + v.y*o.y + v.z*o.z }
func (v vec3) sub(o vec3) vec3    { return vec3{v.x - o.x, v.y - o.y, v.z - o.z} }

// site is the observer in ECEF kilometres with its local east/north/up
// basis, precomputed once.
type site struct {
	pos   vec3
	east  vec3
	north vec3
	up    vec3
}

func newSite(obs config.Observer) site {
	lat := obs.Latitude * math.Pi / 180
	lon := obs.Longitude * math.Pi / 180
	up := vec3{math.Cos(lat) * math.Cos(lon), math.Cos(lat) * math.Sin(lon), math.Sin(lat)}
	r := earthRadiusKm + obs.AltitudeM/1000
	return site{
		pos:   vec3{up.x * r, up.y * r, up.z * r},
		east:  vec3{-math.Sin(lon), math.Cos(lon), 0},
		north: vec3{-math.Sin(lat) * math.Cos(lon), -math.Sin(lat) * math.Sin(lon), math.Cos(lat)},
		up:    up,
	}
}

// lookAngles returns the azimuth and elevation of an ECEF point as seen
// from the site. Azimuth is degrees clockwise from true north in
// [0, 360); elevation is degrees above the local horizon.
func (s site) lookAngles(sat vec3) (az, el float64) {
	rho := sat.sub(s.pos)
	e := rho.dot(s.east)
	n := rho.dot(s.north)
	u := rho.dot(s.up)
	az = math.Atan2(e, n) * 180 / math.Pi
	if az < 0 {
		az += 360
	}
	el = math.Atan2(u, math.Hypot(e, n)) * 180 / math.Pi
	return az, el
}

// predictor compiles a TLE into a look-angle function for the site.
func predictor(s site, tle1, tle2 string) (func(time.Time) (az, el float64), error) {
	if len(tle1) < 69 || len(tle2) < 69 || tle1[0] != '1' || tle2[0] != '2' {
		return nil, fmt.Errorf("malformed TLE")
	}
	sat := satellite.TLEToSat(tle1, tle2, satellite.GravityWGS72)
	return func(t time.Time) (float64, float64) {
		t = t.UTC()
		year, month, day := t.Date()
		hour, min, sec := t.Clock()
		posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
		gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
		posECEF := satellite.ECIToECEF(posECI, gmst)
		return s.lookAngles(vec3{posECEF.X, posECEF.Y, posECEF.Z})
	}, nil
}

// Tracker runs at most one satellite track at a time.
type Tracker struct {
	site     site
	minEl    float64
	pos      Positioner
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     int
	predict func(time.Time) (az, el float64)
	above   bool
}

func New(obs config.Observer, pos Positioner) *Tracker {
	return &Tracker{
		site:     newSite(obs),
		minEl:    obs.MinElevation,
		pos:      pos,
		interval: time.Second,
	}
}

// Start begins tracking the satellite described by the TLE, replacing any
// active track. The track ends when ctx is canceled or Cancel is called.
func (t *Tracker) Start(ctx context.Context, tle1, tle2 string) error {
	predict, err := predictor(t.site, tle1, tle2)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = cancel
	t.gen++
	gen := t.gen
	t.predict = predict
	t.above = false
	t.mu.Unlock()
	go t.run(ctx, gen)
	return nil
}

// Cancel stops the active track, if any. The rotor keeps its last target;
// callers wanting a halt issue their own stop.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
		t.gen++
	}
}

// Active reports whether a track has been started and not yet canceled.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Tracker) run(ctx context.Context, gen int) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.step(time.Now(), gen)
		}
	}
}

// step pushes one prediction. Crossing below the horizon mask stops the
// rotor once; the track then idles until the next rise. The generation
// check and the push happen under one lock, so a step in flight when
// Cancel or a replacing Start lands cannot push a stale target after the
// caller's next command.
func (t *Tracker) step(now time.Time, gen int) {
	t.mu.Lock()
	predict := t.predict
	t.mu.Unlock()
	az, el := predict(now)

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	if el >= t.minEl {
		t.above = true
		t.pos.SetTarget(&az, &el)
		return
	}
	wasAbove := t.above
	t.above = false
	if wasAbove {
		t.pos.Stop()
	}
}
