package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/w1xm/rotor_controller/controller"
	"github.com/w1xm/rotor_controller/internal/config"
	"github.com/w1xm/rotor_controller/rotor"
	"github.com/w1xm/rotor_controller/tracker"
)

const (
	issTLE1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issTLE2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

func ptr(v float64) *float64 { return &v }

// fixedPos reports a rotor frozen at one position.
type fixedPos struct {
	az, el float64
}

func (p fixedPos) Position(axis rotor.Axis) float64 {
	if axis == rotor.AxisAzimuth {
		return p.az
	}
	return p.el
}

func (p fixedPos) Voltage(axis rotor.Axis) float64 { return 1.0 }

type nullActuator struct{}

func (nullActuator) Drive(rotor.Axis, rotor.Direction, uint16) {}
func (nullActuator) Stop(rotor.Axis)                           {}

func newTestServer() *Server {
	cfg := config.Default()
	s := NewServer(context.Background(), &cfg)
	s.ctrl = controller.New(cfg.Control, cfg.Azimuth, cfg.Elevation, fixedPos{az: 180, el: 45}, nullActuator{}, s.statusCallback)
	s.tracker = tracker.New(cfg.Observer, s.ctrl)
	s.statusCallback(s.ctrl.Status())
	return s
}

func newTestConn(t *testing.T) (*Server, *bufio.Reader, net.Conn) {
	t.Helper()
	s := newTestServer()
	client, server := net.Pipe()
	client.SetDeadline(time.Now().Add(5 * time.Second))
	go s.handleRotctld(server)
	return s, bufio.NewReader(client), client
}

// command writes one protocol line and checks the full reply, line by
// line. net.Pipe is synchronous, so an unexpected extra or missing reply
// line shows up as a mismatch here rather than a hang later.
func command(t *testing.T, conn net.Conn, r *bufio.Reader, cmd string, wantLines ...string) {
	t.Helper()
	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		t.Fatalf("writing %q: %v", cmd, err)
	}
	for _, want := range wantLines {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading reply to %q: %v", cmd, err)
		}
		if got := strings.TrimRight(line, "\n"); got != want {
			t.Errorf("%q reply: got %q, want %q", cmd, got, want)
		}
	}
}

func TestRotctldGetPos(t *testing.T) {
	_, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, "p", "180.0", "45.0")
	command(t, conn, r, `\get_pos`, "180.0", "45.0")
	command(t, conn, r, `+\get_pos`, "get_pos:", "Azimuth: 180.0", "Elevation: 45.0", "RPRT 0")
}

func TestRotctldSetPos(t *testing.T) {
	s, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, "P 90 30", "RPRT 0")
	st := s.ctrl.Status()
	if st.TargetAz == nil || *st.TargetAz != 90 {
		t.Errorf("TargetAz = %v, want 90", st.TargetAz)
	}
	if st.TargetEl == nil || *st.TargetEl != 30 {
		t.Errorf("TargetEl = %v, want 30", st.TargetEl)
	}
	if st.State != controller.StateMovingBoth {
		t.Errorf("state = %v, want %v", st.State, controller.StateMovingBoth)
	}
}

func TestRotctldSetPosRejected(t *testing.T) {
	s, r, conn := newTestConn(t)
	defer conn.Close()
	for _, cmd := range []string{
		"P 400 30",
		"P -1 30",
		"P 90 95",
		"P 90 -5",
		"P 90",
		"P x y",
	} {
		command(t, conn, r, cmd, "RPRT -1")
	}
	if st := s.ctrl.Status(); st.TargetAz != nil || st.TargetEl != nil {
		t.Errorf("rejected commands set targets: az=%v el=%v", st.TargetAz, st.TargetEl)
	}
}

func TestRotctldMove(t *testing.T) {
	s, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, "M 8 50", "RPRT 0")
	if st := s.ctrl.Status(); st.State != controller.StateManualAzCW {
		t.Errorf("state after M 8 = %v, want %v", st.State, controller.StateManualAzCW)
	}
	command(t, conn, r, "M 1 50", "RPRT 0")
	if st := s.ctrl.Status(); st.State != controller.StateManualElUp {
		t.Errorf("state after M 1 = %v, want %v", st.State, controller.StateManualElUp)
	}
	command(t, conn, r, "M 0 0", "RPRT 0")
	if st := s.ctrl.Status(); st.State != controller.StateIdle {
		t.Errorf("state after M 0 = %v, want %v", st.State, controller.StateIdle)
	}
	command(t, conn, r, "M 3 50", "RPRT -1")
	command(t, conn, r, "M x 50", "RPRT -1")
	command(t, conn, r, "M 8", "RPRT -1")
}

func TestRotctldStopParkReset(t *testing.T) {
	s, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, "S", "RPRT 0")
	command(t, conn, r, "K", "RPRT 0")
	st := s.ctrl.Status()
	if st.State != controller.StateMovingBoth {
		t.Errorf("state after park = %v, want %v", st.State, controller.StateMovingBoth)
	}
	if st.TargetAz == nil || *st.TargetAz != 0 || st.TargetEl == nil || *st.TargetEl != 0 {
		t.Errorf("park targets: az=%v el=%v, want 0/0", st.TargetAz, st.TargetEl)
	}
	command(t, conn, r, "R", "RPRT 0")
}

func TestRotctldDumpState(t *testing.T) {
	_, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, `\dump_state`, "0", "1", "0.0", "360.0", "0.0", "90.0")
	// No RPRT after the plain form; the next command must line up.
	command(t, conn, r, "p", "180.0", "45.0")
}

func TestRotctldDumpCaps(t *testing.T) {
	_, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, "1",
		"Caps dump for model: 1",
		"Model name: W1XM Rotor",
		"Mfg name: W1XM",
		"Rot type: Az-El",
		"Min Azimuth: 0.00",
		"Max Azimuth: 360.00",
		"Min Elevation: 0.00",
		"Max Elevation: 90.00",
		"Can set Position: Y",
		"Can get Position: Y",
		"Can Stop: Y",
		"Can Park: Y",
		"Can Reset: Y",
		"Can Move: Y",
		"Can get Info: Y",
	)
	command(t, conn, r, "p", "180.0", "45.0")
}

func TestRotctldGetInfo(t *testing.T) {
	_, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, "_", "W1XM Rotor Controller v1.0")
}

func TestRotctldUnknownCommand(t *testing.T) {
	_, r, conn := newTestConn(t)
	defer conn.Close()
	command(t, conn, r, "Z", "RPRT -1")
	command(t, conn, r, `\bogus`, "RPRT -1")
}

func TestRotctldQuit(t *testing.T) {
	_, r, conn := newTestConn(t)
	defer conn.Close()
	fmt.Fprintf(conn, "q\n")
	if _, err := r.ReadString('\n'); err != io.EOF {
		t.Errorf("read after quit: got %v, want EOF", err)
	}
}

func TestRotctldCancelsTracking(t *testing.T) {
	s, r, conn := newTestConn(t)
	defer conn.Close()
	if err := s.tracker.Start(context.Background(), issTLE1, issTLE2); err != nil {
		t.Fatalf("starting track: %v", err)
	}
	command(t, conn, r, "P 90 30", "RPRT 0")
	if s.tracker.Active() {
		t.Error("set_pos left the tracker active")
	}
}
