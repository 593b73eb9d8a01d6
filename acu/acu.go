// Package acu drives the rotor through the serial-attached interface MCU.
// The MCU streams unsolicited ADC count reports and accepts duty-cycle
// writes, one short ASCII line each way.
package acu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/w1xm/rotor_controller/rotor"
)

// ring keeps the last eight raw ADC counts for one axis; readings average
// over it so a single noisy report cannot jerk the control loop.
type ring struct {
	samples [8]uint16
	n       int
}

func (r *ring) add(v uint16) {
	r.samples[r.n%len(r.samples)] = v
	r.n++
}

func (r *ring) average() float64 {
	count := r.n
	if count == 0 {
		return 0
	}
	if count > len(r.samples) {
		count = len(r.samples)
	}
	var sum uint32
	for i := 0; i < count; i++ {
		sum += uint32(r.samples[i])
	}
	return float64(sum) / float64(count)
}

// ACU implements rotor.PositionSource and rotor.Actuator over the MCU's
// serial protocol. Reports before the first connection read as the low
// calibration stop.
type ACU struct {
	azCal, elCal rotor.Calibration
	vref         float64

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	azRing ring
	elRing ring
}

// Connect starts managing the MCU on port, reconnecting with a one second
// backoff until ctx is canceled.
func Connect(ctx context.Context, port string, baud int, azCal, elCal rotor.Calibration, vref float64) *ACU {
	a := &ACU{azCal: azCal, elCal: elCal, vref: vref}
	go a.reconnectLoop(ctx, port, baud)
	return a
}

func (a *ACU) reconnectLoop(ctx context.Context, port string, baud int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		s, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
		if err != nil {
			log.Printf("opening %q: %v", port, err)
			continue
		}
		log.Printf("opened %q", port)
		a.mu.Lock()
		a.conn = s
		a.mu.Unlock()
		a.watch(ctx, s)
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}
}

// watch consumes reports until the connection drops or ctx is canceled.
// The port is closed on the way out; on cancellation the close is what
// unblocks a read in flight.
func (a *ACU) watch(ctx context.Context, conn io.ReadWriteCloser) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		a.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Printf("reading serial port: %v", err)
	}
}

// handleLine parses one report. "r<az> <el>" carries hex ADC counts, "!"
// prefixes MCU log output.
func (a *ACU) handleLine(input string) {
	if len(input) < 1 {
		return
	}
	switch input[0] {
	case '!':
		log.Printf("mcu: %s", input[1:])
	case 'r':
		fields := strings.Fields(input[1:])
		if len(fields) != 2 {
			log.Printf("malformed report %q", input)
			return
		}
		az, errAz := strconv.ParseUint(fields[0], 16, 16)
		el, errEl := strconv.ParseUint(fields[1], 16, 16)
		if errAz != nil || errEl != nil {
			log.Printf("failed to parse %q", input)
			return
		}
		a.mu.Lock()
		a.azRing.add(uint16(az))
		a.elRing.add(uint16(el))
		a.mu.Unlock()
	default:
		log.Printf("unknown input: %s", input)
	}
}

// Channel assignment on the MCU: 0 az CW, 1 az CCW, 2 el up, 3 el down.
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

// Drive releases the opposing channel, then energizes dir at magnitude.
func (a *ACU) Drive(axis rotor.Axis, dir rotor.Direction, magnitude uint16) {
	a.writeDuty(channel(dir.Opposite()), 0)
	a.writeDuty(channel(dir), magnitude)
}

// Stop zeroes both of the axis's channels.
func (a *ACU) Stop(axis rotor.Axis) {
	if axis == rotor.AxisAzimuth {
		a.writeDuty(channel(rotor.CW), 0)
		a.writeDuty(channel(rotor.CCW), 0)
		return
	}
	a.writeDuty(channel(rotor.Up), 0)
	a.writeDuty(channel(rotor.Down), 0)
}

// writeDuty sends one "w<channel> <duty>" line. Lines while disconnected
// are dropped; the next control tick reissues current state anyway.
func (a *ACU) writeDuty(ch int, duty uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		log.Printf("dropping write to channel %d: not connected", ch)
		return
	}
	if _, err := fmt.Fprintf(a.conn, "w%x %x\n", ch, duty); err != nil {
		log.Print(err)
	}
}

// Position returns the calibrated angle for axis from the averaged counts.
func (a *ACU) Position(axis rotor.Axis) float64 {
	return a.cal(axis).Degrees(a.Voltage(axis))
}

// Voltage returns the averaged sensor voltage for axis.
func (a *ACU) Voltage(axis rotor.Axis) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &a.azRing
	if axis == rotor.AxisElevation {
		r = &a.elRing
	}
	return r.average() / 65535 * a.vref
}

func (a *ACU) cal(axis rotor.Axis) rotor.Calibration {
	if axis == rotor.AxisElevation {
		return a.elCal
	}
	return a.azCal
}
