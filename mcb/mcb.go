// Package mcb drives the rotor through the Modbus RTU motor control
// board. Input registers 0-1 expose the azimuth and elevation ADC counts;
// holding registers 0-3 accept the four duty-cycle magnitudes.
package mcb

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/w1xm/rotor_controller/internal/modbus"
	"github.com/w1xm/rotor_controller/rotor"
)

const (
	regAzCounts uint16 = 0
	regElCounts uint16 = 1

	regAzCW   uint16 = 0
	regAzCCW  uint16 = 1
	regElUp   uint16 = 2
	regElDown uint16 = 3
)

func dutyRegister(dir rotor.Direction) uint16 {
	switch dir {
	case rotor.CW:
		return regAzCW
	case rotor.CCW:
		return regAzCCW
	case rotor.Up:
		return regElUp
	}
	return regElDown
}

// ring keeps the last eight polled ADC counts for one axis.
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

// MCB implements rotor.PositionSource and rotor.Actuator against the
// board. Duty writes that fail are logged and dropped; the next control
// tick reissues current state.
type MCB struct {
	azCal, elCal rotor.Calibration
	vref         float64

	client *modbus.Client
	// ioMu serializes bus transactions between the poll loop and duty
	// writes.
	ioMu sync.Mutex

	mu     sync.Mutex
	azRing ring
	elRing ring
}

// Connect starts polling the board. port/baud open a local serial line;
// a non-empty url tunnels through a remote mcb_server instead.
func Connect(ctx context.Context, port string, baud int, url string, azCal, elCal rotor.Calibration, vref float64) (*MCB, error) {
	m := &MCB{azCal: azCal, elCal: elCal, vref: vref}
	m.client = &modbus.Client{
		Port:     port,
		BaudRate: baud,
		SlaveId:  1,
		URL:      url,
	}
	m.client.Poll = m.pollOnce
	return m, m.client.Connect(ctx)
}

func (m *MCB) pollOnce() error {
	m.ioMu.Lock()
	results, err := m.client.ReadInputRegisters(regAzCounts, 2)
	m.ioMu.Unlock()
	if err != nil {
		return err
	}
	if len(results) < 4 {
		return fmt.Errorf("short register read: %d bytes", len(results))
	}
	m.mu.Lock()
	m.azRing.add(binary.BigEndian.Uint16(results[0:2]))
	m.elRing.add(binary.BigEndian.Uint16(results[2:4]))
	m.mu.Unlock()
	return nil
}

// Drive releases the opposing channel, then energizes dir at magnitude.
func (m *MCB) Drive(axis rotor.Axis, dir rotor.Direction, magnitude uint16) {
	m.writeDuty(dutyRegister(dir.Opposite()), 0)
	m.writeDuty(dutyRegister(dir), magnitude)
}

// Stop zeroes both of the axis's duty registers.
func (m *MCB) Stop(axis rotor.Axis) {
	if axis == rotor.AxisAzimuth {
		m.writeDuty(regAzCW, 0)
		m.writeDuty(regAzCCW, 0)
		return
	}
	m.writeDuty(regElUp, 0)
	m.writeDuty(regElDown, 0)
}

func (m *MCB) writeDuty(reg uint16, duty uint16) {
	m.ioMu.Lock()
	_, err := m.client.WriteSingleRegister(reg, duty)
	m.ioMu.Unlock()
	if err != nil {
		log.Printf("writing duty register %d: %v", reg, err)
	}
}

// Position returns the calibrated angle for axis from the averaged counts.
func (m *MCB) Position(axis rotor.Axis) float64 {
	return m.cal(axis).Degrees(m.Voltage(axis))
}

// Voltage returns the averaged sensor voltage for axis.
func (m *MCB) Voltage(axis rotor.Axis) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &m.azRing
	if axis == rotor.AxisElevation {
		r = &m.elRing
	}
	return r.average() / 65535 * m.vref
}

func (m *MCB) cal(axis rotor.Axis) rotor.Calibration {
	if axis == rotor.AxisElevation {
		return m.elCal
	}
	return m.azCal
}
