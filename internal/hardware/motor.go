package hardware

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// MotorPorter is the minimal interface needed for the motor driver link.
type MotorPorter interface {
	io.ReadWriter
	io.Closer
}

// Motor drives the reaction wheel through the driver board's serial line
// protocol: "M<power>\n" sets signed percent power (sign selects direction),
// "S\n" stops. Out-of-range power is clamped, not rejected, and zero power stops the
// wheel.
type Motor struct {
	port MotorPorter

	mu        sync.Mutex
	lastPower float64
}

// OpenMotor opens the driver board on the given serial device.
func OpenMotor(path string) (*Motor, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open motor port %s: %w", path, err)
	}
	return NewMotor(port), nil
}

// NewMotor wraps an already-open port (or a mock in tests).
func NewMotor(port MotorPorter) *Motor {
	return &Motor{port: port}
}

// SetPower commands signed percent power in [-100, 100]; values outside that
// range are clamped. Zero stops the wheel.
func (m *Motor) SetPower(power float64) error {
	if power > 100 {
		power = 100
	} else if power < -100 {
		power = -100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := fmt.Fprintf(m.port, "M%.1f\n", power); err != nil {
		return fmt.Errorf("motor set power: %w", err)
	}
	m.lastPower = power
	return nil
}

// Stop halts the wheel. Idempotent; uses the dedicated stop command so the
// board stops even if it lost track of power state.
func (m *Motor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := io.WriteString(m.port, "S\n"); err != nil {
		return fmt.Errorf("motor stop: %w", err)
	}
	m.lastPower = 0
	return nil
}

// LastPower returns the most recently commanded power.
func (m *Motor) LastPower() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPower
}

// Close stops the wheel and releases the port.
func (m *Motor) Close() error {
	stopErr := m.Stop()
	closeErr := m.port.Close()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}
