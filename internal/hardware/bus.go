// Package hardware provides register-level access to the attitude rig: the
// MPU-6050 IMU and the multiplexed VEML7700 light sensors on the I2C bus, and
// the reaction-wheel motor driver board on a serial line. All reads fail soft:
// a transport error surfaces as an explicit error result and a not-ready flag,
// never as a panic, so the fixed-rate loops above can degrade gracefully.
package hardware

import (
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
)

// Vec3 is a three-axis sensor reading.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Bus is the minimal register-level interface the sensor drivers need. The
// multiplexer additionally requires raw (register-less) writes.
type Bus interface {
	ReadReg(addr, reg byte, buf []byte) error
	WriteReg(addr, reg byte, data ...byte) error
	// Write performs a raw write with no register prefix (used for the
	// TCA9548A channel-select byte).
	Write(addr byte, data []byte) error
	Close() error
}

// DevfsBus is a Bus backed by a Linux /dev/i2c-* device. One device handle is
// opened per slave address on first use and cached; Reset drops the cache so
// a later call re-opens the transport.
type DevfsBus struct {
	path string

	mu   sync.Mutex
	devs map[byte]*i2c.Device
}

// NewDevfsBus returns a bus for the given /dev/i2c path. No I/O happens until
// the first register access, so construction cannot fail.
func NewDevfsBus(path string) *DevfsBus {
	return &DevfsBus{path: path, devs: make(map[byte]*i2c.Device)}
}

func (b *DevfsBus) device(addr byte) (*i2c.Device, error) {
	if dev, ok := b.devs[addr]; ok {
		return dev, nil
	}
	dev, err := i2c.Open(&i2c.Devfs{Dev: b.path}, int(addr))
	if err != nil {
		return nil, fmt.Errorf("open %s addr 0x%02x: %w", b.path, addr, err)
	}
	b.devs[addr] = dev
	return dev, nil
}

// drop closes and forgets the handle for addr so the next access re-opens it.
func (b *DevfsBus) drop(addr byte) {
	if dev, ok := b.devs[addr]; ok {
		dev.Close()
		delete(b.devs, addr)
	}
}

func (b *DevfsBus) ReadReg(addr, reg byte, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev, err := b.device(addr)
	if err != nil {
		return err
	}
	if err := dev.ReadReg(reg, buf); err != nil {
		b.drop(addr)
		return fmt.Errorf("read addr 0x%02x reg 0x%02x: %w", addr, reg, err)
	}
	return nil
}

func (b *DevfsBus) WriteReg(addr, reg byte, data ...byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev, err := b.device(addr)
	if err != nil {
		return err
	}
	if err := dev.WriteReg(reg, data); err != nil {
		b.drop(addr)
		return fmt.Errorf("write addr 0x%02x reg 0x%02x: %w", addr, reg, err)
	}
	return nil
}

func (b *DevfsBus) Write(addr byte, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev, err := b.device(addr)
	if err != nil {
		return err
	}
	if err := dev.Write(data); err != nil {
		b.drop(addr)
		return fmt.Errorf("raw write addr 0x%02x: %w", addr, err)
	}
	return nil
}

// Reset closes every cached device handle. Safe to call repeatedly; the next
// register access re-opens the transport.
func (b *DevfsBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr := range b.devs {
		b.drop(addr)
	}
}

func (b *DevfsBus) Close() error {
	b.Reset()
	return nil
}
