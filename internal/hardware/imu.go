package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/satbench/attitude.station/internal/monitoring"
)

// MPU-6050 register map (the subset this rig uses).
const (
	mpuAddr = 0x68

	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXOutH  = 0x3B
	regTempOutH    = 0x41
	regGyroXOutH   = 0x43
	regPwrMgmt1    = 0x6B
)

// Scale factors for the ranges configured in Init (±250 °/s, ±2 g).
const (
	gyroLSBPerDegS   = 131.0
	accelLSBPerG     = 16384.0
	tempLSBPerDegC   = 340.0
	tempOffsetDegC   = 36.53
	imuSettleOnReset = 100 * time.Millisecond
)

// IMU is an MPU-6050 gyroscope/accelerometer on the I2C bus. Readings are raw
// (uncalibrated); bias correction belongs to the attitude estimator. A failed
// transfer flips the ready flag and returns an error so the caller can freeze
// its integration rather than ingest garbage.
type IMU struct {
	bus  Bus
	addr byte

	mu    sync.Mutex
	ready bool
}

// NewIMU wraps the given bus. Call Init (or AttemptReconnect) before reading.
func NewIMU(bus Bus) *IMU {
	return &IMU{bus: bus, addr: mpuAddr}
}

// Init wakes the device and configures sample rate and full-scale ranges.
func (s *IMU) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked()
}

func (s *IMU) initLocked() error {
	s.ready = false
	steps := []struct {
		reg byte
		val byte
	}{
		{regPwrMgmt1, 0x00},    // wake from sleep
		{regSmplrtDiv, 0x00},   // 1 kHz internal sample rate
		{regAccelConfig, 0x00}, // ±2 g
		{regGyroConfig, 0x00},  // ±250 °/s
		{regConfig, 0x00},      // DLPF off
	}
	for _, st := range steps {
		if err := s.bus.WriteReg(s.addr, st.reg, st.val); err != nil {
			return fmt.Errorf("imu init: %w", err)
		}
	}
	time.Sleep(imuSettleOnReset)
	s.ready = true
	return nil
}

// Ready reports whether the last transfer succeeded.
func (s *IMU) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// readVec reads a 6-byte big-endian register block into a Vec3, in register
// order X, Y, Z, dividing by scale.
func (s *IMU) readVec(startReg byte, scale float64) (Vec3, error) {
	var buf [6]byte
	if err := s.bus.ReadReg(s.addr, startReg, buf[:]); err != nil {
		s.ready = false
		return Vec3{}, err
	}
	return Vec3{
		X: float64(int16(buf[0])<<8|int16(buf[1])) / scale,
		Y: float64(int16(buf[2])<<8|int16(buf[3])) / scale,
		Z: float64(int16(buf[4])<<8|int16(buf[5])) / scale,
	}, nil
}

// ReadGyro returns raw angular rates in °/s.
func (s *IMU) ReadGyro() (Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return Vec3{}, fmt.Errorf("imu not ready")
	}
	v, err := s.readVec(regGyroXOutH, gyroLSBPerDegS)
	if err != nil {
		return Vec3{}, fmt.Errorf("read gyro: %w", err)
	}
	return v, nil
}

// ReadAccel returns raw acceleration in g.
func (s *IMU) ReadAccel() (Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return Vec3{}, fmt.Errorf("imu not ready")
	}
	v, err := s.readVec(regAccelXOutH, accelLSBPerG)
	if err != nil {
		return Vec3{}, fmt.Errorf("read accel: %w", err)
	}
	return v, nil
}

// ReadTemperature returns the die temperature in °C.
func (s *IMU) ReadTemperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, fmt.Errorf("imu not ready")
	}
	var buf [2]byte
	if err := s.bus.ReadReg(s.addr, regTempOutH, buf[:]); err != nil {
		s.ready = false
		return 0, fmt.Errorf("read temperature: %w", err)
	}
	raw := int16(buf[0])<<8 | int16(buf[1])
	return float64(raw)/tempLSBPerDegC + tempOffsetDegC, nil
}

// AttemptReconnect makes a best-effort re-initialisation of the device.
// Idempotent and safe to call repeatedly.
func (s *IMU) AttemptReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(); err != nil {
		monitoring.Logf("imu reconnect failed: %v", err)
		return false
	}
	monitoring.Logf("imu reconnected")
	return true
}
