package hardware

import (
	"math"
	"testing"
)

func newTestIMU(t *testing.T) (*IMU, *MockBus) {
	t.Helper()
	bus := NewMockBus()
	imu := NewIMU(bus)
	if err := imu.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return imu, bus
}

func TestIMUReadGyroConversion(t *testing.T) {
	imu, bus := newTestIMU(t)

	// 10 °/s on Z at 131 LSB/°/s is 1310 counts (0x051E), big-endian.
	bus.SetRegisters(mpuAddr, regGyroXOutH, 0x00, 0x00, 0x00, 0x00, 0x05, 0x1E)

	v, err := imu.ReadGyro()
	if err != nil {
		t.Fatalf("ReadGyro: %v", err)
	}
	if math.Abs(v.Z-10.0) > 1e-9 {
		t.Errorf("gyro Z = %v, want 10.0", v.Z)
	}
	if v.X != 0 || v.Y != 0 {
		t.Errorf("gyro X/Y = %v/%v, want 0/0", v.X, v.Y)
	}
}

func TestIMUReadGyroNegative(t *testing.T) {
	imu, bus := newTestIMU(t)

	// -1310 counts is 0xFAE2 as int16.
	bus.SetRegisters(mpuAddr, regGyroXOutH, 0xFA, 0xE2, 0x00, 0x00, 0x00, 0x00)

	v, err := imu.ReadGyro()
	if err != nil {
		t.Fatalf("ReadGyro: %v", err)
	}
	if math.Abs(v.X-(-10.0)) > 1e-9 {
		t.Errorf("gyro X = %v, want -10.0", v.X)
	}
}

func TestIMUReadTemperature(t *testing.T) {
	imu, bus := newTestIMU(t)

	// raw -3920 (0xF0B0) → -3920/340 + 36.53 ≈ 25.0 °C
	bus.SetRegisters(mpuAddr, regTempOutH, 0xF0, 0xB0)

	temp, err := imu.ReadTemperature()
	if err != nil {
		t.Fatalf("ReadTemperature: %v", err)
	}
	if math.Abs(temp-25.0) > 0.01 {
		t.Errorf("temperature = %v, want ~25.0", temp)
	}
}

func TestIMUSoftFailAndReconnect(t *testing.T) {
	imu, bus := newTestIMU(t)
	bus.SetRegisters(mpuAddr, regGyroXOutH, 0, 0, 0, 0, 0, 0)

	bus.SetFail(mpuAddr, true)
	if _, err := imu.ReadGyro(); err == nil {
		t.Fatal("expected error while device absent")
	}
	if imu.Ready() {
		t.Error("imu should not be ready after a failed read")
	}

	// Not-ready reads short-circuit without touching the bus.
	if _, err := imu.ReadGyro(); err == nil {
		t.Fatal("expected not-ready error")
	}

	// Reconnect fails while the device is still absent, succeeds after.
	if imu.AttemptReconnect() {
		t.Error("reconnect should fail while device absent")
	}
	bus.SetFail(mpuAddr, false)
	if !imu.AttemptReconnect() {
		t.Error("reconnect should succeed once device is back")
	}
	if !imu.Ready() {
		t.Error("imu should be ready after reconnect")
	}
	if _, err := imu.ReadGyro(); err != nil {
		t.Errorf("ReadGyro after reconnect: %v", err)
	}
}
