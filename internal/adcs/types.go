// Package adcs implements the attitude determination and control core of the
// ground station: gyro-integration attitude estimation, the PD reaction-wheel
// controller, the reference-acquisition modes (manual, raw target,
// environmental sun-seek, vision-tag lock) and the supervisor that runs the
// fixed-rate sensor and control loops and arbitrates between modes.
package adcs

import (
	"time"

	"github.com/satbench/attitude.station/internal/hardware"
)

// Status tags the health of the latest sensor frame.
type Status string

const (
	StatusInitializing Status = "Initializing"
	StatusActive       Status = "Active"
	StatusSensorError  Status = "Sensor Error"
	StatusNotReady     Status = "Sensor Not Ready"
)

// SensorFrame is one synchronized snapshot of the rig, produced only by the
// sensor-acquisition loop and handed out as a copy. Angles are unbounded:
// nothing here wraps to ±180°.
type SensorFrame struct {
	GyroRates   hardware.Vec3 // calibrated, °/s
	Yaw         float64       // degrees, unbounded
	Roll        float64
	Pitch       float64
	Temperature float64 // °C
	Lux         map[int]float64
	Status      Status
	Timestamp   time.Time
}

func (f SensorFrame) clone() SensorFrame {
	out := f
	out.Lux = make(map[int]float64, len(f.Lux))
	for ch, v := range f.Lux {
		out.Lux[ch] = v
	}
	return out
}

// ControllerState is the control loop's published output.
type ControllerState struct {
	Enabled   bool
	TargetYaw float64
	LastError float64
	Command   MotorCommand
	PDOutput  float64
}

// IMUReader is the gyro/temperature source the supervisor reads every sensor
// tick. Implemented by hardware.IMU and hardware.SimRig.
type IMUReader interface {
	ReadGyro() (hardware.Vec3, error)
	ReadTemperature() (float64, error)
	Ready() bool
	AttemptReconnect() bool
}

// LuxReader sweeps the light-sensor channels.
type LuxReader interface {
	ReadAll() map[int]float64
	Channels() []int
}

// Actuator drives the reaction wheel. Implemented by hardware.Motor and
// hardware.SimRig.
type Actuator interface {
	SetPower(power float64) error
	Stop() error
}

// Spawner starts fn as a concurrent task. Injected so the supervisor works
// under either OS threads (goroutines) or a cooperative test scheduler; the
// supervisor itself never assumes which.
type Spawner func(name string, fn func())

// GoSpawner runs tasks as plain goroutines.
func GoSpawner(name string, fn func()) { go fn() }
