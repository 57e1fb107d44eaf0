package adcs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satbench/attitude.station/internal/config"
	"github.com/satbench/attitude.station/internal/hardware"
)

type fakeIMU struct {
	mu         sync.Mutex
	gyro       hardware.Vec3
	temp       float64
	err        error
	reconnects int
	revive     bool
}

func (f *fakeIMU) ReadGyro() (hardware.Vec3, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return hardware.Vec3{}, f.err
	}
	return f.gyro, nil
}

func (f *fakeIMU) ReadTemperature() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.temp, nil
}

func (f *fakeIMU) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err == nil
}

func (f *fakeIMU) AttemptReconnect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.revive {
		f.err = nil
		return true
	}
	return false
}

func (f *fakeIMU) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeIMU) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

type fakeLux struct{ readings map[int]float64 }

func (f *fakeLux) ReadAll() map[int]float64 {
	out := make(map[int]float64, len(f.readings))
	for ch, v := range f.readings {
		out[ch] = v
	}
	return out
}

func (f *fakeLux) Channels() []int { return []int{1, 2, 3} }

func newTestSupervisor(t *testing.T, imu IMUReader, lux LuxReader, motor Actuator, tuning *config.TuningConfig) *Supervisor {
	t.Helper()
	if tuning == nil {
		tuning = &config.TuningConfig{}
	}
	return NewSupervisor(SupervisorConfig{
		Tuning: tuning,
		IMU:    imu,
		Lux:    lux,
		Motor:  motor,
		Logger: log.New(io.Discard, "", 0),
	})
}

func TestSensorTickPublishesFrame(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{Z: 10}, temp: 24.5}
	lux := &fakeLux{readings: map[int]float64{1: 120, 2: 3, 3: 0}}
	s := newTestSupervisor(t, imu, lux, &fakeMotor{}, nil)

	now := time.Now()
	for i := 0; i < 5; i++ {
		s.sensorTick(0.1, now)
	}
	snap := s.Snapshot()
	assert.Equal(t, string(StatusActive), snap.Status)
	assert.InDelta(t, 5.0, snap.Yaw, 1e-9)
	assert.InDelta(t, 10.0, snap.GyroRates.Z, 1e-9)
	assert.Equal(t, 24.5, snap.Temperature)
	assert.Equal(t, 120.0, snap.Lux[1])
	assert.Equal(t, "raw", snap.Mode)
}

func TestSensorDropoutFreezesAttitude(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{Z: 10}, revive: true}
	s := newTestSupervisor(t, imu, &fakeLux{}, &fakeMotor{}, nil)

	now := time.Now()
	for i := 0; i < 10; i++ {
		s.sensorTick(0.1, now)
	}
	frozen := s.Snapshot().Yaw
	assert.InDelta(t, 10.0, frozen, 1e-9)

	imu.setError(errors.New("remote i/o error"))
	imu.revive = false
	for i := 0; i < 10; i++ {
		s.sensorTick(0.1, now)
	}
	snap := s.Snapshot()
	assert.Equal(t, string(StatusNotReady), snap.Status)
	assert.Equal(t, frozen, snap.Yaw, "attitude must hold its last estimate during a dropout")
	assert.Zero(t, imu.reconnectCount())

	// Reconnects are attempted periodically, not every tick.
	imu.revive = true
	for i := 10; i < reconnectEveryNFailures; i++ {
		s.sensorTick(0.1, now)
	}
	assert.Equal(t, 1, imu.reconnectCount())

	// Integration resumes from the frozen estimate once reads recover.
	s.sensorTick(0.1, now)
	snap = s.Snapshot()
	assert.Equal(t, string(StatusActive), snap.Status)
	assert.InDelta(t, frozen+1.0, snap.Yaw, 1e-9)
}

func TestManualBlocksClosedLoopStarts(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{Z: 0}, temp: 20}
	motor := &fakeMotor{}
	s := newTestSupervisor(t, imu, &fakeLux{}, motor, nil)
	ctx := context.Background()
	s.sensorTick(0.05, time.Now())

	res := s.HandleCommand(ctx, Command{Verb: VerbManualStartCW})
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 100.0, motor.lastPower())
	assert.Equal(t, "manual", s.Mode())

	assert.False(t, s.HandleCommand(ctx, Command{Verb: VerbStartAuto}).OK())
	assert.False(t, s.HandleCommand(ctx, Command{Verb: VerbEnvStart}).OK())
	assert.False(t, s.HandleCommand(ctx, Command{Verb: VerbVisionStart}).OK())
	assert.False(t, s.PD().Enabled())

	res = s.HandleCommand(ctx, Command{Verb: VerbManualStop})
	require.True(t, res.OK())
	assert.Zero(t, motor.lastPower())
	assert.Equal(t, "raw", s.Mode())
}

func TestManualTakesWheelFromClosedLoop(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{Z: 0}, temp: 20}
	motor := &fakeMotor{}
	s := newTestSupervisor(t, imu, &fakeLux{}, motor, nil)
	ctx := context.Background()
	s.sensorTick(0.05, time.Now())

	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbStartAuto}).OK())
	assert.True(t, s.PD().Enabled())

	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbManualStartCCW}).OK())
	assert.False(t, s.PD().Enabled(), "manual start must stop the closed loop")
	assert.Equal(t, -100.0, motor.lastPower())
}

func TestModeStopsAreIdempotent(t *testing.T) {
	imu := &fakeIMU{temp: 20}
	motor := &fakeMotor{}
	s := newTestSupervisor(t, imu, &fakeLux{}, motor, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, s.HandleCommand(ctx, Command{Verb: VerbManualStop}).OK())
		assert.True(t, s.HandleCommand(ctx, Command{Verb: VerbStopAuto}).OK())
		assert.True(t, s.HandleCommand(ctx, Command{Verb: VerbEnvStop}).OK())
		assert.True(t, s.HandleCommand(ctx, Command{Verb: VerbVisionStop}).OK())
	}
	assert.Zero(t, motor.lastPower())
	assert.Equal(t, "raw", s.Mode())
}

func TestVisionLockFlow(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{Z: 0}, temp: 20}
	motor := &fakeMotor{}
	s := newTestSupervisor(t, imu, &fakeLux{}, motor, nil)
	ctx := context.Background()
	s.sensorTick(0.05, time.Now())

	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbVisionStart}).OK())
	assert.Equal(t, "visiontag", s.Mode())
	assert.True(t, s.PD().Enabled())
	assert.Zero(t, s.PD().Target())

	// A detection pins the estimate: tag 12.4° to the right means we point
	// -12.4° from it, and the controller drives that back to zero.
	angle := 12.4
	s.FeedVisionAngle(&angle)
	snap := s.Snapshot()
	assert.InDelta(t, -12.4, snap.Yaw, 1e-9)
	assert.Zero(t, snap.Controller.TargetYaw)

	// Losing the tag holds the last estimate and flags the outage.
	s.FeedVisionAngle(nil)
	s.FeedVisionAngle(nil)
	snap = s.Snapshot()
	assert.True(t, snap.VisionLost)
	assert.InDelta(t, -12.4, snap.Yaw, 1e-9)

	angle = 3.0
	s.FeedVisionAngle(&angle)
	snap = s.Snapshot()
	assert.False(t, snap.VisionLost)
	assert.InDelta(t, -3.0, snap.Yaw, 1e-9)

	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbVisionStop}).OK())
	assert.False(t, s.PD().Enabled())
	assert.Equal(t, "raw", s.Mode())

	// Observations after stop are discarded.
	angle = 90
	s.FeedVisionAngle(&angle)
	assert.NotEqual(t, -90.0, s.Snapshot().Yaw)
}

func TestManualPausesVisionLock(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{Z: 0}, temp: 20}
	motor := &fakeMotor{}
	s := newTestSupervisor(t, imu, &fakeLux{}, motor, nil)
	ctx := context.Background()
	s.sensorTick(0.05, time.Now())

	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbVisionStart}).OK())
	res := s.HandleCommand(ctx, Command{Verb: VerbManualStartCW})
	require.True(t, res.OK())
	assert.Contains(t, res.Message, "paused")

	// The controller stays enabled but suppressed while the operator holds
	// the wheel.
	assert.True(t, s.PD().Enabled())
	assert.True(t, s.Snapshot().Controller.Suppressed)
	assert.Equal(t, 100.0, motor.lastPower())

	res = s.HandleCommand(ctx, Command{Verb: VerbManualStop})
	require.True(t, res.OK())
	assert.Contains(t, res.Message, "resumed")
	assert.True(t, s.PD().Enabled())
	assert.False(t, s.Snapshot().Controller.Suppressed)
	assert.Equal(t, "visiontag", s.Mode())
}

func TestReturnToRawClearsEverything(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{Z: 0.5}, temp: 20}
	motor := &fakeMotor{}
	s := newTestSupervisor(t, imu, &fakeLux{}, motor, nil)
	ctx := context.Background()
	s.sensorTick(0.05, time.Now())

	v := 0.5
	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbManualCalibrate, Value: &v}).OK())
	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbVisionStart}).OK())

	res := s.HandleCommand(ctx, Command{Verb: VerbReturnToRaw})
	require.True(t, res.OK())
	snap := s.Snapshot()
	assert.Equal(t, "raw", snap.Mode)
	assert.Equal(t, "raw", snap.Calibration.Source)
	assert.Equal(t, hardware.Vec3{}, snap.Calibration.Bias)
	assert.False(t, s.PD().Enabled())
	assert.Zero(t, motor.lastPower())
}

func TestAutoCalibrateMeasuresBias(t *testing.T) {
	imu := &fakeIMU{gyro: hardware.Vec3{X: 0.01, Y: -0.02, Z: 0.3}, temp: 20}
	samples := 10
	interval := "1ms"
	tuning := &config.TuningConfig{CalibrationSamples: &samples, CalibrationInterval: &interval}
	s := newTestSupervisor(t, imu, &fakeLux{}, &fakeMotor{}, tuning)

	res := s.HandleCommand(context.Background(), Command{Verb: VerbCalibrate})
	require.True(t, res.OK(), res.Message)
	snap := s.Snapshot()
	assert.Equal(t, "auto", snap.Calibration.Source)
	assert.InDelta(t, 0.3, snap.Calibration.Bias.Z, 1e-9)

	// A stationary rig must now integrate to zero.
	now := time.Now()
	for i := 0; i < 100; i++ {
		s.sensorTick(0.05, now)
	}
	assert.InDelta(t, 0.0, s.Snapshot().Yaw, 1e-9)
}

func TestCalibrateFailsWithDeadGyro(t *testing.T) {
	imu := &fakeIMU{}
	imu.setError(errors.New("no ack"))
	s := newTestSupervisor(t, imu, &fakeLux{}, &fakeMotor{}, nil)
	res := s.HandleCommand(context.Background(), Command{Verb: VerbCalibrate})
	assert.False(t, res.OK())
}

func TestSetTargetAndGainsCommands(t *testing.T) {
	s := newTestSupervisor(t, &fakeIMU{temp: 20}, &fakeLux{}, &fakeMotor{}, nil)
	ctx := context.Background()

	v := 90.0
	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbSetTarget, Value: &v}).OK())
	assert.Equal(t, 90.0, s.PD().Target())

	assert.False(t, s.HandleCommand(ctx, Command{Verb: VerbSetTarget}).OK())
	assert.False(t, s.HandleCommand(ctx, Command{Verb: VerbSetGains}).OK())
	assert.False(t, s.HandleCommand(ctx, Command{Verb: VerbSetGains, Gains: &GainUpdate{Kp: f64(-3)}}).OK())

	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbSetGains, Gains: &GainUpdate{Kp: f64(12)}}).OK())
	assert.Equal(t, 12.0, s.PD().Gains().Kp)
}

func TestRunAndStop(t *testing.T) {
	rate := 200.0
	tuning := &config.TuningConfig{SensorRateHz: &rate, ControlRateHz: &rate}
	sim := hardware.NewSimRig()
	s := newTestSupervisor(t, sim, sim, sim, tuning)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for s.Snapshot().Status != string(StatusActive) {
		select {
		case <-deadline:
			t.Fatal("sensor loop never published an active frame")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

// Closed-loop pointing against the simulated plant: command a 90° slew and
// verify the platform settles near the target with the wheel stopped.
func TestClosedLoopPointing(t *testing.T) {
	sim := hardware.NewSimRig()
	s := newTestSupervisor(t, sim, sim, sim, nil)
	ctx := context.Background()

	now := time.Now()
	s.sensorTick(0.02, now)
	v := 90.0
	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbSetTarget, Value: &v}).OK())
	require.True(t, s.HandleCommand(ctx, Command{Verb: VerbStartAuto}).OK())

	const dt = 0.02
	for i := 0; i < 3000; i++ {
		sim.Advance(time.Duration(dt * float64(time.Second)))
		now = now.Add(time.Duration(dt * float64(time.Second)))
		s.sensorTick(dt, now)
		s.controlTick(dt)
	}

	snap := s.Snapshot()
	assert.InDelta(t, 90.0, snap.Yaw, 5.0, "estimate should settle near the target")
	assert.InDelta(t, 90.0, sim.Yaw(), 5.0, "platform should physically settle near the target")
}
