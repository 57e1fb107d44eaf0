package adcs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satbench/attitude.station/internal/hardware"
)

func TestEstimatorIntegratesRates(t *testing.T) {
	e := NewEstimator()
	// 10 °/s about z for one simulated second at 20 Hz.
	for i := 0; i < 20; i++ {
		e.Update(0.05, hardware.Vec3{Z: 10})
	}
	yaw, roll, pitch := e.Angles()
	assert.InDelta(t, 10.0, yaw, 1e-9)
	assert.Zero(t, roll)
	assert.Zero(t, pitch)
}

func TestEstimatorYawIsUnbounded(t *testing.T) {
	e := NewEstimator()
	// Two full rotations plus a bit; the estimate must never wrap.
	for i := 0; i < 100; i++ {
		e.Update(0.1, hardware.Vec3{Z: 80})
	}
	assert.InDelta(t, 800.0, e.Yaw(), 1e-9)

	e2 := NewEstimator()
	for i := 0; i < 100; i++ {
		e2.Update(0.1, hardware.Vec3{Z: -80})
	}
	assert.InDelta(t, -800.0, e2.Yaw(), 1e-9)
}

func TestEstimatorIgnoresBadDt(t *testing.T) {
	e := NewEstimator()
	e.Update(0.5, hardware.Vec3{Z: 10})
	e.Update(0, hardware.Vec3{Z: 100})
	e.Update(-1, hardware.Vec3{Z: 100})
	assert.InDelta(t, 5.0, e.Yaw(), 1e-9)
}

func TestEstimatorCalibrationProvenance(t *testing.T) {
	e := NewEstimator()
	_, source := e.Calibration()
	assert.Equal(t, CalibrationRaw, source)

	e.ApplyAutoCalibration(hardware.Vec3{X: 0.1, Y: 0.2, Z: 0.3})
	bias, source := e.Calibration()
	assert.Equal(t, CalibrationAuto, source)
	assert.Equal(t, hardware.Vec3{X: 0.1, Y: 0.2, Z: 0.3}, bias)

	// Manual calibration overrides the yaw axis but keeps the lateral biases.
	e.ManualCalibrate(-0.5)
	bias, source = e.Calibration()
	assert.Equal(t, CalibrationManual, source)
	assert.Equal(t, hardware.Vec3{X: 0.1, Y: 0.2, Z: -0.5}, bias)

	e.ResetCalibration()
	bias, source = e.Calibration()
	assert.Equal(t, CalibrationRaw, source)
	assert.Equal(t, hardware.Vec3{}, bias)
}

func TestEstimatorBiasCorrectsIntegration(t *testing.T) {
	e := NewEstimator()
	e.ApplyAutoCalibration(hardware.Vec3{Z: 0.25})
	// A stationary rig reading exactly its bias must not drift.
	for i := 0; i < 200; i++ {
		e.Update(0.05, hardware.Vec3{Z: 0.25})
	}
	assert.InDelta(t, 0.0, e.Yaw(), 1e-9)
}

func TestEstimatorZeroAndSetYaw(t *testing.T) {
	e := NewEstimator()
	e.Update(1, hardware.Vec3{X: 3, Y: 5, Z: 7})
	e.Zero()
	yaw, roll, pitch := e.Angles()
	assert.Zero(t, yaw)
	assert.Zero(t, roll)
	assert.Zero(t, pitch)

	e.SetYaw(-12.5)
	assert.Equal(t, -12.5, e.Yaw())
}

func TestCollectGyroBiasAverages(t *testing.T) {
	samples := []hardware.Vec3{
		{X: 0.1, Y: -0.2, Z: 0.5},
		{X: 0.3, Y: -0.4, Z: 0.7},
		{X: 0.2, Y: -0.3, Z: 0.6},
		{X: 0.2, Y: -0.3, Z: 0.6},
	}
	i := 0
	read := func() (hardware.Vec3, error) {
		v := samples[i%len(samples)]
		i++
		return v, nil
	}
	bias, quality, err := CollectGyroBias(context.Background(), read, 4, time.Microsecond)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, bias.X, 1e-9)
	assert.InDelta(t, -0.3, bias.Y, 1e-9)
	assert.InDelta(t, 0.6, bias.Z, 1e-9)
	assert.Equal(t, 4, quality.Samples)
}

func TestCollectGyroBiasSkipsFailedReads(t *testing.T) {
	i := 0
	read := func() (hardware.Vec3, error) {
		i++
		if i%2 == 0 {
			return hardware.Vec3{}, errors.New("i2c timeout")
		}
		return hardware.Vec3{Z: 1.0}, nil
	}
	bias, quality, err := CollectGyroBias(context.Background(), read, 8, time.Microsecond)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, bias.Z, 1e-9)
	assert.Equal(t, 4, quality.Samples)
}

func TestCollectGyroBiasFailsWhenSensorDead(t *testing.T) {
	read := func() (hardware.Vec3, error) {
		return hardware.Vec3{}, errors.New("no ack")
	}
	_, _, err := CollectGyroBias(context.Background(), read, 10, time.Microsecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samples readable")
}

func TestCollectGyroBiasHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	read := func() (hardware.Vec3, error) { return hardware.Vec3{}, nil }
	_, _, err := CollectGyroBias(ctx, read, 100, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}
