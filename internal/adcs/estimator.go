package adcs

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/satbench/attitude.station/internal/hardware"
)

// CalibrationSource records where the current gyro bias came from.
type CalibrationSource int

const (
	// CalibrationRaw means no bias is applied: rates integrate as read.
	CalibrationRaw CalibrationSource = iota
	// CalibrationAuto is a bias measured by averaging a stationary capture.
	CalibrationAuto
	// CalibrationManual is an operator-entered yaw-axis bias.
	CalibrationManual
)

func (s CalibrationSource) String() string {
	switch s {
	case CalibrationAuto:
		return "auto"
	case CalibrationManual:
		return "manual"
	default:
		return "raw"
	}
}

// Estimator integrates calibrated gyro rates into yaw, roll and pitch angles.
// Angles are unbounded and never wrapped; consumers that want a circular
// reading wrap for themselves. The estimator is not internally locked: the
// supervisor guards it with its own state mutex.
type Estimator struct {
	bias   hardware.Vec3
	source CalibrationSource

	yaw, roll, pitch float64
}

func NewEstimator() *Estimator {
	return &Estimator{}
}

// Update integrates one raw gyro sample over dt seconds. A non-positive dt is
// ignored so a stalled clock cannot rewind the attitude.
func (e *Estimator) Update(dt float64, raw hardware.Vec3) {
	if dt <= 0 {
		return
	}
	e.pitch += (raw.X - e.bias.X) * dt
	e.roll += (raw.Y - e.bias.Y) * dt
	e.yaw += (raw.Z - e.bias.Z) * dt
}

// Rates returns the bias-corrected rates for a raw sample.
func (e *Estimator) Rates(raw hardware.Vec3) hardware.Vec3 {
	return hardware.Vec3{
		X: raw.X - e.bias.X,
		Y: raw.Y - e.bias.Y,
		Z: raw.Z - e.bias.Z,
	}
}

// Angles returns the integrated yaw, roll and pitch in degrees.
func (e *Estimator) Angles() (yaw, roll, pitch float64) {
	return e.yaw, e.roll, e.pitch
}

func (e *Estimator) Yaw() float64 { return e.yaw }

// SetYaw overwrites the integrated yaw; used when an external reference such
// as the vision tag pins the attitude.
func (e *Estimator) SetYaw(v float64) { e.yaw = v }

// Zero declares the current attitude to be the origin on all three axes.
func (e *Estimator) Zero() {
	e.yaw, e.roll, e.pitch = 0, 0, 0
}

// Calibration reports the active bias and its provenance.
func (e *Estimator) Calibration() (hardware.Vec3, CalibrationSource) {
	return e.bias, e.source
}

// ManualCalibrate installs an operator-entered yaw-axis bias. The lateral
// axes keep whatever bias they already had.
func (e *Estimator) ManualCalibrate(zBias float64) {
	e.bias.Z = zBias
	e.source = CalibrationManual
}

// ApplyAutoCalibration installs a measured bias on all three axes.
func (e *Estimator) ApplyAutoCalibration(bias hardware.Vec3) {
	e.bias = bias
	e.source = CalibrationAuto
}

// ResetCalibration drops any bias so rates integrate uncorrected.
func (e *Estimator) ResetCalibration() {
	e.bias = hardware.Vec3{}
	e.source = CalibrationRaw
}

// CalibrationQuality summarises the spread of a stationary bias capture.
type CalibrationQuality struct {
	Samples int
	StdDev  hardware.Vec3
}

// GyroSampler produces one raw gyro reading.
type GyroSampler func() (hardware.Vec3, error)

// CollectGyroBias averages a stationary capture into a per-axis bias. Failed
// reads are skipped; the capture errors out if fewer than half the requested
// samples arrive. This blocks for samples*interval and must not be called
// from the acquisition loops.
func CollectGyroBias(ctx context.Context, read GyroSampler, samples int, interval time.Duration) (hardware.Vec3, CalibrationQuality, error) {
	if samples <= 0 {
		return hardware.Vec3{}, CalibrationQuality{}, fmt.Errorf("collect gyro bias: sample count %d is not positive", samples)
	}
	xs := make([]float64, 0, samples)
	ys := make([]float64, 0, samples)
	zs := make([]float64, 0, samples)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < samples; i++ {
		select {
		case <-ctx.Done():
			return hardware.Vec3{}, CalibrationQuality{}, fmt.Errorf("collect gyro bias: %w", ctx.Err())
		case <-ticker.C:
		}
		raw, err := read()
		if err != nil {
			continue
		}
		xs = append(xs, raw.X)
		ys = append(ys, raw.Y)
		zs = append(zs, raw.Z)
	}
	if len(zs) < samples/2 {
		return hardware.Vec3{}, CalibrationQuality{}, fmt.Errorf("collect gyro bias: only %d of %d samples readable", len(zs), samples)
	}

	bias := hardware.Vec3{
		X: stat.Mean(xs, nil),
		Y: stat.Mean(ys, nil),
		Z: stat.Mean(zs, nil),
	}
	quality := CalibrationQuality{
		Samples: len(zs),
		StdDev: hardware.Vec3{
			X: stat.StdDev(xs, nil),
			Y: stat.StdDev(ys, nil),
			Z: stat.StdDev(zs, nil),
		},
	}
	return bias, quality, nil
}
