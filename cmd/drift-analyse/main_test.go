package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satbench/attitude.station/internal/db"
)

func TestComputeDriftStats(t *testing.T) {
	base := time.Now().UTC()
	// A steady 0.5 °/s drift sampled at 10 Hz for 10 seconds.
	var samples []db.Sample
	for i := 0; i < 100; i++ {
		elapsed := float64(i) * 0.1
		samples = append(samples, db.Sample{
			RecordedAt:  base.Add(time.Duration(elapsed * float64(time.Second))),
			Yaw:         0.5 * elapsed,
			YawRate:     0.5,
			YawError:    -0.5 * elapsed,
			Temperature: 25,
		})
	}

	stats := computeDriftStats(samples)
	assert.Equal(t, 100, stats.Samples)
	assert.InDelta(t, 9.9, stats.DurationSec, 1e-6)
	assert.InDelta(t, 0.5, stats.DriftRate, 1e-6)
	assert.InDelta(t, 0.5, stats.YawRateMean, 1e-9)
	assert.InDelta(t, 0.0, stats.YawRateStdDev, 1e-9)
	assert.InDelta(t, 25.0, stats.TempMean, 1e-9)
}

func TestComputeDriftStatsEmpty(t *testing.T) {
	stats := computeDriftStats(nil)
	assert.Zero(t, stats.Samples)
	assert.Zero(t, stats.DriftRate)
}

func TestRenderPlotWritesPNG(t *testing.T) {
	base := time.Now().UTC()
	var samples []db.Sample
	for i := 0; i < 20; i++ {
		samples = append(samples, db.Sample{
			RecordedAt: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Yaw:        float64(i),
			TargetYaw:  90,
			YawError:   90 - float64(i),
		})
	}

	out := filepath.Join(t.TempDir(), "drift.png")
	require.NoError(t, renderPlot(samples, out))
	assert.FileExists(t, out)
}
