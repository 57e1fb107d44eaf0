package adcs

import (
	"sync"
	"time"
)

// envOps is the slice of the station the sun-seek routine drives. The
// supervisor's implementation returns false from every method once the
// routine has been disowned, which makes a superseded routine exit on its
// next tick instead of fighting the mode that replaced it.
type envOps interface {
	// observe returns the latest yaw, yaw rate and lux readings.
	observe() (yaw, rateZ float64, lux map[int]float64, alive bool)
	zeroAttitude() bool
	setTarget(v float64) bool
	startControl() bool
	publishOffset(offset float64) bool
	logf(format string, args ...any)
}

type envConfig struct {
	ScanInterval      time.Duration
	LuxThreshold      float64
	PeakSeparationDeg float64
	SweepLeadDeg      float64
	SettleRate        float64 // °/s
	SettleTime        time.Duration
	Rotations         int
	SensorAngles      map[int]float64
}

// envRoutine runs the environmental sun-seek: wait for the rig to settle,
// zero the attitude, sweep a fixed number of rotations while hunting lux
// peaks, then hold zero and keep refining the sun offset from every further
// peak it sees.
type envRoutine struct {
	ops envOps
	cfg envConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	detectors map[int]*peakDetector
	lastPeak  *float64
}

func newEnvRoutine(cfg envConfig) *envRoutine {
	detectors := make(map[int]*peakDetector, len(cfg.SensorAngles))
	for ch := range cfg.SensorAngles {
		detectors[ch] = &peakDetector{threshold: cfg.LuxThreshold}
	}
	return &envRoutine{
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		detectors: detectors,
	}
}

func (e *envRoutine) signalStop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// tick sleeps one scan interval, reporting false when the routine should
// exit.
func (e *envRoutine) tick() bool {
	select {
	case <-e.stopCh:
		return false
	case <-time.After(e.cfg.ScanInterval):
		return true
	}
}

func (e *envRoutine) run() {
	defer close(e.doneCh)

	if !e.settle() {
		return
	}
	if !e.ops.zeroAttitude() || !e.ops.startControl() {
		return
	}
	e.ops.logf("adcs: sun-seek settled, sweeping %d rotations", e.cfg.Rotations)
	if !e.sweep() {
		return
	}
	if !e.ops.setTarget(0) {
		return
	}
	e.ops.logf("adcs: sun-seek sweep complete, holding zero and tracking peaks")
	e.track()
}

// settle waits until the rig has been rotating slower than the settle rate
// for the full settle window.
func (e *envRoutine) settle() bool {
	var still time.Duration
	for {
		if !e.tick() {
			return false
		}
		_, rate, _, alive := e.ops.observe()
		if !alive {
			return false
		}
		if abs(rate) < e.cfg.SettleRate {
			still += e.cfg.ScanInterval
			if still >= e.cfg.SettleTime {
				return true
			}
		} else {
			still = 0
		}
	}
}

// sweep chases a target just ahead of the current yaw so the rig rotates
// continuously, feeding every lux sample through the peak detectors, until
// the configured number of rotations has accumulated.
func (e *envRoutine) sweep() bool {
	startYaw, set := 0.0, false
	for {
		if !e.tick() {
			return false
		}
		yaw, _, lux, alive := e.ops.observe()
		if !alive {
			return false
		}
		if !set {
			startYaw, set = yaw, true
		}
		if !e.ops.setTarget(yaw + e.cfg.SweepLeadDeg) {
			return false
		}
		e.scanPeaks(yaw, lux)
		if abs(yaw-startYaw) >= float64(e.cfg.Rotations)*360 {
			return true
		}
	}
}

// track keeps refining the sun offset from peaks seen while the controller
// holds the rig at zero.
func (e *envRoutine) track() {
	for {
		if !e.tick() {
			return
		}
		yaw, _, lux, alive := e.ops.observe()
		if !alive {
			return
		}
		e.scanPeaks(yaw, lux)
	}
}

// scanPeaks feeds one lux sample per channel to its detector and publishes a
// sun offset for every accepted peak.
func (e *envRoutine) scanPeaks(yaw float64, lux map[int]float64) {
	for ch, det := range e.detectors {
		v, ok := lux[ch]
		if !ok {
			continue
		}
		peakYaw, found := det.push(yaw, v)
		if !found {
			continue
		}
		if e.lastPeak != nil && abs(peakYaw-*e.lastPeak) < e.cfg.PeakSeparationDeg {
			continue
		}
		p := peakYaw
		e.lastPeak = &p
		offset := peakYaw - e.cfg.SensorAngles[ch]
		if !e.ops.publishOffset(offset) {
			return
		}
		e.ops.logf("adcs: lux peak on channel %d at yaw %.1f°, sun offset %.1f°", ch, peakYaw, offset)
	}
}

// peakDetector finds local maxima in a lux stream with a three-sample
// window: the middle sample must beat both neighbours and the threshold.
type peakDetector struct {
	threshold float64
	lux       [3]float64
	yaws      [3]float64
	n         int
}

func (d *peakDetector) push(yaw, lux float64) (peakYaw float64, found bool) {
	d.lux[0], d.lux[1] = d.lux[1], d.lux[2]
	d.yaws[0], d.yaws[1] = d.yaws[1], d.yaws[2]
	d.lux[2] = lux
	d.yaws[2] = yaw
	if d.n < 3 {
		d.n++
		if d.n < 3 {
			return 0, false
		}
	}
	if d.lux[1] > d.lux[0] && d.lux[1] > d.lux[2] && d.lux[1] > d.threshold {
		return d.yaws[1], true
	}
	return 0, false
}
