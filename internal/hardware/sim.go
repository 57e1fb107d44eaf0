package hardware

import (
	"math"
	"sync"
	"time"
)

// SimRig is an in-process stand-in for the whole rig, used by dev mode and
// integration tests. It models the platform as a first-order plant: commanded
// wheel power drives the yaw rate toward power × RateGain, and the simulated
// light sensors see a sun fixed at SunAngle with a cosine response lobe.
//
// It satisfies the supervisor's IMU, lux and motor interfaces at once.
type SimRig struct {
	// RateGain is the steady-state °/s produced per percent power.
	RateGain float64
	// TimeConstant smooths rate changes (seconds).
	TimeConstant float64
	// GyroBias is added to the reported Z rate, for calibration tests.
	GyroBias float64
	// SunAngle is the world angle of the light source in degrees.
	SunAngle float64
	// SunLux is the peak reading when a sensor points straight at the sun.
	SunLux float64
	// SensorAngles maps lux channel → mounting angle on the platform (deg).
	SensorAngles map[int]float64

	mu      sync.Mutex
	yaw     float64 // world yaw of the platform, degrees
	rate    float64 // current yaw rate, °/s
	power   float64
	last    time.Time
	stopped bool
}

// NewSimRig returns a rig with bench-plausible dynamics.
func NewSimRig() *SimRig {
	return &SimRig{
		RateGain:     0.6,
		TimeConstant: 0.3,
		SunLux:       400,
		SunAngle:     0,
		SensorAngles: map[int]float64{1: 90, 2: -150, 3: -30},
		last:         time.Now(),
	}
}

// step advances the plant to now.
func (r *SimRig) step() {
	now := time.Now()
	dt := now.Sub(r.last).Seconds()
	r.last = now
	if dt <= 0 {
		return
	}
	target := r.power * r.RateGain
	if r.stopped {
		target = 0
	}
	alpha := dt / (r.TimeConstant + dt)
	r.rate += (target - r.rate) * alpha
	r.yaw += r.rate * dt
}

// Advance moves the simulation clock forward without wall time, for tests.
func (r *SimRig) Advance(dt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = r.last.Add(-dt)
	r.step()
}

// Yaw returns the true platform yaw in degrees.
func (r *SimRig) Yaw() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step()
	return r.yaw
}

func (r *SimRig) ReadGyro() (Vec3, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step()
	return Vec3{Z: r.rate + r.GyroBias}, nil
}

func (r *SimRig) ReadAccel() (Vec3, error) { return Vec3{Z: 1.0}, nil }

func (r *SimRig) ReadTemperature() (float64, error) { return 24.5, nil }

func (r *SimRig) Ready() bool { return true }

func (r *SimRig) AttemptReconnect() bool { return true }

func (r *SimRig) ReadAll() map[int]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step()
	out := make(map[int]float64, len(r.SensorAngles))
	for ch, mount := range r.SensorAngles {
		// Angle between the sensor's boresight and the sun.
		diff := math.Mod(r.yaw+mount-r.SunAngle, 360)
		if diff > 180 {
			diff -= 360
		} else if diff < -180 {
			diff += 360
		}
		lux := 0.0
		if math.Abs(diff) < 90 {
			lux = r.SunLux * math.Cos(diff*math.Pi/180)
		}
		out[ch] = lux
	}
	return out
}

func (r *SimRig) Channels() []int {
	chs := make([]int, 0, len(r.SensorAngles))
	for ch := range r.SensorAngles {
		chs = append(chs, ch)
	}
	return chs
}

func (r *SimRig) SetPower(power float64) error {
	if power > 100 {
		power = 100
	} else if power < -100 {
		power = -100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step()
	r.power = power
	r.stopped = power == 0
	return nil
}

func (r *SimRig) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step()
	r.power = 0
	r.stopped = true
	return nil
}

// LastPower returns the most recently commanded power.
func (r *SimRig) LastPower() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}
