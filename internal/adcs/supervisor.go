package adcs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/satbench/attitude.station/internal/config"
	"github.com/satbench/attitude.station/internal/hardware"
)

// reconnect cadence for a dead IMU, in sensor-loop ticks.
const reconnectEveryNFailures = 40

// rateInterval converts a loop rate in Hz to a tick interval.
func rateInterval(hz float64) time.Duration {
	if hz <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / hz)
}

// SupervisorConfig wires a Supervisor together. All hardware fields are
// required; Logger and Spawn default to the standard logger and plain
// goroutines.
type SupervisorConfig struct {
	Tuning *config.TuningConfig
	IMU    IMUReader
	Lux    LuxReader
	Motor  Actuator
	Logger *log.Logger
	Spawn  Spawner
}

// Supervisor owns the shared station state and runs the two fixed-rate
// loops: sensor acquisition (read, integrate, publish a frame) and control
// (PD tick against the latest estimate). Commands and mode transitions
// mutate state under the same mutex the loops publish through, so a
// mode-start atomically stops its rivals.
type Supervisor struct {
	tuning *config.TuningConfig
	imu    IMUReader
	lux    LuxReader
	motor  Actuator
	logger *log.Logger
	spawn  Spawner

	pd *PDController

	mu           sync.RWMutex
	est          *Estimator
	frame        SensorFrame
	ctrl         ControllerState
	manualActive bool
	visionActive bool
	visionLost   bool
	env          *envRoutine
	sunOffset    *float64
	readFailures int

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	spawn := cfg.Spawn
	if spawn == nil {
		spawn = GoSpawner
	}
	s := &Supervisor{
		tuning: cfg.Tuning,
		imu:    cfg.IMU,
		lux:    cfg.Lux,
		motor:  cfg.Motor,
		logger: logger,
		spawn:  spawn,
		est:    NewEstimator(),
		frame:  SensorFrame{Status: StatusInitializing, Lux: map[int]float64{}},
	}
	s.pd = NewPDController(PDConfig{
		Kp:        cfg.Tuning.GetKp(),
		Kd:        cfg.Tuning.GetKd(),
		Deadband:  cfg.Tuning.GetDeadband(),
		MaxPower:  cfg.Tuning.GetMaxPower(),
		MinPower:  cfg.Tuning.GetMinPower(),
		BangPower: cfg.Tuning.GetBangPower(),
		MinDwell:  cfg.Tuning.GetMinDwell(),
	}, cfg.Motor, logger)
	return s
}

// PD exposes the controller for tests and the drift tooling.
func (s *Supervisor) PD() *PDController { return s.pd }

// Run starts the sensor and control loops and blocks until ctx is cancelled
// or Stop is called, then winds everything down and stops the wheel.
func (s *Supervisor) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.runMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	sensorDone := make(chan struct{})
	controlDone := make(chan struct{})
	s.spawn("adcs-sensor-loop", func() {
		defer close(sensorDone)
		s.sensorLoop(loopCtx)
	})
	s.spawn("adcs-control-loop", func() {
		defer close(controlDone)
		s.controlLoop(loopCtx)
	})

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}
	cancel()
	<-sensorDone
	<-controlDone

	s.haltAllModes()

	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()
	close(s.doneCh)
	return nil
}

// Stop asks a running supervisor to wind down and waits for Run to return.
func (s *Supervisor) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.runMu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-doneCh
}

// Shutdown stops the loops if they run and forces every mode off and the
// wheel stopped. Safe to call at any point, including before Run.
func (s *Supervisor) Shutdown() {
	s.Stop()
	s.haltAllModes()
}

// haltAllModes disables every control mode and leaves the wheel stopped.
func (s *Supervisor) haltAllModes() {
	s.mu.Lock()
	s.stopEnvLocked()
	s.visionActive = false
	s.manualActive = false
	s.pd.Stop()
	s.mu.Unlock()
	if err := s.motor.Stop(); err != nil {
		s.logger.Printf("adcs: final motor stop failed: %v", err)
	}
}

func (s *Supervisor) sensorLoop(ctx context.Context) {
	interval := rateInterval(s.tuning.GetSensorRateHz())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			s.sensorTick(dt, now)
		}
	}
}

// sensorTick performs all hardware reads outside the lock, then publishes
// one frame. A gyro failure freezes the attitude at its last estimate
// rather than integrating garbage.
func (s *Supervisor) sensorTick(dt float64, now time.Time) {
	raw, gyroErr := s.imu.ReadGyro()
	temp, tempErr := s.imu.ReadTemperature()
	lux := s.lux.ReadAll()

	var failures int
	s.mu.Lock()
	if gyroErr != nil {
		s.readFailures++
		failures = s.readFailures
		s.frame.Status = StatusNotReady
		s.frame.Lux = lux
		s.frame.Timestamp = now
		s.mu.Unlock()
		if failures == 1 {
			s.logger.Printf("adcs: gyro read failed, holding last attitude: %v", gyroErr)
		}
		if failures%reconnectEveryNFailures == 0 {
			if s.imu.AttemptReconnect() {
				s.logger.Printf("adcs: imu reconnected after %d failed reads", failures)
			}
		}
		return
	}
	if s.readFailures > 0 {
		s.logger.Printf("adcs: gyro reads recovered after %d failures", s.readFailures)
		s.readFailures = 0
	}
	s.est.Update(dt, raw)
	yaw, roll, pitch := s.est.Angles()
	status := StatusActive
	if tempErr != nil {
		status = StatusSensorError
	}
	s.frame = SensorFrame{
		GyroRates:   s.est.Rates(raw),
		Yaw:         yaw,
		Roll:        roll,
		Pitch:       pitch,
		Temperature: temp,
		Lux:         lux,
		Status:      status,
		Timestamp:   now,
	}
	s.mu.Unlock()
}

func (s *Supervisor) controlLoop(ctx context.Context) {
	interval := rateInterval(s.tuning.GetControlRateHz())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			s.controlTick(dt)
		}
	}
}

func (s *Supervisor) controlTick(dt float64) {
	s.mu.RLock()
	yaw := s.frame.Yaw
	s.mu.RUnlock()

	cmd, errv, raw := s.pd.Update(yaw, dt)

	s.mu.Lock()
	s.ctrl = ControllerState{
		Enabled:   s.pd.Enabled(),
		TargetYaw: s.pd.Target(),
		LastError: errv,
		Command:   cmd,
		PDOutput:  raw,
	}
	s.mu.Unlock()
}

// Mode reports which reference mode currently owns the station.
func (s *Supervisor) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modeLocked()
}

func (s *Supervisor) modeLocked() string {
	switch {
	case s.manualActive:
		return "manual"
	case s.visionActive:
		return "visiontag"
	case s.env != nil:
		return "environmental"
	default:
		return "raw"
	}
}

// HandleCommand executes one typed command against the live station.
// VerbCalibrate blocks for the capture duration; everything else returns
// promptly.
func (s *Supervisor) HandleCommand(ctx context.Context, cmd Command) Result {
	switch cmd.Verb {
	case VerbCalibrate:
		return s.autoCalibrate(ctx)
	case VerbManualCalibrate:
		if cmd.Value == nil {
			return Errorf("manual calibration requires a yaw-rate bias value")
		}
		s.mu.Lock()
		s.est.ManualCalibrate(*cmd.Value)
		s.mu.Unlock()
		return Successf("manual yaw bias set to %.4f °/s", *cmd.Value)
	case VerbZeroYaw:
		s.mu.Lock()
		s.est.Zero()
		s.mu.Unlock()
		return Successf("attitude zeroed")
	case VerbSetTarget:
		if cmd.Value == nil {
			return Errorf("set target requires a yaw value")
		}
		s.pd.SetTarget(*cmd.Value)
		return Successf("target yaw set to %.2f°", *cmd.Value)
	case VerbStartAuto:
		return s.startAuto()
	case VerbStopAuto:
		s.mu.Lock()
		s.pd.Stop()
		s.mu.Unlock()
		return Successf("pd control stopped")
	case VerbSetGains:
		if cmd.Gains == nil {
			return Errorf("set gains requires a gains object")
		}
		if err := s.pd.SetGains(*cmd.Gains); err != nil {
			return Errorf("%v", err)
		}
		g := s.pd.Gains()
		return Successf("gains now kp=%.2f kd=%.2f deadband=%.2f max=%.0f", g.Kp, g.Kd, g.Deadband, g.MaxPower)
	case VerbManualStartCW:
		return s.startManual(DirCW)
	case VerbManualStartCCW:
		return s.startManual(DirCCW)
	case VerbManualStop:
		return s.stopManual()
	case VerbEnvStart:
		return s.startEnvironmental()
	case VerbEnvStop:
		return s.stopEnvironmental()
	case VerbVisionStart:
		return s.startVision()
	case VerbVisionStop:
		return s.stopVision()
	case VerbReturnToRaw:
		return s.ReturnToRaw()
	default:
		return Errorf("unknown command verb %d", cmd.Verb)
	}
}

// autoCalibrate blocks while the stationary bias capture runs, then installs
// the measured bias. The sensor loop keeps publishing frames meanwhile.
func (s *Supervisor) autoCalibrate(ctx context.Context) Result {
	if !s.imu.Ready() && !s.imu.AttemptReconnect() {
		return Errorf("gyro unavailable, cannot calibrate")
	}
	samples := s.tuning.GetCalibrationSamples()
	interval := s.tuning.GetCalibrationInterval()
	s.logger.Printf("adcs: capturing %d gyro samples over %s for bias calibration", samples, time.Duration(samples)*interval)
	bias, quality, err := CollectGyroBias(ctx, s.imu.ReadGyro, samples, interval)
	if err != nil {
		return Errorf("calibration failed: %v", err)
	}
	s.mu.Lock()
	s.est.ApplyAutoCalibration(bias)
	s.mu.Unlock()
	s.logger.Printf("adcs: gyro bias calibrated to (%.4f, %.4f, %.4f) °/s over %d samples, stddev z %.4f",
		bias.X, bias.Y, bias.Z, quality.Samples, quality.StdDev.Z)
	return Successf("gyro bias calibrated: x=%.4f y=%.4f z=%.4f °/s", bias.X, bias.Y, bias.Z)
}

func (s *Supervisor) startAuto() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manualActive {
		return Errorf("manual control is active, stop it before starting pd control")
	}
	if s.frame.Status == StatusNotReady {
		return Errorf("gyro unavailable, cannot start pd control")
	}
	s.pd.Start()
	return Successf("pd control started toward %.2f°", s.pd.Target())
}

// startManual gives the wheel to the operator. During vision-tag mode the PD
// loop is only suppressed, not stopped, so releasing the wheel resumes the
// lock automatically.
func (s *Supervisor) startManual(dir Direction) Result {
	power := s.tuning.GetManualPower()
	if dir == DirCCW {
		power = -power
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visionActive {
		s.pd.SetSuppressed(true)
	} else {
		s.stopEnvLocked()
		s.pd.Stop()
	}
	s.manualActive = true
	if err := s.motor.SetPower(power); err != nil {
		s.manualActive = false
		s.pd.SetSuppressed(false)
		return Errorf("manual drive failed: %v", err)
	}
	if s.visionActive {
		return Successf("manual %s at %.0f%% (vision lock paused)", dir, power)
	}
	return Successf("manual %s at %.0f%%", dir, power)
}

func (s *Supervisor) stopManual() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualActive = false
	if err := s.motor.Stop(); err != nil {
		return Errorf("manual stop failed: %v", err)
	}
	if s.visionActive {
		s.pd.SetSuppressed(false)
		return Successf("manual drive stopped, vision lock resumed")
	}
	return Successf("manual drive stopped")
}

func (s *Supervisor) startEnvironmental() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manualActive {
		return Errorf("manual control is active, stop it before starting sun-seek")
	}
	if s.frame.Status == StatusNotReady {
		return Errorf("gyro unavailable, cannot start sun-seek")
	}
	s.stopEnvLocked()
	s.visionActive = false
	s.visionLost = false
	s.pd.SetSuppressed(false)

	e := newEnvRoutine(envConfig{
		ScanInterval:      rateInterval(s.tuning.GetEnvScanRateHz()),
		LuxThreshold:      s.tuning.GetEnvLuxThreshold(),
		PeakSeparationDeg: s.tuning.GetEnvPeakSeparationDeg(),
		SweepLeadDeg:      s.tuning.GetEnvSweepLeadDeg(),
		SettleRate:        s.tuning.GetEnvSettleRate(),
		SettleTime:        time.Duration(s.tuning.GetEnvSettleSeconds() * float64(time.Second)),
		Rotations:         s.tuning.GetEnvRotations(),
		SensorAngles:      s.tuning.GetLuxAngles(),
	})
	e.ops = &supervisorEnvOps{s: s, e: e}
	s.env = e
	s.spawn("adcs-env-sunseek", e.run)
	return Successf("environmental sun-seek started")
}

func (s *Supervisor) stopEnvironmental() Result {
	s.mu.Lock()
	e := s.env
	s.stopEnvLocked()
	s.pd.Stop()
	s.mu.Unlock()
	if e != nil {
		<-e.doneCh
		return Successf("environmental sun-seek stopped")
	}
	return Successf("environmental sun-seek already stopped")
}

// stopEnvLocked disowns the current sun-seek routine; callers hold s.mu.
// The routine exits on its next tick because every envOps call it makes will
// report it dead.
func (s *Supervisor) stopEnvLocked() {
	if s.env != nil {
		s.env.signalStop()
		s.env = nil
	}
}

// supervisorEnvOps binds one envRoutine to the supervisor. Every mutating
// call checks the routine still owns the environmental slot, so a routine
// that was replaced or stopped cannot move the target or the attitude.
type supervisorEnvOps struct {
	s *Supervisor
	e *envRoutine
}

func (o *supervisorEnvOps) observe() (yaw, rateZ float64, lux map[int]float64, alive bool) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	if o.s.env != o.e {
		return 0, 0, nil, false
	}
	f := o.s.frame.clone()
	return f.Yaw, f.GyroRates.Z, f.Lux, true
}

func (o *supervisorEnvOps) zeroAttitude() bool {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.env != o.e {
		return false
	}
	o.s.est.Zero()
	return true
}

func (o *supervisorEnvOps) setTarget(v float64) bool {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.env != o.e {
		return false
	}
	o.s.pd.SetTarget(v)
	return true
}

func (o *supervisorEnvOps) startControl() bool {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.env != o.e {
		return false
	}
	o.s.pd.Start()
	return true
}

func (o *supervisorEnvOps) publishOffset(offset float64) bool {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.env != o.e {
		return false
	}
	v := offset
	o.s.sunOffset = &v
	return true
}

func (o *supervisorEnvOps) logf(format string, args ...any) {
	o.s.logger.Printf(format, args...)
}

func (s *Supervisor) startVision() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manualActive {
		return Errorf("manual control is active, stop it before starting vision lock")
	}
	s.stopEnvLocked()
	s.est.Zero()
	s.pd.SetTarget(0)
	s.pd.SetSuppressed(false)
	s.pd.Start()
	s.visionActive = true
	s.visionLost = false
	return Successf("vision lock engaged")
}

func (s *Supervisor) stopVision() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visionActive = false
	s.visionLost = false
	s.pd.SetSuppressed(false)
	s.pd.Stop()
	return Successf("vision lock disengaged")
}

// FeedVisionAngle ingests one vision-tag observation. A nil angle means the
// tag was not detected this frame; the station holds its last estimate and
// the loss is logged once per outage.
func (s *Supervisor) FeedVisionAngle(angle *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.visionActive {
		return
	}
	if angle == nil {
		if !s.visionLost {
			s.logger.Printf("adcs: vision tag lost, holding last attitude")
			s.visionLost = true
		}
		return
	}
	if s.visionLost {
		s.logger.Printf("adcs: vision tag reacquired")
		s.visionLost = false
	}
	// The tag reports where the station points relative to it, so pointing
	// at the tag is yaw == -angle driven back to zero.
	s.est.SetYaw(-*angle)
	s.frame.Yaw = -*angle
	s.pd.SetTarget(0)
}

// ReturnToRaw drops every mode and all calibration so the station reports
// uncorrected integrated rates again. The wheel always ends up stopped.
func (s *Supervisor) ReturnToRaw() Result {
	s.mu.Lock()
	s.stopEnvLocked()
	s.visionActive = false
	s.visionLost = false
	s.manualActive = false
	s.pd.SetSuppressed(false)
	s.pd.Stop()
	s.est.ResetCalibration()
	s.sunOffset = nil
	s.mu.Unlock()

	if err := s.motor.Stop(); err != nil {
		return Errorf("raw mode set but motor stop failed: %v", err)
	}
	return Successf("returned to raw mode, calibration cleared")
}

// Snapshot assembles the full telemetry view from the latest published
// frame and controller state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frame := s.frame.clone()
	bias, source := s.est.Calibration()
	g := s.pd.Gains()
	snap := Snapshot{
		Yaw:         frame.Yaw,
		Roll:        frame.Roll,
		Pitch:       frame.Pitch,
		GyroRates:   frame.GyroRates,
		Temperature: frame.Temperature,
		Lux:         frame.Lux,
		Status:      string(frame.Status),
		Mode:        s.modeLocked(),
		Calibration: CalibrationInfo{
			Source: source.String(),
			Bias:   bias,
		},
		Controller: ControllerSnapshot{
			Enabled:    s.ctrl.Enabled,
			Suppressed: s.manualActive && s.visionActive,
			TargetYaw:  s.ctrl.TargetYaw,
			Error:      s.ctrl.LastError,
			MotorPower: s.ctrl.Command.Power,
			Direction:  s.ctrl.Command.Direction.String(),
			PDOutput:   s.ctrl.PDOutput,
			Kp:         g.Kp,
			Kd:         g.Kd,
			Deadband:   g.Deadband,
			MaxPower:   g.MaxPower,
		},
		VisionLost: s.visionLost,
		Timestamp:  frame.Timestamp,
	}
	if s.sunOffset != nil {
		v := *s.sunOffset
		snap.SunOffset = &v
	}
	return snap
}

// Snapshot is the JSON telemetry document served to clients and recorded to
// the session store.
type Snapshot struct {
	Yaw         float64            `json:"yaw"`
	Roll        float64            `json:"roll"`
	Pitch       float64            `json:"pitch"`
	GyroRates   hardware.Vec3      `json:"gyro_rates"`
	Temperature float64            `json:"temperature"`
	Lux         map[int]float64    `json:"lux"`
	Status      string             `json:"status"`
	Mode        string             `json:"mode"`
	Calibration CalibrationInfo    `json:"calibration"`
	Controller  ControllerSnapshot `json:"controller"`
	SunOffset   *float64           `json:"sun_offset,omitempty"`
	VisionLost  bool               `json:"vision_lost,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

type CalibrationInfo struct {
	Source string        `json:"source"`
	Bias   hardware.Vec3 `json:"bias"`
}

type ControllerSnapshot struct {
	Enabled    bool    `json:"enabled"`
	Suppressed bool    `json:"suppressed,omitempty"`
	TargetYaw  float64 `json:"target_yaw"`
	Error      float64 `json:"error"`
	MotorPower float64 `json:"motor_power"`
	Direction  string  `json:"direction"`
	PDOutput   float64 `json:"pd_output"`
	Kp         float64 `json:"kp"`
	Kd         float64 `json:"kd"`
	Deadband   float64 `json:"deadband"`
	MaxPower   float64 `json:"max_power"`
}
