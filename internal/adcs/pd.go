package adcs

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// OutputMode selects how the raw PD output becomes a motor command.
type OutputMode int

const (
	// OutputProportional clamps the PD output to the power limit and floors
	// small non-zero commands to the minimum effective power.
	OutputProportional OutputMode = iota
	// OutputBangBang drives at a fixed power in the direction of the error,
	// holding each direction for at least the minimum dwell time.
	OutputBangBang
)

func (m OutputMode) String() string {
	if m == OutputBangBang {
		return "bang-bang"
	}
	return "proportional"
}

// Direction of a commanded rotation, viewed from above the rig.
type Direction int

const (
	DirStop Direction = iota
	DirCW
	DirCCW
)

func (d Direction) String() string {
	switch d {
	case DirCW:
		return "cw"
	case DirCCW:
		return "ccw"
	default:
		return "stop"
	}
}

// MotorCommand is the controller's decision for one control tick. Power is
// signed percent and zero when Direction is DirStop.
type MotorCommand struct {
	Direction Direction
	Power     float64
}

// PDConfig carries the controller tuning at construction time.
type PDConfig struct {
	Kp        float64
	Kd        float64
	Deadband  float64
	MaxPower  float64
	MinPower  float64
	BangPower float64
	MinDwell  time.Duration
	Mode      OutputMode
}

// GainUpdate is a partial live-tuning request. Nil fields keep their value.
type GainUpdate struct {
	Kp        *float64 `json:"kp,omitempty"`
	Kd        *float64 `json:"kd,omitempty"`
	Deadband  *float64 `json:"deadband,omitempty"`
	MaxPower  *float64 `json:"max_power,omitempty"`
	BangPower *float64 `json:"bang_power,omitempty"`
}

// PDController turns yaw error into reaction-wheel commands. Update is called
// from the control loop; the command surface mutates tuning and the
// enabled/target state concurrently, so everything lives under one mutex.
type PDController struct {
	mu sync.Mutex

	kp, kd    float64
	deadband  float64
	maxPower  float64
	minPower  float64
	bangPower float64
	minDwell  time.Duration
	mode      OutputMode

	motor  Actuator
	logger *log.Logger
	now    func() time.Time

	enabled    bool
	suppressed bool
	target     float64
	prevErr    float64
	havePrev   bool

	lastDir       Direction
	lastDirChange time.Time
	lastCommand   MotorCommand
	lastRawOut    float64
}

func NewPDController(cfg PDConfig, motor Actuator, logger *log.Logger) *PDController {
	return &PDController{
		kp:        cfg.Kp,
		kd:        cfg.Kd,
		deadband:  cfg.Deadband,
		maxPower:  cfg.MaxPower,
		minPower:  cfg.MinPower,
		bangPower: cfg.BangPower,
		minDwell:  cfg.MinDwell,
		mode:      cfg.Mode,
		motor:     motor,
		logger:    logger,
		now:       time.Now,
	}
}

// Update runs one control tick at the current yaw estimate. It returns the
// issued command, the signed yaw error and the raw PD output. While the
// controller is disabled or suppressed the error is still computed for
// display but the wheel is left alone.
func (c *PDController) Update(currentYaw, dt float64) (MotorCommand, float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	errv := c.target - currentYaw
	if !c.enabled || c.suppressed {
		c.prevErr = errv
		c.havePrev = true
		c.lastCommand = MotorCommand{Direction: DirStop}
		c.lastRawOut = 0
		return c.lastCommand, errv, 0
	}

	var raw float64
	cmd := MotorCommand{Direction: DirStop}
	if abs(errv) >= c.deadband {
		raw = c.kp * errv
		if c.havePrev && dt > 0 {
			raw += c.kd * (errv - c.prevErr) / dt
		}
		switch c.mode {
		case OutputBangBang:
			cmd = c.bangCommand(raw)
		default:
			cmd = c.proportionalCommand(raw)
		}
	}
	c.prevErr = errv
	c.havePrev = true

	if cmd.Direction != c.lastDir {
		c.lastDir = cmd.Direction
		c.lastDirChange = c.now()
	}
	c.lastCommand = cmd
	c.lastRawOut = raw

	if err := c.motor.SetPower(cmd.Power); err != nil {
		c.logger.Printf("pd: motor command %.1f failed: %v", cmd.Power, err)
	}
	return cmd, errv, raw
}

func (c *PDController) proportionalCommand(raw float64) MotorCommand {
	power := raw
	if power > c.maxPower {
		power = c.maxPower
	} else if power < -c.maxPower {
		power = -c.maxPower
	}
	if power > 0 && power < c.minPower {
		power = c.minPower
	} else if power < 0 && power > -c.minPower {
		power = -c.minPower
	}
	dir := DirCW
	if power < 0 {
		dir = DirCCW
	}
	return MotorCommand{Direction: dir, Power: power}
}

// bangCommand picks the full-power direction for the sign of the output,
// holding the previous direction until the minimum dwell has elapsed so the
// wheel cannot be slammed between directions every tick.
func (c *PDController) bangCommand(raw float64) MotorCommand {
	desired := DirCW
	if raw < 0 {
		desired = DirCCW
	}
	if desired != c.lastDir && c.now().Sub(c.lastDirChange) < c.minDwell {
		desired = c.lastDir
	}
	switch desired {
	case DirCW:
		return MotorCommand{Direction: DirCW, Power: c.bangPower}
	case DirCCW:
		return MotorCommand{Direction: DirCCW, Power: -c.bangPower}
	default:
		return MotorCommand{Direction: DirStop}
	}
}

// Start enables closed-loop control from the next tick.
func (c *PDController) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	c.havePrev = false
}

// Stop disables the controller and forces a wheel stop. Safe to call any
// number of times, in any state.
func (c *PDController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.lastCommand = MotorCommand{Direction: DirStop}
	c.lastRawOut = 0
	if c.lastDir != DirStop {
		c.lastDir = DirStop
		c.lastDirChange = c.now()
	}
	if err := c.motor.Stop(); err != nil {
		c.logger.Printf("pd: motor stop failed: %v", err)
	}
}

func (c *PDController) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetSuppressed pauses actuation without losing the target or enabled state;
// used while manual control temporarily owns the wheel.
func (c *PDController) SetSuppressed(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressed = v
}

func (c *PDController) SetTarget(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = v
	c.havePrev = false
}

func (c *PDController) Target() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetGains applies a live tuning update. The whole update is validated before
// any field is touched so an invalid request cannot half-apply.
func (c *PDController) SetGains(u GainUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, f := range map[string]*float64{
		"kp": u.Kp, "kd": u.Kd, "deadband": u.Deadband,
		"max_power": u.MaxPower, "bang_power": u.BangPower,
	} {
		if f != nil && *f < 0 {
			return fmt.Errorf("pd: %s must not be negative, got %.2f", name, *f)
		}
	}
	if u.MaxPower != nil && *u.MaxPower > 100 {
		return fmt.Errorf("pd: max_power must not exceed 100, got %.2f", *u.MaxPower)
	}
	if u.BangPower != nil && *u.BangPower > 100 {
		return fmt.Errorf("pd: bang_power must not exceed 100, got %.2f", *u.BangPower)
	}
	if u.Kp != nil {
		c.kp = *u.Kp
	}
	if u.Kd != nil {
		c.kd = *u.Kd
	}
	if u.Deadband != nil {
		c.deadband = *u.Deadband
	}
	if u.MaxPower != nil {
		c.maxPower = *u.MaxPower
	}
	if u.BangPower != nil {
		c.bangPower = *u.BangPower
	}
	return nil
}

// Gains reports the live tuning for telemetry.
func (c *PDController) Gains() PDConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PDConfig{
		Kp: c.kp, Kd: c.kd, Deadband: c.deadband,
		MaxPower: c.maxPower, MinPower: c.minPower,
		BangPower: c.bangPower, MinDwell: c.minDwell, Mode: c.mode,
	}
}

func (c *PDController) SetOutputMode(m OutputMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
