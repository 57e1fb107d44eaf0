package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/satbench/attitude.station/internal/monitoring"
)

// VEML7700 / TCA9548A constants.
const (
	muxAddr    = 0x70
	vemlAddr   = 0x10
	regAlsConf = 0x00
	regAlsData = 0x04

	// lux per count at gain x1, 100 ms integration (the power-on config
	// written by Init).
	luxPerCount = 0.0576

	// The mux needs a moment after a channel switch before the sensor
	// behind it answers.
	muxSettle = 2 * time.Millisecond
)

// LuxArray reads N VEML7700 ambient-light sensors sitting behind a TCA9548A
// I2C multiplexer. Channel selection is destructive shared state on the bus,
// so select-then-read is done atomically under the array's own lock. A dead
// or absent channel reads as 0.0 rather than failing the whole sweep.
type LuxArray struct {
	bus      Bus
	channels []int

	mu    sync.Mutex
	ready map[int]bool
}

// NewLuxArray wraps the given bus for the listed mux channels (0-7).
func NewLuxArray(bus Bus, channels []int) *LuxArray {
	return &LuxArray{
		bus:      bus,
		channels: append([]int(nil), channels...),
		ready:    make(map[int]bool),
	}
}

// Init selects each channel in turn, powers the sensor on and performs a test
// read. Channels that fail stay marked not-ready and read 0.0 until the next
// Init.
func (a *LuxArray) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	active := 0
	for _, ch := range a.channels {
		if err := a.initChannelLocked(ch); err != nil {
			monitoring.Logf("lux channel %d unavailable: %v", ch, err)
			a.ready[ch] = false
			continue
		}
		a.ready[ch] = true
		active++
	}
	if active == 0 {
		return fmt.Errorf("lux array: no channels responding")
	}
	return nil
}

func (a *LuxArray) initChannelLocked(ch int) error {
	if err := a.selectLocked(ch); err != nil {
		return err
	}
	// ALS on, gain x1, 100 ms integration.
	if err := a.bus.WriteReg(vemlAddr, regAlsConf, 0x00, 0x00); err != nil {
		return err
	}
	var buf [2]byte
	return a.bus.ReadReg(vemlAddr, regAlsData, buf[:])
}

func (a *LuxArray) selectLocked(ch int) error {
	if ch < 0 || ch > 7 {
		return fmt.Errorf("lux channel %d out of range", ch)
	}
	if err := a.bus.Write(muxAddr, []byte{1 << ch}); err != nil {
		return err
	}
	time.Sleep(muxSettle)
	return nil
}

// ReadChannel returns the lux value for one channel, or 0.0 if the channel is
// not ready or the read fails.
func (a *LuxArray) ReadChannel(ch int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readChannelLocked(ch)
}

func (a *LuxArray) readChannelLocked(ch int) float64 {
	if !a.ready[ch] {
		// One retry: a failed sensor may have come back.
		if err := a.initChannelLocked(ch); err != nil {
			return 0.0
		}
		monitoring.Logf("lux channel %d revived", ch)
		a.ready[ch] = true
	}
	if err := a.selectLocked(ch); err != nil {
		a.ready[ch] = false
		return 0.0
	}
	var buf [2]byte
	if err := a.bus.ReadReg(vemlAddr, regAlsData, buf[:]); err != nil {
		a.ready[ch] = false
		return 0.0
	}
	raw := uint16(buf[1])<<8 | uint16(buf[0]) // little-endian ALS count
	return float64(raw) * luxPerCount
}

// ReadAll reads every configured channel and returns channel → lux.
func (a *LuxArray) ReadAll() map[int]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]float64, len(a.channels))
	for _, ch := range a.channels {
		out[ch] = a.readChannelLocked(ch)
	}
	return out
}

// Channels returns the configured channel list.
func (a *LuxArray) Channels() []int {
	return append([]int(nil), a.channels...)
}
