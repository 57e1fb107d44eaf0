package hardware

import (
	"math"
	"testing"
)

func TestLuxArrayReadAll(t *testing.T) {
	bus := NewMockBus()
	// 1000 counts little-endian → 1000 * 0.0576 = 57.6 lx.
	bus.SetRegisters(vemlAddr, regAlsData, 0xE8, 0x03)

	a := NewLuxArray(bus, []int{1, 2, 3})
	if err := a.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	readings := a.ReadAll()
	if len(readings) != 3 {
		t.Fatalf("got %d channels, want 3", len(readings))
	}
	for ch, lux := range readings {
		if math.Abs(lux-57.6) > 1e-9 {
			t.Errorf("channel %d = %v lx, want 57.6", ch, lux)
		}
	}
}

func TestLuxArraySelectsMuxChannel(t *testing.T) {
	bus := NewMockBus()
	bus.SetRegisters(vemlAddr, regAlsData, 0x00, 0x00)

	a := NewLuxArray(bus, []int{2})
	if err := a.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	a.ReadChannel(2)

	writes := bus.RawWrites[muxAddr]
	if len(writes) == 0 {
		t.Fatal("no mux channel-select writes recorded")
	}
	for _, w := range writes {
		if len(w) != 1 || w[0] != 1<<2 {
			t.Errorf("mux write = %#v, want [0x04]", w)
		}
	}
}

func TestLuxArrayDeadChannelReadsZero(t *testing.T) {
	bus := NewMockBus()
	bus.SetRegisters(vemlAddr, regAlsData, 0xE8, 0x03)

	a := NewLuxArray(bus, []int{1, 5})
	if err := a.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Kill the sensors mid-run: the sweep must report 0.0, not fail.
	bus.SetFail(vemlAddr, true)
	readings := a.ReadAll()
	for ch, lux := range readings {
		if lux != 0.0 {
			t.Errorf("channel %d = %v lx after failure, want 0.0", ch, lux)
		}
	}

	// Sensor comes back: the retry path should revive it.
	bus.SetFail(vemlAddr, false)
	readings = a.ReadAll()
	if readings[1] == 0.0 {
		t.Error("channel 1 still reads 0.0 after recovery")
	}
}

func TestLuxArrayNoChannelsResponding(t *testing.T) {
	bus := NewMockBus()
	bus.SetFail(vemlAddr, true)
	bus.SetFail(muxAddr, true)

	a := NewLuxArray(bus, []int{1})
	if err := a.Init(); err == nil {
		t.Fatal("Init should fail when nothing responds")
	}
}

func TestLuxArrayChannelOutOfRange(t *testing.T) {
	bus := NewMockBus()
	a := NewLuxArray(bus, []int{9})
	if err := a.Init(); err == nil {
		t.Fatal("Init should fail for out-of-range channel")
	}
	if lux := a.ReadChannel(9); lux != 0.0 {
		t.Errorf("out-of-range channel = %v, want 0.0", lux)
	}
}
