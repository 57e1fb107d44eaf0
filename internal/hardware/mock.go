package hardware

import (
	"fmt"
	"sync"
)

// MockBus implements Bus for testing. Register contents are scripted per
// (addr, reg) pair; raw writes are recorded so tests can assert mux channel
// selections.
type MockBus struct {
	mu sync.Mutex

	Registers map[uint16][]byte // key: addr<<8 | reg
	RawWrites map[byte][][]byte // addr → raw payloads, in order
	WriteLog  []uint16          // register writes, in order

	ReadErr  error
	WriteErr error
	// FailAddrs makes every access to the listed addresses fail, simulating
	// an unplugged device. Clearing the map "reconnects" it.
	FailAddrs map[byte]bool

	Closed bool
}

func NewMockBus() *MockBus {
	return &MockBus{
		Registers: make(map[uint16][]byte),
		RawWrites: make(map[byte][][]byte),
		FailAddrs: make(map[byte]bool),
	}
}

func busKey(addr, reg byte) uint16 { return uint16(addr)<<8 | uint16(reg) }

// SetRegisters scripts the bytes returned by reads starting at (addr, reg).
func (b *MockBus) SetRegisters(addr, reg byte, data ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Registers[busKey(addr, reg)] = data
}

// SetFail toggles simulated device failure for an address.
func (b *MockBus) SetFail(addr byte, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailAddrs[addr] = fail
}

func (b *MockBus) ReadReg(addr, reg byte, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return b.ReadErr
	}
	if b.FailAddrs[addr] {
		return fmt.Errorf("mock: device 0x%02x not responding", addr)
	}
	data, ok := b.Registers[busKey(addr, reg)]
	if !ok {
		return fmt.Errorf("mock: no data at addr 0x%02x reg 0x%02x", addr, reg)
	}
	copy(buf, data)
	return nil
}

func (b *MockBus) WriteReg(addr, reg byte, data ...byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	if b.FailAddrs[addr] {
		return fmt.Errorf("mock: device 0x%02x not responding", addr)
	}
	b.WriteLog = append(b.WriteLog, busKey(addr, reg))
	return nil
}

func (b *MockBus) Write(addr byte, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	if b.FailAddrs[addr] {
		return fmt.Errorf("mock: device 0x%02x not responding", addr)
	}
	cp := append([]byte(nil), data...)
	b.RawWrites[addr] = append(b.RawWrites[addr], cp)
	return nil
}

func (b *MockBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// MockMotorPort implements MotorPorter for testing, recording every command
// line written to the driver board.
type MockMotorPort struct {
	mu sync.Mutex

	Written    []byte
	WriteError error
	Closed     bool
}

func (m *MockMotorPort) Read(p []byte) (int, error) { return 0, nil }

func (m *MockMotorPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.Written = append(m.Written, p...)
	return len(p), nil
}

func (m *MockMotorPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Commands returns the raw bytes written so far.
func (m *MockMotorPort) Commands() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.Written)
}
