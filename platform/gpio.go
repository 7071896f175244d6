package platform

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"dustcollector/errcode"
)

// GPIOOut is the output-only pin contract every actuator driver (collector
// SSR, strip light, filter fan) is written against, independent of backend.
type GPIOOut interface {
	Set(on bool) error
}

// RealGPIOOut drives a periph.io gpio.PinIO configured as an output,
// honoring the configured active-high/low polarity.
type RealGPIOOut struct {
	pin        gpio.PinIO
	activeHigh bool
}

var _ GPIOOut = (*RealGPIOOut)(nil)

// OpenRealGPIOOut resolves a pin by its periph name (e.g. "GPIO25") and
// configures it as an output, initially de-energized.
func OpenRealGPIOOut(name string, activeHigh bool) (*RealGPIOOut, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.BusError, "platform.OpenRealGPIOOut", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errcode.Wrap(errcode.BusError, "platform.OpenRealGPIOOut", errUnknownPin(name))
	}
	out := &RealGPIOOut{pin: p, activeHigh: activeHigh}
	if err := out.Set(false); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *RealGPIOOut) Set(on bool) error {
	level := on == o.activeHigh
	if err := o.pin.Out(gpio.Level(level)); err != nil {
		return errcode.Wrap(errcode.BusError, "platform.RealGPIOOut.Set", err)
	}
	return nil
}

// MockGPIOOut is an in-memory output pin for tests and hardware.mode=mock:
// it records the logical on/off state a caller requested (not the raw
// electrical level), so tests assert in terms of the domain, not polarity.
type MockGPIOOut struct {
	mu  sync.Mutex
	on  bool
	log []bool
}

var _ GPIOOut = (*MockGPIOOut)(nil)

func NewMockGPIOOut() *MockGPIOOut { return &MockGPIOOut{} }

func (m *MockGPIOOut) Set(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = on
	m.log = append(m.log, on)
	return nil
}

// State reports the last requested logical state.
func (m *MockGPIOOut) State() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// History returns every Set call in order, for transition-count assertions.
func (m *MockGPIOOut) History() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.log...)
}

type errUnknownPin string

func (e errUnknownPin) Error() string { return "unknown GPIO pin: " + string(e) }
