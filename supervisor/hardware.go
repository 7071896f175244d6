package supervisor

import (
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"dustcollector/platform"
)

func (s *Supervisor) mock() bool { return s.cfg.Hardware.Mode == "mock" }

// openI2C returns the shared I²C bus every expander, relay bank, and the ADC
// sit on. outputs_enabled=false forces the mock backend even in "real" mode:
// the relay/LED expanders and the ADC driver all write to this bus, so it
// falls under the same master inhibit as openGPIOOut — there is no GPIO-only
// carve-out.
func (s *Supervisor) openI2C() (drivers.I2C, error) {
	if s.mock() || !s.cfg.Hardware.OutputsEnabled {
		return platform.NewMockI2C(), nil
	}
	real, err := platform.OpenRealI2C(s.cfg.I2C.BusID)
	if err != nil {
		return nil, err
	}
	s.addCloser(real.Close)
	return real, nil
}

// openGPIOOut opens an output pin by its BCM number, mock or real per
// cfg.Hardware.Mode. outputs_enabled=false forces the mock backend even in
// "real" mode, matching the original's "never touch real GPIO unless
// outputs are explicitly enabled" guard.
func (s *Supervisor) openGPIOOut(pin int, activeHigh bool) (platform.GPIOOut, error) {
	if s.mock() || !s.cfg.Hardware.OutputsEnabled {
		return platform.NewMockGPIOOut(), nil
	}
	return platform.OpenRealGPIOOut(fmt.Sprintf("GPIO%d", pin), activeHigh)
}

// openAQMSerial opens the Plantower sensor's receive-only port.
func (s *Supervisor) openAQMSerial() (platform.SerialPort, error) {
	if s.mock() {
		return platform.NewMockSerialPort(), nil
	}
	timeout := time.Duration(s.cfg.AQM.SerialTimeoutS * float64(time.Second))
	real, err := platform.OpenRealSerialPort(s.cfg.UART.AQMPort, s.cfg.UART.Baud, timeout)
	if err != nil {
		return nil, err
	}
	s.addCloser(real.Close)
	return real, nil
}

// openFunSerial opens the outbound FUN-PAUSE transmitter. An empty
// fun_port disables the transmitter entirely, per SPEC_FULL §6's
// `uart.fun_port = "" disables`.
func (s *Supervisor) openFunSerial() (platform.SerialPort, error) {
	if s.cfg.UART.FunPort == "" {
		return nil, nil
	}
	if s.mock() {
		return platform.NewMockSerialPort(), nil
	}
	real, err := platform.OpenRealSerialPort(s.cfg.UART.FunPort, s.cfg.UART.FunBaud, time.Second)
	if err != nil {
		return nil, err
	}
	s.addCloser(real.Close)
	return real, nil
}

func durationSeconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
func millisDuration(ms int) time.Duration     { return time.Duration(ms) * time.Millisecond }
