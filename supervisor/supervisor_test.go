package supervisor

import (
	"context"
	"testing"
	"time"

	"dustcollector/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Hardware: config.Hardware{Mode: "mock", OutputsEnabled: false},
		I2C:      config.I2C{PCFLEDAddr: 0x20, PCFActAddr: 0x21, ADCAddr: 0x48, BusID: "i2c1"},
		UART:     config.UART{AQMPort: "mock", Baud: 9600, FunPort: "mock", FunBaud: 115200},
		GPIO: config.GPIO{
			CollectorSSR: 25, CollectorSSRActiveHigh: true,
			CollectorStripLight: 5, CollectorStripActiveHigh: true,
			FanSSR: 24, FanActiveHigh: true,
			CollectorTools: []string{"saw"},
		},
		ADC: config.ADC{SampleHz: 50, ConsecutiveRequired: 2},
		AQM: config.AQM{
			BadThreshold: 35, BadOffThreshold: 30, SevereThreshold: 75,
			FilterWindowGood: 5, FilterWindowBad: 25, FilterWindowBadMult: 5,
			UseCF1: true, IntervalS: 0.01, SerialTimeoutS: 1,
		},
		Safety: config.Safety{},
		Gates: map[string]config.Gate{
			"saw": {ADCChannel: 0, OnThreshold: 1.0, OffThreshold: 0.3, FwdBit: 4, RevBit: 5, LEDRed: 3, LEDGreen: 7},
		},
	}
}

func TestNewWiresWithoutError(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.gate) != 1 {
		t.Fatalf("expected 1 gate controller, got %d", len(s.gate))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after ctx cancellation")
	}
}
