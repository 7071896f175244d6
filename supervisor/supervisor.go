// Package supervisor wires every component of the dust collector controller
// together from a loaded config.Config and drives their startup/shutdown
// lifecycle, per spec.md §5/§7: LED safe-state, then relay safe-state, then
// every subscriber and publisher. On shutdown every component is cancelled
// at once through one shared context; each gate controller de-energizes its
// relay pair and the collector forces its outputs off in their own cleanup,
// and Run then closes the real-hardware handles. Cancellation is not
// staged in reverse startup order, and the supervisor makes no relay or
// LED write of its own at shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"dustcollector/bus"
	"dustcollector/config"
	"dustcollector/control/adcwatch"
	"dustcollector/control/aqmpolicy"
	"dustcollector/control/aqmreader"
	"dustcollector/control/collector"
	"dustcollector/control/gatectrl"
	"dustcollector/hw/adsreg"
	"dustcollector/hw/expander"
	"dustcollector/hw/ledpair"
	"dustcollector/hw/relaybank"
	"dustcollector/logging"
	"dustcollector/platform"
)

// Supervisor owns every long-lived hardware handle and control-plane
// component built from a single Config, and runs them to completion.
type Supervisor struct {
	cfg *config.Config
	log zerolog.Logger

	bus   *bus.Bus
	adc   *adsreg.Device
	gate  map[string]*gatectrl.Controller
	watch *adcwatch.Watcher
	aqm   *aqmreader.Reader
	pol   *aqmpolicy.Policy
	coll  *collector.Controller

	closers []func() error // run in reverse order by closeAll at the end of Run
}

// New builds every hardware handle and control-plane component from cfg,
// selecting real or mock backends per cfg.Hardware.Mode. Every gate
// controller and output is forced to its safe state before New returns
// (spec.md §7: "no partial launch").
func New(cfg *config.Config) (*Supervisor, error) {
	s := &Supervisor{cfg: cfg, log: logging.For("supervisor"), bus: bus.NewBus(16), gate: map[string]*gatectrl.Controller{}}

	i2c, err := s.openI2C()
	if err != nil {
		return nil, err
	}

	ledDev := expander.New(i2c, cfg.I2C.PCFLEDAddr)
	if err := ledDev.WriteByte(0x00); err != nil {
		return nil, fmt.Errorf("led expander init: all-off failed: %w", err)
	}
	s.log.Info().Msg("led init: all off")
	relayDev := expander.New(i2c, cfg.I2C.PCFActAddr)
	if _, err := relayDev.ReadByte(); err != nil {
		return nil, fmt.Errorf("relay expander init: %w", err)
	}
	relays, err := relaybank.New(relayDev, relaybank.Config{ActiveLow: false})
	if err != nil {
		return nil, err
	}
	if err := relays.AllOff(); err != nil {
		return nil, fmt.Errorf("relay init: all-off failed: %w", err)
	}
	s.log.Info().Msg("relay init: all off")

	s.adc = adsreg.New(i2c, cfg.I2C.ADCAddr, adsreg.Gain1, adsreg.Rate128)

	var tools []adcwatch.ToolConfig
	for name, g := range cfg.Gates {
		pair, err := ledpair.New(ledDev, ledpair.Config{GreenBit: g.LEDGreen, RedBit: g.LEDRed, ActiveLow: false})
		if err != nil {
			return nil, fmt.Errorf("gate %s: led init: %w", name, err)
		}
		relays.RegisterPair(g.FwdBit, g.RevBit)
		gc := gatectrl.New(gatectrl.Config{Tool: name, LEDs: pair, Relays: relays, OpenBit: g.FwdBit, CloseBit: g.RevBit})
		s.gate[name] = gc
		tools = append(tools, adcwatch.ToolConfig{Tool: name, Channel: g.ADCChannel, OnThreshold: g.OnThreshold, OffThreshold: g.OffThreshold})
	}

	adcConn := s.bus.NewConnection("adcwatch")
	watch, err := adcwatch.New(s.adc, adcConn, tools, cfg.ADC.SampleHz, cfg.ADC.ConsecutiveRequired)
	if err != nil {
		return nil, err
	}
	s.watch = watch

	aqmPort, err := s.openAQMSerial()
	if err != nil {
		return nil, err
	}
	aqmConn := s.bus.NewConnection("aqmreader")
	s.aqm, err = aqmreader.New(aqmPort, aqmConn, aqmreader.Config{
		IntervalS:    durationSeconds(cfg.AQM.IntervalS),
		UseCF1:       cfg.AQM.UseCF1,
		WindowGood:   cfg.AQM.FilterWindowGood,
		WindowBad:    cfg.AQM.FilterWindowBad,
		BadOnThresh:  cfg.AQM.BadThreshold,
		BadOffThresh: cfg.AQM.BadOffThreshold,
		SevereThresh: cfg.AQM.SevereThreshold,
	})
	if err != nil {
		return nil, err
	}

	fan, err := s.openGPIOOut(cfg.GPIO.FanSSR, cfg.GPIO.FanActiveHigh)
	if err != nil {
		return nil, err
	}
	funTx, err := s.openFunSerial()
	if err != nil {
		return nil, err
	}
	s.pol, err = aqmpolicy.New(fan, funTx, aqmpolicy.Config{
		FanOnWhenBad:     cfg.AQM.FanOnWhenBad,
		PauseFunOnSevere: cfg.Safety.PauseFunOnSevereAQM,
		MinOffLockout:    millisDuration(cfg.Safety.MinOffLockoutMS),
	})
	if err != nil {
		return nil, err
	}

	ssr, err := s.openGPIOOut(cfg.GPIO.CollectorSSR, cfg.GPIO.CollectorSSRActiveHigh)
	if err != nil {
		return nil, err
	}
	strip, err := s.openGPIOOut(cfg.GPIO.CollectorStripLight, cfg.GPIO.CollectorStripActiveHigh)
	if err != nil {
		return nil, err
	}
	s.coll, err = collector.New(ssr, strip, cfg.GPIO.CollectorTools)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Run starts every component's goroutine and blocks until ctx is cancelled,
// then waits for every component to finish its own guaranteed cleanup
// before returning. Subscribers are started and their subscriptions
// confirmed in place before any publisher goroutine starts, so a
// publisher's first message (e.g. aqmreader's first is_bad transition,
// published unconditionally since its prior state starts unknown) is never
// lost to a subscribe-after-publish race, matching spec.md §2/§5's
// "subscribers then publishers" startup order.
func (s *Supervisor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info().Str("component", name).Msg("starting")
			fn()
			s.log.Info().Str("component", name).Msg("stopped")
		}()
	}

	var subsReady sync.WaitGroup
	runSubscriber := func(name string, fn func(ready func())) {
		subsReady.Add(1)
		run(name, func() { fn(subsReady.Done) })
	}

	for name, gc := range s.gate {
		gc := gc
		name := name
		runSubscriber("gate."+name, func(ready func()) {
			gc.Run(runCtx, s.bus.NewConnection("gate."+name), ready)
		})
	}
	runSubscriber("aqmpolicy", func(ready func()) {
		s.pol.Run(runCtx, s.bus.NewConnection("aqmpolicy"), ready)
	})
	runSubscriber("collector", func(ready func()) {
		s.coll.Run(runCtx, s.bus.NewConnection("collector"), ready)
	})

	subsReady.Wait()
	s.log.Info().Msg("all subscribers ready; starting publishers")

	run("adcwatch", func() { s.watch.Run(runCtx) })
	run("aqmreader", func() { s.aqm.Run(runCtx) })

	<-ctx.Done()
	s.log.Info().Msg("shutdown requested")
	cancel()
	wg.Wait()
	s.closeAll()
}

func (s *Supervisor) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Error().Err(err).Msg("cleanup error during shutdown")
		}
	}
}

func (s *Supervisor) addCloser(c func() error) { s.closers = append(s.closers, c) }
