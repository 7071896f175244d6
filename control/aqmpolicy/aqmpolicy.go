// Package aqmpolicy actuates the filter fan and the downstream FUN-PAUSE
// transmitter in response to the AQM reader's good/bad/severe transitions,
// per spec.md §4.8.
package aqmpolicy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dustcollector/bus"
	"dustcollector/events"
	"dustcollector/logging"
	"dustcollector/platform"
)

// Config names the policy's actuation knobs, all sourced from [aqm] and
// [safety] in the config document.
type Config struct {
	FanOnWhenBad     bool
	PauseFunOnSevere bool
	MinOffLockout    time.Duration
}

// Policy drives a fan GPIO and an optional serial transmitter from
// aqm.good/aqm.bad transitions. FunTx may be nil, matching the original's
// ser_tx=None case: pause-fun actuation is then simply skipped.
type Policy struct {
	fan   platform.GPIOOut
	funTx platform.SerialPort
	cfg   Config
	log   zerolog.Logger

	fanIsOn      bool
	lastFanOffAt time.Time
	severeLatch  bool
}

// New forces the fan to its deterministic OFF state before returning,
// matching the original's "force fan OFF at startup" initial condition.
func New(fan platform.GPIOOut, funTx platform.SerialPort, cfg Config) (*Policy, error) {
	p := &Policy{fan: fan, funTx: funTx, cfg: cfg, log: logging.For("aqm.policy"), lastFanOffAt: time.Now()}
	if err := p.fan.Set(false); err != nil {
		return nil, err
	}
	return p, nil
}

// Run subscribes to aqm.good/aqm.bad and actuates until ctx is cancelled. If
// ready is non-nil, it is called once both subscriptions are in place, so a
// caller can hold off starting aqmreader until delivery is guaranteed.
func (p *Policy) Run(ctx context.Context, conn *bus.Connection, ready func()) {
	goodSub := conn.Subscribe(events.AqmTransitionTopic("good"))
	badSub := conn.Subscribe(events.AqmTransitionTopic("bad"))
	defer conn.Unsubscribe(goodSub)
	defer conn.Unsubscribe(badSub)
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-goodSub.Channel():
			if msg != nil {
				p.handle(msg, false)
			}
		case msg := <-badSub.Channel():
			if msg != nil {
				p.handle(msg, true)
			}
		}
	}
}

func (p *Policy) handle(msg *bus.Message, isBad bool) {
	t, ok := msg.Payload.(events.AqmTransition)
	if !ok {
		return
	}
	p.actuateFan(isBad)
	p.actuatePauseFun(t.Severe)
}

// actuateFan mirrors the original's fan-control block exactly: only acts
// when fan_on_when_bad is configured, and a min_off_lockout_ms window
// suppresses turning the fan back on immediately after it was switched off.
func (p *Policy) actuateFan(isBad bool) {
	if !p.cfg.FanOnWhenBad {
		return
	}
	if isBad {
		if p.fanIsOn {
			return
		}
		if p.cfg.MinOffLockout > 0 {
			elapsed := time.Since(p.lastFanOffAt)
			if elapsed < p.cfg.MinOffLockout {
				p.log.Info().Dur("elapsed", elapsed).Dur("lockout", p.cfg.MinOffLockout).Msg("fan on suppressed by lockout")
				return
			}
		}
		if err := p.fan.Set(true); err != nil {
			p.log.Error().Err(err).Msg("fan on failed")
			return
		}
		p.fanIsOn = true
		p.log.Warn().Msg("fan on (bad air)")
		return
	}

	if !p.fanIsOn {
		return
	}
	if err := p.fan.Set(false); err != nil {
		p.log.Error().Err(err).Msg("fan off failed")
		return
	}
	p.fanIsOn = false
	p.lastFanOffAt = time.Now()
	p.log.Info().Msg("fan off (good air)")
}

// actuatePauseFun sends the single-line "FUN PAUSE\n" command on edge-
// triggered entry to severe, and clears the latch once severe clears,
// exactly as the original's severe_latched bookkeeping does.
func (p *Policy) actuatePauseFun(severe bool) {
	if !p.cfg.PauseFunOnSevere || p.funTx == nil {
		return
	}
	if severe && !p.severeLatch {
		if _, err := p.funTx.Write([]byte("FUN PAUSE\n")); err != nil {
			p.log.Error().Err(err).Msg("failed to write FUN PAUSE")
		} else {
			p.log.Error().Msg("severe -> FUN PAUSE sent")
		}
		p.severeLatch = true
	} else if !severe && p.severeLatch {
		p.severeLatch = false
	}
}
