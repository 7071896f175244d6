// Package adcwatch implements the ADC tool detector: a periodic,
// multi-channel sampler with per-channel hysteresis that publishes
// <tool>.on / <tool>.off edges. Each channel runs as its own goroutine so
// one stuck read never stalls another (spec.md §4.5).
package adcwatch

import (
	"context"
	"fmt"
	"time"

	"dustcollector/bus"
	"dustcollector/errcode"
	"dustcollector/events"
	"dustcollector/logging"
)

// VoltageReader reads a single ADC channel's voltage; satisfied by
// *adsreg.Device in production and a fake in tests.
type VoltageReader interface {
	ReadChannelVolts(ch int) (float64, error)
}

// ToolConfig binds one ADC channel to a tool's hysteresis thresholds.
// This is the Open Question resolution from spec.md §9: the channel→tool
// mapping is config-driven, not a hardcoded saw=0/lathe=1 pair.
type ToolConfig struct {
	Tool         string
	Channel      int
	OnThreshold  float64
	OffThreshold float64
}

// Watcher samples every configured channel at SampleHz and publishes edges
// to the bus.
type Watcher struct {
	adc                 VoltageReader
	conn                *bus.Connection
	tools               []ToolConfig
	sampleHz            float64
	consecutiveRequired int
}

// New validates the hysteresis and sample-rate invariants up front
// (spec.md §4.5: "implementations reject configurations violating this")
// and returns a ready-to-run Watcher.
func New(adc VoltageReader, conn *bus.Connection, tools []ToolConfig, sampleHz float64, consecutiveRequired int) (*Watcher, error) {
	if sampleHz <= 0 {
		return nil, errcode.Wrap(errcode.ConfigError, "adcwatch.New", fmt.Errorf("sample_hz must be > 0, got %v", sampleHz))
	}
	if consecutiveRequired < 1 {
		return nil, errcode.Wrap(errcode.ConfigError, "adcwatch.New", fmt.Errorf("consecutive_required must be >= 1, got %d", consecutiveRequired))
	}
	for _, tc := range tools {
		if tc.OffThreshold >= tc.OnThreshold {
			return nil, errcode.Wrap(errcode.ConfigError, "adcwatch.New",
				fmt.Errorf("%s: off_threshold (%v) must be < on_threshold (%v)", tc.Tool, tc.OffThreshold, tc.OnThreshold))
		}
	}
	return &Watcher{adc: adc, conn: conn, tools: tools, sampleHz: sampleHz, consecutiveRequired: consecutiveRequired}, nil
}

// Run starts one goroutine per configured channel and blocks until every
// channel's goroutine has exited (on ctx cancellation).
func (w *Watcher) Run(ctx context.Context) {
	done := make(chan struct{}, len(w.tools))
	for _, tc := range w.tools {
		tc := tc
		go func() {
			w.watchOne(ctx, tc)
			done <- struct{}{}
		}()
	}
	for range w.tools {
		<-done
	}
}

func (w *Watcher) watchOne(ctx context.Context, tc ToolConfig) {
	log := logging.For("adcwatch." + tc.Tool)
	period := time.Duration(float64(time.Second) / w.sampleHz)
	src := fmt.Sprintf("adc.ch%d", tc.Channel)

	isOn := false
	aboveOn := 0
	belowOff := 0

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		v, err := w.adc.ReadChannelVolts(tc.Channel)
		if err != nil {
			log.Warn().Err(err).Msg("adc read failed, skipping sample")
			continue
		}

		if !isOn {
			if v >= tc.OnThreshold {
				aboveOn++
				if aboveOn >= w.consecutiveRequired {
					isOn = true
					aboveOn, belowOff = 0, 0
					log.Info().Float64("v", v).Msg("tool on")
					w.conn.Publish(w.conn.NewMessage(events.ToolTopic(tc.Tool, "on"), events.ToolOn(src, tc.Tool, v), false))
				}
			} else {
				aboveOn = 0
			}
			continue
		}

		if v <= tc.OffThreshold {
			belowOff++
			if belowOff >= w.consecutiveRequired {
				isOn = false
				aboveOn, belowOff = 0, 0
				log.Info().Float64("v", v).Msg("tool off")
				w.conn.Publish(w.conn.NewMessage(events.ToolTopic(tc.Tool, "off"), events.ToolOff(src, tc.Tool, v), false))
			}
		} else {
			belowOff = 0
		}
	}
}
