// Package config loads and validates the TOML document that configures
// every component of the dust collector controller. Loading is all-or-
// nothing: any malformed field or invariant violation is a fatal
// errcode.ConfigError at startup, never a partial launch.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"dustcollector/errcode"
)

type Hardware struct {
	Mode           string `toml:"mode"`
	OutputsEnabled bool   `toml:"outputs_enabled"`
}

type I2C struct {
	PCFLEDAddr uint16 `toml:"pcf_led_addr"`
	PCFActAddr uint16 `toml:"pcf_act_addr"`
	ADCAddr    uint16 `toml:"adc_addr"`
	BusID      string `toml:"bus_id"`
}

type UART struct {
	AQMPort string `toml:"aqm_port"`
	Baud    int    `toml:"baud"`
	FunPort string `toml:"fun_port"`
	FunBaud int    `toml:"fun_baud"`
}

type GPIO struct {
	CollectorSSR             int      `toml:"collector_ssr"`
	CollectorSSRActiveHigh   bool     `toml:"collector_ssr_active_high"`
	CollectorStripLight      int      `toml:"collector_strip_light"`
	CollectorStripActiveHigh bool     `toml:"collector_strip_active_high"`
	FanSSR                   int      `toml:"fan_ssr"`
	FanActiveHigh            bool     `toml:"fan_active_high"`
	CollectorTools           []string `toml:"collector_tools"`
}

type ADC struct {
	SampleHz            float64 `toml:"sample_hz"`
	ConsecutiveRequired int     `toml:"consecutive_required"`
}

type AQM struct {
	BadThreshold        float64 `toml:"bad_threshold"`
	BadOffThreshold     float64 `toml:"bad_off_threshold"`
	SevereThreshold     float64 `toml:"severe_threshold"`
	FilterWindowGood    int     `toml:"filter_window_good"`
	FilterWindowBad     int     `toml:"filter_window_bad"`
	FilterWindowBadMult float64 `toml:"filter_window_bad_mult"`
	UseCF1              bool    `toml:"use_cf1"`
	FanOnWhenBad        bool    `toml:"fan_on_when_bad"`
	IntervalS           float64 `toml:"interval_s"`
	SerialTimeoutS      float64 `toml:"serial_timeout_s"`
}

type Safety struct {
	PauseFunOnSevereAQM bool `toml:"pause_fun_on_severe_aqm"`
	MinOffLockoutMS     int  `toml:"min_off_lockout_ms"`
}

// Gate holds one tool's ADC channel mapping, thresholds, relay bits, and
// LED bits. The channel→tool mapping and LED-bit assignment are both
// config data rather than hardcoded constants (spec Open Questions).
type Gate struct {
	ADCChannel   int     `toml:"adc_channel"`
	OnThreshold  float64 `toml:"on_threshold"`
	OffThreshold float64 `toml:"off_threshold"`
	FwdBit       uint8   `toml:"fwd_bit"`
	RevBit       uint8   `toml:"rev_bit"`
	LEDRed       uint8   `toml:"led_red"`
	LEDGreen     uint8   `toml:"led_green"`
}

type Config struct {
	Hardware Hardware        `toml:"hardware"`
	I2C      I2C             `toml:"i2c"`
	UART     UART            `toml:"uart"`
	GPIO     GPIO            `toml:"gpio"`
	ADC      ADC             `toml:"adc"`
	AQM      AQM             `toml:"aqm"`
	Safety   Safety          `toml:"safety"`
	Gates    map[string]Gate `toml:"gates"`
}

// Load parses the TOML document at path and validates it against the
// invariants named in spec.md §3/§4. Every returned error is wrapped with
// errcode.ConfigError.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errcode.Wrap(errcode.ConfigError, "config.Load", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errcode.Wrap(errcode.ConfigError, "config.Validate", err)
	}
	return &cfg, nil
}

// Validate checks the cross-field invariants the loader alone can't catch
// via struct tags: hysteresis ordering, distinct relay bits, positive
// rates, and the default-safe hardware mode.
func (c *Config) Validate() error {
	switch c.Hardware.Mode {
	case "mock", "real":
	default:
		return fmt.Errorf("hardware.mode must be \"mock\" or \"real\", got %q", c.Hardware.Mode)
	}
	if c.ADC.SampleHz <= 0 {
		return fmt.Errorf("adc.sample_hz must be > 0, got %v", c.ADC.SampleHz)
	}
	if c.ADC.ConsecutiveRequired < 1 {
		return fmt.Errorf("adc.consecutive_required must be >= 1, got %d", c.ADC.ConsecutiveRequired)
	}
	if c.AQM.BadOffThreshold >= c.AQM.BadThreshold {
		return fmt.Errorf("aqm.bad_off_threshold (%v) must be < aqm.bad_threshold (%v)", c.AQM.BadOffThreshold, c.AQM.BadThreshold)
	}
	if c.AQM.FilterWindowBad < c.AQM.FilterWindowGood {
		return fmt.Errorf("aqm.filter_window_bad (%d) must be >= aqm.filter_window_good (%d)", c.AQM.FilterWindowBad, c.AQM.FilterWindowGood)
	}
	if c.AQM.FilterWindowGood < 1 || c.AQM.FilterWindowBad < 1 {
		return fmt.Errorf("aqm filter windows must be >= 1")
	}
	if len(c.Gates) == 0 {
		return fmt.Errorf("at least one [gates.<tool>] entry is required")
	}
	seenChannel := map[int]string{}
	for tool, g := range c.Gates {
		if g.OffThreshold >= g.OnThreshold {
			return fmt.Errorf("gates.%s.off_threshold (%v) must be < on_threshold (%v)", tool, g.OffThreshold, g.OnThreshold)
		}
		if g.FwdBit == g.RevBit {
			return fmt.Errorf("gates.%s.fwd_bit and rev_bit must differ, both %d", tool, g.FwdBit)
		}
		if g.LEDRed == g.LEDGreen {
			return fmt.Errorf("gates.%s.led_red and led_green must differ, both %d", tool, g.LEDRed)
		}
		if prev, ok := seenChannel[g.ADCChannel]; ok {
			return fmt.Errorf("gates.%s and gates.%s both claim adc_channel %d", tool, prev, g.ADCChannel)
		}
		seenChannel[g.ADCChannel] = tool
	}
	for _, t := range c.GPIO.CollectorTools {
		if _, ok := c.Gates[t]; !ok {
			return fmt.Errorf("gpio.collector_tools references unknown gate %q", t)
		}
	}
	return nil
}
