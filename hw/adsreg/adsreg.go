// Package adsreg is an ADS1115-style 16-bit delta-sigma ADC register
// driver: single-ended channel select, single-shot conversion trigger, and
// counts-to-volts conversion. It satisfies the ADC watcher's "read voltage
// v" primitive (spec.md §4.5) without inventing a new wire protocol — this
// is the original system's actual sensor, per
// original_source/src/tasks/adc_watch.py's use of adafruit_ads1x15.
package adsreg

import (
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"dustcollector/errcode"
)

// Register addresses (datasheet-fixed, shared by ADS1113/1114/1115).
const (
	regConversion = 0x00
	regConfig     = 0x01
)

// Config register bit layout (16-bit, big-endian on the wire).
const (
	cfgOS          = uint16(1) << 15 // write 1 to start a single-shot conversion
	cfgModeShift   = 8
	cfgModeSingle  = uint16(1) << cfgModeShift
	cfgDRShift     = 5
	cfgCompDisable = uint16(0x0003) // disable the comparator (required on ADS1115)
)

// Gain selects the programmable full-scale range. Values mirror the
// datasheet's PGA field and the corresponding full-scale voltage.
type Gain uint16

const (
	Gain2_3 Gain = 0x0000 // ±6.144V
	Gain1   Gain = 0x0200 // ±4.096V
	Gain2   Gain = 0x0400 // ±2.048V
	Gain4   Gain = 0x0600 // ±1.024V
	Gain8   Gain = 0x0800 // ±0.512V
	Gain16  Gain = 0x0A00 // ±0.256V
)

func (g Gain) fullScaleVolts() float64 {
	switch g {
	case Gain1:
		return 4.096
	case Gain2:
		return 2.048
	case Gain4:
		return 1.024
	case Gain8:
		return 0.512
	case Gain16:
		return 0.256
	default:
		return 6.144
	}
}

// DataRate selects the samples-per-second field; higher rates need less
// settle time but are noisier. 128 SPS matches the original's default.
type DataRate uint16

const (
	Rate128 DataRate = 0x0004 << cfgDRShift
	Rate250 DataRate = 0x0005 << cfgDRShift
	Rate475 DataRate = 0x0006 << cfgDRShift
	Rate860 DataRate = 0x0007 << cfgDRShift
)

func (r DataRate) settleTime() time.Duration {
	switch r {
	case Rate860:
		return 2 * time.Millisecond
	case Rate475:
		return 3 * time.Millisecond
	case Rate250:
		return 5 * time.Millisecond
	default:
		return 9 * time.Millisecond
	}
}

// Device is an ADS1115-style ADC reachable at addr on i2c.
type Device struct {
	i2c  drivers.I2C
	addr uint16
	gain Gain
	rate DataRate
	w, r [3]byte
}

// New returns a Device configured with the given full-scale gain and
// sample rate; callers that don't care can use Gain1/Rate128.
func New(i2c drivers.I2C, addr uint16, gain Gain, rate DataRate) *Device {
	return &Device{i2c: i2c, addr: addr, gain: gain, rate: rate}
}

// muxForSingleEnded returns the config-register MUX field selecting
// channel ch (0-3) against GND, matching the original's
// _pin_for_channel/AnalogIn(ads, Pin.A<ch>) single-ended reads.
func muxForSingleEnded(ch int) uint16 {
	return (uint16(0x0004) + uint16(ch)) << 12
}

func (d *Device) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, errcode.Wrap(errcode.BusError, "adsreg.readWord", err)
	}
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

func (d *Device) writeWord(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val >> 8) // high byte first (big-endian on the wire)
	d.w[2] = byte(val)
	if err := d.i2c.Tx(d.addr, d.w[:3], nil); err != nil {
		return errcode.Wrap(errcode.BusError, "adsreg.writeWord", err)
	}
	return nil
}

// ReadChannelVolts triggers a single-shot conversion on the given
// single-ended channel (0-3), waits the settle time for the configured
// data rate, and returns the result in volts.
func (d *Device) ReadChannelVolts(ch int) (float64, error) {
	if ch < 0 || ch > 3 {
		return 0, errcode.Wrap(errcode.InvalidParams, "adsreg.ReadChannelVolts", fmt.Errorf("channel %d out of range [0,3]", ch))
	}
	cfg := cfgOS | muxForSingleEnded(ch) | uint16(d.gain) | cfgModeSingle | uint16(d.rate) | cfgCompDisable
	if err := d.writeWord(regConfig, cfg); err != nil {
		return 0, err
	}
	time.Sleep(d.rate.settleTime())
	counts, err := d.readWord(regConversion)
	if err != nil {
		return 0, err
	}
	return countsToVolts(int16(counts), d.gain), nil
}

func countsToVolts(counts int16, gain Gain) float64 {
	return float64(counts) / 32768.0 * gain.fullScaleVolts()
}
