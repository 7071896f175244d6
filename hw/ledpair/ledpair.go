// Package ledpair implements the semantic RED/GREEN LED overlay on a byte
// expander: two bits driven together in a single atomic update so a
// transition is never observed half-applied.
package ledpair

import "dustcollector/hw/expander"

// Config names the two bits and the polarity at the expander pin.
// ActiveLow mirrors the original's PcfLedsConfig.active_low: when true, a
// "lit" LED is driven by a logical-low output bit.
type Config struct {
	GreenBit  uint8
	RedBit    uint8
	ActiveLow bool
}

// Pair drives a RED/GREEN LED pair on an expander. The byte present at
// construction is captured so Close(restore) can put the expander back the
// way it found it.
type Pair struct {
	dev  *expander.Device
	cfg  Config
	orig uint8
}

// New captures the expander's current byte as the restore point and
// returns a Pair ready to drive its two configured bits.
func New(dev *expander.Device, cfg Config) (*Pair, error) {
	orig, err := dev.ReadByte()
	if err != nil {
		return nil, err
	}
	return &Pair{dev: dev, cfg: cfg, orig: orig}, nil
}

func (p *Pair) driveBit(on bool) uint8 {
	if p.cfg.ActiveLow {
		return boolToBit(!on)
	}
	return boolToBit(on)
}

func boolToBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// set drives both bits in one read-modify-write so a subscriber reading
// the byte never observes red and green mid-transition.
func (p *Pair) set(redOn, greenOn bool) error {
	mask := (uint8(1) << p.cfg.RedBit) | (uint8(1) << p.cfg.GreenBit)
	var value uint8
	if p.driveBit(redOn) == 1 {
		value |= 1 << p.cfg.RedBit
	}
	if p.driveBit(greenOn) == 1 {
		value |= 1 << p.cfg.GreenBit
	}
	return p.dev.UpdateBits(mask, value)
}

func (p *Pair) SetRed() error   { return p.set(true, false) }
func (p *Pair) SetGreen() error { return p.set(false, true) }
func (p *Pair) SetOff() error   { return p.set(false, false) }

// Close writes the original captured byte back if restore is true. Errors
// from the restore write are returned, not swallowed, unlike the Python
// original which only logs them — the supervisor decides how fatal a
// failed safe-state write is.
func (p *Pair) Close(restore bool) error {
	if !restore {
		return nil
	}
	return p.dev.WriteByte(p.orig)
}
