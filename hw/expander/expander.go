// Package expander drives a PCF8574-style 8-bit I²C I/O expander: a cached,
// atomically read-modify-written byte. Every output expander in the
// controller (LED pair, relay bank) is built on top of one of these.
package expander

import (
	"fmt"
	"sync"

	"tinygo.org/x/drivers"

	"dustcollector/errcode"
)

// Device is a single-byte cached expander on an I²C bus. Serialization of
// read-modify-write is per instance, not per bus: two Devices sharing a
// physical bus cooperate through the underlying bus driver's own
// sequential access, exactly as the hardware requires.
type Device struct {
	i2c  drivers.I2C
	addr uint16

	mu    sync.Mutex
	state uint8
}

// New wraps addr on i2c. The cache starts at 0 until the first ReadByte or
// WriteByte call establishes a known state.
func New(i2c drivers.I2C, addr uint16) *Device {
	return &Device{i2c: i2c, addr: addr}
}

// ReadByte fetches the current output byte from the device and refreshes
// the cache. PCF8574 read-back reflects the last written output latch.
func (d *Device) ReadByte() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var r [1]byte
	if err := d.i2c.Tx(d.addr, nil, r[:]); err != nil {
		return 0, errcode.Wrap(errcode.BusError, "expander.ReadByte", err)
	}
	d.state = r[0]
	return d.state, nil
}

// WriteByte writes v and, on success, updates the cache to match.
func (d *Device) WriteByte(v uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(v)
}

func (d *Device) writeLocked(v uint8) error {
	w := [1]byte{v}
	if err := d.i2c.Tx(d.addr, w[:], nil); err != nil {
		return errcode.Wrap(errcode.BusError, "expander.writeByte", err)
	}
	d.state = v
	return nil
}

// UpdateBits performs an atomic read-modify-write: new = (state &^ mask) |
// (value & mask). Only the resulting byte is written; the cache equals the
// written byte on success, never partially updated on failure.
func (d *Device) UpdateBits(mask, value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := (d.state &^ mask) | (value & mask)
	return d.writeLocked(next)
}

// WriteBit is a convenience over UpdateBits for a single bit.
func (d *Device) WriteBit(bit uint8, on bool) error {
	if bit > 7 {
		return errcode.Wrap(errcode.InvalidParams, "expander.WriteBit", fmt.Errorf("bit %d out of range [0,7]", bit))
	}
	mask := uint8(1) << bit
	val := uint8(0)
	if on {
		val = mask
	}
	return d.UpdateBits(mask, val)
}

// CachedState returns the last successfully written (or read) byte without
// touching the bus.
func (d *Device) CachedState() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
