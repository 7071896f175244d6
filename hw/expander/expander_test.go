package expander

import (
	"errors"
	"testing"
)

// fakeI2C is a minimal drivers.I2C stand-in for exercising the
// read-modify-write contract without pulling in the platform package.
type fakeI2C struct {
	byte     uint8
	failNext bool
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if f.failNext {
		f.failNext = false
		return errors.New("simulated bus fault")
	}
	if len(w) == 1 && r == nil {
		f.byte = w[0]
		return nil
	}
	if w == nil && len(r) == 1 {
		r[0] = f.byte
		return nil
	}
	return errors.New("unsupported transaction shape")
}

func TestWriteByteUpdatesCache(t *testing.T) {
	fi := &fakeI2C{}
	d := New(fi, 0x20)
	if err := d.WriteByte(0b1010_0000); err != nil {
		t.Fatal(err)
	}
	if d.CachedState() != 0b1010_0000 {
		t.Fatalf("cache not updated: %08b", d.CachedState())
	}
}

func TestUpdateBitsIsAtomic(t *testing.T) {
	fi := &fakeI2C{byte: 0b0000_0000}
	d := New(fi, 0x20)
	if err := d.WriteByte(0b0000_0000); err != nil {
		t.Fatal(err)
	}
	if err := d.UpdateBits(0b0000_0011, 0b0000_0010); err != nil {
		t.Fatal(err)
	}
	if d.CachedState() != 0b0000_0010 {
		t.Fatalf("expected 0b00000010, got %08b", d.CachedState())
	}
	if err := d.UpdateBits(0b0000_1100, 0b0000_0100); err != nil {
		t.Fatal(err)
	}
	if d.CachedState() != 0b0000_0110 {
		t.Fatalf("expected 0b00000110, got %08b", d.CachedState())
	}
}

func TestWriteBitRejectsOutOfRange(t *testing.T) {
	fi := &fakeI2C{}
	d := New(fi, 0x20)
	if err := d.WriteBit(8, true); err == nil {
		t.Fatal("expected error for bit 8")
	}
}

func TestFailedWriteDoesNotCorruptCache(t *testing.T) {
	fi := &fakeI2C{byte: 0x55}
	d := New(fi, 0x20)
	if _, err := d.ReadByte(); err != nil {
		t.Fatal(err)
	}
	fi.failNext = true
	if err := d.WriteByte(0xFF); err == nil {
		t.Fatal("expected bus fault")
	}
	if d.CachedState() != 0x55 {
		t.Fatalf("cache corrupted after failed write: %02x", d.CachedState())
	}
}
