package aqmreader

import (
	"context"
	"testing"
	"time"

	"dustcollector/bus"
	"dustcollector/events"
	"dustcollector/platform"
)

// buildFrame constructs a valid 32-byte Plantower frame with the given
// CF=1 PM1.0/PM2.5/PM10 values (the atmospheric fields are left zero).
func buildFrame(pm1, pm25, pm10 int) []byte {
	f := make([]byte, frameLen)
	f[0], f[1] = start1, start2
	putBE16(f, 4, pm1)
	putBE16(f, 6, pm25)
	putBE16(f, 8, pm10)
	var sum uint16
	for _, b := range f[:30] {
		sum += uint16(b)
	}
	f[30] = byte(sum >> 8)
	f[31] = byte(sum)
	return f
}

func putBE16(f []byte, off, v int) {
	f[off] = byte(v >> 8)
	f[off+1] = byte(v)
}

func TestChecksumOK(t *testing.T) {
	f := buildFrame(10, 20, 30)
	if !checksumOK(f) {
		t.Fatal("expected valid checksum")
	}
	f[31] ^= 0xFF
	if checksumOK(f) {
		t.Fatal("expected checksum mismatch to be detected")
	}
}

func TestNewRejectsBadHysteresis(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	_, err := New(platform.NewMockSerialPort(), conn, Config{
		WindowGood: 5, WindowBad: 25, BadOnThresh: 35, BadOffThresh: 40, SevereThresh: 75, IntervalS: time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected ConfigError for bad_off >= bad_on")
	}
}

func TestPublishesMetricsAndBadTransition(t *testing.T) {
	port := platform.NewMockSerialPort()
	for i := 0; i < 10; i++ {
		port.Inject(buildFrame(5, 40, 20))
	}

	b := bus.NewBus(64)
	pub := b.NewConnection("aqm")
	sub := b.NewConnection("sub")

	metricsSub := sub.Subscribe(events.AqmMetricsTopic())
	badSub := sub.Subscribe(events.AqmTransitionTopic("bad"))

	r, err := New(port, pub, Config{
		UseCF1: true, WindowGood: 5, WindowBad: 25, BadOnThresh: 35, BadOffThresh: 30, SevereThresh: 75, IntervalS: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	deadline := time.After(2 * time.Second)
	var gotMetrics, gotBad bool
	for !gotMetrics || !gotBad {
		select {
		case <-metricsSub.Channel():
			gotMetrics = true
		case <-badSub.Channel():
			gotBad = true
		case <-deadline:
			t.Fatal("timed out waiting for aqm.metrics / aqm.bad")
		}
	}
	cancel()
	<-done
}
