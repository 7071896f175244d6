package adcwatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"dustcollector/bus"
	"dustcollector/events"
)

// scriptedADC replays a fixed sequence of voltages for channel 0 and
// returns the last value forever after, for the hysteresis scenario in
// spec.md §8 #4.
type scriptedADC struct {
	mu     sync.Mutex
	values []float64
	idx    int
}

func (s *scriptedADC) ReadChannelVolts(ch int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.values) {
		return s.values[len(s.values)-1], nil
	}
	v := s.values[s.idx]
	s.idx++
	return v, nil
}

func TestNewRejectsBadHysteresis(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	_, err := New(&scriptedADC{}, conn, []ToolConfig{{Tool: "saw", Channel: 0, OnThreshold: 0.5, OffThreshold: 0.9}}, 100, 3)
	if err == nil {
		t.Fatal("expected ConfigError for off >= on")
	}
}

func TestNewRejectsBadSampleRate(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	_, err := New(&scriptedADC{}, conn, []ToolConfig{{Tool: "saw", Channel: 0, OnThreshold: 1, OffThreshold: 0.3}}, 0, 3)
	if err == nil {
		t.Fatal("expected ConfigError for sample_hz <= 0")
	}
}

func TestHysteresisSequence(t *testing.T) {
	// spec.md §8 scenario 4: with on=1.00, off=0.30, consecutive_required=3.
	adc := &scriptedADC{values: []float64{0.2, 0.5, 0.9, 1.0, 1.0, 1.0, 0.5, 0.8, 0.6, 0.2, 0.2, 0.2}}
	b := bus.NewBus(32)
	pub := b.NewConnection("adcwatch")
	sub := b.NewConnection("sub")

	onSub := sub.Subscribe(events.ToolTopic("saw", "on"))
	offSub := sub.Subscribe(events.ToolTopic("saw", "off"))

	w, err := New(adc, pub, []ToolConfig{{Tool: "saw", Channel: 0, OnThreshold: 1.00, OffThreshold: 0.30}}, 1000, 3)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	var onCount, offCount int
loop:
	for onCount == 0 || offCount == 0 {
		select {
		case <-onSub.Channel():
			onCount++
		case <-offSub.Channel():
			offCount++
		case <-deadline:
			break loop
		}
	}
	cancel()
	<-done

	if onCount != 1 {
		t.Fatalf("expected exactly one saw.on, got %d", onCount)
	}
	if offCount != 1 {
		t.Fatalf("expected exactly one saw.off, got %d", offCount)
	}
}
