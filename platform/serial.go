package platform

import (
	"context"
	"sync"
	"time"

	"github.com/tarm/serial"

	"dustcollector/errcode"
)

// SerialPort is the contract the AQM reader and AQM policy's FUN-PAUSE
// transmitter are written against: a byte stream with a context-bounded
// blocking read, independent of backend.
type SerialPort interface {
	// ReadContext blocks until at least one byte is available, ctx is
	// cancelled, or the backend's own read deadline elapses. A deadline
	// elapsing returns (0, nil): the spec's "timeout yields no frame this
	// iteration, no error."
	ReadContext(ctx context.Context, p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// RealSerialPort wraps github.com/tarm/serial for a real tty.
type RealSerialPort struct {
	port *serial.Port
}

var _ SerialPort = (*RealSerialPort)(nil)

// OpenRealSerialPort opens name at baud with the given per-read timeout.
func OpenRealSerialPort(name string, baud int, timeout time.Duration) (*RealSerialPort, error) {
	p, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: timeout})
	if err != nil {
		return nil, errcode.Wrap(errcode.BusError, "platform.OpenRealSerialPort", err)
	}
	return &RealSerialPort{port: p}, nil
}

// ReadContext performs a blocking Read on the underlying port (which
// already has ReadTimeout configured) in its own goroutine so ctx
// cancellation is still observed even mid-read.
func (r *RealSerialPort) ReadContext(ctx context.Context, p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.port.Read(p)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			return 0, errcode.Wrap(errcode.TimeoutError, "platform.RealSerialPort.ReadContext", res.err)
		}
		return res.n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *RealSerialPort) Write(p []byte) (int, error) { return r.port.Write(p) }
func (r *RealSerialPort) Close() error                { return r.port.Close() }

// MockSerialPort is an in-memory serial port: Inject feeds bytes as if
// received over the wire, and Written captures everything a component
// wrote, grounded on the teacher's simUART (factories_host.go).
type MockSerialPort struct {
	mu   sync.Mutex
	rx   []byte
	rd   chan struct{}
	wbuf []byte
}

var _ SerialPort = (*MockSerialPort)(nil)

func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{rd: make(chan struct{}, 1)}
}

// Inject appends bytes to the simulated receive buffer and wakes any
// blocked reader.
func (s *MockSerialPort) Inject(b []byte) {
	s.mu.Lock()
	s.rx = append(s.rx, b...)
	if len(s.rd) == 0 {
		s.rd <- struct{}{}
	}
	s.mu.Unlock()
}

func (s *MockSerialPort) ReadContext(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	if len(s.rx) > 0 {
		n := copy(p, s.rx)
		s.rx = s.rx[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	select {
	case <-s.rd:
		s.mu.Lock()
		n := copy(p, s.rx)
		s.rx = s.rx[n:]
		s.mu.Unlock()
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *MockSerialPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wbuf = append(s.wbuf, p...)
	return len(p), nil
}

func (s *MockSerialPort) Close() error { return nil }

// Written returns everything written to the port so far.
func (s *MockSerialPort) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.wbuf...)
}
