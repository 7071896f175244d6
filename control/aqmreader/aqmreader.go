// Package aqmreader implements the Plantower PMS frame reader: header scan,
// checksum verification, a windowed PM2.5/PM1.0/PM10 filter with distinct
// good/bad window sizes, and the is_bad hysteresis transition, per
// spec.md §4.7.
package aqmreader

import (
	"context"
	"fmt"
	"time"

	"dustcollector/bus"
	"dustcollector/errcode"
	"dustcollector/events"
	"dustcollector/logging"
	"dustcollector/platform"
)

const (
	start1   byte = 0x42
	start2   byte = 0x4D
	frameLen      = 32
)

// Config names the filter and hysteresis parameters, all sourced from the
// [aqm] config table (spec.md §6).
type Config struct {
	IntervalS    time.Duration
	UseCF1       bool
	WindowGood   int
	WindowBad    int
	BadOnThresh  float64
	BadOffThresh float64
	SevereThresh float64
}

// Reader owns one Plantower sensor's serial connection and filter state.
type Reader struct {
	port platform.SerialPort
	conn *bus.Connection
	cfg  Config

	pm1Hist  []float64
	pm25Hist []float64
	pm10Hist []float64
	maxWin   int

	isBad      bool
	lastIsBad  *bool
	lastStatus string
}

// New validates the hysteresis ordering (spec.md §4.7: "is_bad=true →
// false when filtered pm2.5 ≤ bad_off_threshold", requiring bad_off <
// bad_on) and returns a ready-to-run Reader.
func New(port platform.SerialPort, conn *bus.Connection, cfg Config) (*Reader, error) {
	if cfg.BadOffThresh >= cfg.BadOnThresh {
		return nil, errcode.Wrap(errcode.ConfigError, "aqmreader.New",
			fmt.Errorf("bad_off_threshold (%v) must be < bad_on_threshold (%v)", cfg.BadOffThresh, cfg.BadOnThresh))
	}
	if cfg.WindowGood < 1 || cfg.WindowBad < 1 {
		return nil, errcode.Wrap(errcode.ConfigError, "aqmreader.New", fmt.Errorf("filter windows must be >= 1"))
	}
	maxWin := cfg.WindowGood
	if cfg.WindowBad > maxWin {
		maxWin = cfg.WindowBad
	}
	return &Reader{port: port, conn: conn, cfg: cfg, maxWin: maxWin, lastStatus: "waiting"}, nil
}

// Run scans for valid frames until ctx is cancelled, publishing aqm.metrics
// on every valid frame and aqm.good/aqm.bad on is_bad transitions (and for
// the first valid frame, whose prior state is unknown). A frame
// sync failure (timeout, short read, bad checksum) is not fatal: the scan
// simply resumes looking for the next header.
func (r *Reader) Run(ctx context.Context) {
	log := logging.For("aqm")
	r.publishStatus("waiting", 0, 0, 0)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := r.findFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Msg("frame sync failed, resuming scan")
			continue
		}

		pm1Raw, pm25Raw, pm10Raw := parseMetrics(frame, r.cfg.UseCF1)

		r.pm1Hist = pushWindowed(r.pm1Hist, float64(pm1Raw), r.maxWin)
		r.pm25Hist = pushWindowed(r.pm25Hist, float64(pm25Raw), r.maxWin)
		r.pm10Hist = pushWindowed(r.pm10Hist, float64(pm10Raw), r.maxWin)

		winCur := r.cfg.WindowGood
		if r.isBad {
			winCur = r.cfg.WindowBad
		}

		pm1 := avgLast(r.pm1Hist, winCur)
		pm25 := avgLast(r.pm25Hist, winCur)
		pm10 := avgLast(r.pm10Hist, winCur)

		r.conn.Publish(r.conn.NewMessage(events.AqmMetricsTopic(), events.NewAqmMetrics("aqm.pms1003", pm1, pm25, pm10), false))

		if r.isBad {
			if pm25 <= r.cfg.BadOffThresh {
				r.isBad = false
			}
		} else {
			if pm25 >= r.cfg.BadOnThresh {
				r.isBad = true
			}
		}
		severe := pm25 >= r.cfg.SevereThresh

		if r.lastIsBad == nil || *r.lastIsBad != r.isBad {
			var msg events.AqmTransition
			which := "good"
			if r.isBad {
				which = "bad"
				msg = events.NewAqmBad("aqm.pms1003", pm25, severe)
			} else {
				msg = events.NewAqmGood("aqm.pms1003", pm25, severe)
			}
			r.conn.Publish(r.conn.NewMessage(events.AqmTransitionTopic(which), msg, false))
			isBad := r.isBad
			r.lastIsBad = &isBad
			log.Info().Bool("is_bad", r.isBad).Float64("pm2_5", pm25).Msg("aqm transition")
		}

		status := "good"
		switch {
		case severe:
			status = "severe"
		case r.isBad:
			status = "bad"
		}
		r.publishStatus(status, pm1, pm25, pm10)

		if err := sleepCtx(ctx, r.cfg.IntervalS); err != nil {
			return
		}
	}
}

func (r *Reader) publishStatus(status string, pm1, pm25, pm10 float64) {
	if status == r.lastStatus && status != "waiting" {
		return
	}
	r.lastStatus = status
	r.conn.Publish(r.conn.NewMessage(events.AqmStatusTopic(), events.NewAqmStatus("aqm.pms1003", status, pm1, pm25, pm10), true))
}

// findFrame blocks reading single bytes until it sees the 0x42 0x4D header,
// reads the remaining 30 bytes, and verifies the checksum, resyncing on
// checksum failure exactly as the original scan does.
func (r *Reader) findFrame(ctx context.Context) ([]byte, error) {
	for {
		b, err := r.readByte(ctx)
		if err != nil {
			return nil, err
		}
		if b != start1 {
			continue
		}
		b, err = r.readByte(ctx)
		if err != nil {
			return nil, err
		}
		if b != start2 {
			continue
		}
		rest, err := r.readN(ctx, frameLen-2)
		if err != nil {
			return nil, err
		}
		frame := append([]byte{start1, start2}, rest...)
		if checksumOK(frame) {
			return frame, nil
		}
		// resync: checksum failed, go back to scanning for a header.
	}
}

func (r *Reader) readByte(ctx context.Context) (byte, error) {
	buf := make([]byte, 1)
	n, err := r.port.ReadContext(ctx, buf)
	if err != nil {
		return 0, errcode.Wrap(errcode.TimeoutError, "aqmreader.readByte", err)
	}
	if n != 1 {
		return 0, errcode.Wrap(errcode.FrameError, "aqmreader.readByte", fmt.Errorf("short read"))
	}
	return buf[0], nil
}

func (r *Reader) readN(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		chunk := make([]byte, n-len(buf))
		got, err := r.port.ReadContext(ctx, chunk)
		if err != nil {
			return nil, errcode.Wrap(errcode.TimeoutError, "aqmreader.readN", err)
		}
		if got == 0 {
			return nil, errcode.Wrap(errcode.FrameError, "aqmreader.readN", fmt.Errorf("zero-byte read"))
		}
		buf = append(buf, chunk[:got]...)
	}
	return buf, nil
}

// checksumOK verifies the Plantower frame checksum: the sum of the first 30
// bytes must equal the big-endian 16-bit value in the final two bytes.
func checksumOK(frame []byte) bool {
	if len(frame) != frameLen {
		return false
	}
	var sum uint16
	for _, b := range frame[:30] {
		sum += uint16(b)
	}
	expected := uint16(frame[30])<<8 | uint16(frame[31])
	return sum == expected
}

// parseMetrics extracts PM1.0/PM2.5/PM10 from the factory (CF=1) or
// atmospheric field set per the original's byte layout.
func parseMetrics(frame []byte, useCF1 bool) (pm1, pm25, pm10 int) {
	if useCF1 {
		return be16(frame, 4), be16(frame, 6), be16(frame, 8)
	}
	return be16(frame, 10), be16(frame, 12), be16(frame, 14)
}

func be16(frame []byte, off int) int {
	return int(frame[off])<<8 | int(frame[off+1])
}

func pushWindowed(hist []float64, v float64, maxLen int) []float64 {
	hist = append(hist, v)
	if len(hist) > maxLen {
		hist = hist[len(hist)-maxLen:]
	}
	return hist
}

func avgLast(hist []float64, n int) float64 {
	if len(hist) == 0 {
		return 0
	}
	if n <= 1 || len(hist) <= 1 {
		return hist[len(hist)-1]
	}
	if n > len(hist) {
		n = len(hist)
	}
	tail := hist[len(hist)-n:]
	var sum float64
	for _, v := range tail {
		sum += v
	}
	return sum / float64(len(tail))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
