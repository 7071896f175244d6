// Package gatectrl implements the per-tool blast-gate motion controller:
// a CLOSED/OPENING/OPEN/CLOSING state machine driving an LED pair and a
// relay pair with mandatory deadtime and a bounded drive time, per
// spec.md §4.6.
package gatectrl

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dustcollector/bus"
	"dustcollector/events"
	"dustcollector/hw/ledpair"
	"dustcollector/hw/relaybank"
	"dustcollector/logging"
)

const (
	// RelayDeadtime is the mandatory off interval between energizing the
	// two directions of the gate's H-bridge; guarantees both relays pass
	// through a simultaneously-off state before the new direction
	// asserts.
	RelayDeadtime = 100 * time.Millisecond
	// MaxDrive bounds how long a motion task drives a direction relay
	// before auto-stopping; motion is open-loop (no limit-switch
	// feedback in this core).
	MaxDrive = 6 * time.Second
)

// Config names one tool's event topics, relay bits, and a ready-to-use
// LED pair and shared relay bank. OpenBit and CloseBit must be distinct
// indices on the same relay expander (enforced by config.Validate before
// a Config ever reaches here).
type Config struct {
	Tool     string
	LEDs     *ledpair.Pair
	Relays   *relaybank.Bank
	OpenBit  uint8
	CloseBit uint8
}

// Controller owns one tool's gate state machine. At most one motion
// goroutine runs at a time; a new command cancels the in-flight one and
// waits for its cleanup before asserting the new direction.
type Controller struct {
	cfg Config
	log zerolog.Logger

	mu           sync.Mutex
	motionCancel context.CancelFunc
	motionDone   chan struct{}
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, log: logging.For("gate." + cfg.Tool)}
}

// Run subscribes to the tool's on/off topics and drives the state machine
// until ctx is cancelled, at which point it runs the same cleanup a
// supervisor shutdown requires: cancel in-flight motion, de-energize both
// direction bits, and release the LED pair without restoring its boot
// byte (another controller may still own other bits on the same
// expander). If ready is non-nil, it is called once subscriptions are in
// place and before any boot-state writes, so a caller can hold off
// starting this tool's publisher (adcwatch) until delivery is guaranteed.
func (c *Controller) Run(ctx context.Context, conn *bus.Connection, ready func()) {
	onSub := conn.Subscribe(events.ToolTopic(c.cfg.Tool, "on"))
	offSub := conn.Subscribe(events.ToolTopic(c.cfg.Tool, "off"))
	defer conn.Unsubscribe(onSub)
	defer conn.Unsubscribe(offSub)
	if ready != nil {
		ready()
	}

	// Boot state: CLOSED (LED red, relays de-energized).
	if err := c.cfg.LEDs.SetRed(); err != nil {
		c.log.Error().Err(err).Msg("boot: failed to set LED red")
	}
	if err := c.relayStop(); err != nil {
		c.log.Error().Err(err).Msg("boot: failed to stop relays")
	}
	c.log.Info().Msg("boot -> CLOSED")

	defer c.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case <-onSub.Channel():
			c.handleOn(ctx)
		case <-offSub.Channel():
			c.handleOff(ctx)
		}
	}
}

func (c *Controller) handleOn(parent context.Context) {
	if err := c.cfg.LEDs.SetGreen(); err != nil {
		c.log.Error().Err(err).Msg("failed to set LED green")
	}
	c.log.Info().Msg("-> OPENING")
	c.cancelMotion()
	c.startMotion(parent, c.driveOpenThenStop)
}

func (c *Controller) handleOff(parent context.Context) {
	if err := c.cfg.LEDs.SetRed(); err != nil {
		c.log.Error().Err(err).Msg("failed to set LED red")
	}
	c.log.Info().Msg("-> CLOSING")
	c.cancelMotion()
	c.startMotion(parent, c.driveCloseThenStop)
}

// startMotion launches a new motion goroutine derived from parent so
// supervisor shutdown (parent cancellation) also interrupts an in-flight
// drive. The guaranteed stop_pair cleanup runs via defer inside the motion
// function itself, so it executes whether the goroutine exits normally,
// via its own cancel (superseded by a newer command), or via parent
// cancellation.
func (c *Controller) startMotion(parent context.Context, fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	motionCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	c.motionCancel = cancel
	c.motionDone = done
	go func() {
		defer close(done)
		fn(motionCtx)
	}()
}

// cancelMotion cancels any in-flight motion task and blocks until its
// guaranteed cleanup has completed, so the caller's next relay assertion
// never races the cancelled task's stop_pair.
func (c *Controller) cancelMotion() {
	c.mu.Lock()
	cancel := c.motionCancel
	done := c.motionDone
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.mu.Lock()
	c.motionCancel = nil
	c.motionDone = nil
	c.mu.Unlock()
}

func (c *Controller) relayStop() error {
	return c.cfg.Relays.StopPair(c.cfg.OpenBit, c.cfg.CloseBit)
}

func (c *Controller) relayStartOpen(ctx context.Context) error {
	if err := c.cfg.Relays.SetRelay(c.cfg.CloseBit, false); err != nil {
		return err
	}
	if err := sleepCtx(ctx, RelayDeadtime); err != nil {
		return err
	}
	return c.cfg.Relays.SetRelay(c.cfg.OpenBit, true)
}

func (c *Controller) relayStartClose(ctx context.Context) error {
	if err := c.cfg.Relays.SetRelay(c.cfg.OpenBit, false); err != nil {
		return err
	}
	if err := sleepCtx(ctx, RelayDeadtime); err != nil {
		return err
	}
	return c.cfg.Relays.SetRelay(c.cfg.CloseBit, true)
}

// driveOpenThenStop and driveCloseThenStop each install the unconditional
// de-energize as a defer before attempting any relay write, so a failure
// partway through deadtime still runs stop_pair.
func (c *Controller) driveOpenThenStop(ctx context.Context) {
	defer c.guaranteedStop()
	if err := c.relayStartOpen(ctx); err != nil {
		if err != context.Canceled {
			c.log.Error().Err(err).Msg("relay start open failed")
		}
		return
	}
	_ = sleepCtx(ctx, MaxDrive)
}

func (c *Controller) driveCloseThenStop(ctx context.Context) {
	defer c.guaranteedStop()
	if err := c.relayStartClose(ctx); err != nil {
		if err != context.Canceled {
			c.log.Error().Err(err).Msg("relay start close failed")
		}
		return
	}
	_ = sleepCtx(ctx, MaxDrive)
}

func (c *Controller) guaranteedStop() {
	if err := c.relayStop(); err != nil {
		c.log.Error().Err(err).Msg("guaranteed stop_pair failed")
	}
}

func (c *Controller) cleanup() {
	c.cancelMotion()
	if err := c.relayStop(); err != nil {
		c.log.Error().Err(err).Msg("shutdown: relay stop failed")
	}
	if err := c.cfg.LEDs.Close(false); err != nil {
		c.log.Error().Err(err).Msg("shutdown: failed to close LEDs")
	}
}

// sleepCtx sleeps for d or returns ctx.Err() if ctx is cancelled first.
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
