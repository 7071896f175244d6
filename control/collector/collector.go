// Package collector implements the collector SSR aggregator: it tracks the
// set of active tools across every configured gate and drives the
// collector SSR and accent strip-light GPIO outputs in lockstep whenever
// that set transitions to/from empty, per spec.md §4.9 and SPEC_FULL §4.10.
package collector

import (
	"context"

	"github.com/rs/zerolog"

	"dustcollector/bus"
	"dustcollector/events"
	"dustcollector/logging"
	"dustcollector/platform"
)

// edge is a tagged tool on/off notification, fanned in from the per-tool
// subscriptions into a single channel the control loop selects on.
type edge struct {
	tool string
	on   bool
}

// Controller aggregates tool on/off events into a single active-set
// invariant: SSR-on iff active is non-empty. No delay-off — the SSR
// follows the active set immediately.
type Controller struct {
	ssr        platform.GPIOOut
	stripLight platform.GPIOOut
	tools      []string
	active     map[string]struct{}
	ssrOn      bool
}

// New forces both outputs to OFF before returning, the same deterministic
// boot state the original's blower_off() establishes.
func New(ssr, stripLight platform.GPIOOut, tools []string) (*Controller, error) {
	c := &Controller{ssr: ssr, stripLight: stripLight, tools: tools, active: map[string]struct{}{}}
	if err := c.setOutputs(false); err != nil {
		return nil, err
	}
	return c, nil
}

// Run subscribes to every configured tool's on/off topics and drives the
// aggregate until ctx is cancelled, at which point it forces the outputs
// back to OFF. If ready is non-nil, it is called once every subscription is
// in place, so a caller can hold off starting the tool publishers
// (adcwatch) until delivery is guaranteed.
func (c *Controller) Run(ctx context.Context, conn *bus.Connection, ready func()) {
	log := logging.For("collector")
	edges := make(chan edge, 8*len(c.tools)+1)

	for _, tool := range c.tools {
		tool := tool
		onSub := conn.Subscribe(events.ToolTopic(tool, "on"))
		offSub := conn.Subscribe(events.ToolTopic(tool, "off"))
		defer conn.Unsubscribe(onSub)
		defer conn.Unsubscribe(offSub)

		go forward(ctx, onSub, edges, tool, true)
		go forward(ctx, offSub, edges, tool, false)
	}
	if ready != nil {
		ready()
	}

	defer func() {
		if err := c.setOutputs(false); err != nil {
			log.Error().Err(err).Msg("shutdown: failed to force collector off")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-edges:
			c.apply(log, e)
		}
	}
}

func forward(ctx context.Context, sub *bus.Subscription, out chan<- edge, tool string, on bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.Channel():
			if msg == nil {
				return
			}
			select {
			case out <- edge{tool: tool, on: on}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Controller) apply(log zerolog.Logger, e edge) {
	if e.on {
		c.active[e.tool] = struct{}{}
	} else {
		delete(c.active, e.tool)
	}
	wantOn := len(c.active) > 0
	if wantOn == c.ssrOn {
		return
	}
	if err := c.setOutputs(wantOn); err != nil {
		log.Error().Err(err).Msg("failed to actuate collector outputs")
		return
	}
	if wantOn {
		log.Info().Interface("active", activeList(c.active)).Msg("collector on")
	} else {
		log.Info().Msg("collector off")
	}
}

func activeList(active map[string]struct{}) []string {
	out := make([]string, 0, len(active))
	for t := range active {
		out = append(out, t)
	}
	return out
}

func (c *Controller) setOutputs(on bool) error {
	if err := c.stripLight.Set(on); err != nil {
		return err
	}
	if err := c.ssr.Set(on); err != nil {
		return err
	}
	c.ssrOn = on
	return nil
}
