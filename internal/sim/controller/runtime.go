package controller

import (
	"context"
	"time"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/container"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

// Source produces the offers outstanding at a tick.
type Source interface {
	OffersAt(tick uint64) map[host.Category]*host.OfferPool
}

// Dispatcher carries out matches and reports pathfinding results.
type Dispatcher interface {
	Dispatch(source, target, dispatcher host.BuildingID, category host.Category) host.VehicleID
	CompleteTrip(id host.VehicleID)
	DrainPathResults() []host.PathResult
}

type request struct {
	fn   func(*Controller) error
	done chan error
}

// Do runs fn on the controller goroutine between ticks and returns its
// error. It blocks until Run picks the request up or ctx ends.
func (c *Controller) Do(ctx context.Context, fn func(*Controller) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the controller at tuning tick_rate_hz until ctx ends.
func (c *Controller) Run(ctx context.Context, src Source, d Dispatcher) error {
	interval := time.Second / time.Duration(c.tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.requests:
			req.done <- req.fn(c)
		case <-ticker.C:
			c.RunTick(src, d)
		}
	}
}

// RunTick advances one tick: returns finished vehicles, matches the new
// offers, dispatches the matches and feeds pathfinding results back.
func (c *Controller) RunTick(src Source, d Dispatcher) {
	tick := c.tick + 1
	for id, due := range c.trips {
		if due <= tick {
			d.CompleteTrip(id)
			delete(c.trips, id)
		}
	}

	matches := c.Step(tick, src.OffersAt(tick))
	c.tick = tick
	for _, m := range matches {
		id := d.Dispatch(m.Outgoing.Building, m.Incoming.Building, m.Dispatcher, m.Category)
		c.trips[id] = tick + c.opts.TripTicks
	}
	for _, r := range d.DrainPathResults() {
		c.ReportPathfind(r.Vehicle, r.Succeeded, tick)
		if !r.Succeeded {
			d.CompleteTrip(r.Vehicle)
			delete(c.trips, r.Vehicle)
		}
	}

	every := uint64(c.tune.Persistence.SaveEveryTicks)
	if c.opts.SaveDir != "" && every > 0 && tick%every == 0 {
		path := container.PathFor(c.opts.SaveDir, tick)
		info, err := c.SaveFile(path)
		if err != nil {
			c.printf("periodic save failed tick=%d: %v", tick, err)
			return
		}
		if c.opts.OnSave != nil {
			c.opts.OnSave(path, info)
		}
	}
}
