// Package controller owns one session of the transfer controller: the
// restriction, warehouse and vehicle stores, the matching engine, the outcome
// history and the pathfinding failure tracker.
//
// A Controller is single-threaded. An embedding host calls Step and
// ReportPathfind from its simulation thread; the sandbox runs Run and every
// other goroutine goes through Do.
package controller

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/container"
	"github.com/algernon-A/TransferController-sub001/internal/persistence/savedata"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matching"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
	"github.com/algernon-A/TransferController-sub001/internal/sim/pathfail"
	"github.com/algernon-A/TransferController-sub001/internal/sim/restrictions"
	"github.com/algernon-A/TransferController-sub001/internal/sim/tuning"
	"github.com/algernon-A/TransferController-sub001/internal/sim/vehicles"
	"github.com/algernon-A/TransferController-sub001/internal/sim/warehouse"
)

var ErrDisabled = errors.New("controller: disabled for this session")

// OutcomeSink receives every recorded outcome after it enters the in-memory
// log. Sinks run on the controller goroutine and must not block.
type OutcomeSink interface {
	WriteOutcome(e matchlog.Entry) error
}

type OutcomeSinkFunc func(e matchlog.Entry) error

func (f OutcomeSinkFunc) WriteOutcome(e matchlog.Entry) error { return f(e) }

// TickSink is an optional OutcomeSink extension told when a Step finishes.
type TickSink interface {
	EndTick(tick uint64, matches int)
}

// PathFailure is reported for every failed pathfind that was recorded.
type PathFailure struct {
	Session  string
	Tick     uint64
	Vehicle  host.VehicleID
	Source   host.BuildingID
	Target   host.BuildingID
	Category host.Category
}

type Options struct {
	Sinks []OutcomeSink
	// OnPathFailure runs on the controller goroutine.
	OnPathFailure func(PathFailure)
	// OnSave is called after Run writes a periodic save.
	OnSave func(path string, rep SaveInfo)

	// SaveDir enables periodic saves in Run (tuning persistence.save_every_ticks).
	SaveDir string
	// TripTicks is how long a dispatched sandbox vehicle stays out.
	TripTicks uint64
}

type SaveInfo struct {
	Session      string
	Tick         uint64
	Version      int32
	Restrictions int
	Warehouses   int
	Vehicles     int
}

type Controller struct {
	host     host.Host
	log      *log.Logger
	tune     tuning.Tuning
	opts     Options
	disabled error

	restrictions *restrictions.Store
	warehouses   *warehouse.Policy
	vehicles     *vehicles.Policy
	failures     *pathfail.Tracker
	outcomes     *matchlog.Log
	engine       *matching.Engine

	session string
	tick    uint64

	matchesTotal uint64
	lastMatches  int
	statusTotals map[matchlog.Status]uint64
	sinkErrors   uint64
	stepMS       float64
	trips        map[host.VehicleID]uint64

	metrics  atomic.Value
	requests chan request
}

// New builds a controller over h. A nil host, or one whose Probe fails,
// leaves the controller disabled: it keeps its stores but makes no decisions.
func New(h host.Host, tune tuning.Tuning, logger *log.Logger, opts Options) *Controller {
	tune.Normalize()
	if opts.TripTicks == 0 {
		opts.TripTicks = 20
	}
	c := &Controller{
		host:     h,
		log:      logger,
		tune:     tune,
		opts:     opts,
		outcomes: matchlog.New(tune.OutcomeLog.Capacity),
		failures: pathfail.New(tune.PathFailures.Enabled, tune.PathFailures.ExpiryTicks),
		trips:    map[host.VehicleID]uint64{},
		requests: make(chan request, 64),
	}

	switch {
	case h == nil:
		c.disabled = fmt.Errorf("%w: no host", ErrDisabled)
	default:
		if p, ok := h.(host.Prober); ok {
			if err := p.Probe(); err != nil {
				c.disabled = fmt.Errorf("%w: %v", ErrDisabled, err)
			}
		}
	}

	var entities restrictions.Entities
	var catalog vehicles.Catalog
	var buildings warehouse.Buildings
	if h != nil {
		entities, catalog, buildings = h, h, h
	}
	c.restrictions = restrictions.NewStore(entities)
	c.warehouses = warehouse.NewPolicy(buildings)
	c.vehicles = vehicles.NewPolicy(catalog)
	c.engine = matching.New(matching.Deps{
		Host:         h,
		Restrictions: c.restrictions,
		Warehouses:   c.warehouses,
		Vehicles:     c.vehicles,
		Failures:     c.failures,
		Recorder:     c,
	}, tune.EngineConfig())
	c.engine.OnFault = func(in, out host.Offer, recovered any) {
		c.printf("pair fault in=%d out=%d category=%s: %v", in.Building, out.Building, in.Category, recovered)
	}

	if c.disabled != nil {
		c.printf("%v", c.disabled)
	}
	c.Reset()
	return c
}

func (c *Controller) Enabled() bool { return c.disabled == nil }

// Err is the reason the controller is disabled, or nil.
func (c *Controller) Err() error { return c.disabled }

func (c *Controller) Session() string { return c.session }
func (c *Controller) Tick() uint64    { return c.tick }

func (c *Controller) Tuning() tuning.Tuning { return c.tune }

// The accessors below hand out the live stores; use them only from the
// controller goroutine (inside Do when Run is active).
func (c *Controller) Host() host.Host                   { return c.host }
func (c *Controller) Restrictions() *restrictions.Store { return c.restrictions }
func (c *Controller) Warehouses() *warehouse.Policy     { return c.warehouses }
func (c *Controller) Vehicles() *vehicles.Policy        { return c.vehicles }
func (c *Controller) Failures() *pathfail.Tracker       { return c.failures }
func (c *Controller) Outcomes() *matchlog.Log           { return c.outcomes }
func (c *Controller) Engine() *matching.Engine          { return c.engine }

// AddSink and SetOnPathFailure must be called before Run starts.
func (c *Controller) AddSink(s OutcomeSink) { c.opts.Sinks = append(c.opts.Sinks, s) }

func (c *Controller) SetOnPathFailure(fn func(PathFailure)) { c.opts.OnPathFailure = fn }

// Reset starts a new session with empty stores.
func (c *Controller) Reset() {
	c.session = uuid.NewString()
	c.tick = 0
	c.restrictions.Reset()
	c.warehouses.Reset()
	c.vehicles.Reset()
	c.failures.Reset()
	c.outcomes.Clear()
	c.matchesTotal = 0
	c.lastMatches = 0
	c.statusTotals = map[matchlog.Status]uint64{}
	c.trips = map[host.VehicleID]uint64{}
	c.publishMetrics()
}

// SetTuning swaps tuning between ticks. The outcome log keeps its capacity.
func (c *Controller) SetTuning(t tuning.Tuning) {
	t.Normalize()
	c.tune = t
	c.engine.SetConfig(t.EngineConfig())
	c.failures.SetEnabled(t.PathFailures.Enabled)
	c.failures.SetExpiry(t.PathFailures.ExpiryTicks)
	c.publishMetrics()
}

// Step runs one matching pass over pools. It returns nothing while the
// controller is disabled.
func (c *Controller) Step(tick uint64, pools map[host.Category]*host.OfferPool) []matching.Match {
	if c.disabled != nil {
		return nil
	}
	start := time.Now()
	c.tick = tick
	c.failures.Expire(tick)

	matches := c.engine.MatchAll(tick, pools)
	c.matchesTotal += uint64(len(matches))
	c.lastMatches = len(matches)
	for _, s := range c.opts.Sinks {
		if ts, ok := s.(TickSink); ok {
			ts.EndTick(tick, len(matches))
		}
	}
	c.stepMS = float64(time.Since(start).Microseconds()) / 1000.0
	c.publishMetrics()
	return matches
}

// Record implements matching.Recorder.
func (c *Controller) Record(e matchlog.Entry) {
	c.outcomes.Record(e)
	c.statusTotals[e.Status]++
	for _, s := range c.opts.Sinks {
		if err := s.WriteOutcome(e); err != nil {
			c.sinkErrors++
			if c.sinkErrors == 1 || c.sinkErrors%1000 == 0 {
				c.printf("outcome sink error (total=%d): %v", c.sinkErrors, err)
			}
		}
	}
}

// ReportPathfind is the pathfinding callback. A failure is attributed to the
// vehicle's current route; unknown vehicles are ignored.
func (c *Controller) ReportPathfind(vehicle host.VehicleID, succeeded bool, tick uint64) {
	if c.disabled != nil || succeeded || !c.failures.Enabled() {
		return
	}
	source, target, category, ok := c.host.VehicleRoute(vehicle)
	if !ok {
		return
	}
	c.failures.RecordPair(source, target, tick)
	if c.opts.OnPathFailure != nil {
		c.opts.OnPathFailure(PathFailure{
			Session:  c.session,
			Tick:     tick,
			Vehicle:  vehicle,
			Source:   source,
			Target:   target,
			Category: category,
		})
	}
}

// ReleaseBuilding drops everything stored for a demolished building.
func (c *Controller) ReleaseBuilding(b host.BuildingID) {
	c.restrictions.ClearBuilding(b)
	c.warehouses.ClearBuilding(b)
	c.vehicles.ClearBuilding(b)
	c.failures.Clear(b)
}

func (c *Controller) stores() savedata.Stores {
	return savedata.Stores{
		Restrictions: c.restrictions,
		Warehouses:   c.warehouses,
		Vehicles:     c.vehicles,
	}
}

// Save encodes the stores in the current format.
func (c *Controller) Save() ([]byte, error) {
	return savedata.Encode(c.stores())
}

// LoadSave replaces the stores with blob. Diagnostics are logged; only an
// unreadable version is returned as an error, and the stores are then empty.
func (c *Controller) LoadSave(blob []byte) (savedata.Report, error) {
	if c.disabled != nil {
		return savedata.Report{}, c.disabled
	}
	rep, err := savedata.Decode(blob, c.stores())
	for _, d := range rep.Diagnostics {
		c.printf("load: %s", d)
	}
	c.publishMetrics()
	return rep, err
}

// SaveFile writes a save container holding the controller blob.
func (c *Controller) SaveFile(path string) (SaveInfo, error) {
	blob, err := c.Save()
	if err != nil {
		return SaveInfo{}, err
	}
	f := container.New(c.session, c.tick)
	f.Data[savedata.DataID] = blob
	if err := container.Write(path, f); err != nil {
		return SaveInfo{}, fmt.Errorf("save %s: %w", path, err)
	}
	return SaveInfo{
		Session:      c.session,
		Tick:         c.tick,
		Version:      savedata.CurrentVersion,
		Restrictions: c.restrictions.Len(),
		Warehouses:   c.warehouses.Len(),
		Vehicles:     c.vehicles.Len(),
	}, nil
}

// LoadFile restores a save container and continues its session and tick. A
// container without controller data loads as a new game. A controller blob
// whose version is unreadable leaves the stores empty and is only reported
// in the diagnostics; the session and tick are still taken over.
func (c *Controller) LoadFile(path string) (savedata.Report, error) {
	f, err := container.Read(path)
	if err != nil {
		return savedata.Report{}, err
	}
	rep, err := c.LoadSave(f.Data[savedata.DataID])
	if err != nil && !errors.Is(err, savedata.ErrMalformed) {
		return rep, err
	}
	if f.Header.SessionID != "" {
		c.session = f.Header.SessionID
	}
	c.tick = f.Header.Tick
	c.publishMetrics()
	return rep, nil
}

func (c *Controller) printf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
