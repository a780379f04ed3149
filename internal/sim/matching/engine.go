// Package matching pairs outstanding incoming and outgoing offers while
// honoring restriction records, warehouse reservations, vehicle policies and
// known pathfinding failures.
package matching

import (
	"sort"
	"sync/atomic"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
	"github.com/algernon-A/TransferController-sub001/internal/sim/pathfail"
	"github.com/algernon-A/TransferController-sub001/internal/sim/restrictions"
	"github.com/algernon-A/TransferController-sub001/internal/sim/vehicles"
	"github.com/algernon-A/TransferController-sub001/internal/sim/warehouse"
)

// Recorder receives every evaluated pair.
type Recorder interface {
	Record(e matchlog.Entry)
}

// Deps are the stores the engine reads. Only Host and Restrictions are
// required; nil policies are treated as open.
type Deps struct {
	Host         host.Host
	Restrictions *restrictions.Store
	Warehouses   *warehouse.Policy
	Vehicles     *vehicles.Policy
	Failures     *pathfail.Tracker
	Recorder     Recorder
}

// Match is one selected pairing.
type Match struct {
	Tick     uint64
	Category host.Category
	Incoming host.Offer
	Outgoing host.Offer
	Amount   int
	Priority int
	// Dispatcher is the building that sends the vehicle.
	Dispatcher host.BuildingID
	// Vehicles narrows the dispatcher's fleet; nil leaves the choice to the
	// host.
	Vehicles []host.VehiclePrefabID
}

// Decision is the verdict on a single pair.
type Decision struct {
	Status matchlog.Status
	// Stale is set when either building no longer exists; the pair is
	// skipped without being recorded.
	Stale      bool
	Boost      int
	DistanceSq float64
	Vehicles   []host.VehiclePrefabID
}

type Engine struct {
	deps Deps
	cfg  Config
	less Comparator

	faults atomic.Uint64
	// OnFault, when set, is told about each recovered panic.
	OnFault func(in, out host.Offer, recovered any)
}

func New(deps Deps, cfg Config) *Engine {
	cfg = cfg.normalized()
	return &Engine{deps: deps, cfg: cfg, less: cfg.comparator()}
}

func (e *Engine) Config() Config { return e.cfg }

// SetConfig swaps tuning between ticks.
func (e *Engine) SetConfig(cfg Config) {
	cfg = cfg.normalized()
	e.cfg = cfg
	e.less = cfg.comparator()
}

// Faults counts pair evaluations that panicked and were skipped.
func (e *Engine) Faults() uint64 { return e.faults.Load() }

type side uint8

const (
	sideIn side = iota
	sideOut
)

type ref struct {
	side  side
	index int
}

type pairKey struct{ in, out int }

type verdict struct {
	dec Decision
	ok  bool
}

// MatchAll runs Match for every category in ascending order.
func (e *Engine) MatchAll(tick uint64, pools map[host.Category]*host.OfferPool) []Match {
	cats := make([]host.Category, 0, len(pools))
	for c := range pools {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	var out []Match
	for _, c := range cats {
		out = append(out, e.Match(tick, c, pools[c])...)
	}
	return out
}

// Match resolves one category's pool. With the default ordering offers are
// taken in descending priority and each picks the best eligible counterpart
// that still has amount left. In distance-only mode priority plays no part:
// the globally nearest eligible pairs are matched first. The pool itself is
// not modified.
func (e *Engine) Match(tick uint64, category host.Category, pool *host.OfferPool) []Match {
	if pool == nil || len(pool.Incoming) == 0 || len(pool.Outgoing) == 0 {
		return nil
	}
	p := &pass{
		e:        e,
		tick:     tick,
		category: category,
		in:       append([]host.Offer(nil), pool.Incoming...),
		out:      append([]host.Offer(nil), pool.Outgoing...),
		verdicts: map[pairKey]verdict{},
	}
	if e.cfg.order() == NearestPairFirst {
		return p.nearestFirst()
	}
	return p.byPriority()
}

// pass is one Match call. Each pair is judged and logged once; amounts are
// the only thing that changes while it runs.
type pass struct {
	e        *Engine
	tick     uint64
	category host.Category
	in, out  []host.Offer
	verdicts map[pairKey]verdict
	matches  []Match
}

// judge evaluates in[i] against out[j] once and caches the verdict. It
// reports whether the pair is eligible.
func (p *pass) judge(i, j int) (Decision, bool) {
	k := pairKey{i, j}
	v, seen := p.verdicts[k]
	if !seen {
		inOffer, outOffer := p.offers(i, j)
		v.dec, v.ok = p.e.safeEvaluate(p.tick, inOffer, outOffer)
		p.verdicts[k] = v
		if v.ok && !v.dec.Stale {
			p.e.record(p.tick, p.category, inOffer, outOffer, v.dec.Status)
		}
	}
	if !v.ok || v.dec.Stale || v.dec.Status != matchlog.Eligible {
		return v.dec, false
	}
	return v.dec, true
}

func (p *pass) offers(i, j int) (host.Offer, host.Offer) {
	inOffer, outOffer := p.in[i], p.out[j]
	inOffer.Category, outOffer.Category = p.category, p.category
	return inOffer, outOffer
}

// open reports whether in[i] and out[j] may be considered at all.
func (p *pass) open(i, j int) bool {
	a, b := &p.in[i], &p.out[j]
	if a.Amount <= 0 || b.Amount <= 0 || a.Building == b.Building {
		return false
	}
	return !(a.Exclude && b.Exclude)
}

func (p *pass) commit(i, j, priority int, dec Decision) {
	a, b := &p.in[i], &p.out[j]
	amount := a.Amount
	if b.Amount < amount {
		amount = b.Amount
	}
	inOffer, outOffer := p.offers(i, j)
	p.e.record(p.tick, p.category, inOffer, outOffer, matchlog.Selected)
	p.matches = append(p.matches, Match{
		Tick:       p.tick,
		Category:   p.category,
		Incoming:   inOffer,
		Outgoing:   outOffer,
		Amount:     amount,
		Priority:   priority,
		Dispatcher: dispatcher(inOffer, outOffer),
		Vehicles:   dec.Vehicles,
	})
	a.Amount -= amount
	b.Amount -= amount
}

func (p *pass) byPriority() []Match {
	order := make([]ref, 0, len(p.in)+len(p.out))
	for i := range p.in {
		order = append(order, ref{sideIn, i})
	}
	for i := range p.out {
		order = append(order, ref{sideOut, i})
	}
	prio := func(r ref) int {
		if r.side == sideIn {
			return p.in[r.index].Priority
		}
		return p.out[r.index].Priority
	}
	sort.SliceStable(order, func(i, j int) bool { return prio(order[i]) > prio(order[j]) })

	for _, r := range order {
		others := p.out
		if r.side == sideOut {
			others = p.in
		}
		best := -1
		var bestCand Candidate
		var bestDec Decision
		for j := range others {
			i, o := r.index, j
			if r.side == sideOut {
				i, o = j, r.index
			}
			if !p.open(i, o) {
				continue
			}
			dec, ok := p.judge(i, o)
			if !ok {
				continue
			}
			cand := Candidate{
				Priority:   p.e.capPriority(others[j].Priority + dec.Boost),
				DistanceSq: dec.DistanceSq,
				Index:      j,
			}
			if best < 0 || p.e.less(cand, bestCand) {
				best, bestCand, bestDec = j, cand, dec
			}
		}
		if best < 0 {
			continue
		}
		if r.side == sideIn {
			p.commit(r.index, best, bestCand.Priority, bestDec)
		} else {
			p.commit(best, r.index, bestCand.Priority, bestDec)
		}
	}
	return p.matches
}

// nearestFirst judges every open pair, then matches them in ascending
// distance with pool order breaking ties.
func (p *pass) nearestFirst() []Match {
	type pair struct {
		in, out int
		dec     Decision
	}
	var pairs []pair
	for i := range p.in {
		for j := range p.out {
			if !p.open(i, j) {
				continue
			}
			if dec, ok := p.judge(i, j); ok {
				pairs = append(pairs, pair{i, j, dec})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].dec.DistanceSq < pairs[b].dec.DistanceSq
	})
	for _, pr := range pairs {
		if p.in[pr.in].Amount <= 0 || p.out[pr.out].Amount <= 0 {
			continue
		}
		p.commit(pr.in, pr.out, p.e.capPriority(p.out[pr.out].Priority+pr.dec.Boost), pr.dec)
	}
	return p.matches
}

// Evaluate judges a single incoming/outgoing pair without recording it.
func (e *Engine) Evaluate(tick uint64, in, out host.Offer) Decision {
	d, ok := e.safeEvaluate(tick, in, out)
	if !ok {
		return Decision{Stale: true}
	}
	return d
}

func (e *Engine) safeEvaluate(tick uint64, in, out host.Offer) (d Decision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.faults.Add(1)
			if e.OnFault != nil {
				e.OnFault(in, out, r)
			}
			d, ok = Decision{}, false
		}
	}()
	return e.evaluate(tick, in, out), true
}

type party struct {
	offer   host.Offer
	prefab  host.Prefab
	dist    host.AreaID
	park    host.AreaID
	outside bool
}

func (e *Engine) load(o host.Offer) (party, bool) {
	h := e.deps.Host
	if o.Building == 0 || !h.BuildingExists(o.Building) {
		return party{}, false
	}
	d, p, ok := h.AreasOf(o.Building)
	if !ok {
		return party{}, false
	}
	pf, ok := h.PrefabOf(o.Building)
	if !ok {
		return party{}, false
	}
	if o.Position == (host.Position{}) {
		if pos, ok := h.PositionOf(o.Building); ok {
			o.Position = pos
		}
	}
	return party{
		offer:   o,
		prefab:  pf,
		dist:    d,
		park:    p,
		outside: o.Outside || pf.Kind == host.KindOutsideConnection,
	}, true
}

func (e *Engine) evaluate(tick uint64, inOffer, outOffer host.Offer) Decision {
	if e.deps.Host == nil {
		return Decision{Stale: true}
	}
	in, ok := e.load(inOffer)
	if !ok {
		return Decision{Stale: true}
	}
	out, ok := e.load(outOffer)
	if !ok {
		return Decision{Stale: true}
	}
	cat := inOffer.Category

	var inRule, outRule restrictions.Rule
	var hasIn, hasOut bool
	if e.deps.Restrictions != nil {
		inRule, hasIn = e.deps.Restrictions.Rule(in.offer.Building, cat, restrictions.Incoming)
		outRule, hasOut = e.deps.Restrictions.Rule(out.offer.Building, cat, restrictions.Outgoing)
	}

	if out.outside && hasIn && !inRule.OutsideConnectionAllowed {
		return Decision{Status: matchlog.NotPermittedIn}
	}
	if in.outside && hasOut && !outRule.OutsideConnectionAllowed {
		return Decision{Status: matchlog.NotPermittedOut}
	}

	if hasIn && !out.outside && !districtAllows(inRule, in, out) {
		return Decision{Status: matchlog.NotPermittedIn}
	}
	if hasOut && !in.outside && !districtAllows(outRule, out, in) {
		return Decision{Status: matchlog.NotPermittedOut}
	}

	if wh := e.deps.Warehouses; wh != nil {
		if in.prefab.Kind == host.KindWarehouse &&
			!wh.Admits(in.offer.Building, warehouse.ClassOf(out.prefab, out.outside), e.free(in)) {
			return Decision{Status: matchlog.ImportBlocked}
		}
		if out.prefab.Kind == host.KindWarehouse &&
			!wh.Admits(out.offer.Building, warehouse.ClassOf(in.prefab, in.outside), e.free(out)) {
			return Decision{Status: matchlog.ExportBlocked}
		}
	}

	if e.deps.Failures != nil && e.deps.Failures.Failed(in.offer.Building, out.offer.Building, tick) {
		return Decision{Status: matchlog.PathFailure}
	}

	var fleet []host.VehiclePrefabID
	if e.deps.Vehicles != nil {
		if d := dispatcher(inOffer, outOffer); d != 0 && (inOffer.Active || outOffer.Active) {
			sel, ok := e.deps.Vehicles.Select(e.deps.Host, d, cat)
			if !ok {
				return Decision{Status: matchlog.NoVehicle}
			}
			fleet = sel
		}
	}

	return Decision{
		Status:     matchlog.Eligible,
		Boost:      e.boost(in, out),
		DistanceSq: in.offer.Position.DistanceSq(out.offer.Position),
		Vehicles:   fleet,
	}
}

// districtAllows applies owner's same-district rule to counterpart. An
// explicitly allowed building overrides the district restriction.
func districtAllows(r restrictions.Rule, owner, counterpart party) bool {
	if !r.Enabled || !r.SameDistrictOnly {
		return true
	}
	if r.AllowsBuilding(counterpart.offer.Building) {
		return true
	}
	if owner.dist != host.NoArea && owner.dist == counterpart.dist {
		return true
	}
	if owner.park != host.NoArea && owner.park == counterpart.park {
		return true
	}
	return r.AllowsArea(counterpart.dist) || r.AllowsArea(counterpart.park)
}

func (e *Engine) free(p party) int {
	n := p.prefab.VehicleCapacity - e.deps.Host.ActiveVehicles(p.offer.Building)
	if n < 0 {
		return 0
	}
	return n
}

func (e *Engine) boost(in, out party) int {
	b := 0
	if wh := e.deps.Warehouses; wh != nil {
		if in.prefab.Kind == host.KindWarehouse && wh.Serves(in.offer.Building, warehouse.ClassOf(out.prefab, out.outside)) {
			b += e.cfg.WarehouseReserveBoost
		} else if out.prefab.Kind == host.KindWarehouse && wh.Serves(out.offer.Building, warehouse.ClassOf(in.prefab, in.outside)) {
			b += e.cfg.WarehouseReserveBoost
		}
	}
	for _, p := range [2]party{in, out} {
		if !p.outside {
			continue
		}
		switch p.prefab.Transport {
		case host.TransportRail:
			b += e.cfg.OutsideRailBoost
		case host.TransportShip:
			b += e.cfg.OutsideShipBoost
		case host.TransportPlane:
			b += e.cfg.OutsidePlaneBoost
		}
	}
	return b
}

func (e *Engine) capPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > e.cfg.MaxPriority {
		return e.cfg.MaxPriority
	}
	return p
}

func (e *Engine) record(tick uint64, c host.Category, in, out host.Offer, s matchlog.Status) {
	if e.deps.Recorder == nil {
		return
	}
	e.deps.Recorder.Record(matchlog.Entry{
		Tick:        tick,
		Category:    c,
		Status:      s,
		InBuilding:  in.Building,
		InPriority:  in.Priority,
		InExclude:   in.Exclude,
		InPosition:  in.Position,
		OutBuilding: out.Building,
		OutPriority: out.Priority,
		OutExclude:  out.Exclude,
		OutPosition: out.Position,
	})
}

// dispatcher is the active side of the pair; the supplier when neither or
// both are active.
func dispatcher(in, out host.Offer) host.BuildingID {
	if in.Active && !out.Active {
		return in.Building
	}
	return out.Building
}
