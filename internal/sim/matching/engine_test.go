package matching

import (
	"testing"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
	"github.com/algernon-A/TransferController-sub001/internal/sim/pathfail"
	"github.com/algernon-A/TransferController-sub001/internal/sim/restrictions"
	"github.com/algernon-A/TransferController-sub001/internal/sim/vehicles"
	"github.com/algernon-A/TransferController-sub001/internal/sim/warehouse"
)

type fixture struct {
	host   *host.Memory
	rs     *restrictions.Store
	wh     *warehouse.Policy
	veh    *vehicles.Policy
	fails  *pathfail.Tracker
	log    *matchlog.Log
	engine *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	m := host.NewMemory()
	m.AddBuilding(host.Building{ID: 1, District: host.District(1), Position: host.Position{X: 0}, Prefab: host.Prefab{Service: "Industrial"}})
	m.AddBuilding(host.Building{ID: 2, District: host.District(2), Position: host.Position{X: 100}, Prefab: host.Prefab{Service: "Industrial"}})
	m.AddBuilding(host.Building{ID: 3, District: host.District(1), Position: host.Position{X: 300}, Prefab: host.Prefab{Service: "Industrial"}})
	m.AddBuilding(host.Building{ID: 9, Position: host.Position{X: 1000}, Prefab: host.Prefab{Kind: host.KindOutsideConnection, Transport: host.TransportShip}})
	m.AddBuilding(host.Building{ID: 20, District: host.District(2), Prefab: host.Prefab{Kind: host.KindWarehouse, VehicleCapacity: 4, Service: "Industrial"}})
	m.AddBuilding(host.Building{ID: 30, District: host.District(3), Prefab: host.Prefab{Kind: host.KindUniqueFactory, Service: "Industrial"}})
	m.AddVehiclePrefab(host.VehiclePrefab{ID: "truck", Service: "Industrial"})

	f := &fixture{
		host:  m,
		rs:    restrictions.NewStore(m),
		wh:    warehouse.NewPolicy(m),
		veh:   vehicles.NewPolicy(m),
		fails: pathfail.New(true, 0),
		log:   matchlog.New(64),
	}
	f.engine = New(Deps{
		Host:         m,
		Restrictions: f.rs,
		Warehouses:   f.wh,
		Vehicles:     f.veh,
		Failures:     f.fails,
		Recorder:     f.log,
	}, cfg)
	return f
}

func offer(b host.BuildingID, prio int) host.Offer {
	return host.Offer{Building: b, Category: host.CategoryGoods, Priority: prio, Amount: 1}
}

func pool(in []host.Offer, out []host.Offer) *host.OfferPool {
	return &host.OfferPool{Incoming: in, Outgoing: out}
}

func TestEngine_SameDistrictRestrictionAndBuildingOverride(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	k := f.rs.Ensure(1, host.CategoryGoods, restrictions.Outgoing)
	f.rs.SetEnabled(k, true)
	f.rs.SetSameDistrictOnly(k, true)

	p := pool([]host.Offer{offer(2, 7)}, []host.Offer{offer(1, 1)})
	if got := f.engine.Match(1, host.CategoryGoods, p); len(got) != 0 {
		t.Fatalf("cross-district pair should not match: %+v", got)
	}
	log := f.log.Query(matchlog.Filter{})
	if len(log) != 1 || log[0].Status != matchlog.NotPermittedOut {
		t.Fatalf("log=%+v", log)
	}

	f.rs.AddBuilding(k, 2)
	got := f.engine.Match(2, host.CategoryGoods, p)
	if len(got) != 1 || got[0].Incoming.Building != 2 || got[0].Outgoing.Building != 1 {
		t.Fatalf("allowed building should match: %+v", got)
	}
	if !f.rs.SameDistrictOnly(k) {
		t.Fatalf("override must not clear sameDistrictOnly")
	}
	log = f.log.Query(matchlog.Filter{Statuses: []matchlog.Status{matchlog.Eligible, matchlog.Selected}})
	if len(log) != 2 || log[0].Status != matchlog.Selected || log[1].Status != matchlog.Eligible {
		t.Fatalf("expected Eligible then Selected, got %+v", log)
	}
}

func TestEngine_IncomingDistrictRuleRejectsRegardlessOfPriority(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	k := f.rs.Ensure(1, host.CategoryGoods, restrictions.Incoming)
	f.rs.SetEnabled(k, true)
	f.rs.SetSameDistrictOnly(k, true)

	d := f.engine.Evaluate(1, offer(1, 7), offer(2, 7))
	if d.Status != matchlog.NotPermittedIn {
		t.Fatalf("status=%v want NotPermittedIn", d.Status)
	}
	if d := f.engine.Evaluate(1, offer(1, 0), offer(3, 0)); d.Status != matchlog.Eligible {
		t.Fatalf("same district should pass, got %v", d.Status)
	}
	f.rs.AddDistrict(k, host.District(2))
	if d := f.engine.Evaluate(1, offer(1, 0), offer(2, 0)); d.Status != matchlog.Eligible {
		t.Fatalf("allowed district should pass, got %v", d.Status)
	}
}

func TestEngine_OutsideConnectionChecks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	in := f.rs.Ensure(1, host.CategoryGoods, restrictions.Incoming)
	f.rs.SetOutsideConnectionAllowed(in, false)

	if d := f.engine.Evaluate(1, offer(1, 1), offer(9, 1)); d.Status != matchlog.NotPermittedIn {
		t.Fatalf("import from outside should be blocked, got %v", d.Status)
	}

	out := f.rs.Ensure(2, host.CategoryGoods, restrictions.Outgoing)
	f.rs.SetOutsideConnectionAllowed(out, false)
	if d := f.engine.Evaluate(1, offer(9, 1), offer(2, 1)); d.Status != matchlog.NotPermittedOut {
		t.Fatalf("export to outside should be blocked, got %v", d.Status)
	}

	// Outside connections are exempt from the same-district rule.
	f.rs.SetEnabled(out, true)
	f.rs.SetSameDistrictOnly(out, true)
	f.rs.SetOutsideConnectionAllowed(out, true)
	if d := f.engine.Evaluate(1, offer(9, 1), offer(2, 1)); d.Status != matchlog.Eligible {
		t.Fatalf("outside counterpart should skip district check, got %v", d.Status)
	}
}

func TestEngine_WarehouseReservation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.wh.SetReserve(20, warehouse.ReserveForUniqueFactories)

	if d := f.engine.Evaluate(1, offer(1, 1), offer(20, 1)); d.Status != matchlog.ExportBlocked {
		t.Fatalf("warehouse export to a city building should be blocked, got %v", d.Status)
	}
	if d := f.engine.Evaluate(1, offer(20, 1), offer(2, 1)); d.Status != matchlog.ImportBlocked {
		t.Fatalf("warehouse import from a city building should be blocked, got %v", d.Status)
	}
	d := f.engine.Evaluate(1, offer(30, 1), offer(20, 1))
	if d.Status != matchlog.Eligible || d.Boost != 2 {
		t.Fatalf("reserved class should pass with boost, got %+v", d)
	}

	f.wh.SetReservedVehicleCount(20, 1)
	if d := f.engine.Evaluate(1, offer(1, 1), offer(20, 1)); d.Status != matchlog.Eligible {
		t.Fatalf("free vehicles above the reserve serve anyone, got %v", d.Status)
	}
	f.host.SetActiveVehicles(20, 3)
	if d := f.engine.Evaluate(1, offer(1, 1), offer(20, 1)); d.Status != matchlog.ExportBlocked {
		t.Fatalf("at the reserve the warehouse is restricted again, got %v", d.Status)
	}
}

func TestEngine_PathFailureAndNoVehicle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fails.RecordPair(1, 3, 5)
	if d := f.engine.Evaluate(6, offer(3, 1), offer(1, 1)); d.Status != matchlog.PathFailure {
		t.Fatalf("status=%v want PathFailure", d.Status)
	}

	active := offer(2, 1)
	active.Active = true
	f.host.AddVehiclePrefab(host.VehiclePrefab{ID: "hearse", Service: "HealthCare"})
	f.veh.Add(2, host.CategoryGoods, "hearse")
	if d := f.engine.Evaluate(1, offer(1, 1), active); d.Status != matchlog.NoVehicle {
		t.Fatalf("status=%v want NoVehicle", d.Status)
	}
	f.veh.Add(2, host.CategoryGoods, "truck")
	d := f.engine.Evaluate(1, offer(1, 1), active)
	if d.Status != matchlog.Eligible || len(d.Vehicles) != 1 || d.Vehicles[0] != "truck" {
		t.Fatalf("policy should narrow to truck: %+v", d)
	}
	// Passive side's policy is not consulted.
	if d := f.engine.Evaluate(1, offer(2, 1), offer(1, 1)); d.Status != matchlog.Eligible {
		t.Fatalf("status=%v", d.Status)
	}
}

func TestEngine_PriorityThenDistance(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := pool(
		[]host.Offer{offer(1, 5)},
		[]host.Offer{offer(3, 2), offer(2, 2), offer(9, 1)},
	)
	got := f.engine.Match(1, host.CategoryGoods, p)
	if len(got) != 1 || got[0].Outgoing.Building != 2 {
		t.Fatalf("nearest of equal priority should win: %+v", got)
	}

	p.Outgoing[0].Priority = 3
	got = f.engine.Match(2, host.CategoryGoods, p)
	if len(got) != 1 || got[0].Outgoing.Building != 3 {
		t.Fatalf("higher priority should win over distance: %+v", got)
	}
}

func TestEngine_DistanceOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DistanceOnly = true
	f := newFixture(t, cfg)
	p := pool(
		[]host.Offer{offer(1, 7)},
		[]host.Offer{offer(3, 6), offer(2, 0)},
	)
	got := f.engine.Match(1, host.CategoryGoods, p)
	if len(got) != 1 || got[0].Outgoing.Building != 2 {
		t.Fatalf("distance-only should pick the nearest: %+v", got)
	}
}

func TestEngine_DistanceOnlyIgnoresPriorityAcrossOffers(t *testing.T) {
	// One unit of supply at x=0; a far urgent demand and a near idle one.
	supply := offer(1, 0)
	demands := []host.Offer{offer(3, 7), offer(2, 0)}

	f := newFixture(t, DefaultConfig())
	got := f.engine.Match(1, host.CategoryGoods, pool(demands, []host.Offer{supply}))
	if len(got) != 1 || got[0].Incoming.Building != 3 {
		t.Fatalf("default ordering should serve the urgent demand: %+v", got)
	}

	cfg := DefaultConfig()
	cfg.DistanceOnly = true
	f = newFixture(t, cfg)
	got = f.engine.Match(1, host.CategoryGoods, pool(demands, []host.Offer{supply}))
	if len(got) != 1 || got[0].Incoming.Building != 2 {
		t.Fatalf("distance-only should serve the nearest demand: %+v", got)
	}
	// The losing pair is still judged and logged.
	eligible := f.log.Query(matchlog.Filter{Statuses: []matchlog.Status{matchlog.Eligible}})
	if len(eligible) != 2 {
		t.Fatalf("want both pairs logged as eligible, got %+v", eligible)
	}
}

func TestEngine_OfferPositionDefaultsToBuilding(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	if d := f.engine.Evaluate(1, offer(2, 1), offer(3, 1)); d.DistanceSq != 200*200 {
		t.Fatalf("distance from building positions: %v", d.DistanceSq)
	}
	near := offer(3, 1)
	near.Position = host.Position{X: 110}
	if d := f.engine.Evaluate(1, offer(2, 1), near); d.DistanceSq != 10*10 {
		t.Fatalf("explicit offer position should win: %v", d.DistanceSq)
	}
}

type countingCatalog struct {
	*host.Memory
	scans int
}

func (c *countingCatalog) VehiclePrefabs() []host.VehiclePrefab {
	c.scans++
	return c.Memory.VehiclePrefabs()
}

func TestEngine_MatchDoesNotScanVehicleCatalog(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	cat := &countingCatalog{Memory: f.host}
	veh := vehicles.NewPolicy(cat)
	veh.Add(1, host.CategoryGoods, "truck")
	e := New(Deps{Host: f.host, Restrictions: f.rs, Vehicles: veh}, DefaultConfig())

	supply := offer(1, 1)
	supply.Active = true
	supply.Amount = 4
	p := pool([]host.Offer{offer(2, 1), offer(3, 1), offer(20, 1), offer(30, 1)}, []host.Offer{supply})
	got := e.Match(1, host.CategoryGoods, p)
	if len(got) != 4 {
		t.Fatalf("want 4 matches, got %+v", got)
	}
	for _, m := range got {
		if len(m.Vehicles) != 1 || m.Vehicles[0] != "truck" {
			t.Fatalf("policy should narrow to truck: %+v", m)
		}
	}
	if cat.scans != 0 {
		t.Fatalf("matching scanned the vehicle catalog %d times", cat.scans)
	}
}

func TestEngine_OutsideBoostIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutsideShipBoost = 10
	f := newFixture(t, cfg)
	p := pool([]host.Offer{offer(1, 7)}, []host.Offer{offer(2, 6), offer(9, 1)})
	got := f.engine.Match(1, host.CategoryGoods, p)
	if len(got) != 1 || got[0].Outgoing.Building != 9 || got[0].Priority != DefaultMaxPriority {
		t.Fatalf("boosted ship connection should win at max priority: %+v", got)
	}
}

func TestEngine_AmountsExcludeAndSelf(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	big := offer(2, 3)
	big.Amount = 3
	ex1 := offer(1, 2)
	ex1.Exclude = true
	ex2 := offer(3, 2)
	ex2.Exclude = true
	self := offer(2, 1)

	p := pool([]host.Offer{big, ex1}, []host.Offer{offer(1, 1), offer(3, 1), ex2, self})
	got := f.engine.Match(1, host.CategoryGoods, p)

	total := 0
	for _, m := range got {
		if m.Incoming.Building == m.Outgoing.Building {
			t.Fatalf("offer matched its own building: %+v", m)
		}
		if m.Incoming.Exclude && m.Outgoing.Exclude {
			t.Fatalf("two excluded offers matched: %+v", m)
		}
		if m.Incoming.Building == 2 {
			total += m.Amount
		}
	}
	if total != 3 {
		t.Fatalf("incoming amount 3 should be fully served, got %d in %+v", total, got)
	}
	if p.Incoming[0].Amount != 3 {
		t.Fatalf("pool must not be modified")
	}
	for _, e := range f.log.Query(matchlog.Filter{}) {
		if e.InBuilding == e.OutBuilding {
			t.Fatalf("self pair should not be logged: %+v", e)
		}
	}
}

func TestEngine_StaleBuildingIsSkipped(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := pool([]host.Offer{offer(1, 1)}, []host.Offer{offer(77, 5), offer(2, 1)})
	got := f.engine.Match(1, host.CategoryGoods, p)
	if len(got) != 1 || got[0].Outgoing.Building != 2 {
		t.Fatalf("stale offer should be ignored: %+v", got)
	}
	for _, e := range f.log.Query(matchlog.Filter{}) {
		if e.OutBuilding == 77 {
			t.Fatalf("stale pair should not be logged")
		}
	}
}

type faultyHost struct {
	*host.Memory
	bad host.BuildingID
}

func (h faultyHost) PrefabOf(id host.BuildingID) (host.Prefab, bool) {
	if id == h.bad {
		panic("corrupt prefab")
	}
	return h.Memory.PrefabOf(id)
}

func TestEngine_PanicIsolatedToPair(t *testing.T) {
	m := host.NewMemory()
	m.AddBuilding(host.Building{ID: 1})
	m.AddBuilding(host.Building{ID: 2})
	m.AddBuilding(host.Building{ID: 3})
	h := faultyHost{Memory: m, bad: 2}

	var seen int
	e := New(Deps{Host: h, Restrictions: restrictions.NewStore(h)}, DefaultConfig())
	e.OnFault = func(in, out host.Offer, _ any) { seen++ }

	p := pool([]host.Offer{offer(1, 1)}, []host.Offer{offer(2, 5), offer(3, 1)})
	got := e.Match(1, host.CategoryGoods, p)
	if len(got) != 1 || got[0].Outgoing.Building != 3 {
		t.Fatalf("healthy pair should still match: %+v", got)
	}
	if e.Faults() != 1 || seen != 1 {
		t.Fatalf("faults=%d seen=%d", e.Faults(), seen)
	}
}

func TestEngine_MatchAllAcrossCategories(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	pools := map[host.Category]*host.OfferPool{}
	host.AddIncoming(pools, host.Offer{Building: 1, Category: host.CategoryMail, Amount: 1})
	host.AddOutgoing(pools, host.Offer{Building: 2, Category: host.CategoryMail, Amount: 1})
	host.AddIncoming(pools, host.Offer{Building: 3, Category: host.CategoryGoods, Amount: 1})
	host.AddOutgoing(pools, host.Offer{Building: 1, Category: host.CategoryGoods, Amount: 1})

	got := f.engine.MatchAll(4, pools)
	if len(got) != 2 || got[0].Category != host.CategoryGoods || got[1].Category != host.CategoryMail {
		t.Fatalf("matchAll: %+v", got)
	}
	if got[0].Tick != 4 || got[0].Dispatcher != 1 {
		t.Fatalf("dispatcher defaults to supplier: %+v", got[0])
	}
}
