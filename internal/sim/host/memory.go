package host

import "sort"

// Building is the record the in-memory host keeps per building.
type Building struct {
	ID       BuildingID
	District AreaID
	Park     AreaID
	Position Position
	Prefab   Prefab
}

// Generator emits one offer every EveryTicks ticks.
type Generator struct {
	Offer      Offer
	Incoming   bool
	EveryTicks uint64
}

type PathResult struct {
	Vehicle   VehicleID
	Succeeded bool
}

type route struct {
	source, target BuildingID
	dispatcher     BuildingID
	category       Category
}

// Memory is a self-contained host used by tests and the sandbox server.
// It is not safe for concurrent use; the controller loop owns it.
type Memory struct {
	buildings map[BuildingID]*Building
	active    map[BuildingID]int
	areas     map[AreaID]bool
	prefabs   []VehiclePrefab

	routes      map[VehicleID]route
	nextVehicle VehicleID
	broken      map[[2]BuildingID]bool
	pending     []PathResult

	generators []Generator
	probeErr   error
}

func NewMemory() *Memory {
	return &Memory{
		buildings: map[BuildingID]*Building{},
		active:    map[BuildingID]int{},
		areas:     map[AreaID]bool{},
		routes:    map[VehicleID]route{},
		broken:    map[[2]BuildingID]bool{},
	}
}

// FailProbe makes Probe report err, as a host whose hooks did not install.
func (m *Memory) FailProbe(err error) { m.probeErr = err }

func (m *Memory) Probe() error { return m.probeErr }

func (m *Memory) AddBuilding(b Building) {
	cp := b
	m.buildings[b.ID] = &cp
	if b.District != NoArea {
		m.areas[b.District] = true
	}
	if b.Park != NoArea {
		m.areas[b.Park] = true
	}
}

func (m *Memory) RemoveBuilding(id BuildingID) {
	delete(m.buildings, id)
	delete(m.active, id)
}

func (m *Memory) AddArea(id AreaID) {
	if id != NoArea {
		m.areas[id] = true
	}
}

func (m *Memory) RemoveArea(id AreaID) { delete(m.areas, id) }

func (m *Memory) AddVehiclePrefab(p VehiclePrefab) {
	for i := range m.prefabs {
		if m.prefabs[i].ID == p.ID {
			m.prefabs[i] = p
			return
		}
	}
	m.prefabs = append(m.prefabs, p)
}

func (m *Memory) RemoveVehiclePrefab(id VehiclePrefabID) {
	out := m.prefabs[:0]
	for _, p := range m.prefabs {
		if p.ID != id {
			out = append(out, p)
		}
	}
	m.prefabs = out
}

func (m *Memory) SetActiveVehicles(id BuildingID, n int) {
	if n < 0 {
		n = 0
	}
	m.active[id] = n
}

func (m *Memory) AddGenerator(g Generator) {
	if g.EveryTicks == 0 {
		g.EveryTicks = 1
	}
	m.generators = append(m.generators, g)
}

// BreakRoute makes every dispatch from source to target fail pathfinding.
func (m *Memory) BreakRoute(source, target BuildingID) {
	m.broken[[2]BuildingID{source, target}] = true
}

func (m *Memory) RepairRoute(source, target BuildingID) {
	delete(m.broken, [2]BuildingID{source, target})
}

func (m *Memory) BuildingExists(id BuildingID) bool {
	_, ok := m.buildings[id]
	return ok
}

func (m *Memory) AreasOf(id BuildingID) (AreaID, AreaID, bool) {
	b, ok := m.buildings[id]
	if !ok {
		return NoArea, NoArea, false
	}
	return b.District, b.Park, true
}

func (m *Memory) PrefabOf(id BuildingID) (Prefab, bool) {
	b, ok := m.buildings[id]
	if !ok {
		return Prefab{}, false
	}
	return b.Prefab, true
}

func (m *Memory) PositionOf(id BuildingID) (Position, bool) {
	b, ok := m.buildings[id]
	if !ok {
		return Position{}, false
	}
	return b.Position, true
}

func (m *Memory) ActiveVehicles(id BuildingID) int { return m.active[id] }

func (m *Memory) AreaExists(id AreaID) bool { return m.areas[id] }

func (m *Memory) VehiclePrefabs() []VehiclePrefab {
	out := make([]VehiclePrefab, len(m.prefabs))
	copy(out, m.prefabs)
	return out
}

func (m *Memory) EligibleVehicles(building BuildingID, _ Category) []VehiclePrefabID {
	b, ok := m.buildings[building]
	if !ok {
		return nil
	}
	var out []VehiclePrefabID
	for _, p := range m.prefabs {
		if p.Service != b.Prefab.Service {
			continue
		}
		if p.SubService != "" && p.SubService != b.Prefab.SubService {
			continue
		}
		if p.Level > 0 && b.Prefab.Level > 0 && p.Level > b.Prefab.Level {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

func (m *Memory) VehicleRoute(id VehicleID) (BuildingID, BuildingID, Category, bool) {
	r, ok := m.routes[id]
	if !ok {
		return 0, 0, CategoryNone, false
	}
	return r.source, r.target, r.category, true
}

// Dispatch sends a vehicle from dispatcher along source→target. The
// pathfinding outcome becomes available from DrainPathResults.
func (m *Memory) Dispatch(source, target, dispatcher BuildingID, category Category) VehicleID {
	m.nextVehicle++
	id := m.nextVehicle
	m.routes[id] = route{source: source, target: target, dispatcher: dispatcher, category: category}
	m.active[dispatcher]++
	m.pending = append(m.pending, PathResult{Vehicle: id, Succeeded: !m.broken[[2]BuildingID{source, target}]})
	return id
}

// CompleteTrip returns the vehicle to its depot.
func (m *Memory) CompleteTrip(id VehicleID) {
	r, ok := m.routes[id]
	if !ok {
		return
	}
	delete(m.routes, id)
	if m.active[r.dispatcher] > 0 {
		m.active[r.dispatcher]--
	}
}

func (m *Memory) DrainPathResults() []PathResult {
	out := m.pending
	m.pending = nil
	return out
}

// OffersAt builds the offer pools generated for tick. Generators whose
// building has been removed are skipped.
func (m *Memory) OffersAt(tick uint64) map[Category]*OfferPool {
	pools := map[Category]*OfferPool{}
	for _, g := range m.generators {
		if tick%g.EveryTicks != 0 {
			continue
		}
		b, ok := m.buildings[g.Offer.Building]
		if !ok {
			continue
		}
		o := g.Offer
		o.Position = b.Position
		if b.Prefab.Kind == KindOutsideConnection {
			o.Outside = true
		}
		if o.Amount <= 0 {
			o.Amount = 1
		}
		if g.Incoming {
			AddIncoming(pools, o)
		} else {
			AddOutgoing(pools, o)
		}
	}
	return pools
}

// BuildingIDs returns the live building ids in ascending order.
func (m *Memory) BuildingIDs() []BuildingID {
	out := make([]BuildingID, 0, len(m.buildings))
	for id := range m.buildings {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
