// Package warehouse stores warehouse fleet reservations.
package warehouse

import (
	"fmt"
	"sort"
	"strings"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

// ReserveMode is exclusive by construction: a warehouse holds at most one.
type ReserveMode uint8

const (
	ReserveNone ReserveMode = iota
	ReserveForCity
	ReserveForUniqueFactories
	ReserveForOutsideConnections
)

var modeNames = [...]string{"none", "city", "unique_factories", "outside_connections"}

func (m ReserveMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("reserve(%d)", uint8(m))
}

func (m ReserveMode) Valid() bool { return m <= ReserveForOutsideConnections }

func ParseReserveMode(s string) (ReserveMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range modeNames {
		if s == n {
			return ReserveMode(i), nil
		}
	}
	if s == "" {
		return ReserveNone, nil
	}
	return ReserveNone, fmt.Errorf("unknown reserve mode %q", s)
}

// Class is the counterpart kind a reservation is checked against.
type Class uint8

const (
	ClassCity Class = iota
	ClassUniqueFactory
	ClassOutside
)

func (c Class) String() string {
	switch c {
	case ClassUniqueFactory:
		return "unique_factory"
	case ClassOutside:
		return "outside"
	default:
		return "city"
	}
}

// ClassOf classifies a counterpart building.
func ClassOf(p host.Prefab, outside bool) Class {
	switch {
	case outside || p.Kind == host.KindOutsideConnection:
		return ClassOutside
	case p.Kind == host.KindUniqueFactory:
		return ClassUniqueFactory
	default:
		return ClassCity
	}
}

type Buildings interface {
	BuildingExists(id host.BuildingID) bool
	PrefabOf(id host.BuildingID) (host.Prefab, bool)
}

type record struct {
	mode  ReserveMode
	count int
}

type Entry struct {
	Building host.BuildingID
	Mode     ReserveMode
	Count    int
}

// Policy is not safe for concurrent use.
type Policy struct {
	buildings Buildings
	records   map[host.BuildingID]record
}

func NewPolicy(buildings Buildings) *Policy {
	return &Policy{buildings: buildings, records: map[host.BuildingID]record{}}
}

func (p *Policy) Reset() { p.records = map[host.BuildingID]record{} }

func (p *Policy) Len() int { return len(p.records) }

// SetReserve replaces whatever mode the warehouse had.
func (p *Policy) SetReserve(b host.BuildingID, mode ReserveMode) {
	if !mode.Valid() {
		return
	}
	r := p.records[b]
	r.mode = mode
	p.store(b, r)
}

func (p *Policy) ClearReserve(b host.BuildingID) { p.SetReserve(b, ReserveNone) }

func (p *Policy) Reserve(b host.BuildingID) ReserveMode { return p.records[b].mode }

// CapacityFor is the warehouse's fleet size as declared by its prefab.
func (p *Policy) CapacityFor(b host.BuildingID) int {
	if p.buildings == nil {
		return 0
	}
	pf, ok := p.buildings.PrefabOf(b)
	if !ok || pf.VehicleCapacity < 0 {
		return 0
	}
	return pf.VehicleCapacity
}

// SetReservedVehicleCount clamps n to [0, CapacityFor(b)]. Zero reserves the
// whole fleet.
func (p *Policy) SetReservedVehicleCount(b host.BuildingID, n int) {
	if n < 0 {
		n = 0
	}
	if c := p.CapacityFor(b); n > c {
		n = c
	}
	r := p.records[b]
	r.count = n
	p.store(b, r)
}

func (p *Policy) ReservedVehicleCount(b host.BuildingID) int { return p.records[b].count }

// Admits reports whether the warehouse may serve a counterpart of class c
// given its current number of free vehicles. A reservation only bites once
// free vehicles drop to the reserved count.
func (p *Policy) Admits(b host.BuildingID, c Class, free int) bool {
	r, ok := p.records[b]
	if !ok || r.mode == ReserveNone {
		return true
	}
	reserve := r.count
	if reserve == 0 {
		reserve = p.CapacityFor(b)
	}
	if free > reserve {
		return true
	}
	return r.mode.admits(c)
}

// Serves reports whether c is the class the warehouse reserves for.
func (p *Policy) Serves(b host.BuildingID, c Class) bool {
	r, ok := p.records[b]
	return ok && r.mode != ReserveNone && r.mode.admits(c)
}

func (m ReserveMode) admits(c Class) bool {
	switch m {
	case ReserveForCity:
		return c != ClassOutside
	case ReserveForUniqueFactories:
		return c == ClassUniqueFactory
	case ReserveForOutsideConnections:
		return c == ClassOutside
	default:
		return true
	}
}

func (p *Policy) ClearBuilding(b host.BuildingID) { delete(p.records, b) }

// Export drops demolished warehouses and returns records ordered by building.
func (p *Policy) Export() []Entry {
	var stale []host.BuildingID
	out := make([]Entry, 0, len(p.records))
	for b, r := range p.records {
		if p.buildings != nil && !p.buildings.BuildingExists(b) {
			stale = append(stale, b)
			continue
		}
		out = append(out, Entry{Building: b, Mode: r.mode, Count: r.count})
	}
	for _, b := range stale {
		delete(p.records, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Building < out[j].Building })
	return out
}

// Import stores entries without clamping; the count is re-clamped on the next
// write.
func (p *Policy) Import(entries []Entry) {
	for _, e := range entries {
		if !e.Mode.Valid() {
			e.Mode = ReserveNone
		}
		if e.Count < 0 {
			e.Count = 0
		}
		p.store(e.Building, record{mode: e.Mode, count: e.Count})
	}
}

func (p *Policy) store(b host.BuildingID, r record) {
	if r.mode == ReserveNone && r.count == 0 {
		delete(p.records, b)
		return
	}
	p.records[b] = r
}
