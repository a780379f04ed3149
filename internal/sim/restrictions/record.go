package restrictions

import (
	"sort"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

type Direction uint8

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Key identifies one restriction record: a building plus a record number
// that is unique per building.
type Key struct {
	Building host.BuildingID
	Record   uint16
}

type slot struct {
	building  host.BuildingID
	category  host.Category
	direction Direction
}

type record struct {
	category  host.Category
	direction Direction

	enabled          bool
	sameDistrictOnly bool
	outsideAllowed   bool

	districts map[host.AreaID]struct{}
	buildings map[host.BuildingID]struct{}
}

func newRecord(category host.Category, direction Direction) *record {
	return &record{
		category:       category,
		direction:      direction,
		outsideAllowed: true,
		districts:      map[host.AreaID]struct{}{},
		buildings:      map[host.BuildingID]struct{}{},
	}
}

// empty reports whether the record carries no effective configuration.
func (r *record) empty() bool {
	return !r.enabled && r.outsideAllowed && len(r.districts) == 0 && len(r.buildings) == 0
}

// Rule is a read-only view of a record for the matching engine. It never
// prunes, so it is safe to hold across an evaluation pass.
type Rule struct {
	Key                      Key
	Category                 host.Category
	Direction                Direction
	Enabled                  bool
	SameDistrictOnly         bool
	OutsideConnectionAllowed bool

	r *record
}

func (r Rule) AllowsArea(a host.AreaID) bool {
	if a == host.NoArea || r.r == nil {
		return false
	}
	_, ok := r.r.districts[a]
	return ok
}

func (r Rule) AllowsBuilding(b host.BuildingID) bool {
	if r.r == nil {
		return false
	}
	_, ok := r.r.buildings[b]
	return ok
}

// Entry is the exported form of a record, used by the save codec.
type Entry struct {
	Key                      Key
	Category                 host.Category
	Direction                Direction
	Enabled                  bool
	SameDistrictOnly         bool
	OutsideConnectionAllowed bool
	Districts                []host.AreaID
	Buildings                []host.BuildingID
}

func sortedAreas(m map[host.AreaID]struct{}) []host.AreaID {
	out := make([]host.AreaID, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedBuildings(m map[host.BuildingID]struct{}) []host.BuildingID {
	out := make([]host.BuildingID, 0, len(m))
	for b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
