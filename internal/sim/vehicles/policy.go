// Package vehicles keeps per-building vehicle allow-lists. A list only ever
// narrows what the host already considers eligible.
package vehicles

import (
	"sort"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

// Catalog is the part of the host used to validate stored prefab names.
type Catalog interface {
	VehiclePrefabs() []host.VehiclePrefab
}

// Eligibility answers which vehicles the host would use on its own.
type Eligibility interface {
	EligibleVehicles(building host.BuildingID, category host.Category) []host.VehiclePrefabID
}

type key struct {
	building host.BuildingID
	category host.Category
}

type Entry struct {
	Building host.BuildingID
	Category host.Category
	Vehicles []host.VehiclePrefabID
}

// Policy is not safe for concurrent use.
type Policy struct {
	catalog Catalog
	lists   map[key][]host.VehiclePrefabID
}

func NewPolicy(catalog Catalog) *Policy {
	return &Policy{catalog: catalog, lists: map[key][]host.VehiclePrefabID{}}
}

func (p *Policy) Reset() { p.lists = map[key][]host.VehiclePrefabID{} }

func (p *Policy) Len() int { return len(p.lists) }

// Allowed returns the allow-list in insertion order. Prefabs that are no
// longer loaded are dropped first; ok is false when no list is stored.
func (p *Policy) Allowed(b host.BuildingID, c host.Category) ([]host.VehiclePrefabID, bool) {
	k := key{b, c}
	list, ok := p.lists[k]
	if !ok {
		return nil, false
	}
	list = p.prune(list)
	if len(list) == 0 {
		delete(p.lists, k)
		return nil, false
	}
	p.lists[k] = list
	out := make([]host.VehiclePrefabID, len(list))
	copy(out, list)
	return out, true
}

func (p *Policy) Add(b host.BuildingID, c host.Category, id host.VehiclePrefabID) {
	if id == "" {
		return
	}
	k := key{b, c}
	for _, v := range p.lists[k] {
		if v == id {
			return
		}
	}
	p.lists[k] = append(p.lists[k], id)
}

func (p *Policy) Remove(b host.BuildingID, c host.Category, id host.VehiclePrefabID) {
	k := key{b, c}
	list := p.lists[k]
	for i, v := range list {
		if v == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.lists, k)
		return
	}
	p.lists[k] = list
}

func (p *Policy) Clear(b host.BuildingID, c host.Category) { delete(p.lists, key{b, c}) }

func (p *Policy) ClearBuilding(b host.BuildingID) {
	var drop []key
	for k := range p.lists {
		if k.building == b {
			drop = append(drop, k)
		}
	}
	for _, k := range drop {
		delete(p.lists, k)
	}
}

// Lookup returns the stored list as is, without consulting the catalog or
// pruning. The slice is shared and must not be modified.
func (p *Policy) Lookup(b host.BuildingID, c host.Category) ([]host.VehiclePrefabID, bool) {
	list, ok := p.lists[key{b, c}]
	return list, ok && len(list) > 0
}

// Select narrows the host-eligible vehicles by the stored list. With no list
// it returns (nil, true) and the host picks as usual; a list that shares
// nothing with the eligible set returns (nil, false). Select never prunes:
// the catalog is read only when the intersection is empty, to tell a list of
// unloaded prefabs (treated as no list) from one that excludes every
// eligible vehicle.
func (p *Policy) Select(h Eligibility, b host.BuildingID, c host.Category) ([]host.VehiclePrefabID, bool) {
	allowed, ok := p.Lookup(b, c)
	if !ok {
		return nil, true
	}
	var eligible []host.VehiclePrefabID
	if h != nil {
		eligible = h.EligibleVehicles(b, c)
	}
	var out []host.VehiclePrefabID
	for _, id := range allowed {
		for _, e := range eligible {
			if e == id {
				out = append(out, id)
				break
			}
		}
	}
	if len(out) > 0 {
		return out, true
	}
	if len(p.prune(allowed)) == 0 {
		return nil, true
	}
	return nil, false
}

// Export returns every stored list ordered by building then category.
func (p *Policy) Export() []Entry {
	keys := make([]key, 0, len(p.lists))
	for k := range p.lists {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].building != keys[j].building {
			return keys[i].building < keys[j].building
		}
		return keys[i].category < keys[j].category
	})
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		list := append([]host.VehiclePrefabID(nil), p.lists[k]...)
		out = append(out, Entry{Building: k.building, Category: k.category, Vehicles: list})
	}
	return out
}

// Import stores entries verbatim. Validation against the catalog happens on
// the next read, since the catalog may still be loading.
func (p *Policy) Import(entries []Entry) {
	for _, e := range entries {
		for _, id := range e.Vehicles {
			p.Add(e.Building, e.Category, id)
		}
	}
}

func (p *Policy) prune(list []host.VehiclePrefabID) []host.VehiclePrefabID {
	if p.catalog == nil {
		return list
	}
	loaded := map[host.VehiclePrefabID]bool{}
	for _, v := range p.catalog.VehiclePrefabs() {
		loaded[v.ID] = true
	}
	out := list[:0:0]
	for _, id := range list {
		if loaded[id] {
			out = append(out, id)
		}
	}
	return out
}
