// Package restrictions holds the per-building, per-category restriction
// records consulted by the matching engine.
package restrictions

import (
	"math"
	"sort"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

// Entities is the existence oracle used for lazy validation.
type Entities interface {
	BuildingExists(id host.BuildingID) bool
	AreaExists(id host.AreaID) bool
}

// Store is not safe for concurrent use.
type Store struct {
	entities Entities

	records    map[Key]*record
	slots      map[slot]Key
	byBuilding map[host.BuildingID][]uint16
}

func NewStore(entities Entities) *Store {
	s := &Store{entities: entities}
	s.Reset()
	return s
}

func (s *Store) Reset() {
	s.records = map[Key]*record{}
	s.slots = map[slot]Key{}
	s.byBuilding = map[host.BuildingID][]uint16{}
}

func (s *Store) Len() int { return len(s.records) }

// Ensure returns the key of the building's record for category and
// direction, creating an empty record on first use.
func (s *Store) Ensure(b host.BuildingID, category host.Category, dir Direction) Key {
	sl := slot{building: b, category: category, direction: dir}
	if k, ok := s.slots[sl]; ok {
		return k
	}
	k := Key{Building: b, Record: s.nextRecord(b)}
	s.insert(k, newRecord(category, dir))
	return k
}

func (s *Store) Lookup(b host.BuildingID, category host.Category, dir Direction) (Key, bool) {
	k, ok := s.slots[slot{building: b, category: category, direction: dir}]
	return k, ok
}

// Rule resolves the direction-correct record without validating it.
func (s *Store) Rule(b host.BuildingID, category host.Category, dir Direction) (Rule, bool) {
	k, ok := s.Lookup(b, category, dir)
	if !ok {
		return Rule{}, false
	}
	r := s.records[k]
	return Rule{
		Key:                      k,
		Category:                 r.category,
		Direction:                r.direction,
		Enabled:                  r.enabled,
		SameDistrictOnly:         r.sameDistrictOnly,
		OutsideConnectionAllowed: r.outsideAllowed,
		r:                        r,
	}, true
}

// Keys lists the building's records. Records of a demolished building are
// dropped here.
func (s *Store) Keys(b host.BuildingID) []Key {
	if !s.buildingLive(b) {
		s.ClearBuilding(b)
		return nil
	}
	nums := s.byBuilding[b]
	out := make([]Key, 0, len(nums))
	for _, n := range nums {
		out = append(out, Key{Building: b, Record: n})
	}
	return out
}

// Category reports the category and direction the record was created for.
func (s *Store) Category(k Key) (host.Category, Direction, bool) {
	r, ok := s.records[k]
	if !ok {
		return host.CategoryNone, Incoming, false
	}
	return r.category, r.direction, true
}

func (s *Store) Enabled(k Key) bool {
	r, ok := s.records[k]
	return ok && r.enabled
}

func (s *Store) SetEnabled(k Key, v bool) {
	if r, ok := s.records[k]; ok {
		r.enabled = v
	}
}

func (s *Store) SameDistrictOnly(k Key) bool {
	r, ok := s.records[k]
	return ok && r.sameDistrictOnly
}

func (s *Store) SetSameDistrictOnly(k Key, v bool) {
	if r, ok := s.records[k]; ok {
		r.sameDistrictOnly = v
	}
}

// OutsideConnectionAllowed defaults to true when no record exists.
func (s *Store) OutsideConnectionAllowed(k Key) bool {
	r, ok := s.records[k]
	return !ok || r.outsideAllowed
}

func (s *Store) SetOutsideConnectionAllowed(k Key, v bool) {
	if r, ok := s.records[k]; ok {
		r.outsideAllowed = v
	}
}

func (s *Store) AddDistrict(k Key, a host.AreaID) {
	r, ok := s.records[k]
	if !ok || a == host.NoArea {
		return
	}
	r.districts[a] = struct{}{}
}

func (s *Store) RemoveDistrict(k Key, a host.AreaID) {
	if r, ok := s.records[k]; ok {
		delete(r.districts, a)
	}
}

func (s *Store) AddBuilding(k Key, b host.BuildingID) {
	r, ok := s.records[k]
	if !ok || b == 0 {
		return
	}
	r.buildings[b] = struct{}{}
}

func (s *Store) RemoveBuilding(k Key, b host.BuildingID) {
	if r, ok := s.records[k]; ok {
		delete(r.buildings, b)
	}
}

// DistrictsFor returns the validated allow-list; ok is false when the
// record does not exist.
func (s *Store) DistrictsFor(k Key) ([]host.AreaID, bool) {
	r, ok := s.records[k]
	if !ok {
		return nil, false
	}
	s.pruneAreas(r)
	return sortedAreas(r.districts), true
}

func (s *Store) BuildingsFor(k Key) ([]host.BuildingID, bool) {
	r, ok := s.records[k]
	if !ok {
		return nil, false
	}
	s.pruneBuildings(r)
	return sortedBuildings(r.buildings), true
}

func (s *Store) Clear(k Key) {
	r, ok := s.records[k]
	if !ok {
		return
	}
	delete(s.records, k)
	delete(s.slots, slot{building: k.Building, category: r.category, direction: r.direction})
	nums := s.byBuilding[k.Building]
	for i, n := range nums {
		if n == k.Record {
			nums = append(nums[:i], nums[i+1:]...)
			break
		}
	}
	if len(nums) == 0 {
		delete(s.byBuilding, k.Building)
	} else {
		s.byBuilding[k.Building] = nums
	}
}

func (s *Store) ClearBuilding(b host.BuildingID) {
	nums := append([]uint16(nil), s.byBuilding[b]...)
	for _, n := range nums {
		s.Clear(Key{Building: b, Record: n})
	}
}

// Export validates every record and returns the non-empty ones ordered by
// key.
func (s *Store) Export() []Entry {
	var stale []host.BuildingID
	for b := range s.byBuilding {
		if !s.buildingLive(b) {
			stale = append(stale, b)
		}
	}
	for _, b := range stale {
		s.ClearBuilding(b)
	}

	keys := make([]Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Building != keys[j].Building {
			return keys[i].Building < keys[j].Building
		}
		return keys[i].Record < keys[j].Record
	})

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		r := s.records[k]
		s.pruneAreas(r)
		s.pruneBuildings(r)
		if r.empty() {
			continue
		}
		out = append(out, Entry{
			Key:                      k,
			Category:                 r.category,
			Direction:                r.direction,
			Enabled:                  r.enabled,
			SameDistrictOnly:         r.sameDistrictOnly,
			OutsideConnectionAllowed: r.outsideAllowed,
			Districts:                sortedAreas(r.districts),
			Buildings:                sortedBuildings(r.buildings),
		})
	}
	return out
}

// Import adds entries as loaded from a save. A later entry for the same key
// or the same (building, category, direction) slot replaces the earlier one.
func (s *Store) Import(entries []Entry) {
	for _, e := range entries {
		if _, ok := s.records[e.Key]; ok {
			s.Clear(e.Key)
		}
		if k, ok := s.slots[slot{building: e.Key.Building, category: e.Category, direction: e.Direction}]; ok {
			s.Clear(k)
		}
		r := newRecord(e.Category, e.Direction)
		r.enabled = e.Enabled
		r.sameDistrictOnly = e.SameDistrictOnly
		r.outsideAllowed = e.OutsideConnectionAllowed
		for _, a := range e.Districts {
			if a != host.NoArea {
				r.districts[a] = struct{}{}
			}
		}
		for _, b := range e.Buildings {
			if b != 0 {
				r.buildings[b] = struct{}{}
			}
		}
		s.insert(e.Key, r)
	}
}

func (s *Store) insert(k Key, r *record) {
	s.records[k] = r
	s.slots[slot{building: k.Building, category: r.category, direction: r.direction}] = k
	nums := append(s.byBuilding[k.Building], k.Record)
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	s.byBuilding[k.Building] = nums
}

// nextRecord is one past the highest record number in use. Once that
// reaches the top of the range it falls back to the lowest free number; a
// building holds at most one record per slot, so one always exists.
func (s *Store) nextRecord(b host.BuildingID) uint16 {
	nums := s.byBuilding[b]
	if len(nums) == 0 {
		return 0
	}
	if top := nums[len(nums)-1]; top < math.MaxUint16 {
		return top + 1
	}
	var next uint16
	for _, n := range nums {
		if n != next {
			break
		}
		next++
	}
	return next
}

func (s *Store) buildingLive(b host.BuildingID) bool {
	return s.entities == nil || s.entities.BuildingExists(b)
}

func (s *Store) pruneAreas(r *record) {
	if s.entities == nil {
		return
	}
	var stale []host.AreaID
	for a := range r.districts {
		if !s.entities.AreaExists(a) {
			stale = append(stale, a)
		}
	}
	for _, a := range stale {
		delete(r.districts, a)
	}
}

func (s *Store) pruneBuildings(r *record) {
	if s.entities == nil {
		return
	}
	var stale []host.BuildingID
	for b := range r.buildings {
		if !s.entities.BuildingExists(b) {
			stale = append(stale, b)
		}
	}
	for _, b := range stale {
		delete(r.buildings, b)
	}
}
