package restrictions

import (
	"reflect"
	"testing"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

func newHost() *host.Memory {
	m := host.NewMemory()
	m.AddBuilding(host.Building{ID: 1, District: host.District(1)})
	m.AddBuilding(host.Building{ID: 2, District: host.District(2)})
	m.AddBuilding(host.Building{ID: 3, District: host.District(2)})
	m.AddArea(host.Park(4))
	return m
}

func TestStore_EnsureAllocatesPerBuildingRecords(t *testing.T) {
	s := NewStore(newHost())
	a := s.Ensure(1, host.CategoryGoods, Incoming)
	b := s.Ensure(1, host.CategoryGoods, Outgoing)
	c := s.Ensure(2, host.CategoryGoods, Incoming)
	if a.Record != 0 || b.Record != 1 || c.Record != 0 {
		t.Fatalf("unexpected record numbers: %v %v %v", a, b, c)
	}
	if again := s.Ensure(1, host.CategoryGoods, Incoming); again != a {
		t.Fatalf("ensure should return the existing key, got %v want %v", again, a)
	}
	if k, ok := s.Lookup(1, host.CategoryGoods, Outgoing); !ok || k != b {
		t.Fatalf("lookup: %v %v", k, ok)
	}
	if _, ok := s.Lookup(1, host.CategoryOil, Outgoing); ok {
		t.Fatalf("lookup of unknown slot should fail")
	}
	if s.Len() != 3 {
		t.Fatalf("len=%d want 3", s.Len())
	}
	if got := s.Keys(1); !reflect.DeepEqual(got, []Key{a, b}) {
		t.Fatalf("keys=%v", got)
	}
}

func TestStore_ToggleEnabledPreservesSets(t *testing.T) {
	s := NewStore(newHost())
	k := s.Ensure(1, host.CategoryGoods, Incoming)
	s.AddDistrict(k, host.District(2))
	s.AddDistrict(k, host.Park(4))
	s.AddBuilding(k, 3)
	s.SetEnabled(k, true)

	beforeD, _ := s.DistrictsFor(k)
	beforeB, _ := s.BuildingsFor(k)

	s.SetEnabled(k, false)
	s.SetEnabled(k, true)

	afterD, _ := s.DistrictsFor(k)
	afterB, _ := s.BuildingsFor(k)
	if !reflect.DeepEqual(beforeD, afterD) || !reflect.DeepEqual(beforeB, afterB) {
		t.Fatalf("toggle changed sets: %v/%v -> %v/%v", beforeD, beforeB, afterD, afterB)
	}
	if !s.Enabled(k) {
		t.Fatalf("expected enabled")
	}
}

func TestStore_AddRemoveRoundTrip(t *testing.T) {
	s := NewStore(newHost())
	k := s.Ensure(1, host.CategoryGoods, Outgoing)
	s.AddDistrict(k, host.District(1))
	before, _ := s.DistrictsFor(k)

	s.AddDistrict(k, host.District(2))
	s.AddDistrict(k, host.District(2))
	s.RemoveDistrict(k, host.District(2))
	after, _ := s.DistrictsFor(k)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("round trip changed districts: %v -> %v", before, after)
	}

	s.AddBuilding(k, 2)
	s.RemoveBuilding(k, 2)
	s.RemoveBuilding(k, 2)
	if got, ok := s.BuildingsFor(k); !ok || len(got) != 0 {
		t.Fatalf("buildings=%v ok=%v", got, ok)
	}
}

func TestStore_AccessorsDistinguishMissingFromEmpty(t *testing.T) {
	s := NewStore(newHost())
	missing := Key{Building: 1, Record: 9}
	if _, ok := s.DistrictsFor(missing); ok {
		t.Fatalf("missing record should report ok=false")
	}
	if _, ok := s.BuildingsFor(missing); ok {
		t.Fatalf("missing record should report ok=false")
	}
	if s.Enabled(missing) || s.SameDistrictOnly(missing) || !s.OutsideConnectionAllowed(missing) {
		t.Fatalf("missing record should read as open policy")
	}
	s.SetEnabled(missing, true)
	if s.Len() != 0 {
		t.Fatalf("setter on missing key must not create a record")
	}

	k := s.Ensure(1, host.CategoryGoods, Incoming)
	if got, ok := s.DistrictsFor(k); !ok || len(got) != 0 {
		t.Fatalf("empty record: %v %v", got, ok)
	}
}

func TestStore_LazyPruningOfStaleIDs(t *testing.T) {
	h := newHost()
	s := NewStore(h)
	k := s.Ensure(1, host.CategoryGoods, Incoming)
	s.AddDistrict(k, host.District(2))
	s.AddDistrict(k, host.Park(4))
	s.AddBuilding(k, 2)
	s.AddBuilding(k, 3)

	h.RemoveArea(host.Park(4))
	h.RemoveBuilding(3)

	d, _ := s.DistrictsFor(k)
	if !reflect.DeepEqual(d, []host.AreaID{host.District(2)}) {
		t.Fatalf("districts=%v", d)
	}
	b, _ := s.BuildingsFor(k)
	if !reflect.DeepEqual(b, []host.BuildingID{2}) {
		t.Fatalf("buildings=%v", b)
	}

	h.RemoveBuilding(1)
	if keys := s.Keys(1); keys != nil {
		t.Fatalf("demolished building should have no keys, got %v", keys)
	}
	if s.Len() != 0 {
		t.Fatalf("records of demolished building should be dropped")
	}
}

func TestStore_RuleView(t *testing.T) {
	s := NewStore(newHost())
	if _, ok := s.Rule(1, host.CategoryGoods, Incoming); ok {
		t.Fatalf("no record means no rule")
	}
	k := s.Ensure(1, host.CategoryGoods, Incoming)
	s.SetEnabled(k, true)
	s.SetSameDistrictOnly(k, true)
	s.SetOutsideConnectionAllowed(k, false)
	s.AddDistrict(k, host.District(2))
	s.AddBuilding(k, 3)

	r, ok := s.Rule(1, host.CategoryGoods, Incoming)
	if !ok || !r.Enabled || !r.SameDistrictOnly || r.OutsideConnectionAllowed {
		t.Fatalf("rule=%+v ok=%v", r, ok)
	}
	if !r.AllowsArea(host.District(2)) || r.AllowsArea(host.District(1)) || r.AllowsArea(host.NoArea) {
		t.Fatalf("area allow-list mismatch")
	}
	if !r.AllowsBuilding(3) || r.AllowsBuilding(2) {
		t.Fatalf("building allow-list mismatch")
	}
	if _, ok := s.Rule(1, host.CategoryGoods, Outgoing); ok {
		t.Fatalf("outgoing rule must not resolve to the incoming record")
	}
}

func TestStore_ClearAndClearBuilding(t *testing.T) {
	s := NewStore(newHost())
	a := s.Ensure(1, host.CategoryGoods, Incoming)
	s.Ensure(1, host.CategoryOil, Incoming)
	s.Ensure(2, host.CategoryGoods, Incoming)

	s.Clear(a)
	if _, ok := s.Lookup(1, host.CategoryGoods, Incoming); ok {
		t.Fatalf("cleared slot should be gone")
	}
	if n := s.Ensure(1, host.CategoryGoods, Incoming); n.Record != 2 {
		t.Fatalf("new record should not reuse a live number, got %v", n)
	}
	s.ClearBuilding(1)
	if len(s.Keys(1)) != 0 || s.Len() != 1 {
		t.Fatalf("clear building left records: len=%d", s.Len())
	}
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("reset left records")
	}
}

func TestStore_ExportCompactsAndImportRestores(t *testing.T) {
	s := NewStore(newHost())
	s.Ensure(1, host.CategoryOil, Incoming)
	k := s.Ensure(1, host.CategoryGoods, Outgoing)
	s.SetEnabled(k, true)
	s.SetSameDistrictOnly(k, true)
	s.AddBuilding(k, 2)
	k2 := s.Ensure(2, host.CategoryMail, Incoming)
	s.SetOutsideConnectionAllowed(k2, false)

	entries := s.Export()
	if len(entries) != 2 {
		t.Fatalf("export should drop the empty record, got %d entries", len(entries))
	}
	if entries[0].Key != k || entries[1].Key != k2 {
		t.Fatalf("export order: %+v", entries)
	}

	restored := NewStore(newHost())
	restored.Import(entries)
	if !reflect.DeepEqual(restored.Export(), entries) {
		t.Fatalf("import/export mismatch")
	}
	if got, ok := restored.Lookup(1, host.CategoryGoods, Outgoing); !ok || got != k {
		t.Fatalf("slot index not rebuilt: %v %v", got, ok)
	}
	if n := restored.Ensure(1, host.CategoryFood, Incoming); n.Record != k.Record+1 {
		t.Fatalf("allocation after import: %v", n)
	}
}

func TestStore_ImportLaterSlotWins(t *testing.T) {
	s := NewStore(nil)
	s.Import([]Entry{
		{Key: Key{Building: 5, Record: 0}, Category: host.CategoryGoods, Direction: Incoming, Enabled: true, OutsideConnectionAllowed: true},
		{Key: Key{Building: 5, Record: 3}, Category: host.CategoryGoods, Direction: Incoming, SameDistrictOnly: true, OutsideConnectionAllowed: true},
	})
	if s.Len() != 1 {
		t.Fatalf("duplicate slot should collapse, len=%d", s.Len())
	}
	k, ok := s.Lookup(5, host.CategoryGoods, Incoming)
	if !ok || k.Record != 3 || !s.SameDistrictOnly(k) {
		t.Fatalf("later entry should win: %v %v", k, ok)
	}
}

func TestStore_EnsureAfterHighestRecordNumber(t *testing.T) {
	s := NewStore(nil)
	s.Import([]Entry{
		{Key: Key{Building: 5, Record: 0}, Category: host.CategoryGoods, Direction: Incoming, Enabled: true, OutsideConnectionAllowed: true},
		{Key: Key{Building: 5, Record: 65535}, Category: host.CategoryGoods, Direction: Outgoing, Enabled: true, OutsideConnectionAllowed: true},
	})
	k := s.Ensure(5, host.CategoryOil, Incoming)
	if k.Record != 1 {
		t.Fatalf("want lowest free record 1, got %d", k.Record)
	}
	if s.Len() != 3 {
		t.Fatalf("len=%d", s.Len())
	}
	in, _ := s.Lookup(5, host.CategoryGoods, Incoming)
	if in.Record != 0 || !s.Enabled(in) {
		t.Fatalf("record 0 was overwritten: %v", in)
	}
	keys := s.Keys(5)
	if len(keys) != 3 {
		t.Fatalf("keys=%v", keys)
	}
}
