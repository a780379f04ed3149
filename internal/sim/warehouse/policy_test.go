package warehouse

import (
	"reflect"
	"testing"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

func warehouseHost() *host.Memory {
	m := host.NewMemory()
	m.AddBuilding(host.Building{ID: 7, Prefab: host.Prefab{Kind: host.KindWarehouse, VehicleCapacity: 5}})
	m.AddBuilding(host.Building{ID: 8, Prefab: host.Prefab{Kind: host.KindWarehouse, VehicleCapacity: 2}})
	return m
}

func TestPolicy_SetReserveLastWriteWins(t *testing.T) {
	p := NewPolicy(warehouseHost())
	p.SetReserve(7, ReserveForCity)
	p.SetReserve(7, ReserveForOutsideConnections)
	if got := p.Reserve(7); got != ReserveForOutsideConnections {
		t.Fatalf("reserve=%v want outside_connections", got)
	}
	p.ClearReserve(7)
	if p.Reserve(7) != ReserveNone || p.Len() != 0 {
		t.Fatalf("clear should drop the record")
	}
}

func TestPolicy_ReservedCountClampsToCapacity(t *testing.T) {
	p := NewPolicy(warehouseHost())
	p.SetReservedVehicleCount(8, 9)
	if got := p.ReservedVehicleCount(8); got != 2 {
		t.Fatalf("count=%d want 2", got)
	}
	p.SetReservedVehicleCount(8, -3)
	if got := p.ReservedVehicleCount(8); got != 0 {
		t.Fatalf("count=%d want 0", got)
	}
	p.SetReservedVehicleCount(99, 4)
	if got := p.ReservedVehicleCount(99); got != 0 {
		t.Fatalf("unknown building has no capacity, count=%d", got)
	}
}

func TestPolicy_Admits(t *testing.T) {
	p := NewPolicy(warehouseHost())
	if !p.Admits(7, ClassOutside, 0) {
		t.Fatalf("no reservation admits everyone")
	}

	p.SetReserve(7, ReserveForUniqueFactories)
	p.SetReservedVehicleCount(7, 2)
	if !p.Admits(7, ClassCity, 3) {
		t.Fatalf("spare vehicles beyond the reserve serve anyone")
	}
	if p.Admits(7, ClassCity, 2) {
		t.Fatalf("at the reserve only unique factories are served")
	}
	if !p.Admits(7, ClassUniqueFactory, 0) {
		t.Fatalf("reserved class is always admitted")
	}

	p.SetReserve(7, ReserveForCity)
	p.SetReservedVehicleCount(7, 0)
	if p.Admits(7, ClassOutside, 5) {
		t.Fatalf("zero count reserves the whole fleet")
	}
	if !p.Admits(7, ClassUniqueFactory, 5) || !p.Serves(7, ClassCity) || p.Serves(7, ClassOutside) {
		t.Fatalf("city reservation covers every local counterpart")
	}
}

func TestClassOf(t *testing.T) {
	if ClassOf(host.Prefab{}, true) != ClassOutside {
		t.Fatalf("outside flag wins")
	}
	if ClassOf(host.Prefab{Kind: host.KindUniqueFactory}, false) != ClassUniqueFactory {
		t.Fatalf("unique factory")
	}
	if ClassOf(host.Prefab{Kind: host.KindWarehouse}, false) != ClassCity {
		t.Fatalf("warehouse counts as city")
	}
}

func TestPolicy_ExportImport(t *testing.T) {
	h := warehouseHost()
	p := NewPolicy(h)
	p.SetReserve(8, ReserveForCity)
	p.SetReserve(7, ReserveForOutsideConnections)
	p.SetReservedVehicleCount(7, 3)

	entries := p.Export()
	want := []Entry{
		{Building: 7, Mode: ReserveForOutsideConnections, Count: 3},
		{Building: 8, Mode: ReserveForCity},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("export=%+v", entries)
	}
	q := NewPolicy(h)
	q.Import(entries)
	if !reflect.DeepEqual(q.Export(), want) {
		t.Fatalf("import mismatch")
	}

	h.RemoveBuilding(8)
	if got := q.Export(); len(got) != 1 || q.Len() != 1 {
		t.Fatalf("demolished warehouse should be pruned: %+v", got)
	}
}

func TestParseReserveMode(t *testing.T) {
	m, err := ParseReserveMode("Outside_Connections")
	if err != nil || m != ReserveForOutsideConnections {
		t.Fatalf("parse: %v %v", m, err)
	}
	if _, err := ParseReserveMode("mars"); err == nil {
		t.Fatalf("expected error")
	}
}
