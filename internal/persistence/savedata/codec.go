// Package savedata encodes the restriction, warehouse and vehicle stores into
// the versioned blob kept in the host save under DataID.
//
// Layout: int32 version, then one int32-length-prefixed section per store in
// the order restrictions, warehouses (v1+), vehicles (v2+). All integers are
// little endian.
package savedata

import (
	"errors"
	"fmt"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/restrictions"
	"github.com/algernon-A/TransferController-sub001/internal/sim/vehicles"
	"github.com/algernon-A/TransferController-sub001/internal/sim/warehouse"
)

const (
	DataID = "TransferController"

	CurrentVersion int32 = 4
)

var ErrMalformed = errors.New("savedata: malformed")

const (
	flagEnabled          = 1 << 0
	flagSameDistrictOnly = 1 << 1
	flagOutsideBlocked   = 1 << 2
)

type Stores struct {
	Restrictions *restrictions.Store
	Warehouses   *warehouse.Policy
	Vehicles     *vehicles.Policy
}

func (s Stores) reset() {
	if s.Restrictions != nil {
		s.Restrictions.Reset()
	}
	if s.Warehouses != nil {
		s.Warehouses.Reset()
	}
	if s.Vehicles != nil {
		s.Vehicles.Reset()
	}
}

// Report describes what Decode found. Diagnostics are non-fatal.
type Report struct {
	Absent  bool  `json:"absent,omitempty"`
	Version int32 `json:"version"`
	// Format is the layout actually used to read the blob.
	Format       int32    `json:"format"`
	Restrictions int      `json:"restrictions"`
	Warehouses   int      `json:"warehouses"`
	Vehicles     int      `json:"vehicles"`
	Diagnostics  []string `json:"diagnostics,omitempty"`
}

func (r *Report) diag(format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, fmt.Sprintf(format, args...))
}

// Encode writes the stores in the current format.
func Encode(s Stores) ([]byte, error) {
	var w writer
	w.i32(CurrentVersion)
	w.section(func(w *writer) { writeRestrictions(w, exportRestrictions(s)) })
	w.section(func(w *writer) { writeWarehouses(w, exportWarehouses(s)) })
	w.section(func(w *writer) { writeVehicles(w, exportVehicles(s)) })
	if w.err != nil {
		return nil, fmt.Errorf("savedata: encode: %w", w.err)
	}
	return w.buf.Bytes(), nil
}

// Decode replaces the stores' contents with data. Empty data is a new game.
// A section that fails to parse is left empty and reported; later sections
// are still read. Only an unreadable version returns an error.
func Decode(data []byte, s Stores) (Report, error) {
	s.reset()
	var rep Report
	if len(data) == 0 {
		rep.Absent = true
		return rep, nil
	}

	r := &reader{data: data}
	rep.Version = r.i32()
	if r.err != nil || rep.Version < 0 {
		rep.diag("unreadable format version")
		return rep, fmt.Errorf("%w: version %d", ErrMalformed, rep.Version)
	}
	rep.Format = rep.Version
	if rep.Format > CurrentVersion {
		rep.diag("version %d is newer than %d; reading as %d", rep.Version, CurrentVersion, CurrentVersion)
		rep.Format = CurrentVersion
	}

	sections := []struct {
		name  string
		since int32
		read  func(*reader, int32, Stores) (int, error)
	}{
		{"restrictions", 0, readRestrictions},
		{"warehouses", 1, readWarehouses},
		{"vehicles", 2, readVehicles},
	}
	for _, sec := range sections {
		if rep.Format < sec.since {
			continue
		}
		sub := r.section()
		if sub.err != nil {
			rep.diag("%s: section header: %v", sec.name, sub.err)
			break
		}
		n, err := sec.read(sub, rep.Format, s)
		if err == nil && sub.trailing() > 0 && rep.Version <= CurrentVersion {
			rep.diag("%s: %d trailing bytes ignored", sec.name, sub.trailing())
		}
		if err != nil {
			rep.diag("%s: %v; section skipped", sec.name, err)
			continue
		}
		switch sec.name {
		case "restrictions":
			rep.Restrictions = n
		case "warehouses":
			rep.Warehouses = n
		case "vehicles":
			rep.Vehicles = n
		}
	}
	return rep, nil
}

func exportRestrictions(s Stores) []restrictions.Entry {
	if s.Restrictions == nil {
		return nil
	}
	return s.Restrictions.Export()
}

func exportWarehouses(s Stores) []warehouse.Entry {
	if s.Warehouses == nil {
		return nil
	}
	return s.Warehouses.Export()
}

func exportVehicles(s Stores) []vehicles.Entry {
	if s.Vehicles == nil {
		return nil
	}
	return s.Vehicles.Export()
}

func writeRestrictions(w *writer, entries []restrictions.Entry) {
	w.i32(int32(len(entries)))
	for _, e := range entries {
		w.u32(uint32(e.Key.Building))
		w.u16(e.Key.Record)
		w.u8(uint8(e.Category))
		w.u8(uint8(e.Direction))
		var flags uint8
		if e.Enabled {
			flags |= flagEnabled
		}
		if e.SameDistrictOnly {
			flags |= flagSameDistrictOnly
		}
		if !e.OutsideConnectionAllowed {
			flags |= flagOutsideBlocked
		}
		w.u8(flags)
		w.i32(int32(len(e.Districts)))
		for _, a := range e.Districts {
			w.i32(int32(a))
		}
		w.i32(int32(len(e.Buildings)))
		for _, b := range e.Buildings {
			w.u32(uint32(b))
		}
	}
}

func readRestrictions(r *reader, version int32, s Stores) (int, error) {
	n := r.count(17)
	entries := make([]restrictions.Entry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		e := restrictions.Entry{
			Key: restrictions.Key{
				Building: host.BuildingID(r.u32()),
				Record:   r.u16(),
			},
			Category: host.Category(r.u8()),
		}
		dir := r.u8()
		flags := r.u8()
		if r.err == nil && dir > uint8(restrictions.Outgoing) {
			return 0, fmt.Errorf("record %d: bad direction %d", i, dir)
		}
		e.Direction = restrictions.Direction(dir)
		e.Enabled = flags&flagEnabled != 0
		e.SameDistrictOnly = flags&flagSameDistrictOnly != 0
		e.OutsideConnectionAllowed = version < 3 || flags&flagOutsideBlocked == 0

		nd := r.count(4)
		for j := 0; j < nd; j++ {
			e.Districts = append(e.Districts, host.AreaID(r.i32()))
		}
		nb := r.count(4)
		for j := 0; j < nb; j++ {
			e.Buildings = append(e.Buildings, host.BuildingID(r.u32()))
		}
		entries = append(entries, e)
	}
	if r.err != nil {
		return 0, r.err
	}
	if s.Restrictions != nil {
		s.Restrictions.Import(entries)
	}
	return len(entries), nil
}

func writeWarehouses(w *writer, entries []warehouse.Entry) {
	w.i32(int32(len(entries)))
	for _, e := range entries {
		w.u32(uint32(e.Building))
		w.u8(uint8(e.Mode))
		count := e.Count
		if count > 0xFFFF {
			count = 0xFFFF
		}
		w.u16(uint16(count))
	}
}

// legacyMode folds the pre-v4 boolean triple into a reserve mode. Flags are
// applied in field order, so the last one set wins.
func legacyMode(unique, outside, city bool) warehouse.ReserveMode {
	mode := warehouse.ReserveNone
	if unique {
		mode = warehouse.ReserveForUniqueFactories
	}
	if outside {
		mode = warehouse.ReserveForOutsideConnections
	}
	if city {
		mode = warehouse.ReserveForCity
	}
	return mode
}

func readWarehouses(r *reader, version int32, s Stores) (int, error) {
	size := 7
	if version == 3 {
		size = 8
	}
	n := r.count(size)
	entries := make([]warehouse.Entry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		e := warehouse.Entry{Building: host.BuildingID(r.u32())}
		switch {
		case version >= 4:
			m := warehouse.ReserveMode(r.u8())
			if r.err == nil && !m.Valid() {
				return 0, fmt.Errorf("warehouse %d: bad reserve mode %d", e.Building, m)
			}
			e.Mode = m
			e.Count = int(r.u16())
		default:
			unique, outside, city := r.bool(), r.bool(), r.bool()
			e.Mode = legacyMode(unique, outside, city)
			if version == 3 {
				e.Count = int(r.u8())
			}
		}
		entries = append(entries, e)
	}
	if r.err != nil {
		return 0, r.err
	}
	if s.Warehouses != nil {
		s.Warehouses.Import(entries)
	}
	return len(entries), nil
}

func writeVehicles(w *writer, entries []vehicles.Entry) {
	w.i32(int32(len(entries)))
	for _, e := range entries {
		w.u32(uint32(e.Building))
		w.u8(uint8(e.Category))
		w.i32(int32(len(e.Vehicles)))
		for _, v := range e.Vehicles {
			w.str(string(v))
		}
	}
}

func readVehicles(r *reader, _ int32, s Stores) (int, error) {
	n := r.count(9)
	entries := make([]vehicles.Entry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		e := vehicles.Entry{
			Building: host.BuildingID(r.u32()),
			Category: host.Category(r.u8()),
		}
		nv := r.count(2)
		for j := 0; j < nv; j++ {
			if v := r.str(); v != "" {
				e.Vehicles = append(e.Vehicles, host.VehiclePrefabID(v))
			}
		}
		entries = append(entries, e)
	}
	if r.err != nil {
		return 0, r.err
	}
	if s.Vehicles != nil {
		s.Vehicles.Import(entries)
	}
	return len(entries), nil
}
