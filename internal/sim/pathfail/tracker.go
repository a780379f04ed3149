// Package pathfail remembers which building pairs recently failed
// pathfinding so the engine can stop pairing them.
package pathfail

import (
	"sort"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

type Failure struct {
	Other host.BuildingID `json:"other"`
	// Incoming is true when the owning building was the receiving side.
	Incoming bool   `json:"incoming"`
	Tick     uint64 `json:"tick"`
}

type pair struct {
	in, out host.BuildingID
}

// Tracker is disabled by default. It is not safe for concurrent use.
type Tracker struct {
	enabled     bool
	expiryTicks uint64

	byBuilding map[host.BuildingID][]Failure
	pairs      map[pair]uint64
}

func New(enabled bool, expiryTicks uint64) *Tracker {
	t := &Tracker{enabled: enabled, expiryTicks: expiryTicks}
	t.Reset()
	return t
}

func (t *Tracker) Enabled() bool { return t.enabled }

// SetEnabled toggles recording. Disabling keeps existing failures but stops
// them from blocking matches.
func (t *Tracker) SetEnabled(v bool) { t.enabled = v }

func (t *Tracker) SetExpiry(ticks uint64) { t.expiryTicks = ticks }

func (t *Tracker) Reset() {
	t.byBuilding = map[host.BuildingID][]Failure{}
	t.pairs = map[pair]uint64{}
}

// Record inserts or refreshes the failure of b against other.
func (t *Tracker) Record(b, other host.BuildingID, wasIncoming bool, tick uint64) {
	if !t.enabled {
		return
	}
	list := t.byBuilding[b]
	for i := range list {
		if list[i].Other == other && list[i].Incoming == wasIncoming {
			list[i].Tick = tick
			return
		}
	}
	t.byBuilding[b] = append(list, Failure{Other: other, Incoming: wasIncoming, Tick: tick})
}

// RecordPair records a failed trip from source (supplier) to target
// (receiver) on both buildings.
func (t *Tracker) RecordPair(source, target host.BuildingID, tick uint64) {
	if !t.enabled {
		return
	}
	t.Record(source, target, false, tick)
	t.Record(target, source, true, tick)
	t.pairs[pair{in: target, out: source}] = tick
}

// Failed reports whether the pair has an unexpired failure at tick.
func (t *Tracker) Failed(in, out host.BuildingID, tick uint64) bool {
	if !t.enabled {
		return false
	}
	at, ok := t.pairs[pair{in: in, out: out}]
	return ok && !t.expired(at, tick)
}

// FailuresFor returns b's failures, newest first.
func (t *Tracker) FailuresFor(b host.BuildingID) []Failure {
	list := t.byBuilding[b]
	out := make([]Failure, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick > out[j].Tick })
	return out
}

func (t *Tracker) Clear(b host.BuildingID) {
	delete(t.byBuilding, b)
	var drop []pair
	for p := range t.pairs {
		if p.in == b || p.out == b {
			drop = append(drop, p)
		}
	}
	for _, p := range drop {
		delete(t.pairs, p)
	}
}

// Expire drops failures older than the expiry window and returns how many
// pairs were forgotten.
func (t *Tracker) Expire(tick uint64) int {
	if t.expiryTicks == 0 {
		return 0
	}
	var drop []pair
	for p, at := range t.pairs {
		if t.expired(at, tick) {
			drop = append(drop, p)
		}
	}
	for _, p := range drop {
		delete(t.pairs, p)
	}
	var empty []host.BuildingID
	for b, list := range t.byBuilding {
		kept := list[:0]
		for _, f := range list {
			if !t.expired(f.Tick, tick) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			empty = append(empty, b)
			continue
		}
		t.byBuilding[b] = kept
	}
	for _, b := range empty {
		delete(t.byBuilding, b)
	}
	return len(drop)
}

// Len is the number of failing pairs.
func (t *Tracker) Len() int { return len(t.pairs) }

func (t *Tracker) expired(at, now uint64) bool {
	return t.expiryTicks > 0 && now >= at && now-at >= t.expiryTicks
}
