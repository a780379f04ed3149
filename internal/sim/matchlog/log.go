// Package matchlog keeps a bounded history of match outcomes for diagnostics.
package matchlog

import (
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
)

const DefaultCapacity = 512

type Entry struct {
	Tick     uint64        `json:"tick"`
	Category host.Category `json:"category"`
	Status   Status        `json:"status"`

	InBuilding  host.BuildingID `json:"in_building"`
	InPriority  int             `json:"in_priority"`
	InExclude   bool            `json:"in_exclude,omitempty"`
	InPosition  host.Position   `json:"in_pos"`
	OutBuilding host.BuildingID `json:"out_building"`
	OutPriority int             `json:"out_priority"`
	OutExclude  bool            `json:"out_exclude,omitempty"`
	OutPosition host.Position   `json:"out_pos"`
}

// Involves reports whether b is either side of the pair.
func (e Entry) Involves(b host.BuildingID) bool {
	return e.InBuilding == b || e.OutBuilding == b
}

// Filter selects entries; the zero value matches everything.
type Filter struct {
	Building host.BuildingID
	Statuses []Status
	Limit    int
}

func (f Filter) Match(e Entry) bool {
	if f.Building != 0 && !e.Involves(f.Building) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

// Log is a fixed-capacity ring that evicts the oldest entry when full. It is
// not safe for concurrent use.
type Log struct {
	buf  []Entry
	head int
	n    int
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]Entry, capacity)}
}

func (l *Log) Record(e Entry) {
	if l == nil {
		return
	}
	idx := (l.head + l.n) % len(l.buf)
	if l.n == len(l.buf) {
		l.buf[l.head] = e
		l.head = (l.head + 1) % len(l.buf)
		return
	}
	l.buf[idx] = e
	l.n++
}

// Query returns matching entries newest first. The log is not modified.
func (l *Log) Query(f Filter) []Entry {
	if l == nil {
		return nil
	}
	var out []Entry
	for i := l.n - 1; i >= 0; i-- {
		e := l.buf[(l.head+i)%len(l.buf)]
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return l.n
}

func (l *Log) Capacity() int {
	if l == nil {
		return 0
	}
	return len(l.buf)
}

func (l *Log) Clear() {
	if l == nil {
		return
	}
	for i := range l.buf {
		l.buf[i] = Entry{}
	}
	l.head, l.n = 0, 0
}
