package matchlog

import (
	"fmt"
	"strings"
)

// Status is the outcome of evaluating one incoming/outgoing pair. The names
// are a stable contract for log readers.
type Status uint8

const (
	NotPermittedIn Status = iota
	NotPermittedOut
	ImportBlocked
	ExportBlocked
	PathFailure
	NoVehicle
	Eligible
	Selected
	statusCount
)

var statusNames = [...]string{
	NotPermittedIn:  "NotPermittedIn",
	NotPermittedOut: "NotPermittedOut",
	ImportBlocked:   "ImportBlocked",
	ExportBlocked:   "ExportBlocked",
	PathFailure:     "PathFailure",
	NoVehicle:       "NoVehicle",
	Eligible:        "Eligible",
	Selected:        "Selected",
}

func (s Status) String() string {
	if s < statusCount {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Rejected reports whether the status blocks the pair.
func (s Status) Rejected() bool { return s < Eligible }

func ParseStatus(v string) (Status, error) {
	v = strings.TrimSpace(v)
	for i, n := range statusNames {
		if strings.EqualFold(v, n) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown match status %q", v)
}

func Statuses() []Status {
	out := make([]Status, 0, statusCount)
	for s := Status(0); s < statusCount; s++ {
		out = append(out, s)
	}
	return out
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
