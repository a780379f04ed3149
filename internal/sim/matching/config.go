package matching

const DefaultMaxPriority = 7

type Config struct {
	MaxPriority int
	// DistanceOnly orders every candidate by distance alone, ignoring
	// priority. It applies to all pairs, restricted or not.
	DistanceOnly bool

	WarehouseReserveBoost int
	OutsideRailBoost      int
	OutsideShipBoost      int
	OutsidePlaneBoost     int
}

func DefaultConfig() Config {
	return Config{
		MaxPriority:           DefaultMaxPriority,
		WarehouseReserveBoost: 2,
	}
}

func (c Config) normalized() Config {
	if c.MaxPriority <= 0 {
		c.MaxPriority = DefaultMaxPriority
	}
	return c
}

// Candidate is what a comparator sees of an eligible counterpart.
type Candidate struct {
	Priority   int
	DistanceSq float64
	// Index is the counterpart's position in its pool.
	Index int
}

// Comparator reports whether a should be picked over b.
type Comparator func(a, b Candidate) bool

func PriorityThenDistance(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.DistanceSq != b.DistanceSq {
		return a.DistanceSq < b.DistanceSq
	}
	return a.Index < b.Index
}

func DistanceOnly(a, b Candidate) bool {
	if a.DistanceSq != b.DistanceSq {
		return a.DistanceSq < b.DistanceSq
	}
	return a.Index < b.Index
}

func (c Config) comparator() Comparator {
	if c.DistanceOnly {
		return DistanceOnly
	}
	return PriorityThenDistance
}

// Order is how a pass walks the pool.
type Order uint8

const (
	// HighestPriorityFirst lets each offer, in descending priority, claim its
	// best counterpart.
	HighestPriorityFirst Order = iota
	// NearestPairFirst matches the globally nearest eligible pairs first.
	NearestPairFirst
)

func (c Config) order() Order {
	if c.DistanceOnly {
		return NearestPairFirst
	}
	return HighestPriorityFirst
}
