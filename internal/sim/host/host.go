// Package host describes what the transfer controller reads from the host
// simulation. The host owns every building, area and vehicle; ids handed out
// here may go stale at any time, so every query reports existence instead of
// returning references.
package host

type BuildingID uint32

type VehicleID uint32

// AreaID names a district (positive) or a park/industry/campus area
// (negative). Zero means "not in any area".
type AreaID int32

const NoArea AreaID = 0

func District(n uint8) AreaID { return AreaID(n) }

func Park(n uint8) AreaID { return -AreaID(n) }

func (a AreaID) IsPark() bool     { return a < 0 }
func (a AreaID) IsDistrict() bool { return a > 0 }

type VehiclePrefabID string

type Position struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
	Z float32 `json:"z" yaml:"z"`
}

// DistanceSq is the squared ground-plane distance used for match ordering.
func (p Position) DistanceSq(o Position) float64 {
	dx := float64(p.X - o.X)
	dz := float64(p.Z - o.Z)
	return dx*dx + dz*dz
}

type BuildingKind uint8

const (
	KindGeneric BuildingKind = iota
	KindWarehouse
	KindUniqueFactory
	KindOutsideConnection
)

func (k BuildingKind) String() string {
	switch k {
	case KindWarehouse:
		return "warehouse"
	case KindUniqueFactory:
		return "unique_factory"
	case KindOutsideConnection:
		return "outside_connection"
	default:
		return "generic"
	}
}

type TransportMode uint8

const (
	TransportRoad TransportMode = iota
	TransportRail
	TransportShip
	TransportPlane
)

func (m TransportMode) String() string {
	switch m {
	case TransportRail:
		return "rail"
	case TransportShip:
		return "ship"
	case TransportPlane:
		return "plane"
	default:
		return "road"
	}
}

// Prefab is the subset of building prefab metadata the controller consumes.
type Prefab struct {
	Service         string
	SubService      string
	Level           int
	Kind            BuildingKind
	VehicleCapacity int
	Transport       TransportMode
}

type VehiclePrefab struct {
	ID         VehiclePrefabID
	Service    string
	SubService string
	Level      int
}

type Buildings interface {
	BuildingExists(id BuildingID) bool
	AreasOf(id BuildingID) (district, park AreaID, ok bool)
	PrefabOf(id BuildingID) (Prefab, bool)
	PositionOf(id BuildingID) (Position, bool)
	ActiveVehicles(id BuildingID) int
}

type Areas interface {
	AreaExists(id AreaID) bool
}

type Vehicles interface {
	VehiclePrefabs() []VehiclePrefab
	// EligibleVehicles applies the host's own service/sub-service/level rules.
	EligibleVehicles(building BuildingID, category Category) []VehiclePrefabID
	VehicleRoute(id VehicleID) (source, target BuildingID, category Category, ok bool)
}

type Host interface {
	Buildings
	Areas
	Vehicles
}

// Prober is implemented by hosts that can tell whether the hooks the
// controller relies on were installed.
type Prober interface {
	Probe() error
}
