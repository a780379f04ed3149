package host

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario describes a sandbox city for the in-memory host.
type Scenario struct {
	Districts []uint8           `yaml:"districts"`
	Parks     []uint8           `yaml:"parks"`
	Buildings []BuildingSpec    `yaml:"buildings"`
	Vehicles  []VehicleSpec     `yaml:"vehicles"`
	Offers    []OfferSpec       `yaml:"offers"`
	Broken    []BrokenRouteSpec `yaml:"broken_routes,omitempty"`
}

type BuildingSpec struct {
	ID              uint32     `yaml:"id"`
	District        uint8      `yaml:"district"`
	Park            uint8      `yaml:"park"`
	Pos             [3]float32 `yaml:"pos"`
	Kind            string     `yaml:"kind"`
	Service         string     `yaml:"service"`
	SubService      string     `yaml:"sub_service"`
	Level           int        `yaml:"level"`
	VehicleCapacity int        `yaml:"vehicle_capacity"`
	Transport       string     `yaml:"transport"`
}

type VehicleSpec struct {
	ID         string `yaml:"id"`
	Service    string `yaml:"service"`
	SubService string `yaml:"sub_service"`
	Level      int    `yaml:"level"`
}

type OfferSpec struct {
	Building   uint32   `yaml:"building"`
	Category   Category `yaml:"category"`
	Direction  string   `yaml:"direction"`
	Priority   int      `yaml:"priority"`
	Amount     int      `yaml:"amount"`
	Active     bool     `yaml:"active"`
	Exclude    bool     `yaml:"exclude"`
	EveryTicks uint64   `yaml:"every_ticks"`
}

type BrokenRouteSpec struct {
	Source uint32 `yaml:"source"`
	Target uint32 `yaml:"target"`
}

func LoadScenario(path string) (Scenario, error) {
	var s Scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("scenario.yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("scenario.yaml: %w", err)
	}
	return s, nil
}

func (s Scenario) Validate() error {
	seen := map[uint32]bool{}
	for _, b := range s.Buildings {
		if b.ID == 0 {
			return fmt.Errorf("building id must be > 0")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate building id: %d", b.ID)
		}
		seen[b.ID] = true
		if _, err := parseKind(b.Kind); err != nil {
			return fmt.Errorf("building %d: %w", b.ID, err)
		}
		if _, err := parseTransport(b.Transport); err != nil {
			return fmt.Errorf("building %d: %w", b.ID, err)
		}
		if b.VehicleCapacity < 0 {
			return fmt.Errorf("building %d vehicle_capacity must be >= 0", b.ID)
		}
	}
	for i, o := range s.Offers {
		if !seen[o.Building] {
			return fmt.Errorf("offers[%d] building %d not found", i, o.Building)
		}
		if !o.Category.Valid() {
			return fmt.Errorf("offers[%d] category must be set", i)
		}
		switch strings.ToLower(o.Direction) {
		case "incoming", "outgoing":
		default:
			return fmt.Errorf("offers[%d] direction must be incoming or outgoing", i)
		}
	}
	for i, v := range s.Vehicles {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("vehicles[%d] id must not be empty", i)
		}
	}
	return nil
}

// Build populates a fresh in-memory host.
func (s Scenario) Build() (*Memory, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m := NewMemory()
	for _, d := range s.Districts {
		m.AddArea(District(d))
	}
	for _, p := range s.Parks {
		m.AddArea(Park(p))
	}
	for _, b := range s.Buildings {
		kind, _ := parseKind(b.Kind)
		transport, _ := parseTransport(b.Transport)
		m.AddBuilding(Building{
			ID:       BuildingID(b.ID),
			District: District(b.District),
			Park:     Park(b.Park),
			Position: Position{X: b.Pos[0], Y: b.Pos[1], Z: b.Pos[2]},
			Prefab: Prefab{
				Service:         b.Service,
				SubService:      b.SubService,
				Level:           b.Level,
				Kind:            kind,
				VehicleCapacity: b.VehicleCapacity,
				Transport:       transport,
			},
		})
	}
	for _, v := range s.Vehicles {
		m.AddVehiclePrefab(VehiclePrefab{ID: VehiclePrefabID(v.ID), Service: v.Service, SubService: v.SubService, Level: v.Level})
	}
	for _, o := range s.Offers {
		m.AddGenerator(Generator{
			Offer: Offer{
				Building: BuildingID(o.Building),
				Category: o.Category,
				Priority: o.Priority,
				Amount:   o.Amount,
				Active:   o.Active,
				Exclude:  o.Exclude,
			},
			Incoming:   strings.EqualFold(o.Direction, "incoming"),
			EveryTicks: o.EveryTicks,
		})
	}
	for _, r := range s.Broken {
		m.BreakRoute(BuildingID(r.Source), BuildingID(r.Target))
	}
	return m, nil
}

func parseKind(s string) (BuildingKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "generic":
		return KindGeneric, nil
	case "warehouse":
		return KindWarehouse, nil
	case "unique_factory":
		return KindUniqueFactory, nil
	case "outside_connection", "outside":
		return KindOutsideConnection, nil
	default:
		return KindGeneric, fmt.Errorf("unknown building kind %q", s)
	}
}

func parseTransport(s string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "road":
		return TransportRoad, nil
	case "rail", "train":
		return TransportRail, nil
	case "ship":
		return TransportShip, nil
	case "plane":
		return TransportPlane, nil
	default:
		return TransportRoad, fmt.Errorf("unknown transport %q", s)
	}
}
