package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/algernon-A/TransferController-sub001/internal/sim/matching"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
)

type Tuning struct {
	TickRateHz  int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	MaxPriority int `yaml:"max_priority" json:"max_priority"`

	Matching     Matching     `yaml:"matching" json:"matching"`
	OutcomeLog   OutcomeLog   `yaml:"outcome_log" json:"outcome_log"`
	PathFailures PathFailures `yaml:"path_failures" json:"path_failures"`
	Persistence  Persistence  `yaml:"persistence" json:"persistence"`
}

type Matching struct {
	// DistanceOnly replaces priority ordering for every pair.
	DistanceOnly          bool `yaml:"distance_only" json:"distance_only"`
	WarehouseReserveBoost int  `yaml:"warehouse_reserve_boost" json:"warehouse_reserve_boost"`
	OutsideRailBoost      int  `yaml:"outside_rail_boost" json:"outside_rail_boost"`
	OutsideShipBoost      int  `yaml:"outside_ship_boost" json:"outside_ship_boost"`
	OutsidePlaneBoost     int  `yaml:"outside_plane_boost" json:"outside_plane_boost"`
}

type OutcomeLog struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

type PathFailures struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ExpiryTicks uint64 `yaml:"expiry_ticks" json:"expiry_ticks"`
}

type Persistence struct {
	SaveEveryTicks int `yaml:"save_every_ticks" json:"save_every_ticks"`
}

//go:embed tuning.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("tuning.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("tuning.schema.json")
	})
	return schema, schemaErr
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:  5,
		MaxPriority: matching.DefaultMaxPriority,
		Matching: Matching{
			WarehouseReserveBoost: 2,
		},
		OutcomeLog: OutcomeLog{Capacity: matchlog.DefaultCapacity},
		PathFailures: PathFailures{
			ExpiryTicks: 3000,
		},
		Persistence: Persistence{SaveEveryTicks: 3000},
	}
}

// Load reads path on top of Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	if strings.TrimSpace(path) == "" {
		t := Defaults()
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	return Parse(raw)
}

// Parse checks raw against the schema, then decodes it over the defaults.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := CheckSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// CheckSchema validates the structure of a YAML document against the
// embedded schema.
func CheckSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON-typed values.
	jb, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return s.Validate(v)
}

func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.MaxPriority <= 0 {
		t.MaxPriority = d.MaxPriority
	}
	if t.OutcomeLog.Capacity <= 0 {
		t.OutcomeLog.Capacity = d.OutcomeLog.Capacity
	}
	if t.Persistence.SaveEveryTicks < 0 {
		t.Persistence.SaveEveryTicks = 0
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz > 120 {
		return fmt.Errorf("tick_rate_hz must be <= 120")
	}
	m := t.Matching
	if m.WarehouseReserveBoost < 0 || m.OutsideRailBoost < 0 || m.OutsideShipBoost < 0 || m.OutsidePlaneBoost < 0 {
		return fmt.Errorf("matching boosts must be >= 0")
	}
	if m.WarehouseReserveBoost > t.MaxPriority {
		return fmt.Errorf("matching.warehouse_reserve_boost must be <= max_priority (%d)", t.MaxPriority)
	}
	return nil
}

// EngineConfig maps the matching keys onto the engine's config.
func (t Tuning) EngineConfig() matching.Config {
	return matching.Config{
		MaxPriority:           t.MaxPriority,
		DistanceOnly:          t.Matching.DistanceOnly,
		WarehouseReserveBoost: t.Matching.WarehouseReserveBoost,
		OutsideRailBoost:      t.Matching.OutsideRailBoost,
		OutsideShipBoost:      t.Matching.OutsideShipBoost,
		OutsidePlaneBoost:     t.Matching.OutsidePlaneBoost,
	}
}
