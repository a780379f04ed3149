package controller

import "github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"

type Metrics struct {
	Session string `json:"session"`
	Enabled bool   `json:"enabled"`
	Tick    uint64 `json:"tick"`

	MatchesTotal uint64            `json:"matches_total"`
	LastMatches  int               `json:"last_matches"`
	Outcomes     map[string]uint64 `json:"outcomes"`
	LogLen       int               `json:"log_len"`
	LogCapacity  int               `json:"log_capacity"`

	FailingPairs int    `json:"failing_pairs"`
	Faults       uint64 `json:"faults"`
	SinkErrors   uint64 `json:"sink_errors"`

	Restrictions int `json:"restrictions"`
	Warehouses   int `json:"warehouses"`
	VehicleLists int `json:"vehicle_lists"`
	VehiclesOut  int `json:"vehicles_out"`

	StepMS float64 `json:"step_ms"`
}

// Metrics returns the snapshot published after the last Step. Safe from any
// goroutine.
func (c *Controller) Metrics() Metrics {
	if v := c.metrics.Load(); v != nil {
		return v.(Metrics)
	}
	return Metrics{}
}

func (c *Controller) publishMetrics() {
	outcomes := make(map[string]uint64, len(c.statusTotals))
	for _, s := range matchlog.Statuses() {
		outcomes[s.String()] = c.statusTotals[s]
	}
	c.metrics.Store(Metrics{
		Session:      c.session,
		Enabled:      c.disabled == nil,
		Tick:         c.tick,
		MatchesTotal: c.matchesTotal,
		LastMatches:  c.lastMatches,
		Outcomes:     outcomes,
		LogLen:       c.outcomes.Len(),
		LogCapacity:  c.outcomes.Capacity(),
		FailingPairs: c.failures.Len(),
		Faults:       c.engine.Faults(),
		SinkErrors:   c.sinkErrors,
		Restrictions: c.restrictions.Len(),
		Warehouses:   c.warehouses.Len(),
		VehicleLists: c.vehicles.Len(),
		VehiclesOut:  len(c.trips),
		StepMS:       c.stepMS,
	})
}
