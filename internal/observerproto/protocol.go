package observerproto

import "github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"

// Version is the observer protocol version.
const Version = "0.2"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Only outcomes involving one of these buildings (all when empty).
	Buildings []uint32 `json:"buildings,omitempty"`
	// Only outcomes with one of these status names (all when empty).
	Statuses []string `json:"statuses,omitempty"`
	// Send TICK messages even when no outcome passed the filter.
	EmptyTicks bool `json:"empty_ticks,omitempty"`
}

// HTTP response for GET /v1/observe/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Tick            uint64         `json:"tick"`
	Enabled         bool           `json:"enabled"`
	Params          MatchingParams `json:"params"`
	Statuses        []string       `json:"statuses"`
	Categories      []string       `json:"categories"`
}

type MatchingParams struct {
	TickRateHz   int  `json:"tick_rate_hz"`
	MaxPriority  int  `json:"max_priority"`
	DistanceOnly bool `json:"distance_only"`
}

// Server -> Client. Sent after every controller tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Matches         int    `json:"matches"`

	Outcomes []matchlog.Entry `json:"outcomes"`
	// TICK messages this client missed since the last one it received.
	Dropped uint64 `json:"dropped,omitempty"`
}
