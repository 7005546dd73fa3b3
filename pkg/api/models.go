package api

import (
	"slice_tracer/pkg/constraint"
	"slice_tracer/pkg/store"
)

// TraceRequest is the JSON body for POST /api/v1/trace. The seed is either
// node_id, or x, y and section (with an optional stack).
type TraceRequest struct {
	NodeID  string   `json:"node_id"`
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Section *uint32  `json:"section"`
	Stack   int64    `json:"stack"`

	// Mode is "force" (every group explained exactly once) or "permissive"
	// (at most once). Required.
	Mode string `json:"mode"`

	Priors           *constraint.Priors `json:"priors"`
	MinComponentSize *int               `json:"min_component_size"`
	IncludeTermini   *bool              `json:"include_termini"`
	AllComponents    bool               `json:"all_components"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	RunID string `json:"run_id,omitempty"`
	State string `json:"state,omitempty"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	Stack int64 `json:"stack"`
	store.Counts
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}
