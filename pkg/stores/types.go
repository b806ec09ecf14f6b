package stores

import (
	"time"

	"github.com/openfroyo/awxlab/pkg/engine"
)

// RunSummary is a run header with its decision tallies.
type RunSummary struct {
	engine.Run
	Decisions int `json:"decisions"`
	Failures  int `json:"failures"`
}

// Decision is a persisted decision row.
type Decision struct {
	ID int64 `json:"id"`
	engine.DecisionRecord
}

// ResourceState is the last known controller id of a declared resource.
// It is written whenever a run reuses, creates or deletes the resource.
type ResourceState struct {
	Kind         engine.Kind     `json:"kind"`
	Name         string          `json:"name"`
	Scope        int64           `json:"scope"`
	ResourceID   int64           `json:"resource_id"`
	LastDecision engine.Decision `json:"last_decision"`
	LastRunID    string          `json:"last_run_id"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Operation string
	Status    engine.RunStatus
	Limit     int
	Offset    int
}
