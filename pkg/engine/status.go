package engine

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a reconciled resource kind on the controller.
type Kind string

const (
	KindInventory   Kind = "inventory"
	KindGroup       Kind = "group"
	KindHost        Kind = "host"
	KindProject     Kind = "project"
	KindJobTemplate Kind = "job_template"
)

// Kinds lists every resource kind in setup order.
var Kinds = []Kind{KindInventory, KindGroup, KindHost, KindProject, KindJobTemplate}

// InventoryScoped reports whether names of this kind are unique per
// inventory rather than per organization.
func (k Kind) InventoryScoped() bool {
	return k == KindGroup || k == KindHost
}

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindInventory, KindGroup, KindHost, KindProject, KindJobTemplate:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// RunStatus represents the overall status of a setup or teardown run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every step completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates the run finished but some items failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates the run stopped on a hard failure.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// Decision records what happened to a single declared resource.
type Decision string

const (
	// DecisionReused means a same-named resource already existed in scope.
	DecisionReused Decision = "reused"

	// DecisionCreated means the resource was created during this run.
	DecisionCreated Decision = "created"

	// DecisionRejected means the controller refused the create request.
	DecisionRejected Decision = "rejected"

	// DecisionFailed means the step could not complete (transport or decoding failure).
	DecisionFailed Decision = "failed"

	// DecisionSkipped means a required upstream resource was absent.
	DecisionSkipped Decision = "skipped"

	// DecisionDeleted means teardown removed the resource.
	DecisionDeleted Decision = "deleted"

	// DecisionAbsent means teardown found nothing to remove.
	DecisionAbsent Decision = "absent"

	// DecisionLinked means a host was added to its group.
	DecisionLinked Decision = "linked"
)

// Succeeded reports whether the decision leaves the desired state satisfied.
func (d Decision) Succeeded() bool {
	switch d {
	case DecisionReused, DecisionCreated, DecisionDeleted, DecisionAbsent, DecisionLinked:
		return true
	default:
		return false
	}
}

// Validate checks if the decision is valid.
func (d Decision) Validate() error {
	switch d {
	case DecisionReused, DecisionCreated, DecisionRejected, DecisionFailed,
		DecisionSkipped, DecisionDeleted, DecisionAbsent, DecisionLinked:
		return nil
	default:
		return fmt.Errorf("invalid decision: %s", d)
	}
}

// OperationStatus is the controller-reported status of an async operation.
// Values outside the known set are kept verbatim and treated as in progress.
type OperationStatus string

const (
	OperationStatusPending    OperationStatus = "pending"
	OperationStatusRunning    OperationStatus = "running"
	OperationStatusSuccessful OperationStatus = "successful"
	OperationStatusFailed     OperationStatus = "failed"
	OperationStatusError      OperationStatus = "error"
	OperationStatusCanceled   OperationStatus = "canceled"
)

// IsSuccess returns true for the single successful terminal status.
func (s OperationStatus) IsSuccess() bool {
	return s == OperationStatusSuccessful
}

// IsFailure returns true for the failed terminal statuses.
func (s OperationStatus) IsFailure() bool {
	return s == OperationStatusFailed || s == OperationStatusError || s == OperationStatusCanceled
}

// IsTerminal returns true if the controller will not transition the operation further.
func (s OperationStatus) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailure()
}

// OutcomeKind classifies how a wait ended.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeFailure  OutcomeKind = "failure"
	OutcomeTimedOut OutcomeKind = "timed_out"
)

// EventType represents the type of event in the run timeline.
type EventType string

const (
	EventTypeRunStarted       EventType = "run_started"
	EventTypeRunCompleted     EventType = "run_completed"
	EventTypeRunFailed        EventType = "run_failed"
	EventTypeResourceReused   EventType = "resource_reused"
	EventTypeResourceCreated  EventType = "resource_created"
	EventTypeResourceRejected EventType = "resource_rejected"
	EventTypeResourceFailed   EventType = "resource_failed"
	EventTypeResourceDeleted  EventType = "resource_deleted"
	EventTypeMembershipAdded  EventType = "membership_added"
	EventTypeMembershipFailed EventType = "membership_failed"
	EventTypeSyncTriggered    EventType = "sync_triggered"
	EventTypeSyncOutcome      EventType = "sync_outcome"
	EventTypeWarning          EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeResourceFailed, EventTypeMembershipFailed:
		return "error"
	case EventTypeResourceRejected, EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}
