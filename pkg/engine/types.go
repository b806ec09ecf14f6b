package engine

import (
	"fmt"
	"time"
)

// NoScope is the scope value of a record whose enclosing resource is unknown.
const NoScope int64 = 0

// ResourceRecord is the canonical representation of a reconciled entity.
type ResourceRecord struct {
	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// ID is the controller-assigned identifier. It is never reused.
	ID int64 `json:"id"`

	// Name is unique within Scope.
	Name string `json:"name"`

	// Scope is the id of the enclosing resource that uniqueness is evaluated
	// against: the inventory for groups and hosts, the organization otherwise.
	Scope int64 `json:"scope"`

	// Attributes holds the kind-specific fields reported by the controller.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// DependsOn lists the ids of records that must exist before this one is
	// created and may only be deleted after it.
	DependsOn []int64 `json:"depends_on,omitempty"`
}

// Ref returns a short human-readable reference such as "host/web1#12".
func (r ResourceRecord) Ref() string {
	return fmt.Sprintf("%s/%s#%d", r.Kind, r.Name, r.ID)
}

// Desired describes a resource that should exist.
type Desired struct {
	Kind Kind
	Name string

	// Scope is the inventory id for inventory-scoped kinds and the
	// organization id otherwise.
	Scope int64

	// Attributes are the kind-specific fields submitted on creation.
	Attributes map[string]interface{}

	DependsOn []int64
}

// Ref returns a short human-readable reference such as "group/all_servers".
func (d Desired) Ref() string {
	return fmt.Sprintf("%s/%s", d.Kind, d.Name)
}

// Result is the outcome of reconciling one declared resource. A Result is
// either Found (Record is set) or Absent.
type Result struct {
	Record   *ResourceRecord   `json:"record,omitempty"`
	Decision Decision          `json:"decision"`
	Rejected *CreationRejected `json:"-"`
	Err      error             `json:"-"`
}

// Found returns a Result wrapping an existing or newly created record.
func Found(record ResourceRecord, decision Decision) Result {
	return Result{Record: &record, Decision: decision}
}

// Absent returns a Result with no record.
func Absent(decision Decision) Result {
	return Result{Decision: decision}
}

// Found reports whether the result carries a record.
func (r Result) Found() bool {
	return r.Record != nil
}

// ID returns the record id, or NoScope when absent.
func (r Result) ID() int64 {
	if r.Record == nil {
		return NoScope
	}
	return r.Record.ID
}

// AsyncOperation is a controller-side long running task tied to a project.
type AsyncOperation struct {
	ID              int64           `json:"id"`
	ParentProjectID int64           `json:"project"`
	Status          OperationStatus `json:"status"`
}

// Outcome is the result of waiting on an async operation.
type Outcome struct {
	Kind        OutcomeKind     `json:"kind"`
	Status      OperationStatus `json:"status,omitempty"`
	OperationID int64           `json:"operation_id,omitempty"`
	Polls       int             `json:"polls"`
	Elapsed     time.Duration   `json:"elapsed"`
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeFailure:
		return fmt.Sprintf("failure(%s)", o.Status)
	default:
		return string(o.Kind)
	}
}

// HostOutcome tracks one declared host through reconciliation and group membership.
type HostOutcome struct {
	Name       string   `json:"name"`
	Result     Result   `json:"result"`
	Membership Decision `json:"membership"`
	Err        error    `json:"-"`
}

// Succeeded reports whether the host exists and is linked to the group.
func (h HostOutcome) Succeeded() bool {
	return h.Result.Found() && h.Membership == DecisionLinked
}

// SetupSummary collects every decision of one setup run.
type SetupSummary struct {
	RunID         string        `json:"run_id"`
	Inventory     Result        `json:"inventory"`
	Group         Result        `json:"group"`
	Hosts         []HostOutcome `json:"hosts"`
	Project       Result        `json:"project"`
	SyncTriggered bool          `json:"sync_triggered"`
	Wait          *Outcome      `json:"wait,omitempty"`
	JobTemplate   Result        `json:"job_template"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Err           error         `json:"-"`
}

// Succeeded reports whether every declared resource reconciled and every
// membership link succeeded. Wait outcomes are warnings and do not count.
func (s *SetupSummary) Succeeded() bool {
	if s.Err != nil {
		return false
	}
	for _, r := range []Result{s.Inventory, s.Group, s.Project, s.JobTemplate} {
		if !r.Found() {
			return false
		}
	}
	for _, h := range s.Hosts {
		if !h.Succeeded() {
			return false
		}
	}
	return true
}

// Status condenses the summary into a run status.
func (s *SetupSummary) Status() RunStatus {
	switch {
	case s.Err != nil:
		return RunStatusFailed
	case s.Succeeded():
		return RunStatusSucceeded
	default:
		return RunStatusPartial
	}
}

// Created counts the resources created during the run.
func (s *SetupSummary) Created() int {
	n := 0
	for _, r := range []Result{s.Inventory, s.Group, s.Project, s.JobTemplate} {
		if r.Decision == DecisionCreated {
			n++
		}
	}
	for _, h := range s.Hosts {
		if h.Result.Decision == DecisionCreated {
			n++
		}
	}
	return n
}

// TeardownAction records one deletion attempt.
type TeardownAction struct {
	Kind     Kind     `json:"kind"`
	Name     string   `json:"name"`
	ID       int64    `json:"id,omitempty"`
	Decision Decision `json:"decision"`
	Err      error    `json:"-"`
}

// TeardownSummary collects every action of one teardown run, in the order
// the deletions were attempted.
type TeardownSummary struct {
	RunID     string           `json:"run_id"`
	Actions   []TeardownAction `json:"actions"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// Succeeded reports whether every teardown step left its target absent.
func (s *TeardownSummary) Succeeded() bool {
	for _, a := range s.Actions {
		if !a.Decision.Succeeded() {
			return false
		}
	}
	return true
}

// Status condenses the summary into a run status.
func (s *TeardownSummary) Status() RunStatus {
	if s.Succeeded() {
		return RunStatusSucceeded
	}
	return RunStatusPartial
}

// Event represents a timeline event during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Kind and Name identify the resource, if applicable.
	Kind Kind   `json:"kind,omitempty"`
	Name string `json:"name,omitempty"`

	// ResourceID is the controller id, if known.
	ResourceID int64 `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// Run is the persisted header of one setup or teardown execution.
type Run struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	Declaration string     `json:"declaration"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DecisionRecord is the persisted form of one reconciliation or teardown decision.
type DecisionRecord struct {
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	Name       string    `json:"name"`
	Scope      int64     `json:"scope"`
	ResourceID int64     `json:"resource_id"`
	Decision   Decision  `json:"decision"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
