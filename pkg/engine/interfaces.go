package engine

import (
	"context"
	"time"
)

// ResourceClient performs single requests against the controller. It never
// retries; transient failures surface as *TransportError.
type ResourceClient interface {
	// List returns every resource of a kind in controller list order. A
	// failure aborts the whole listing.
	List(ctx context.Context, kind Kind) ([]ResourceRecord, error)

	// ListInInventory returns the groups or hosts contained in an inventory.
	ListInInventory(ctx context.Context, kind Kind, inventoryID int64) ([]ResourceRecord, error)

	// Create submits a new resource. A non-success status is reported as
	// *CreationRejected and leaves no remote object behind.
	Create(ctx context.Context, desired Desired) (ResourceRecord, error)

	// Delete removes a resource. Deleting an absent resource succeeds.
	Delete(ctx context.Context, kind Kind, id int64) error

	// AddHostToGroup links a host into a group. The controller treats a
	// repeated link as a no-op.
	AddHostToGroup(ctx context.Context, groupID, hostID int64) error

	// TriggerProjectUpdate starts a source-control sync. It reports whether
	// the controller accepted the request.
	TriggerProjectUpdate(ctx context.Context, projectID int64, body map[string]interface{}) (bool, error)

	// ListProjectUpdates returns every project update known to the controller.
	ListProjectUpdates(ctx context.Context) ([]AsyncOperation, error)
}

// OperationLister is the subset of ResourceClient the waiter depends on.
type OperationLister interface {
	ListProjectUpdates(ctx context.Context) ([]AsyncOperation, error)
}

// Recorder persists run history. Implementations must tolerate being called
// from a single goroutine only.
type Recorder interface {
	// BeginRun records the start of a run.
	BeginRun(ctx context.Context, run *Run) error

	// RecordDecision stores one reconciliation or teardown decision.
	RecordDecision(ctx context.Context, decision *DecisionRecord) error

	// FinishRun records the terminal status of a run.
	FinishRun(ctx context.Context, runID string, status RunStatus, completedAt time.Time) error
}

// EventPublisher publishes run timeline events.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error
}

// Clock abstracts time for the waiter.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns a Clock backed by the system time.
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Metrics receives counters from the engine.
type Metrics interface {
	RecordDecision(kind Kind, decision Decision)
	RecordWaitPoll(status OperationStatus)
	RecordWaitOutcome(outcome OutcomeKind, elapsed time.Duration)
	RecordRun(operation string, status RunStatus, duration time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordDecision(Kind, Decision)               {}
func (NopMetrics) RecordWaitPoll(OperationStatus)               {}
func (NopMetrics) RecordWaitOutcome(OutcomeKind, time.Duration) {}
func (NopMetrics) RecordRun(string, RunStatus, time.Duration)   {}
