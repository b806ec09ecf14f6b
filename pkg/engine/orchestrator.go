package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/awxlab/pkg/engine"

// ResourceSpec is one declared resource: its name and the kind-specific
// fields submitted when it has to be created.
type ResourceSpec struct {
	Name       string
	Attributes map[string]interface{}
}

// WaitSpec controls the project sync wait.
type WaitSpec struct {
	Disabled     bool
	Timeout      time.Duration
	PollInterval time.Duration
}

// Blueprint is the resolved declaration the orchestrator works from.
type Blueprint struct {
	// Name labels runs in the history store.
	Name         string
	Organization int64
	Inventory    ResourceSpec
	Group        ResourceSpec
	// Hosts are reconciled in slice order.
	Hosts       []ResourceSpec
	Project     ResourceSpec
	JobTemplate ResourceSpec
	Wait        WaitSpec
}

// Orchestrator sequences reconciliation in dependency order for setup and
// in reverse order for teardown. It runs strictly sequentially.
type Orchestrator struct {
	client     ResourceClient
	reconciler *Reconciler
	waiter     *Waiter
	logger     zerolog.Logger
	metrics    Metrics
	events     EventPublisher
	recorder   Recorder
	tracer     trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithEvents sets the event publisher.
func WithEvents(events EventPublisher) Option {
	return func(o *Orchestrator) {
		o.events = events
	}
}

// WithRecorder sets the run history recorder.
func WithRecorder(recorder Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithWaiter replaces the default waiter.
func WithWaiter(waiter *Waiter) Option {
	return func(o *Orchestrator) {
		o.waiter = waiter
	}
}

// NewOrchestrator creates an orchestrator over client.
func NewOrchestrator(client ResourceClient, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		metrics: NopMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.reconciler = NewReconciler(client, logger, o.metrics)
	if o.waiter == nil {
		o.waiter = NewWaiter(client, logger, WithWaiterMetrics(o.metrics))
	}
	return o
}

// Setup reconciles the blueprint: inventory, group, hosts, memberships,
// project (with sync and wait when newly created), job template. Only a
// failure to obtain the inventory or a transport failure on the group
// stops the run early; that case is returned as an error alongside the
// partial summary.
func (o *Orchestrator) Setup(ctx context.Context, bp Blueprint) (*SetupSummary, error) {
	summary := &SetupSummary{RunID: uuid.New().String(), StartedAt: time.Now()}
	ctx, span := o.tracer.Start(ctx, "setup", trace.WithAttributes(
		attribute.String("awxlab.run_id", summary.RunID),
		attribute.String("awxlab.declaration", bp.Name),
	))
	defer span.End()

	o.beginRun(ctx, summary.RunID, "setup", bp.Name)

	err := o.setup(ctx, bp, summary)
	summary.Err = err
	summary.Duration = time.Since(summary.StartedAt)

	status := summary.Status()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.finishRun(ctx, summary.RunID, "setup", status, summary.Duration)

	o.logger.Info().
		Str("run_id", summary.RunID).
		Str("status", string(status)).
		Int("created", summary.Created()).
		Dur("duration", summary.Duration).
		Msg("Setup finished")

	return summary, err
}

func (o *Orchestrator) setup(ctx context.Context, bp Blueprint, s *SetupSummary) error {
	// Inventory is required by everything except the project.
	s.Inventory = o.reconcileStep(ctx, s.RunID, Desired{
		Kind:       KindInventory,
		Name:       bp.Inventory.Name,
		Scope:      bp.Organization,
		Attributes: bp.Inventory.Attributes,
	})
	if !s.Inventory.Found() {
		return o.hardStop(KindInventory, bp.Inventory.Name, s.Inventory)
	}
	inventoryID := s.Inventory.ID()

	s.Group = o.reconcileStep(ctx, s.RunID, Desired{
		Kind:       KindGroup,
		Name:       bp.Group.Name,
		Scope:      inventoryID,
		Attributes: bp.Group.Attributes,
		DependsOn:  []int64{inventoryID},
	})
	if s.Group.Err != nil && IsTransportError(s.Group.Err) {
		return o.hardStop(KindGroup, bp.Group.Name, s.Group)
	}

	s.Hosts = make([]HostOutcome, 0, len(bp.Hosts))
	for _, host := range bp.Hosts {
		result := o.reconcileStep(ctx, s.RunID, Desired{
			Kind:       KindHost,
			Name:       host.Name,
			Scope:      inventoryID,
			Attributes: host.Attributes,
			DependsOn:  []int64{inventoryID},
		})
		s.Hosts = append(s.Hosts, HostOutcome{Name: host.Name, Result: result, Err: result.Err})
	}

	o.linkHosts(ctx, s)

	s.Project = o.reconcileStep(ctx, s.RunID, Desired{
		Kind:       KindProject,
		Name:       bp.Project.Name,
		Scope:      bp.Organization,
		Attributes: bp.Project.Attributes,
	})
	if s.Project.Decision == DecisionCreated {
		s.SyncTriggered = o.triggerSync(ctx, s.RunID, *s.Project.Record, bp)
		if !bp.Wait.Disabled {
			o.waitForSync(ctx, s, bp.Wait)
		}
	}

	// An absent project still lets the job template be attempted; the
	// controller rejects it with an explanatory body.
	var projectRef interface{}
	deps := []int64{inventoryID}
	if s.Project.Found() {
		projectRef = s.Project.ID()
		deps = append(deps, s.Project.ID())
	}
	attrs := copyAttributes(bp.JobTemplate.Attributes)
	attrs["project"] = projectRef
	attrs["inventory"] = inventoryID

	s.JobTemplate = o.reconcileStep(ctx, s.RunID, Desired{
		Kind:       KindJobTemplate,
		Name:       bp.JobTemplate.Name,
		Scope:      bp.Organization,
		Attributes: attrs,
		DependsOn:  deps,
	})

	return nil
}

// reconcileStep runs one reconciliation inside its own span and reports the
// decision. Errors are folded into the Result.
func (o *Orchestrator) reconcileStep(ctx context.Context, runID string, desired Desired) Result {
	ctx, span := o.tracer.Start(ctx, "reconcile."+string(desired.Kind), trace.WithAttributes(
		attribute.String("awxlab.kind", string(desired.Kind)),
		attribute.String("awxlab.name", desired.Name),
	))
	defer span.End()

	result, err := o.reconciler.Reconcile(ctx, desired)
	if err != nil {
		result.Err = err
		result.Decision = DecisionFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error().Err(err).
			Str("kind", string(desired.Kind)).
			Str("name", desired.Name).
			Msg("Reconciliation failed")
	}
	span.SetAttributes(attribute.String("awxlab.decision", string(result.Decision)))

	detail := ""
	switch {
	case result.Rejected != nil:
		detail = fmt.Sprintf("status %d: %s", result.Rejected.Status, result.Rejected.Body)
	case result.Err != nil:
		detail = result.Err.Error()
	}
	o.record(ctx, runID, desired.Kind, desired.Name, desired.Scope, result.ID(), result.Decision, detail)
	return result
}

func (o *Orchestrator) hardStop(kind Kind, name string, result Result) error {
	if result.Err != nil {
		return NewTransientError("setup stopped", result.Err).
			WithCode(ErrCodeHardStop).
			WithResource(fmt.Sprintf("%s/%s", kind, name)).
			WithOperation("setup")
	}
	err := NewRejectedError("setup stopped", fmt.Errorf("%s %q is absent", kind, name)).
		WithCode(ErrCodeDependencyAbsent).
		WithResource(fmt.Sprintf("%s/%s", kind, name)).
		WithOperation("setup")
	if result.Rejected != nil {
		err.WithDetail("status", result.Rejected.Status).WithDetail("body", result.Rejected.Body)
	}
	return err
}

// linkHosts adds every reconciled host to the group. Each link is
// independent: a failure marks that host and the loop continues.
func (o *Orchestrator) linkHosts(ctx context.Context, s *SetupSummary) {
	for i := range s.Hosts {
		host := &s.Hosts[i]
		if !host.Result.Found() || !s.Group.Found() {
			host.Membership = DecisionSkipped
			o.record(ctx, s.RunID, KindHost, host.Name, s.Group.ID(), host.Result.ID(), DecisionSkipped, "membership skipped: host or group absent")
			continue
		}

		groupID, hostID := s.Group.ID(), host.Result.ID()
		if err := o.client.AddHostToGroup(ctx, groupID, hostID); err != nil {
			host.Membership = DecisionFailed
			host.Err = err
			o.logger.Error().Err(err).
				Str("host", host.Name).
				Int64("group_id", groupID).
				Msg("Failed to add host to group")
			o.publish(ctx, &Event{
				Type:       EventTypeMembershipFailed,
				RunID:      s.RunID,
				Kind:       KindHost,
				Name:       host.Name,
				ResourceID: hostID,
				Message:    fmt.Sprintf("add %s to group %s: %v", host.Name, s.Group.Record.Name, err),
			})
			o.recordDecision(ctx, s.RunID, KindHost, host.Name, groupID, hostID, DecisionFailed, "membership: "+err.Error())
			continue
		}

		host.Membership = DecisionLinked
		o.logger.Info().
			Str("host", host.Name).
			Str("group", s.Group.Record.Name).
			Msg("Added host to group")
		o.publish(ctx, &Event{
			Type:       EventTypeMembershipAdded,
			RunID:      s.RunID,
			Kind:       KindHost,
			Name:       host.Name,
			ResourceID: hostID,
			Message:    fmt.Sprintf("added %s to group %s", host.Name, s.Group.Record.Name),
		})
		o.recordDecision(ctx, s.RunID, KindHost, host.Name, groupID, hostID, DecisionLinked, "membership")
	}
}

// triggerSync starts the source-control sync of a newly created project.
// The create payload is sent again as the request body.
func (o *Orchestrator) triggerSync(ctx context.Context, runID string, project ResourceRecord, bp Blueprint) bool {
	body := copyAttributes(bp.Project.Attributes)
	body["name"] = bp.Project.Name
	body["organization"] = bp.Organization

	started, err := o.client.TriggerProjectUpdate(ctx, project.ID, body)
	switch {
	case err != nil:
		o.logger.Warn().Err(err).Int64("project_id", project.ID).Msg("Project update request failed")
	case !started:
		o.logger.Warn().Int64("project_id", project.ID).Msg("Project update was not started")
	default:
		o.logger.Info().Int64("project_id", project.ID).Msg("Project update started")
	}

	o.publish(ctx, &Event{
		Type:       EventTypeSyncTriggered,
		RunID:      runID,
		Kind:       KindProject,
		Name:       project.Name,
		ResourceID: project.ID,
		Message:    fmt.Sprintf("sync requested for project %s", project.Name),
		Details:    map[string]interface{}{"started": started},
	})
	return started
}

// waitForSync waits on the project's latest update. Any bad outcome is a
// warning only.
func (o *Orchestrator) waitForSync(ctx context.Context, s *SetupSummary, spec WaitSpec) {
	ctx, span := o.tracer.Start(ctx, "wait.project_update")
	defer span.End()

	outcome, err := o.waiter.Wait(ctx, s.Project.ID(), spec.Timeout, spec.PollInterval)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn().Err(err).Msg("Waiting for project update failed, continuing with job template")
		o.publish(ctx, &Event{
			Type:    EventTypeWarning,
			RunID:   s.RunID,
			Kind:    KindProject,
			Name:    s.Project.Record.Name,
			Message: fmt.Sprintf("wait for project update: %v", err),
		})
		return
	}

	s.Wait = &outcome
	span.SetAttributes(attribute.String("awxlab.outcome", outcome.String()))
	if outcome.Kind != OutcomeSuccess {
		o.logger.Warn().
			Str("outcome", outcome.String()).
			Msg("Project update did not succeed, job template creation may fail")
	}
	o.publish(ctx, &Event{
		Type:       EventTypeSyncOutcome,
		RunID:      s.RunID,
		Kind:       KindProject,
		Name:       s.Project.Record.Name,
		ResourceID: s.Project.ID(),
		Message:    fmt.Sprintf("project update %s", outcome),
		Level:      outcomeLevel(outcome),
		Details:    map[string]interface{}{"update_id": outcome.OperationID, "polls": outcome.Polls},
	})
}

func outcomeLevel(outcome Outcome) string {
	if outcome.Kind == OutcomeSuccess {
		return "info"
	}
	return "warning"
}

// Teardown deletes the blueprint's resources: job template, project, then
// every host and group of the inventory, then the inventory. Each step is
// attempted regardless of earlier failures. The inventory is kept when any
// of its hosts or groups could not be removed.
func (o *Orchestrator) Teardown(ctx context.Context, bp Blueprint) (*TeardownSummary, error) {
	if _, err := NewPlanner().Build(bp); err != nil {
		return nil, fmt.Errorf("plan teardown: %w", err)
	}

	summary := &TeardownSummary{RunID: uuid.New().String(), StartedAt: time.Now()}
	ctx, span := o.tracer.Start(ctx, "teardown", trace.WithAttributes(
		attribute.String("awxlab.run_id", summary.RunID),
		attribute.String("awxlab.declaration", bp.Name),
	))
	defer span.End()

	o.beginRun(ctx, summary.RunID, "teardown", bp.Name)

	summary.Actions = append(summary.Actions, o.deleteByName(ctx, summary.RunID, KindJobTemplate, bp.JobTemplate.Name, bp.Organization))
	summary.Actions = append(summary.Actions, o.deleteByName(ctx, summary.RunID, KindProject, bp.Project.Name, bp.Organization))
	summary.Actions = append(summary.Actions, o.teardownInventory(ctx, summary.RunID, bp.Inventory.Name, bp.Organization)...)

	summary.Duration = time.Since(summary.StartedAt)
	status := summary.Status()
	if status != RunStatusSucceeded {
		span.SetStatus(codes.Error, "teardown incomplete")
	}
	o.finishRun(ctx, summary.RunID, "teardown", status, summary.Duration)

	o.logger.Info().
		Str("run_id", summary.RunID).
		Str("status", string(status)).
		Int("actions", len(summary.Actions)).
		Msg("Teardown finished")
	return summary, nil
}

func (o *Orchestrator) deleteByName(ctx context.Context, runID string, kind Kind, name string, organization int64) TeardownAction {
	records, err := o.client.List(ctx, kind)
	if err != nil {
		return o.teardownAction(ctx, runID, TeardownAction{Kind: kind, Name: name, Decision: DecisionFailed, Err: err})
	}
	record, ok := FindByName(records, Desired{Kind: kind, Name: name, Scope: organization})
	if !ok {
		return o.teardownAction(ctx, runID, TeardownAction{Kind: kind, Name: name, Decision: DecisionAbsent})
	}
	return o.deleteRecord(ctx, runID, record)
}

func (o *Orchestrator) deleteRecord(ctx context.Context, runID string, record ResourceRecord) TeardownAction {
	action := TeardownAction{Kind: record.Kind, Name: record.Name, ID: record.ID, Decision: DecisionDeleted}
	if err := o.client.Delete(ctx, record.Kind, record.ID); err != nil {
		action.Decision = DecisionFailed
		action.Err = err
	}
	return o.teardownAction(ctx, runID, action)
}

func (o *Orchestrator) teardownInventory(ctx context.Context, runID, name string, organization int64) []TeardownAction {
	inventories, err := o.client.List(ctx, KindInventory)
	if err != nil {
		return []TeardownAction{o.teardownAction(ctx, runID, TeardownAction{
			Kind: KindInventory, Name: name, Decision: DecisionFailed, Err: err,
		})}
	}
	inventory, ok := FindByName(inventories, Desired{Kind: KindInventory, Name: name, Scope: organization})
	if !ok {
		return []TeardownAction{o.teardownAction(ctx, runID, TeardownAction{
			Kind: KindInventory, Name: name, Decision: DecisionAbsent,
		})}
	}

	var actions []TeardownAction
	blocked := false
	for _, kind := range []Kind{KindHost, KindGroup} {
		members, err := o.client.ListInInventory(ctx, kind, inventory.ID)
		if err != nil {
			blocked = true
			actions = append(actions, o.teardownAction(ctx, runID, TeardownAction{
				Kind: kind, Name: "*", Decision: DecisionFailed, Err: err,
			}))
			continue
		}
		for _, member := range members {
			action := o.deleteRecord(ctx, runID, member)
			if !action.Decision.Succeeded() {
				blocked = true
			}
			actions = append(actions, action)
		}
	}

	if blocked {
		return append(actions, o.teardownAction(ctx, runID, TeardownAction{
			Kind: KindInventory, Name: inventory.Name, ID: inventory.ID, Decision: DecisionSkipped,
			Err: fmt.Errorf("inventory still has hosts or groups"),
		}))
	}
	return append(actions, o.deleteRecord(ctx, runID, inventory))
}

func (o *Orchestrator) teardownAction(ctx context.Context, runID string, action TeardownAction) TeardownAction {
	event := o.logger.Info()
	switch action.Decision {
	case DecisionFailed, DecisionSkipped:
		event = o.logger.Error().Err(action.Err)
	case DecisionAbsent:
		event = o.logger.Info()
	}
	event.
		Str("kind", string(action.Kind)).
		Str("name", action.Name).
		Int64("id", action.ID).
		Str("decision", string(action.Decision)).
		Msg("Teardown step")

	detail := ""
	if action.Err != nil {
		detail = action.Err.Error()
	}
	o.record(ctx, runID, action.Kind, action.Name, NoScope, action.ID, action.Decision, detail)
	return action
}

// record emits the event, metric and history row for one decision.
func (o *Orchestrator) record(ctx context.Context, runID string, kind Kind, name string, scope, id int64, decision Decision, detail string) {
	o.metrics.RecordDecision(kind, decision)
	o.publish(ctx, &Event{
		Type:       decisionEvent(decision),
		RunID:      runID,
		Kind:       kind,
		Name:       name,
		ResourceID: id,
		Message:    fmt.Sprintf("%s %s/%s", decision, kind, name),
		Details:    map[string]interface{}{"scope": scope, "detail": detail},
	})
	o.recordDecision(ctx, runID, kind, name, scope, id, decision, detail)
}

func (o *Orchestrator) recordDecision(ctx context.Context, runID string, kind Kind, name string, scope, id int64, decision Decision, detail string) {
	if o.recorder == nil {
		return
	}
	err := o.recorder.RecordDecision(ctx, &DecisionRecord{
		RunID:      runID,
		Kind:       kind,
		Name:       name,
		Scope:      scope,
		ResourceID: id,
		Decision:   decision,
		Detail:     detail,
		RecordedAt: time.Now(),
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to record decision")
	}
}

func decisionEvent(decision Decision) EventType {
	switch decision {
	case DecisionReused:
		return EventTypeResourceReused
	case DecisionCreated:
		return EventTypeResourceCreated
	case DecisionRejected:
		return EventTypeResourceRejected
	case DecisionDeleted, DecisionAbsent:
		return EventTypeResourceDeleted
	case DecisionLinked:
		return EventTypeMembershipAdded
	default:
		return EventTypeResourceFailed
	}
}

// beginRun records the run before its first event so stores that key
// events by run see the header first.
func (o *Orchestrator) beginRun(ctx context.Context, runID, operation, declaration string) {
	if o.recorder != nil {
		err := o.recorder.BeginRun(ctx, &Run{
			ID:          runID,
			Operation:   operation,
			Declaration: declaration,
			Status:      RunStatusRunning,
			StartedAt:   time.Now(),
		})
		if err != nil {
			o.logger.Warn().Err(err).Msg("Failed to record run start")
		}
	}
	o.publish(ctx, &Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("%s started", operation),
	})
}

func (o *Orchestrator) finishRun(ctx context.Context, runID, operation string, status RunStatus, duration time.Duration) {
	o.metrics.RecordRun(operation, status, duration)

	eventType := EventTypeRunCompleted
	if status == RunStatusFailed {
		eventType = EventTypeRunFailed
	}
	o.publish(ctx, &Event{
		Type:    eventType,
		RunID:   runID,
		Message: fmt.Sprintf("%s finished: %s", operation, status),
		Details: map[string]interface{}{"duration": duration.Seconds()},
	})

	if o.recorder == nil {
		return
	}
	if err := o.recorder.FinishRun(ctx, runID, status, time.Now()); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to record run completion")
	}
}

func (o *Orchestrator) publish(ctx context.Context, event *Event) {
	if o.events == nil {
		return
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Debug().Err(err).Str("event", string(event.Type)).Msg("Event not published")
	}
}

func copyAttributes(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs)+2)
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
