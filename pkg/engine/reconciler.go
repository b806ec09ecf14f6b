package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Reconciler implements get-or-create for every resource kind. It
// guarantees existence only: a resource that already exists under the
// desired name is returned as-is, whatever its attributes.
type Reconciler struct {
	client  ResourceClient
	logger  zerolog.Logger
	metrics Metrics
}

// NewReconciler creates a reconciler over client.
func NewReconciler(client ResourceClient, logger zerolog.Logger, metrics Metrics) *Reconciler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Reconciler{
		client:  client,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		metrics: metrics,
	}
}

// Reconcile returns the existing resource named desired.Name in
// desired.Scope, or creates it. A rejected creation yields an Absent result
// with the rejection attached and a nil error; transport and decoding
// failures are returned as errors.
func (r *Reconciler) Reconcile(ctx context.Context, desired Desired) (Result, error) {
	if err := desired.Kind.Validate(); err != nil {
		return Absent(DecisionFailed), NewValidationError("cannot reconcile", err).WithResource(desired.Ref())
	}
	if desired.Name == "" {
		return Absent(DecisionFailed), NewValidationError("cannot reconcile", fmt.Errorf("empty name")).
			WithResource(string(desired.Kind))
	}

	existing, err := r.client.List(ctx, desired.Kind)
	if err != nil {
		r.metrics.RecordDecision(desired.Kind, DecisionFailed)
		return Result{Decision: DecisionFailed, Err: err}, fmt.Errorf("list %s: %w", desired.Kind, err)
	}

	if record, ok := FindByName(existing, desired); ok {
		r.logger.Info().
			Str("kind", string(desired.Kind)).
			Str("name", record.Name).
			Int64("id", record.ID).
			Int64("scope", record.Scope).
			Msg("Using existing resource")
		r.metrics.RecordDecision(desired.Kind, DecisionReused)
		return Found(record, DecisionReused), nil
	}

	created, err := r.client.Create(ctx, desired)
	if err != nil {
		if rejected, ok := AsCreationRejected(err); ok {
			r.logger.Warn().
				Str("kind", string(desired.Kind)).
				Str("name", desired.Name).
				Int("status", rejected.Status).
				Str("body", rejected.Body).
				Msg("Controller rejected creation")
			r.metrics.RecordDecision(desired.Kind, DecisionRejected)
			result := Absent(DecisionRejected)
			result.Rejected = rejected
			return result, nil
		}
		r.metrics.RecordDecision(desired.Kind, DecisionFailed)
		return Result{Decision: DecisionFailed, Err: err}, fmt.Errorf("create %s: %w", desired.Ref(), err)
	}

	r.logger.Info().
		Str("kind", string(desired.Kind)).
		Str("name", created.Name).
		Int64("id", created.ID).
		Int64("scope", created.Scope).
		Msg("Resource created")
	r.metrics.RecordDecision(desired.Kind, DecisionCreated)
	return Found(created, DecisionCreated), nil
}

// FindByName returns the first record, in list order, whose name equals
// desired.Name. For inventory-scoped kinds the record must also belong to
// desired.Scope. Organization-scoped kinds compare organizations only when
// both sides know theirs; the controller may report none for a job template.
func FindByName(records []ResourceRecord, desired Desired) (ResourceRecord, bool) {
	for _, record := range records {
		if record.Name != desired.Name {
			continue
		}
		if desired.Kind.InventoryScoped() {
			if record.Scope != desired.Scope {
				continue
			}
		} else if desired.Scope != NoScope && record.Scope != NoScope && record.Scope != desired.Scope {
			continue
		}
		return record, true
	}
	return ResourceRecord{}, false
}
