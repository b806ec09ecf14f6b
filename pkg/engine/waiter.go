package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Defaults taken by the waiter when the caller passes zero values.
const (
	DefaultWaitTimeout  = 300 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Waiter polls project updates until the latest one for a project reaches a
// terminal status or the timeout elapses.
type Waiter struct {
	client  OperationLister
	clock   Clock
	logger  zerolog.Logger
	metrics Metrics
}

// WaiterOption configures a Waiter.
type WaiterOption func(*Waiter)

// WithClock replaces the system clock.
func WithClock(clock Clock) WaiterOption {
	return func(w *Waiter) {
		w.clock = clock
	}
}

// WithWaiterMetrics sets the metrics sink.
func WithWaiterMetrics(metrics Metrics) WaiterOption {
	return func(w *Waiter) {
		w.metrics = metrics
	}
}

// NewWaiter creates a waiter over client.
func NewWaiter(client OperationLister, logger zerolog.Logger, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		client:  client,
		clock:   RealClock(),
		logger:  logger.With().Str("component", "waiter").Logger(),
		metrics: NopMetrics{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait blocks until the project's most recent update (highest id) is
// terminal, or until timeout has elapsed. Only a listing failure or context
// cancellation produces an error; failed syncs and timeouts are outcomes.
func (w *Waiter) Wait(ctx context.Context, projectID int64, timeout, pollInterval time.Duration) (Outcome, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	start := w.clock.Now()
	polls := 0

	w.logger.Info().
		Int64("project_id", projectID).
		Dur("timeout", timeout).
		Dur("poll_interval", pollInterval).
		Msg("Waiting for project update")

	for w.clock.Now().Sub(start) < timeout {
		ops, err := w.client.ListProjectUpdates(ctx)
		if err != nil {
			return Outcome{Polls: polls, Elapsed: w.clock.Now().Sub(start)},
				fmt.Errorf("poll project updates: %w", err)
		}
		polls++

		if latest, ok := LatestOperation(ops, projectID); ok {
			w.metrics.RecordWaitPoll(latest.Status)
			switch {
			case latest.Status.IsSuccess():
				return w.finish(Outcome{Kind: OutcomeSuccess, Status: latest.Status, OperationID: latest.ID}, start, polls), nil
			case latest.Status.IsFailure():
				return w.finish(Outcome{Kind: OutcomeFailure, Status: latest.Status, OperationID: latest.ID}, start, polls), nil
			}
			w.logger.Debug().
				Int64("project_id", projectID).
				Int64("update_id", latest.ID).
				Str("status", string(latest.Status)).
				Msg("Project update in progress")
		} else {
			w.metrics.RecordWaitPoll("")
			w.logger.Debug().Int64("project_id", projectID).Msg("No project update registered yet")
		}

		// Never sleep past the deadline.
		wait := pollInterval
		if remaining := timeout - w.clock.Now().Sub(start); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		if err := w.clock.Sleep(ctx, wait); err != nil {
			return Outcome{Polls: polls, Elapsed: w.clock.Now().Sub(start)}, err
		}
	}

	return w.finish(Outcome{Kind: OutcomeTimedOut}, start, polls), nil
}

func (w *Waiter) finish(outcome Outcome, start time.Time, polls int) Outcome {
	outcome.Polls = polls
	outcome.Elapsed = w.clock.Now().Sub(start)
	w.metrics.RecordWaitOutcome(outcome.Kind, outcome.Elapsed)

	event := w.logger.Info()
	if outcome.Kind != OutcomeSuccess {
		event = w.logger.Warn()
	}
	event.
		Str("outcome", outcome.String()).
		Int64("update_id", outcome.OperationID).
		Int("polls", polls).
		Dur("elapsed", outcome.Elapsed).
		Msg("Project update wait finished")
	return outcome
}

// LatestOperation returns the operation with the greatest id among those
// belonging to projectID.
func LatestOperation(ops []AsyncOperation, projectID int64) (AsyncOperation, bool) {
	var latest AsyncOperation
	found := false
	for _, op := range ops {
		if op.ParentProjectID != projectID {
			continue
		}
		if !found || op.ID > latest.ID {
			latest = op
			found = true
		}
	}
	return latest, found
}
