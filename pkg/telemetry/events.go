package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/awxlab/pkg/engine"
)

// EventSubscriber handles one published event.
type EventSubscriber func(event engine.Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event engine.Event) bool

// EventPublisher fans run events out to subscribers. Delivery to a
// subscriber happens on one goroutine at a time, in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan engine.Event
	subscribers []subscriberEntry
	closed      bool
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{config: cfg}
	if cfg.Enabled && cfg.Async {
		ep.buffer = make(chan engine.Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep
}

// Publish implements engine.EventPublisher.
func (ep *EventPublisher) Publish(ctx context.Context, event *engine.Event) error {
	if !ep.config.Enabled || event == nil {
		return nil
	}

	e := *event
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Level == "" {
		e.Level = e.Type.Severity()
	}

	if ep.buffer == nil {
		ep.deliver(e)
		return nil
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return fmt.Errorf("event publisher stopped")
	}

	select {
	case ep.buffer <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("event buffer full, dropped %s", e.Type)
	}
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for e := range ep.buffer {
		ep.deliver(e)
	}
}

func (ep *EventPublisher) deliver(event engine.Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops delivery.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.buffer == nil {
		return nil
	}
	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.buffer)
	}
	ep.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{"info": 0, "warning": 1, "error": 2}
	minLevelValue := levels[minLevel]
	return func(event engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event engine.Event) bool {
		return event.RunID == runID
	}
}
