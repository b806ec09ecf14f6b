package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

// stubClient is an in-package ResourceClient for unit tests. Records are
// kept per kind in list order.
type stubClient struct {
	records   map[Kind][]ResourceRecord
	listErr   map[Kind]error
	createErr map[Kind]error
	nextID    int64
	creates   []Desired
	lists     int
	updates   [][]AsyncOperation
	updateErr error
}

func newStubClient() *stubClient {
	return &stubClient{
		records:   make(map[Kind][]ResourceRecord),
		listErr:   make(map[Kind]error),
		createErr: make(map[Kind]error),
		nextID:    100,
	}
}

func (c *stubClient) List(_ context.Context, kind Kind) ([]ResourceRecord, error) {
	c.lists++
	if err := c.listErr[kind]; err != nil {
		return nil, err
	}
	return append([]ResourceRecord(nil), c.records[kind]...), nil
}

func (c *stubClient) ListInInventory(_ context.Context, kind Kind, inventoryID int64) ([]ResourceRecord, error) {
	var out []ResourceRecord
	for _, r := range c.records[kind] {
		if r.Scope == inventoryID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *stubClient) Create(_ context.Context, desired Desired) (ResourceRecord, error) {
	c.creates = append(c.creates, desired)
	if err := c.createErr[desired.Kind]; err != nil {
		return ResourceRecord{}, err
	}
	c.nextID++
	record := ResourceRecord{Kind: desired.Kind, ID: c.nextID, Name: desired.Name, Scope: desired.Scope}
	c.records[desired.Kind] = append(c.records[desired.Kind], record)
	return record, nil
}

func (c *stubClient) Delete(context.Context, Kind, int64) error { return nil }

func (c *stubClient) AddHostToGroup(context.Context, int64, int64) error { return nil }

func (c *stubClient) TriggerProjectUpdate(context.Context, int64, map[string]interface{}) (bool, error) {
	return true, nil
}

// ListProjectUpdates returns the queued snapshots one per call, repeating
// the last one once exhausted.
func (c *stubClient) ListProjectUpdates(context.Context) ([]AsyncOperation, error) {
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	if len(c.updates) == 0 {
		return nil, nil
	}
	ops := c.updates[0]
	if len(c.updates) > 1 {
		c.updates = c.updates[1:]
	}
	return ops, nil
}

type countingMetrics struct {
	NopMetrics
	decisions map[Decision]int
}

func (m *countingMetrics) RecordDecision(_ Kind, d Decision) {
	if m.decisions == nil {
		m.decisions = make(map[Decision]int)
	}
	m.decisions[d]++
}

func TestReconciler_CreatesWhenAbsent(t *testing.T) {
	client := newStubClient()
	metrics := &countingMetrics{}
	r := NewReconciler(client, zerolog.Nop(), metrics)

	result, err := r.Reconcile(context.Background(), Desired{Kind: KindInventory, Name: "WSL Lab", Scope: 1})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Decision != DecisionCreated {
		t.Errorf("Expected created, got %s", result.Decision)
	}
	if !result.Found() || result.Record.Name != "WSL Lab" {
		t.Errorf("Expected created record, got %+v", result.Record)
	}
	if len(client.creates) != 1 {
		t.Errorf("Expected 1 create, got %d", len(client.creates))
	}
	if metrics.decisions[DecisionCreated] != 1 {
		t.Errorf("Expected created metric, got %v", metrics.decisions)
	}
}

func TestReconciler_Idempotent(t *testing.T) {
	client := newStubClient()
	r := NewReconciler(client, zerolog.Nop(), nil)
	desired := Desired{Kind: KindProject, Name: "WSL Automation", Scope: 1}

	first, err := r.Reconcile(context.Background(), desired)
	if err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	second, err := r.Reconcile(context.Background(), desired)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}

	if second.Decision != DecisionReused {
		t.Errorf("Expected reused, got %s", second.Decision)
	}
	if first.ID() != second.ID() {
		t.Errorf("Expected same id, got %d and %d", first.ID(), second.ID())
	}
	if len(client.creates) != 1 {
		t.Errorf("Expected exactly one create, got %d", len(client.creates))
	}
}

func TestReconciler_FirstMatchWins(t *testing.T) {
	client := newStubClient()
	client.records[KindInventory] = []ResourceRecord{
		{Kind: KindInventory, ID: 7, Name: "WSL Lab", Scope: 1},
		{Kind: KindInventory, ID: 3, Name: "WSL Lab", Scope: 2},
	}
	r := NewReconciler(client, zerolog.Nop(), nil)

	result, err := r.Reconcile(context.Background(), Desired{Kind: KindInventory, Name: "WSL Lab", Scope: 1})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.ID() != 7 {
		t.Errorf("Expected first listed record (7), got %d", result.ID())
	}
}

func TestReconciler_HostScopedToInventory(t *testing.T) {
	client := newStubClient()
	client.records[KindHost] = []ResourceRecord{
		{Kind: KindHost, ID: 11, Name: "wslkali1", Scope: 99},
	}
	r := NewReconciler(client, zerolog.Nop(), nil)

	result, err := r.Reconcile(context.Background(), Desired{Kind: KindHost, Name: "wslkali1", Scope: 5})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Decision != DecisionCreated {
		t.Errorf("Host in another inventory must not be reused, got %s", result.Decision)
	}
	if result.Record.Scope != 5 {
		t.Errorf("Expected scope 5, got %d", result.Record.Scope)
	}
}

func TestReconciler_CreationRejected(t *testing.T) {
	client := newStubClient()
	client.createErr[KindJobTemplate] = &CreationRejected{
		Kind: KindJobTemplate, Name: "jt", Status: 400, Body: `{"project":["This field may not be null."]}`,
	}
	r := NewReconciler(client, zerolog.Nop(), nil)

	result, err := r.Reconcile(context.Background(), Desired{Kind: KindJobTemplate, Name: "jt", Scope: 1})
	if err != nil {
		t.Fatalf("rejection must not be returned as an error, got %v", err)
	}
	if result.Found() {
		t.Error("Expected absent result")
	}
	if result.Decision != DecisionRejected {
		t.Errorf("Expected rejected, got %s", result.Decision)
	}
	if result.Rejected == nil || result.Rejected.Status != 400 {
		t.Errorf("Expected rejection details, got %+v", result.Rejected)
	}
}

func TestReconciler_ListFailureDoesNotCreate(t *testing.T) {
	client := newStubClient()
	client.listErr[KindGroup] = &TransportError{Op: "list", Method: "GET", Path: "/api/v2/groups/", Err: errors.New("connection refused")}
	r := NewReconciler(client, zerolog.Nop(), nil)

	result, err := r.Reconcile(context.Background(), Desired{Kind: KindGroup, Name: "all_servers", Scope: 1})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsTransportError(err) {
		t.Errorf("Expected transport error, got %v", err)
	}
	if result.Decision != DecisionFailed {
		t.Errorf("Expected failed decision, got %s", result.Decision)
	}
	if len(client.creates) != 0 {
		t.Errorf("Create must not be attempted after a failed listing")
	}
}

func TestReconciler_InvalidDesired(t *testing.T) {
	r := NewReconciler(newStubClient(), zerolog.Nop(), nil)

	tests := []struct {
		name    string
		desired Desired
	}{
		{"unknown kind", Desired{Kind: "credential", Name: "x"}},
		{"empty name", Desired{Kind: KindHost}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Reconcile(context.Background(), tt.desired)
			var engErr *EngineError
			if !errors.As(err, &engErr) || engErr.Class != ErrorClassValidation {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestFindByName(t *testing.T) {
	records := []ResourceRecord{
		{ID: 1, Name: "a", Scope: 1},
		{ID: 2, Name: "b", Scope: 1},
		{ID: 3, Name: "b", Scope: 2},
		{ID: 4, Name: "t", Scope: NoScope},
	}

	tests := []struct {
		name    string
		desired Desired
		wantID  int64
		wantOK  bool
	}{
		{"org kind matches organization", Desired{Kind: KindProject, Name: "b", Scope: 2}, 3, true},
		{"org kind in another organization", Desired{Kind: KindInventory, Name: "a", Scope: 7}, 0, false},
		{"unknown organization matches by name", Desired{Kind: KindProject, Name: "b"}, 2, true},
		{"record without organization", Desired{Kind: KindJobTemplate, Name: "t", Scope: 1}, 4, true},
		{"group matches scope", Desired{Kind: KindGroup, Name: "b", Scope: 2}, 3, true},
		{"no match", Desired{Kind: KindHost, Name: "c", Scope: 1}, 0, false},
		{"exact name only", Desired{Kind: KindInventory, Name: "A"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindByName(records, tt.desired)
			if ok != tt.wantOK || got.ID != tt.wantID {
				t.Errorf("FindByName() = (%d, %v), want (%d, %v)", got.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
