package engine

import (
	"strings"
	"testing"
)

func TestDAGBuilder_BuildGraph_EmptySteps(t *testing.T) {
	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph([]PlanStep{})

	if err != nil {
		t.Fatalf("Expected no error for empty steps, got: %v", err)
	}
	if len(graph.Nodes) != 0 {
		t.Errorf("Expected 0 nodes, got %d", len(graph.Nodes))
	}
	if graph.Depth != 0 {
		t.Errorf("Expected depth 0, got %d", graph.Depth)
	}
}

func TestDAGBuilder_BuildGraph_LinearDependencies(t *testing.T) {
	steps := []PlanStep{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(steps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if graph.Depth != 3 {
		t.Errorf("Expected depth 3, got %d", graph.Depth)
	}
	for i, id := range []string{"a", "b", "c"} {
		if graph.Nodes[id].Level != i {
			t.Errorf("%s should be at level %d, got %d", id, i, graph.Nodes[id].Level)
		}
		if steps[i].Level != i {
			t.Errorf("step %s level not written back: got %d", id, steps[i].Level)
		}
	}
	if len(graph.Roots) != 1 || graph.Roots[0] != "a" {
		t.Errorf("Expected root [a], got %v", graph.Roots)
	}
	if len(graph.Edges) != 2 {
		t.Errorf("Expected 2 edges, got %d", len(graph.Edges))
	}
}

func TestDAGBuilder_BuildGraph_LevelsKeepInsertionOrder(t *testing.T) {
	steps := []PlanStep{
		{ID: "root"},
		{ID: "z", DependsOn: []string{"root"}},
		{ID: "m", DependsOn: []string{"root"}},
		{ID: "a", DependsOn: []string{"root"}},
	}

	builder := NewDAGBuilder()
	if _, err := builder.BuildGraph(steps); err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	levels := builder.GetLevels()
	if len(levels) != 2 {
		t.Fatalf("Expected 2 levels, got %d", len(levels))
	}
	got := strings.Join(levels[1], ",")
	if got != "z,m,a" {
		t.Errorf("Expected level 1 to be z,m,a, got %s", got)
	}

	reversed := builder.ReverseLevels()
	if reversed[0][0] != "z" || reversed[1][0] != "root" {
		t.Errorf("Unexpected reverse levels: %v", reversed)
	}
}

func TestDAGBuilder_BuildGraph_Errors(t *testing.T) {
	tests := []struct {
		name    string
		steps   []PlanStep
		wantMsg string
	}{
		{
			name:    "empty id",
			steps:   []PlanStep{{ID: ""}},
			wantMsg: "empty ID",
		},
		{
			name:    "duplicate id",
			steps:   []PlanStep{{ID: "a"}, {ID: "a"}},
			wantMsg: "duplicate plan step",
		},
		{
			name:    "unknown dependency",
			steps:   []PlanStep{{ID: "a", DependsOn: []string{"missing"}}},
			wantMsg: "unknown step missing",
		},
		{
			name: "cycle",
			steps: []PlanStep{
				{ID: "root"},
				{ID: "a", DependsOn: []string{"root", "c"}},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"b"}},
			},
			wantMsg: "circular dependency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDAGBuilder().BuildGraph(tt.steps)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestDAGBuilder_ToDOT(t *testing.T) {
	steps := []PlanStep{
		{ID: "inventory/lab", Name: "lab", Action: StepReconcile},
		{ID: "group/all", Name: "all", Action: StepReconcile, DependsOn: []string{"inventory/lab"}},
	}

	builder := NewDAGBuilder()
	if _, err := builder.BuildGraph(steps); err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	dot := builder.ToDOT()
	for _, want := range []string{
		"digraph Plan {",
		"cluster_level_0",
		"cluster_level_1",
		`"inventory/lab" -> "group/all";`,
		"lightgreen",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}

func TestValidateOrder(t *testing.T) {
	good := []PlanStep{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}
	if err := ValidateOrder(good); err != nil {
		t.Errorf("Expected valid order, got %v", err)
	}

	bad := []PlanStep{{ID: "b", DependsOn: []string{"a"}}, {ID: "a"}}
	if err := ValidateOrder(bad); err == nil {
		t.Error("Expected error for dependency after dependent")
	}
}
