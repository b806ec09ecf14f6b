package engine

import (
	"fmt"
	"sort"
	"strings"
)

// StepAction is what a plan step does to its resource.
type StepAction string

const (
	StepReconcile StepAction = "reconcile"
	StepLink      StepAction = "link"
	StepSync      StepAction = "sync"
	StepWait      StepAction = "wait"
	StepDelete    StepAction = "delete"
)

// PlanStep is one node of the dependency graph.
type PlanStep struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Name      string     `json:"name"`
	Action    StepAction `json:"action"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Level     int        `json:"level"`
}

// GraphNode is a step placed in the graph.
type GraphNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// GraphEdge points from a dependency to the step that needs it.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ExecutionGraph is the levelled dependency graph of a plan.
type ExecutionGraph struct {
	Nodes map[string]*GraphNode `json:"nodes"`
	Edges []GraphEdge           `json:"edges"`
	Roots []string              `json:"roots"`
	Depth int                   `json:"depth"`
}

// DAGBuilder builds a directed acyclic graph from plan steps, detects
// cycles and assigns each step a level (Kahn). Within a level, steps keep
// the order in which they were added.
type DAGBuilder struct {
	steps map[string]*PlanStep

	// order is insertion order; it makes levels and DOT output stable.
	order []string

	// adjacencyList maps step IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps step IDs to their dependencies
	reverseAdjacencyList map[string][]string

	inDegree map[string]int
	levels   [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		steps:                make(map[string]*PlanStep),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph constructs the graph. Levels are written back into steps.
func (b *DAGBuilder) BuildGraph(steps []PlanStep) (*ExecutionGraph, error) {
	if len(steps) == 0 {
		return &ExecutionGraph{
			Nodes: make(map[string]*GraphNode),
			Edges: make([]GraphEdge, 0),
			Roots: make([]string, 0),
		}, nil
	}

	if err := b.initialize(steps); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	graph := b.buildExecutionGraph()
	for i := range steps {
		steps[i].Level = graph.Nodes[steps[i].ID].Level
	}
	return graph, nil
}

func (b *DAGBuilder) initialize(steps []PlanStep) error {
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return NewValidationError("plan step has empty ID", nil)
		}
		if _, exists := b.steps[step.ID]; exists {
			return NewValidationError(fmt.Sprintf("duplicate plan step: %s", step.ID), nil).
				WithResource(step.ID)
		}
		b.steps[step.ID] = step
		b.order = append(b.order, step.ID)
		b.adjacencyList[step.ID] = make([]string, 0)
		b.reverseAdjacencyList[step.ID] = make([]string, 0)
		b.inDegree[step.ID] = 0
	}

	for _, id := range b.order {
		step := b.steps[id]
		for _, dep := range step.DependsOn {
			if _, exists := b.steps[dep]; !exists {
				return NewValidationError(
					fmt.Sprintf("plan step %s depends on unknown step %s", step.ID, dep), nil,
				).WithResource(step.ID)
			}
			b.adjacencyList[dep] = append(b.adjacencyList[dep], step.ID)
			b.reverseAdjacencyList[step.ID] = append(b.reverseAdjacencyList[step.ID], dep)
			b.inDegree[step.ID]++
		}
	}
	return nil
}

// detectCycles runs a depth-first search over dependents.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.order {
		if visited[id] {
			continue
		}
		if cycle := b.visit(id, visited, recStack, nil); cycle != nil {
			return NewValidationError(
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil,
			)
		}
	}
	return nil
}

func (b *DAGBuilder) visit(id string, visited, recStack map[string]bool, path []string) []string {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	for _, dependent := range b.adjacencyList[id] {
		if !visited[dependent] {
			if cycle := b.visit(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
			continue
		}
		if recStack[dependent] {
			for i, p := range path {
				if p == dependent {
					return append(append([]string{}, path[i:]...), dependent)
				}
			}
		}
	}

	recStack[id] = false
	return nil
}

func (b *DAGBuilder) computeLevels() error {
	position := make(map[string]int, len(b.order))
	inDegree := make(map[string]int, len(b.inDegree))
	current := make([]string, 0)
	for i, id := range b.order {
		position[id] = i
		inDegree[id] = b.inDegree[id]
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range b.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		current = next
	}

	if processed != len(b.steps) {
		return NewPermanentError("failed to level every plan step", nil)
	}
	return nil
}

func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes: make(map[string]*GraphNode, len(b.steps)),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}

	for _, id := range b.order {
		for _, dep := range b.steps[id].DependsOn {
			graph.Edges = append(graph.Edges, GraphEdge{From: dep, To: id})
		}
	}
	return graph
}

// GetLevels returns the computed levels, roots first.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ReverseLevels returns the levels leaves first, the order in which
// resources can be removed.
func (b *DAGBuilder) ReverseLevels() [][]string {
	out := make([][]string, 0, len(b.levels))
	for i := len(b.levels) - 1; i >= 0; i-- {
		out = append(out, b.levels[i])
	}
	return out
}

// ToDOT renders the graph for Graphviz.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Plan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			step := b.steps[id]
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
				id, step.Action, step.Name, actionColor(step.Action))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range b.order {
		for _, dep := range b.steps[id].DependsOn {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func actionColor(action StepAction) string {
	switch action {
	case StepReconcile:
		return "lightgreen"
	case StepLink:
		return "lightblue"
	case StepSync, StepWait:
		return "lightyellow"
	case StepDelete:
		return "lightcoral"
	default:
		return "white"
	}
}

// ValidateOrder checks that every step in order appears after all of its
// dependencies.
func ValidateOrder(order []PlanStep) error {
	seen := make(map[string]bool, len(order))
	for _, step := range order {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return NewValidationError(
					fmt.Sprintf("step %s runs before its dependency %s", step.ID, dep), nil,
				).WithResource(step.ID)
			}
		}
		seen[step.ID] = true
	}
	return nil
}
