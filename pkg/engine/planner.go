package engine

import "fmt"

// Plan is the ordered list of steps a setup or teardown would take, with
// the dependency graph they were derived from.
type Plan struct {
	Declaration string          `json:"declaration"`
	Setup       []PlanStep      `json:"setup"`
	Teardown    []PlanStep      `json:"teardown"`
	Graph       *ExecutionGraph `json:"graph"`

	dag *DAGBuilder
}

// Planner derives plans from blueprints. It never contacts the controller.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// StepID returns the plan step identifier for an action on a resource.
func StepID(action StepAction, kind Kind, name string) string {
	if action == StepReconcile || action == StepDelete {
		return fmt.Sprintf("%s/%s", kind, name)
	}
	return fmt.Sprintf("%s/%s", action, name)
}

// Build lays out the setup steps in the order the orchestrator executes
// them, levels them through the dependency graph and derives the teardown
// order. It fails when the order is not a valid topological order.
func (p *Planner) Build(bp Blueprint) (*Plan, error) {
	inventory := StepID(StepReconcile, KindInventory, bp.Inventory.Name)
	group := StepID(StepReconcile, KindGroup, bp.Group.Name)
	project := StepID(StepReconcile, KindProject, bp.Project.Name)
	sync := StepID(StepSync, KindProject, bp.Project.Name)

	setup := []PlanStep{
		{ID: inventory, Kind: KindInventory, Name: bp.Inventory.Name, Action: StepReconcile},
		{ID: group, Kind: KindGroup, Name: bp.Group.Name, Action: StepReconcile, DependsOn: []string{inventory}},
	}
	for _, host := range bp.Hosts {
		setup = append(setup, PlanStep{
			ID:        StepID(StepReconcile, KindHost, host.Name),
			Kind:      KindHost,
			Name:      host.Name,
			Action:    StepReconcile,
			DependsOn: []string{inventory},
		})
	}
	for _, host := range bp.Hosts {
		setup = append(setup, PlanStep{
			ID:        StepID(StepLink, KindHost, host.Name),
			Kind:      KindHost,
			Name:      host.Name,
			Action:    StepLink,
			DependsOn: []string{group, StepID(StepReconcile, KindHost, host.Name)},
		})
	}

	setup = append(setup,
		PlanStep{ID: project, Kind: KindProject, Name: bp.Project.Name, Action: StepReconcile},
		PlanStep{ID: sync, Kind: KindProject, Name: bp.Project.Name, Action: StepSync, DependsOn: []string{project}},
	)
	templateDeps := []string{inventory, project, sync}
	if !bp.Wait.Disabled {
		wait := StepID(StepWait, KindProject, bp.Project.Name)
		setup = append(setup, PlanStep{
			ID: wait, Kind: KindProject, Name: bp.Project.Name, Action: StepWait, DependsOn: []string{sync},
		})
		templateDeps = append(templateDeps, wait)
	}
	setup = append(setup, PlanStep{
		ID:        StepID(StepReconcile, KindJobTemplate, bp.JobTemplate.Name),
		Kind:      KindJobTemplate,
		Name:      bp.JobTemplate.Name,
		Action:    StepReconcile,
		DependsOn: templateDeps,
	})

	dag := NewDAGBuilder()
	graph, err := dag.BuildGraph(setup)
	if err != nil {
		return nil, err
	}
	if err := ValidateOrder(setup); err != nil {
		return nil, err
	}

	plan := &Plan{
		Declaration: bp.Name,
		Setup:       setup,
		Graph:       graph,
		dag:         dag,
	}
	plan.Teardown = teardownSteps(bp)
	if err := CheckTeardownOrder(graph, plan.Teardown); err != nil {
		return nil, err
	}
	return plan, nil
}

// teardownSteps lists deletions in the order the orchestrator runs them.
// Hosts and groups are enumerated from the inventory at run time; the plan
// shows the declared ones.
func teardownSteps(bp Blueprint) []PlanStep {
	steps := []PlanStep{
		{ID: StepID(StepDelete, KindJobTemplate, bp.JobTemplate.Name), Kind: KindJobTemplate, Name: bp.JobTemplate.Name, Action: StepDelete},
		{ID: StepID(StepDelete, KindProject, bp.Project.Name), Kind: KindProject, Name: bp.Project.Name, Action: StepDelete},
	}
	for _, host := range bp.Hosts {
		steps = append(steps, PlanStep{
			ID: StepID(StepDelete, KindHost, host.Name), Kind: KindHost, Name: host.Name, Action: StepDelete,
		})
	}
	steps = append(steps,
		PlanStep{ID: StepID(StepDelete, KindGroup, bp.Group.Name), Kind: KindGroup, Name: bp.Group.Name, Action: StepDelete},
		PlanStep{ID: StepID(StepDelete, KindInventory, bp.Inventory.Name), Kind: KindInventory, Name: bp.Inventory.Name, Action: StepDelete},
	)
	return steps
}

// CheckTeardownOrder verifies that every resource is deleted before each
// resource it depends on. Dependencies through link, sync and wait steps
// are followed transitively.
func CheckTeardownOrder(graph *ExecutionGraph, teardown []PlanStep) error {
	position := make(map[string]int, len(teardown))
	for i, step := range teardown {
		position[step.ID] = i
	}

	for _, step := range teardown {
		for _, dep := range resourceDependencies(graph, step.ID) {
			depPos, ok := position[dep]
			if !ok {
				continue
			}
			if depPos < position[step.ID] {
				return NewValidationError(
					fmt.Sprintf("teardown removes %s before its dependent %s", dep, step.ID), nil,
				)
			}
		}
	}
	return nil
}

// resourceDependencies returns the reconcile steps id depends on, looking
// through intermediate steps.
func resourceDependencies(graph *ExecutionGraph, id string) []string {
	node, ok := graph.Nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	queue := append([]string{}, node.Dependencies...)
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
		if n, ok := graph.Nodes[dep]; ok {
			queue = append(queue, n.Dependencies...)
		}
	}
	return out
}

// Levels returns the setup levels, roots first.
func (p *Plan) Levels() [][]string {
	return p.dag.GetLevels()
}

// TeardownLevels returns the setup levels reversed.
func (p *Plan) TeardownLevels() [][]string {
	return p.dag.ReverseLevels()
}

// ToDOT renders the setup graph for Graphviz.
func (p *Plan) ToDOT() string {
	return p.dag.ToDOT()
}
