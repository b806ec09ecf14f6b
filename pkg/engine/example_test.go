package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

func ExamplePlanner_Build() {
	plan, err := NewPlanner().Build(Blueprint{
		Inventory:   ResourceSpec{Name: "lab"},
		Group:       ResourceSpec{Name: "all"},
		Hosts:       []ResourceSpec{{Name: "web1"}},
		Project:     ResourceSpec{Name: "playbooks"},
		JobTemplate: ResourceSpec{Name: "deploy"},
		Wait:        WaitSpec{Disabled: true},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	for _, step := range plan.Setup {
		fmt.Printf("%d %s\n", step.Level, step.ID)
	}
	// Output:
	// 0 inventory/lab
	// 1 group/all
	// 1 host/web1
	// 2 link/web1
	// 0 project/playbooks
	// 1 sync/playbooks
	// 2 job_template/deploy
}

func ExampleReconciler_Reconcile() {
	r := NewReconciler(newStubClient(), zerolog.Nop(), nil)
	desired := Desired{Kind: KindInventory, Name: "lab", Scope: 1}

	for i := 0; i < 2; i++ {
		result, err := r.Reconcile(context.Background(), desired)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(result.Decision, result.ID())
	}
	// Output:
	// created 101
	// reused 101
}

func ExampleOutcome_String() {
	fmt.Println(Outcome{Kind: OutcomeSuccess})
	fmt.Println(Outcome{Kind: OutcomeFailure, Status: OperationStatusCanceled})
	fmt.Println(Outcome{Kind: OutcomeTimedOut})
	// Output:
	// success
	// failure(canceled)
	// timed_out
}
