// Package engine provides the reconciliation core of awxlab.
//
// # Overview
//
// awxlab brings an automation controller (AWX) to a declared lab state:
// an inventory with one group and its hosts, a source-controlled project
// and a job template that ties them together. The engine guarantees
// existence, not convergence. A resource already present under the
// declared name is reused as-is, whatever its attributes.
//
// The package is built from four pieces:
//
//   - ResourceClient: the controller operations the engine needs (list,
//     create, delete, group membership, project sync). Implemented by
//     package awx.
//   - Reconciler: get-or-create for a single resource.
//   - Waiter: polls project updates until the latest one is terminal or a
//     timeout elapses.
//   - Orchestrator: runs setup in dependency order and teardown in reverse.
//
// # Decisions
//
// Every step ends in a Decision: reused, created, rejected, failed,
// skipped, linked, deleted or absent. A rejected creation is not an error;
// it yields an absent resource and dependents are skipped or attempted
// with a null reference. Only the inventory, or a transport failure while
// reconciling the group, stops a setup run early.
//
// # Errors
//
// Client failures are typed:
//
//   - *TransportError: connection failure, timeout or an unexpected status
//   - *DecodingError: a response that does not fit the resource schema
//   - *CreationRejected: the controller refused a create request
//
// Orchestration failures are wrapped in *EngineError with a class and code.
//
// # Planning
//
// Planner lays out the steps of a Blueprint as a DAG. Levels come from
// Kahn's algorithm; teardown runs the levels in reverse. The plan is used
// for display and to check the teardown order before anything is deleted.
//
// # Concurrency
//
// Orchestrator runs every step sequentially on the calling goroutine. None
// of the types here are safe for concurrent use by multiple runs.
package engine
