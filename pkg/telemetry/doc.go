// Package telemetry instruments awxlab runs with structured logging
// (zerolog), tracing (OpenTelemetry), Prometheus metrics and a run event
// publisher.
//
// A CLI invocation builds one Telemetry from a Config, attaches it to the
// context and wraps the command in an Operation:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	op := telemetry.StartOperation(ctx, "setup")
//	defer op.End(err)
//
// Metrics implements engine.Metrics and awx.RequestObserver, and
// EventPublisher implements engine.EventPublisher, so the same instance is
// handed to the orchestrator, the waiter and the controller transport.
//
// Metrics are served on MetricsConfig.ListenAddress when one is set. Traces
// are exported to stdout or an OTLP collector over gRPC; with the "none"
// exporter spans are still created so log lines carry a trace id.
//
// Exposed metrics, under the awxlab namespace:
//
//   - runs_completed_total{operation,status}
//   - run_duration_seconds{operation}
//   - controller_requests_total{method,endpoint,status}
//   - controller_request_duration_seconds{method,endpoint}
//   - decisions_total{kind,decision}
//   - wait_polls_total{status}
//   - wait_outcomes_total{outcome}
//   - wait_duration_seconds
//   - errors_by_class_total{class}
package telemetry
