package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openfroyo/awxlab/pkg/awx"
	"github.com/openfroyo/awxlab/pkg/config"
	"github.com/openfroyo/awxlab/pkg/credentials"
	"github.com/openfroyo/awxlab/pkg/engine"
	"github.com/openfroyo/awxlab/pkg/policy"
	"github.com/openfroyo/awxlab/pkg/stores"
	"github.com/openfroyo/awxlab/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

// app carries what one command invocation needs.
type app struct {
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	out      io.Writer
	policies *policy.Engine
}

// newTransport builds the controller transport. Tests replace it with an
// in-memory controller.
var newTransport = func(ctx context.Context, decl *config.Declaration, a *app) (awx.Transport, error) {
	src, err := credentials.Parse(decl.Token.Source, credentials.Options{
		Kubeconfig:   decl.Resolve(decl.Token.Kubeconfig),
		VaultAddress: decl.Token.VaultAddress,
	})
	if err != nil {
		return nil, err
	}
	token, err := credentials.Resolve(ctx, src)
	if err != nil {
		return nil, err
	}

	return awx.NewHTTPTransport(awx.HTTPConfig{
		BaseURL:            decl.Controller.URL,
		Token:              token,
		Timeout:            decl.Controller.RequestTimeout,
		InsecureSkipVerify: !decl.Controller.VerifyTLS,
		RequestsPerSecond:  decl.Controller.RequestsPerSecond,
		Burst:              decl.Controller.Burst,
	}, a.logger, awx.WithObserver(a.tel.Metrics))
}

func telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion

	switch {
	case verbose:
		cfg.Logging.Level = "debug"
	case os.Getenv("LOG_LEVEL") != "":
		cfg.Logging.Level = os.Getenv("LOG_LEVEL")
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}

	cfg.Metrics.ListenAddress = metricsAddr
	if traceExporter != "" && traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
	}
	return cfg
}

// runCommand wraps fn in the telemetry of one invocation: logger, command
// span, metrics endpoint and event publisher, shut down on return.
func runCommand(cmd *cobra.Command, name string, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := tel.Shutdown(shutdownCtx); serr != nil {
			tel.Logger.Error(serr, "Telemetry shutdown failed")
		}
	}()

	ctx = tel.WithContext(ctx)
	if err := tel.Metrics.StartMetricsServer(ctx); err != nil {
		return err
	}

	op := telemetry.StartOperation(ctx, name)
	defer func() {
		op.End(err)
		if err != nil {
			tel.Metrics.RecordError(err)
		}
	}()

	return fn(op.Ctx, &app{
		tel:    tel,
		logger: op.Logger.Zerolog(),
		out:    cmd.OutOrStdout(),
	})
}

// loadDeclaration reads the declaration and applies environment and flag
// overrides, flags last.
func loadDeclaration() (*config.Declaration, error) {
	decl, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return applyOverrides(decl)
}

func applyOverrides(decl *config.Declaration) (*config.Declaration, error) {
	decl.ApplyEnv()
	if controllerURL != "" {
		decl.Controller.URL = controllerURL
	}
	if tokenSource != "" {
		decl.Token.Source = tokenSource
	}
	if statePath != "" {
		decl.State.Path = statePath
	}
	if policyDir != "" {
		decl.State.PolicyDir = policyDir
	}

	if err := config.Validate(decl); err != nil {
		return nil, err
	}
	return decl, nil
}

func (a *app) newClient(ctx context.Context, decl *config.Declaration) (*awx.Client, error) {
	transport, err := newTransport(ctx, decl, a)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to controller: %w", err)
	}
	return awx.NewClient(transport, a.logger), nil
}

func (a *app) openStore(ctx context.Context, decl *config.Declaration) (*stores.SQLiteStore, error) {
	return stores.Open(ctx, decl.Resolve(decl.State.Path))
}

// newOrchestrator wires the orchestrator to metrics, the waiter and the
// history store. Events fan out through the telemetry publisher into the
// store.
func (a *app) newOrchestrator(ctx context.Context, client *awx.Client, store *stores.SQLiteStore) *engine.Orchestrator {
	a.tel.Events.Subscribe(func(event engine.Event) {
		if err := store.Publish(ctx, &event); err != nil {
			a.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to store event")
		}
	}, nil)

	waiter := engine.NewWaiter(client, a.logger, engine.WithWaiterMetrics(a.tel.Metrics))
	return engine.NewOrchestrator(client, a.logger,
		engine.WithMetrics(a.tel.Metrics),
		engine.WithEvents(a.tel.Events),
		engine.WithRecorder(store),
		engine.WithWaiter(waiter),
	)
}

// policyEngine returns the invocation's policy engine, loading the built-in
// and local policies on first use.
func (a *app) policyEngine(ctx context.Context, decl *config.Declaration) (*policy.Engine, error) {
	if a.policies != nil {
		return a.policies, nil
	}
	eng, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if decl.State.PolicyDir != "" {
		if err := eng.LoadPolicies(ctx, []string{decl.Resolve(decl.State.PolicyDir)}); err != nil {
			return nil, err
		}
	}
	a.policies = eng
	return eng, nil
}

// checkPolicies evaluates the policies for operation and logs the warnings.
// Blocking violations are left in the result.
func (a *app) checkPolicies(ctx context.Context, decl *config.Declaration, operation string) (*policy.Result, error) {
	eng, err := a.policyEngine(ctx, decl)
	if err != nil {
		return nil, err
	}

	result, err := eng.Evaluate(ctx, decl, operation)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		a.logger.Warn().
			Str("policy", w.Policy).
			Str("subject", w.Subject).
			Msg(w.Message)
	}
	return result, nil
}

// tagRun attaches the orchestrator run id to the command span.
func tagRun(ctx context.Context, runID string) {
	if runID != "" {
		trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrRunID.String(runID))
	}
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
