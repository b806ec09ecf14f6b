package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/awxlab/pkg/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	expected := []string{
		"host-ports",
		"playbook-path",
		"scm-url",
		"tls-verification",
		"unique-hosts",
		"wait-interval",
	}
	policies := eng.ListPolicies()
	if len(policies) != len(expected) {
		t.Fatalf("expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("policy %d: expected %s, got %s", i, expected[i], p.Name)
		}
	}
}

func TestEngine_DefaultDeclarationIsClean(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), config.Default(), "validate")
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("default declaration must be allowed, got %v", result.Violations)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
	if result.Err() != nil {
		t.Errorf("expected nil Err, got %v", result.Err())
	}
	if len(result.EvaluatedPolicies) != 6 {
		t.Errorf("expected 6 evaluated policies, got %v", result.EvaluatedPolicies)
	}
}

func TestEngine_BuiltinViolations(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*config.Declaration)
		wantPolicy  string
		wantSubject string
		blocking    bool
	}{
		{
			name: "duplicate host",
			mutate: func(d *config.Declaration) {
				d.Hosts = append(d.Hosts, config.Host{Name: "wslkali1", Port: 2230})
			},
			wantPolicy:  "unique-hosts",
			wantSubject: "wslkali1",
			blocking:    true,
		},
		{
			name:        "playbook not yaml",
			mutate:      func(d *config.Declaration) { d.JobTemplate.Playbook = "playbooks/site.json" },
			wantPolicy:  "playbook-path",
			wantSubject: "WSL Service Management",
			blocking:    true,
		},
		{
			name:        "absolute playbook",
			mutate:      func(d *config.Declaration) { d.JobTemplate.Playbook = "/srv/site.yml" },
			wantPolicy:  "playbook-path",
			wantSubject: "WSL Service Management",
			blocking:    true,
		},
		{
			name:        "plain http scm",
			mutate:      func(d *config.Declaration) { d.Project.SCMURL = "http://git.lab/repo.git" },
			wantPolicy:  "scm-url",
			wantSubject: "WSL Automation",
			blocking:    true,
		},
		{
			name: "interval not shorter than timeout",
			mutate: func(d *config.Declaration) {
				d.Wait.Timeout = 10 * time.Second
				d.Wait.PollInterval = 10 * time.Second
			},
			wantPolicy:  "wait-interval",
			wantSubject: "wait",
			blocking:    true,
		},
		{
			name:        "privileged port",
			mutate:      func(d *config.Declaration) { d.Hosts[0].Port = 80 },
			wantPolicy:  "host-ports",
			wantSubject: "ubuntuAWX",
		},
		{
			name:        "remote controller without verification",
			mutate:      func(d *config.Declaration) { d.Controller.URL = "https://awx.example.com" },
			wantPolicy:  "tls-verification",
			wantSubject: "controller",
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl := config.Default()
			tt.mutate(decl)

			result, err := eng.Evaluate(context.Background(), decl, "setup")
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}

			found := result.Warnings
			if tt.blocking {
				found = result.Violations
				if result.Allowed {
					t.Error("expected the declaration to be blocked")
				}
				if err := result.Err(); err == nil || !strings.Contains(err.Error(), tt.wantPolicy) {
					t.Errorf("expected Err to name %s, got %v", tt.wantPolicy, err)
				}
			} else if !result.Allowed {
				t.Errorf("warnings must not block, got %v", result.Violations)
			}

			if len(found) != 1 {
				t.Fatalf("expected exactly one finding, got violations=%v warnings=%v", result.Violations, result.Warnings)
			}
			if found[0].Policy != tt.wantPolicy || found[0].Subject != tt.wantSubject {
				t.Errorf("unexpected finding: %+v", found[0])
			}
		})
	}
}

func TestEngine_WaitDisabledSkipsIntervalCheck(t *testing.T) {
	eng := newTestEngine(t)
	decl := config.Default()
	decl.Wait.Enabled = false
	decl.Wait.PollInterval = decl.Wait.Timeout

	result, err := eng.Evaluate(context.Background(), decl, "setup")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("disabled wait must not be checked, got %v", result.Violations)
	}
}

func TestEngine_EnableDisable(t *testing.T) {
	eng := newTestEngine(t)
	decl := config.Default()
	decl.Project.SCMURL = "http://insecure"

	if err := eng.DisablePolicy("scm-url"); err != nil {
		t.Fatal(err)
	}
	result, _ := eng.Evaluate(context.Background(), decl, "setup")
	if !result.Allowed {
		t.Errorf("disabled policy still applied: %v", result.Violations)
	}

	if err := eng.EnablePolicy("scm-url"); err != nil {
		t.Fatal(err)
	}
	result, _ = eng.Evaluate(context.Background(), decl, "setup")
	if result.Allowed {
		t.Error("re-enabled policy not applied")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if _, err := eng.GetPolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestEngine_ReplaceKeepsBuiltins(t *testing.T) {
	eng := newTestEngine(t)
	custom := Policy{
		Name:     "no-spaces",
		Severity: SeverityError,
		Enabled:  true,
		Source:   "no-spaces.rego",
		Rego: `package lab.spaces

import rego.v1

deny contains msg if {
	some host in input.declaration.hosts
	contains(host.name, " ")
	msg := sprintf("host %q contains a space", [host.name])
}
`,
	}

	if err := eng.Replace(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if len(eng.ListPolicies()) != 7 {
		t.Errorf("expected built-ins plus one custom policy, got %d", len(eng.ListPolicies()))
	}

	decl := config.Default()
	decl.Hosts[0].Name = "ubuntu AWX"
	result, err := eng.Evaluate(context.Background(), decl, "setup")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || len(result.Violations) != 1 || result.Violations[0].Policy != "no-spaces" {
		t.Errorf("expected the custom policy to block, got %+v", result)
	}

	if err := eng.Replace(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(eng.ListPolicies()) != 6 {
		t.Errorf("custom policy not removed, have %d", len(eng.ListPolicies()))
	}

	broken := Policy{Name: "broken", Source: "broken.rego", Rego: "package x\n\ndeny contains if {"}
	if err := eng.Replace(context.Background(), []Policy{broken}); err == nil {
		t.Error("expected compile error")
	}
}
