package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const spacesRego = `# Host names must not contain spaces.
# severity: error
package lab.spaces

import rego.v1

deny contains msg if {
	some host in input.declaration.hosts
	contains(host.name, " ")
	msg := sprintf("host %q contains a space", [host.name])
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "no-spaces.rego")
	writeFile(t, policyFile, spacesRego)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-spaces" {
		t.Errorf("Expected name 'no-spaces', got '%s'", policy.Name)
	}
	if policy.Rego != spacesRego {
		t.Error("Rego content doesn't match")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity from header, got %s", policy.Severity)
	}
	if policy.Description != "Host names must not contain spaces." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "from-json.json")

	data, err := json.Marshal(Policy{
		Description: "A test policy",
		Rego:        "package lab.never\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"x\"\n}\n",
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded.Name != "from-json" {
		t.Errorf("Expected the file name as policy name, got %s", loaded.Name)
	}
	if loaded.Severity != SeverityWarning {
		t.Errorf("Expected warning severity by default, got %s", loaded.Severity)
	}
	if loaded.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, loaded.Source)
	}
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "broken.json")
	writeFile(t, policyFile, "{not json")

	if _, err := loader.loadFromFile(policyFile); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "policy.txt")
	writeFile(t, policyFile, "nothing")

	if _, err := loader.loadFromFile(policyFile); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.Mkdir(nested, 0755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "b.rego"), spacesRego)
	writeFile(t, filepath.Join(dir, "a.rego"), spacesRego)
	writeFile(t, filepath.Join(nested, "c.rego"), spacesRego)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	expected := []string{"a", "b", "c"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("policy %d: expected %s, got %s", i, expected[i], p.Name)
		}
	}
}

func TestLoadFromDirectory_BadFileFails(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.rego"), spacesRego)
	writeFile(t, filepath.Join(dir, "bad.json"), "[")

	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("Expected a bad file to fail the directory load")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestExtractHeader(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		description string
		severity    Severity
	}{
		{
			name:        "no header",
			content:     "package x",
			description: "",
			severity:    SeverityWarning,
		},
		{
			name:        "description only",
			content:     "# First line\n# second line\n\npackage x",
			description: "First line second line",
			severity:    SeverityWarning,
		},
		{
			name:        "severity info",
			content:     "# severity: info\npackage x",
			description: "",
			severity:    SeverityInfo,
		},
		{
			name:        "unknown severity ignored",
			content:     "# severity: fatal\npackage x",
			description: "",
			severity:    SeverityWarning,
		},
		{
			name:        "comments after package ignored",
			content:     "package x\n# severity: error",
			description: "",
			severity:    SeverityWarning,
		},
	}

	loader := NewLoader(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			description, severity := loader.extractHeader(tt.content)
			if description != tt.description {
				t.Errorf("description: expected %q, got %q", tt.description, description)
			}
			if severity != tt.severity {
				t.Errorf("severity: expected %s, got %s", tt.severity, severity)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	writeFile(t, policyFile, spacesRego)

	if _, err := loader.loadFromFile(policyFile); err != nil {
		t.Fatal(err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cached policy, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected empty cache, got %d", len(loader.cache))
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "no-spaces.rego"), spacesRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	policy, err := eng.GetPolicy("no-spaces")
	if err != nil {
		t.Fatal(err)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected header severity, got %s", policy.Severity)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "first.rego"), spacesRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	writeFile(t, filepath.Join(dir, "second.rego"), spacesRego)

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
