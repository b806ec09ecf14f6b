package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		checkFunc func(*testing.T, *Declaration)
	}{
		{
			name: "host mapping keeps order",
			content: `
name: lab
hosts:
  wslubuntu1: 2223
  argo_cd_mgt: 2226
  ubuntuAWX: 2225
wait:
  timeout: 60s
`,
			checkFunc: func(t *testing.T, d *Declaration) {
				want := []string{"wslubuntu1", "argo_cd_mgt", "ubuntuAWX"}
				if got := d.Hosts.Names(); !reflect.DeepEqual(got, want) {
					t.Errorf("expected hosts %v, got %v", want, got)
				}
				if d.Hosts[1].Port != 2226 {
					t.Errorf("expected port 2226, got %d", d.Hosts[1].Port)
				}
				if d.Wait.Timeout != 60*time.Second {
					t.Errorf("expected timeout 60s, got %v", d.Wait.Timeout)
				}
				if d.Wait.PollInterval != DefaultPollInterval {
					t.Errorf("expected default poll interval, got %v", d.Wait.PollInterval)
				}
				if d.Inventory.Name != "WSL Lab" {
					t.Errorf("expected default inventory name, got %q", d.Inventory.Name)
				}
			},
		},
		{
			name: "host sequence with overrides",
			content: `
hosts:
  - name: edge
    port: 22
    address: 10.0.0.5
    user: ops
    variables:
      ansible_python_interpreter: /usr/bin/python3
  - name: core
    port: 2222
`,
			checkFunc: func(t *testing.T, d *Declaration) {
				if len(d.Hosts) != 2 {
					t.Fatalf("expected 2 hosts, got %d", len(d.Hosts))
				}
				if d.Hosts[0].Address != "10.0.0.5" || d.Hosts[0].User != "ops" {
					t.Errorf("unexpected overrides: %+v", d.Hosts[0])
				}
				if d.Hosts[0].Variables["ansible_python_interpreter"] != "/usr/bin/python3" {
					t.Errorf("expected declared variable, got %v", d.Hosts[0].Variables)
				}
			},
		},
		{
			name: "mapping entry with fields",
			content: `
hosts:
  edge:
    port: 22
    address: edge.lab
`,
			checkFunc: func(t *testing.T, d *Declaration) {
				if d.Hosts[0].Name != "edge" || d.Hosts[0].Address != "edge.lab" {
					t.Errorf("unexpected host: %+v", d.Hosts[0])
				}
			},
		},
		{
			name:    "empty file yields defaults",
			content: "",
			checkFunc: func(t *testing.T, d *Declaration) {
				if !reflect.DeepEqual(d.Hosts, Default().Hosts) {
					t.Errorf("expected default hosts, got %v", d.Hosts)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl, err := Load(writeFile(t, "lab.yaml", tt.content))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.checkFunc(t, decl)
		})
	}
}

func TestLoad_MinimalHostMapping(t *testing.T) {
	path := writeFile(t, "lab.yaml", "hosts: {a: 2223, b: 2224}\n")

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := d.Hosts.Names(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected hosts [a b], got %v", got)
	}
	if d.Hosts[1].Port != 2224 {
		t.Errorf("expected port 2224, got %d", d.Hosts[1].Port)
	}
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, "lab.cue", `
name: "cue-lab"
organization: 2

hosts: {
	alpha: 2201
	beta:  alpha + 1
}

controller: {
	url:        "https://awx.example.com"
	verify_tls: true
}

wait: poll_interval: "2s"
`)

	decl, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decl.Name != "cue-lab" || decl.Organization != 2 {
		t.Errorf("unexpected header: %s %d", decl.Name, decl.Organization)
	}
	if got := decl.Hosts.Names(); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Errorf("unexpected hosts %v", got)
	}
	if decl.Hosts[1].Port != 2202 {
		t.Errorf("expected computed port 2202, got %d", decl.Hosts[1].Port)
	}
	if !decl.Controller.VerifyTLS {
		t.Error("expected verify_tls to be set")
	}
	if decl.Wait.PollInterval != 2*time.Second {
		t.Errorf("expected 2s poll interval, got %v", decl.Wait.PollInterval)
	}
	if decl.Dir() != filepath.Dir(path) {
		t.Errorf("expected dir %s, got %s", filepath.Dir(path), decl.Dir())
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "unknown key",
			file:    "lab.yaml",
			content: "inventroy:\n  name: x\n",
			want:    "inventroy",
		},
		{
			name:    "port out of range",
			file:    "lab.yaml",
			content: "hosts:\n  a: 70000\n",
			want:    "hosts",
		},
		{
			name:    "bad duration",
			file:    "lab.yaml",
			content: "wait:\n  timeout: five minutes\n",
			want:    "timeout",
		},
		{
			name:    "duplicate host",
			file:    "lab.yaml",
			content: "hosts:\n  - {name: a, port: 22}\n  - {name: a, port: 23}\n",
			want:    "more than once",
		},
		{
			name:    "bad scm type",
			file:    "lab.cue",
			content: `project: scm_type: "hg"`,
			want:    "scm_type",
		},
		{
			name:    "cue syntax",
			file:    "lab.cue",
			content: `name: "unterminated`,
			want:    "lab.cue",
		},
		{
			name:    "empty hosts",
			file:    "lab.yaml",
			content: "hosts: []\n",
			want:    "Hosts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected *LoadError, got %T: %v", err, err)
			}
			if len(loadErr.Problems) == 0 {
				t.Error("expected at least one problem")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "awxlab.yaml")

	if err := Write(Default(), path, false); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if err := Write(Default(), path, false); err == nil {
		t.Error("expected refusal to overwrite")
	}
	if err := Write(Default(), path, true); err != nil {
		t.Errorf("forced write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ubuntuAWX: 2225") {
		t.Errorf("expected compact host mapping, got:\n%s", data)
	}

	decl, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load written declaration: %v", err)
	}
	want := Default()
	if !reflect.DeepEqual(decl.Hosts, want.Hosts) {
		t.Errorf("hosts changed: %v", decl.Hosts)
	}
	if decl.Wait != want.Wait || decl.Controller != want.Controller || decl.JobTemplate != want.JobTemplate {
		t.Errorf("declaration changed on round trip: %+v", decl)
	}
}

func TestValidate_Default(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default declaration must be valid: %v", err)
	}

	decl := Default()
	decl.Organization = 0
	decl.Wait.PollInterval = 0
	err := Validate(decl)
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if len(loadErr.Problems) != 2 {
		t.Errorf("expected 2 problems, got %v", loadErr.Problems)
	}
}
