package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const labScript = `
def host_vars(name, port, connection):
    role = "controller" if name == "ubuntuAWX" else "worker"
    return {
        "lab_role": role,
        "ssh_target": connection["user"] + "@" + connection["address"] + ":" + str(port),
        "tags": [role, "wsl"],
    }
`

func TestHostVarsEvaluator(t *testing.T) {
	eval, err := NewHostVarsEvaluator("vars.star", labScript, time.Second)
	if err != nil {
		t.Fatalf("failed to load script: %v", err)
	}

	vars, err := eval.HostVars(context.Background(), "ubuntuAWX", 2225, map[string]interface{}{
		"address": "172.22.192.129", "user": "daniv", "key_file": "/k",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vars["lab_role"] != "controller" {
		t.Errorf("expected controller role, got %v", vars["lab_role"])
	}
	if vars["ssh_target"] != "daniv@172.22.192.129:2225" {
		t.Errorf("unexpected ssh_target %v", vars["ssh_target"])
	}
	tags, ok := vars["tags"].([]interface{})
	if !ok || len(tags) != 2 {
		t.Errorf("expected two tags, got %#v", vars["tags"])
	}
}

func TestHostVarsEvaluator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
		onCall  bool
	}{
		{
			name:    "syntax error",
			script:  "def host_vars(:\n",
			wantErr: "starlark execution failed",
		},
		{
			name:    "missing function",
			script:  "x = 1\n",
			wantErr: "does not define host_vars",
		},
		{
			name:    "not a function",
			script:  "host_vars = 3\n",
			wantErr: "not a function",
		},
		{
			name:    "non dict result",
			script:  "def host_vars(name, port, connection):\n    return [name]\n",
			wantErr: "must return a dict",
			onCall:  true,
		},
		{
			name:    "runtime failure",
			script:  "def host_vars(name, port, connection):\n    return connection['missing']\n",
			wantErr: "host_vars(\"h\") failed",
			onCall:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := NewHostVarsEvaluator("vars.star", tt.script, time.Second)
			if !tt.onCall {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected load error: %v", err)
			}
			_, err = eval.HostVars(context.Background(), "h", 22, map[string]interface{}{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHostVarsEvaluator_NoneMeansNothing(t *testing.T) {
	eval, err := NewHostVarsEvaluator("vars.star", "def host_vars(name, port, connection):\n    return None\n", 0)
	if err != nil {
		t.Fatal(err)
	}
	vars, err := eval.HostVars(context.Background(), "h", 22, nil)
	if err != nil || vars != nil {
		t.Errorf("expected no variables, got %v, %v", vars, err)
	}
}

func TestHostVarsEvaluator_Timeout(t *testing.T) {
	script := `
def host_vars(name, port, connection):
    n = 0
    for i in range(1000000000):
        n += i
    return {"n": n}
`
	eval, err := NewHostVarsEvaluator("slow.star", script, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = eval.HostVars(context.Background(), "h", 22, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

func TestDeclaration_EvaluatorMergesScript(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vars.star"), []byte(labScript), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "lab.yaml")
	content := "host_vars_script: vars.star\nhosts:\n  ubuntuAWX: 2225\n  wslkali1: 2224\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	decl, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	bp, err := decl.Blueprint(context.Background())
	if err != nil {
		t.Fatalf("failed to build blueprint: %v", err)
	}

	vars := decodeVars(t, bp.Hosts[1].Attributes["variables"].(string))
	if vars["lab_role"] != "worker" {
		t.Errorf("expected worker role from script, got %v", vars["lab_role"])
	}
	if vars["ansible_port"] != float64(2224) {
		t.Errorf("connection defaults must survive, got %v", vars["ansible_port"])
	}
}
