package config

import (
	"context"
	"encoding/json"
	"testing"
)

func decodeVars(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var vars map[string]interface{}
	if err := json.Unmarshal([]byte(s), &vars); err != nil {
		t.Fatalf("variables are not a JSON object: %v (%s)", err, s)
	}
	return vars
}

func TestHostVariables(t *testing.T) {
	decl := Default()
	ctx := context.Background()

	tests := []struct {
		name string
		host Host
		want map[string]interface{}
	}{
		{
			name: "connection defaults",
			host: Host{Name: "wslkali1", Port: 2224},
			want: map[string]interface{}{
				"ansible_host":                 "172.22.192.129",
				"ansible_port":                 float64(2224),
				"ansible_user":                 "daniv",
				"ansible_ssh_private_key_file": "/home/daniv/.ssh/id_rsa",
			},
		},
		{
			name: "host overrides",
			host: Host{
				Name: "edge", Port: 22, Address: "10.0.0.5", User: "ops",
				Variables: map[string]interface{}{"ansible_user": "root", "role": "edge"},
			},
			want: map[string]interface{}{
				"ansible_host":                 "10.0.0.5",
				"ansible_port":                 float64(22),
				"ansible_user":                 "root",
				"ansible_ssh_private_key_file": "/home/daniv/.ssh/id_rsa",
				"role":                         "edge",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := decl.HostVariables(ctx, tt.host, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := decodeVars(t, raw)
			if len(got) != len(tt.want) {
				t.Errorf("expected %d variables, got %v", len(tt.want), got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: expected %v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestBlueprint(t *testing.T) {
	decl := Default()
	bp, err := decl.Blueprint(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if bp.Organization != 1 || bp.Inventory.Name != "WSL Lab" || bp.Group.Name != "all_servers" {
		t.Errorf("unexpected blueprint header: %+v", bp)
	}
	if bp.Inventory.Attributes["description"] != "WSL instances for automation" {
		t.Errorf("unexpected inventory attributes: %v", bp.Inventory.Attributes)
	}
	if bp.Group.Attributes != nil {
		t.Errorf("group without description should carry no attributes, got %v", bp.Group.Attributes)
	}

	if len(bp.Hosts) != 4 || bp.Hosts[0].Name != "ubuntuAWX" || bp.Hosts[3].Name != "wslubuntu1" {
		t.Fatalf("hosts out of declaration order: %+v", bp.Hosts)
	}
	vars := decodeVars(t, bp.Hosts[1].Attributes["variables"].(string))
	if vars["ansible_port"] != float64(2226) {
		t.Errorf("expected argo_cd_mgt on 2226, got %v", vars["ansible_port"])
	}

	if bp.Project.Attributes["scm_update_on_launch"] != true || bp.Project.Attributes["scm_clean"] != true {
		t.Errorf("unexpected project attributes: %v", bp.Project.Attributes)
	}
	if _, ok := bp.JobTemplate.Attributes["organization"]; ok {
		t.Error("job template must not carry an organization")
	}
	if bp.JobTemplate.Attributes["playbook"] != "playbooks/service_management.yml" {
		t.Errorf("unexpected playbook: %v", bp.JobTemplate.Attributes["playbook"])
	}

	if bp.Wait.Disabled || bp.Wait.Timeout != DefaultWaitTimeout || bp.Wait.PollInterval != DefaultPollInterval {
		t.Errorf("unexpected wait: %+v", bp.Wait)
	}

	decl.Wait.Enabled = false
	bp, _ = decl.Blueprint(context.Background())
	if !bp.Wait.Disabled {
		t.Error("expected wait to be disabled")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AWX_URL", "https://awx.lab.internal")
	t.Setenv("AWX_TOKEN", "t")

	decl := Default()
	decl.ApplyEnv()

	if decl.Controller.URL != "https://awx.lab.internal" {
		t.Errorf("expected AWX_URL override, got %s", decl.Controller.URL)
	}
	if decl.Token.Source != "env:AWX_TOKEN" {
		t.Errorf("expected env token source, got %s", decl.Token.Source)
	}
}

func TestResolve(t *testing.T) {
	decl := Default()
	if got := decl.Resolve("vars.star"); got != "vars.star" {
		t.Errorf("without a directory paths stay relative, got %s", got)
	}

	decl.dir = "/etc/awxlab"
	if got := decl.Resolve("vars.star"); got != "/etc/awxlab/vars.star" {
		t.Errorf("unexpected resolved path %s", got)
	}
	if got := decl.Resolve("/abs/vars.star"); got != "/abs/vars.star" {
		t.Errorf("absolute paths must be kept, got %s", got)
	}
}
