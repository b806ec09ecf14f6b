package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/awxlab/pkg/engine"
)

const (
	DefaultControllerURL  = "https://localhost"
	DefaultRequestTimeout = 30 * time.Second
	DefaultWaitTimeout    = 300 * time.Second
	DefaultPollInterval   = 5 * time.Second
	DefaultStatePath      = ".awxlab/history.db"
)

// Default returns the lab declaration the original setup scripts built.
func Default() *Declaration {
	return &Declaration{
		Name: "wsl-lab",
		Controller: ControllerConfig{
			URL:            DefaultControllerURL,
			VerifyTLS:      false,
			RequestTimeout: DefaultRequestTimeout,
		},
		Organization: 1,
		Inventory: InventoryConfig{
			Name:        "WSL Lab",
			Description: "WSL instances for automation",
		},
		Group: GroupConfig{Name: "all_servers"},
		Hosts: HostList{
			{Name: "ubuntuAWX", Port: 2225},
			{Name: "argo_cd_mgt", Port: 2226},
			{Name: "wslkali1", Port: 2224},
			{Name: "wslubuntu1", Port: 2223},
		},
		Connection: ConnectionConfig{
			Address: "172.22.192.129",
			User:    "daniv",
			KeyFile: "/home/daniv/.ssh/id_rsa",
		},
		Project: ProjectConfig{
			Name:           "WSL Automation",
			Description:    "WSL automation project",
			SCMType:        "git",
			SCMURL:         "https://github.com/cloud-plat-org/ansible-playbook-config-testing",
			SCMBranch:      "main",
			UpdateOnLaunch: true,
			Clean:          true,
		},
		JobTemplate: JobTemplateConfig{
			Name:                 "WSL Service Management",
			Description:          "Service management job template for WSL instances",
			Playbook:             "playbooks/service_management.yml",
			JobType:              "run",
			Verbosity:            0,
			BecomeEnabled:        true,
			AskVariablesOnLaunch: true,
		},
		Wait: WaitConfig{
			Enabled:      true,
			Timeout:      DefaultWaitTimeout,
			PollInterval: DefaultPollInterval,
		},
		Token: TokenConfig{Source: "k8s"},
		State: StateConfig{Path: DefaultStatePath},
	}
}

// MarshalYAML writes port-only hosts in the compact name: port form.
func (h HostList) MarshalYAML() (interface{}, error) {
	compact := true
	for _, host := range h {
		if host.Address != "" || host.User != "" || len(host.Variables) > 0 {
			compact = false
			break
		}
	}
	if !compact {
		return []Host(h), nil
	}

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, host := range h {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: host.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(host.Port)},
		)
	}
	return node, nil
}

// Marshal renders decl as YAML.
func Marshal(decl *Declaration) ([]byte, error) {
	data, err := yaml.Marshal(decl)
	if err != nil {
		return nil, fmt.Errorf("failed to encode declaration: %w", err)
	}
	return data, nil
}

// ApplyEnv overrides the controller URL from AWX_URL and selects the
// AWX_TOKEN environment variable as token source when it is set.
func (d *Declaration) ApplyEnv() {
	if url := os.Getenv("AWX_URL"); url != "" {
		d.Controller.URL = url
	}
	if _, ok := os.LookupEnv("AWX_TOKEN"); ok {
		d.Token.Source = "env:AWX_TOKEN"
	}
}

// Dir is the directory the declaration was loaded from.
func (d *Declaration) Dir() string {
	return d.dir
}

// Resolve makes a path from the declaration absolute against its directory.
func (d *Declaration) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || d.dir == "" {
		return path
	}
	return filepath.Join(d.dir, path)
}

// HostAddress returns the address and user the host is reached at.
func (d *Declaration) HostAddress(h Host) (address, user string) {
	address, user = d.Connection.Address, d.Connection.User
	if h.Address != "" {
		address = h.Address
	}
	if h.User != "" {
		user = h.User
	}
	return address, user
}

// HostVariables returns the host's inventory variables as the JSON string
// the controller stores. Declared variables override the connection
// defaults and values from eval override both.
func (d *Declaration) HostVariables(ctx context.Context, h Host, eval *HostVarsEvaluator) (string, error) {
	address, user := d.HostAddress(h)
	vars := map[string]interface{}{
		"ansible_host":                 address,
		"ansible_port":                 h.Port,
		"ansible_user":                 user,
		"ansible_ssh_private_key_file": d.Connection.KeyFile,
	}
	for k, v := range h.Variables {
		vars[k] = v
	}

	if eval != nil {
		extra, err := eval.HostVars(ctx, h.Name, h.Port, d.connectionVars(address, user))
		if err != nil {
			return "", fmt.Errorf("host %s: %w", h.Name, err)
		}
		for k, v := range extra {
			vars[k] = v
		}
	}

	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("host %s: failed to encode variables: %w", h.Name, err)
	}
	return string(data), nil
}

func (d *Declaration) connectionVars(address, user string) map[string]interface{} {
	return map[string]interface{}{
		"address":  address,
		"user":     user,
		"key_file": d.Connection.KeyFile,
	}
}

// Evaluator loads the declaration's host variable script, if any.
func (d *Declaration) Evaluator() (*HostVarsEvaluator, error) {
	if d.HostVarsScript == "" {
		return nil, nil
	}
	return LoadHostVarsEvaluator(d.Resolve(d.HostVarsScript), 0)
}

// Blueprint resolves the declaration into what the orchestrator reconciles.
func (d *Declaration) Blueprint(ctx context.Context) (engine.Blueprint, error) {
	eval, err := d.Evaluator()
	if err != nil {
		return engine.Blueprint{}, err
	}

	hosts := make([]engine.ResourceSpec, 0, len(d.Hosts))
	for _, h := range d.Hosts {
		vars, err := d.HostVariables(ctx, h, eval)
		if err != nil {
			return engine.Blueprint{}, err
		}
		hosts = append(hosts, engine.ResourceSpec{
			Name:       h.Name,
			Attributes: map[string]interface{}{"variables": vars},
		})
	}

	return engine.Blueprint{
		Name:         d.Name,
		Organization: d.Organization,
		Inventory: engine.ResourceSpec{
			Name:       d.Inventory.Name,
			Attributes: withDescription(nil, d.Inventory.Description),
		},
		Group: engine.ResourceSpec{
			Name:       d.Group.Name,
			Attributes: withDescription(nil, d.Group.Description),
		},
		Hosts: hosts,
		Project: engine.ResourceSpec{
			Name: d.Project.Name,
			Attributes: withDescription(map[string]interface{}{
				"scm_type":             d.Project.SCMType,
				"scm_url":              d.Project.SCMURL,
				"scm_branch":           d.Project.SCMBranch,
				"scm_update_on_launch": d.Project.UpdateOnLaunch,
				"scm_clean":            d.Project.Clean,
			}, d.Project.Description),
		},
		JobTemplate: engine.ResourceSpec{
			Name: d.JobTemplate.Name,
			Attributes: withDescription(map[string]interface{}{
				"playbook":                 d.JobTemplate.Playbook,
				"job_type":                 d.JobTemplate.JobType,
				"verbosity":                d.JobTemplate.Verbosity,
				"become_enabled":           d.JobTemplate.BecomeEnabled,
				"ask_variables_on_launch":  d.JobTemplate.AskVariablesOnLaunch,
				"ask_inventory_on_launch":  d.JobTemplate.AskInventoryOnLaunch,
				"ask_credential_on_launch": d.JobTemplate.AskCredentialOnLaunch,
			}, d.JobTemplate.Description),
		},
		Wait: engine.WaitSpec{
			Disabled:     !d.Wait.Enabled,
			Timeout:      d.Wait.Timeout,
			PollInterval: d.Wait.PollInterval,
		},
	}, nil
}

func withDescription(attrs map[string]interface{}, description string) map[string]interface{} {
	if description == "" {
		return attrs
	}
	if attrs == nil {
		attrs = make(map[string]interface{}, 1)
	}
	attrs["description"] = description
	return attrs
}
