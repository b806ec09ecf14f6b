package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Declaration describes the lab the controller should hold.
type Declaration struct {
	// Name labels runs in the history store.
	Name string `yaml:"name" json:"name" validate:"required"`

	Controller ControllerConfig `yaml:"controller" json:"controller"`

	// Organization is the id that owns the inventory and project.
	Organization int64 `yaml:"organization" json:"organization" validate:"gte=1"`

	Inventory   InventoryConfig   `yaml:"inventory" json:"inventory"`
	Group       GroupConfig       `yaml:"group" json:"group"`
	Hosts       HostList          `yaml:"hosts" json:"hosts" validate:"min=1,dive"`
	Connection  ConnectionConfig  `yaml:"connection" json:"connection"`
	Project     ProjectConfig     `yaml:"project" json:"project"`
	JobTemplate JobTemplateConfig `yaml:"job_template" json:"job_template"`
	Wait        WaitConfig        `yaml:"wait" json:"wait"`
	Token       TokenConfig       `yaml:"token" json:"token"`
	State       StateConfig       `yaml:"state" json:"state"`

	// HostVarsScript is a Starlark file defining host_vars(name, port,
	// connection). Relative paths resolve against the declaration file.
	HostVarsScript string `yaml:"host_vars_script,omitempty" json:"host_vars_script,omitempty"`

	dir string
}

// ControllerConfig locates the controller API.
type ControllerConfig struct {
	URL               string        `yaml:"url" json:"url" validate:"required,url"`
	VerifyTLS         bool          `yaml:"verify_tls" json:"verify_tls"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty" validate:"gte=0"`
	Burst             int           `yaml:"burst,omitempty" json:"burst,omitempty" validate:"gte=0"`
}

type InventoryConfig struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type GroupConfig struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ConnectionConfig holds the SSH settings shared by every host.
type ConnectionConfig struct {
	Address string `yaml:"address" json:"address" validate:"required,hostname|ip"`
	User    string `yaml:"user" json:"user" validate:"required"`
	KeyFile string `yaml:"key_file" json:"key_file" validate:"required"`
	// KnownHosts enables host key checking in the probe when set.
	KnownHosts string `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty"`
}

// Host is one machine in the inventory. Address and User override the
// shared connection.
type Host struct {
	Name      string                 `yaml:"name" json:"name" validate:"required"`
	Port      int                    `yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	Address   string                 `yaml:"address,omitempty" json:"address,omitempty" validate:"omitempty,hostname|ip"`
	User      string                 `yaml:"user,omitempty" json:"user,omitempty"`
	Variables map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// HostList keeps hosts in declaration order. In YAML it accepts either a
// mapping of name to port or a sequence of host objects.
type HostList []Host

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HostList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		hosts := make(HostList, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			host := Host{Name: key.Value}
			if value.Kind == yaml.MappingNode {
				if err := value.Decode(&host); err != nil {
					return fmt.Errorf("host %s: %w", key.Value, err)
				}
				host.Name = key.Value
			} else if err := value.Decode(&host.Port); err != nil {
				return fmt.Errorf("host %s: port: %w", key.Value, err)
			}
			hosts = append(hosts, host)
		}
		*h = hosts
		return nil

	case yaml.SequenceNode:
		var hosts []Host
		if err := node.Decode(&hosts); err != nil {
			return err
		}
		*h = hosts
		return nil

	default:
		return fmt.Errorf("line %d: hosts must be a mapping or a sequence", node.Line)
	}
}

// Names returns host names in order.
func (h HostList) Names() []string {
	names := make([]string, len(h))
	for i, host := range h {
		names[i] = host.Name
	}
	return names
}

type ProjectConfig struct {
	Name           string `yaml:"name" json:"name" validate:"required"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
	SCMType        string `yaml:"scm_type" json:"scm_type" validate:"required,oneof=git svn insights archive"`
	SCMURL         string `yaml:"scm_url" json:"scm_url" validate:"required"`
	SCMBranch      string `yaml:"scm_branch" json:"scm_branch"`
	UpdateOnLaunch bool   `yaml:"update_on_launch" json:"update_on_launch"`
	Clean          bool   `yaml:"clean" json:"clean"`
}

type JobTemplateConfig struct {
	Name                  string `yaml:"name" json:"name" validate:"required"`
	Description           string `yaml:"description,omitempty" json:"description,omitempty"`
	Playbook              string `yaml:"playbook" json:"playbook" validate:"required"`
	JobType               string `yaml:"job_type" json:"job_type" validate:"oneof=run check"`
	Verbosity             int    `yaml:"verbosity" json:"verbosity" validate:"gte=0,lte=5"`
	BecomeEnabled         bool   `yaml:"become_enabled" json:"become_enabled"`
	AskVariablesOnLaunch  bool   `yaml:"ask_variables_on_launch" json:"ask_variables_on_launch"`
	AskInventoryOnLaunch  bool   `yaml:"ask_inventory_on_launch" json:"ask_inventory_on_launch"`
	AskCredentialOnLaunch bool   `yaml:"ask_credential_on_launch" json:"ask_credential_on_launch"`
}

// WaitConfig controls the wait on the first project sync.
type WaitConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"gt=0"`
}

// TokenConfig selects the bearer token source; see credentials.Parse.
type TokenConfig struct {
	Source       string `yaml:"source" json:"source" validate:"required"`
	Kubeconfig   string `yaml:"kubeconfig,omitempty" json:"kubeconfig,omitempty"`
	VaultAddress string `yaml:"vault_address,omitempty" json:"vault_address,omitempty"`
}

// StateConfig locates the run history and local policies.
type StateConfig struct {
	Path      string `yaml:"path" json:"path" validate:"required"`
	PolicyDir string `yaml:"policy_dir,omitempty" json:"policy_dir,omitempty"`
}
