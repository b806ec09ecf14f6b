package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		uniqueHostsPolicy(),
		playbookPathPolicy(),
		scmURLPolicy(),
		hostPortsPolicy(),
		waitIntervalPolicy(),
		tlsVerificationPolicy(),
	}
}

// uniqueHostsPolicy rejects host names declared more than once.
func uniqueHostsPolicy() Policy {
	return Policy{
		Name:        "unique-hosts",
		Description: "Host names must be unique within the inventory",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package awxlab.policies.hosts.unique

import rego.v1

deny contains violation if {
	some i, j
	host := input.declaration.hosts[i]
	other := input.declaration.hosts[j]
	i < j
	host.name == other.name
	violation := {
		"message": sprintf("host %s is declared more than once", [host.name]),
		"subject": host.name,
	}
}
`,
	}
}

// playbookPathPolicy requires the job template playbook to be a YAML file.
func playbookPathPolicy() Policy {
	return Policy{
		Name:        "playbook-path",
		Description: "The job template playbook must be a relative .yml or .yaml path",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package awxlab.policies.playbook

import rego.v1

yaml_file(path) if endswith(path, ".yml")

yaml_file(path) if endswith(path, ".yaml")

deny contains violation if {
	playbook := input.declaration.job_template.playbook
	not yaml_file(playbook)
	violation := {
		"message": sprintf("playbook %q is not a YAML file", [playbook]),
		"subject": input.declaration.job_template.name,
	}
}

deny contains violation if {
	playbook := input.declaration.job_template.playbook
	startswith(playbook, "/")
	violation := {
		"message": sprintf("playbook %q must be relative to the project root", [playbook]),
		"subject": input.declaration.job_template.name,
	}
}
`,
	}
}

// scmURLPolicy requires the project source to be fetched over https or ssh.
func scmURLPolicy() Policy {
	return Policy{
		Name:        "scm-url",
		Description: "Project SCM URLs must use https or ssh",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package awxlab.policies.scm

import rego.v1

allowed_prefixes := ["https://", "ssh://", "git@"]

deny contains violation if {
	input.declaration.project.scm_type == "git"
	url := input.declaration.project.scm_url
	not any_prefix(url)
	violation := {
		"message": sprintf("scm_url %q must use https or ssh", [url]),
		"subject": input.declaration.project.name,
	}
}

any_prefix(url) if {
	some prefix in allowed_prefixes
	startswith(url, prefix)
}
`,
	}
}

// hostPortsPolicy warns about SSH ports in the privileged range other than 22.
func hostPortsPolicy() Policy {
	return Policy{
		Name:        "host-ports",
		Description: "Forwarded SSH ports are expected in the unprivileged range",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package awxlab.policies.hosts.ports

import rego.v1

deny contains violation if {
	some host in input.declaration.hosts
	host.port < 1024
	host.port != 22
	violation := {
		"message": sprintf("port %d is in the privileged range", [host.port]),
		"subject": host.name,
	}
}
`,
	}
}

// waitIntervalPolicy requires the poll interval to fit inside the timeout.
func waitIntervalPolicy() Policy {
	return Policy{
		Name:        "wait-interval",
		Description: "The sync poll interval must be shorter than the wait timeout",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package awxlab.policies.wait

import rego.v1

deny contains violation if {
	input.declaration.wait.enabled
	input.declaration.wait.poll_interval >= input.declaration.wait.timeout
	violation := {
		"message": "poll_interval must be shorter than timeout",
		"subject": "wait",
	}
}
`,
	}
}

// tlsVerificationPolicy warns when certificate checks are off for a
// controller that is not on the local machine.
func tlsVerificationPolicy() Policy {
	return Policy{
		Name:        "tls-verification",
		Description: "TLS verification should only be disabled for a local controller",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package awxlab.policies.tls

import rego.v1

local_prefixes := ["https://localhost", "https://127.0.0.1", "http://"]

deny contains violation if {
	not input.declaration.controller.verify_tls
	url := input.declaration.controller.url
	not local(url)
	violation := {
		"message": sprintf("TLS verification is disabled for %s", [url]),
		"subject": "controller",
	}
}

local(url) if {
	some prefix in local_prefixes
	startswith(url, prefix)
}
`,
	}
}
