// Package config loads and validates the lab declaration.
//
// # Overview
//
// A declaration names everything setup reconciles: the controller, the
// inventory with its group and hosts, the shared SSH connection the hosts'
// variables are built from, the project with its first sync, and the job
// template. Omitted keys keep the values of Default, which reproduce the
// lab the original setup scripts built.
//
// # Formats
//
// Files ending in .cue are evaluated as CUE; anything else is YAML. Both
// are unified with a closed CUE schema before decoding, so misspelled keys
// are reported with their position. Hosts may be written as an ordered
// mapping of name to port:
//
//	hosts:
//	  ubuntuAWX: 2225
//	  argo_cd_mgt: 2226
//
// or as a list of objects when a host needs its own address, user or
// variables. Declaration order is kept in both forms and is the order hosts
// are reconciled in.
//
// # Host variables
//
// Each host's variables are the JSON object the controller stores:
// ansible_host, ansible_port, ansible_user and ansible_ssh_private_key_file,
// overridden by the host's declared variables. A Starlark script named by
// host_vars_script may define
//
//	def host_vars(name, port, connection):
//	    return {"lab_role": "awx" if name == "ubuntuAWX" else "worker"}
//
// whose result is merged last.
//
// # Watching
//
// Watch reloads the declaration whenever its file changes; setup --watch
// uses it to re-run the idempotent setup.
package config
