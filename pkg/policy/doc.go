// Package policy checks a declaration against Rego policies before setup
// makes any remote call.
//
// Every policy is a Rego module whose deny set holds violations. A
// violation is either a string or an object with message, subject and an
// optional severity overriding the policy's own:
//
//	package awxlab.policies.naming
//
//	import rego.v1
//
//	deny contains violation if {
//		some host in input.declaration.hosts
//		contains(host.name, " ")
//		violation := {"message": "host names must not contain spaces", "subject": host.name}
//	}
//
// The input document is {"operation": ..., "declaration": ...} with the
// declaration in its JSON form; durations are nanoseconds.
//
// # Built-in Policies
//
//   - unique-hosts (error): host names are unique
//   - playbook-path (error): the playbook is a relative YAML file
//   - scm-url (error): git projects are fetched over https or ssh
//   - wait-interval (error): the poll interval is shorter than the timeout
//   - host-ports (warning): ports below 1024 other than 22
//   - tls-verification (warning): verification is off for a remote controller
//
// Custom policies are read from .rego files (named after the file, severity
// from a "# severity: error" header comment, warning otherwise) or .json
// files carrying a Policy. Error violations block setup and fail validate;
// the rest are reported as warnings.
package policy
