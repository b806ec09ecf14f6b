package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry holds the CUE definition every declaration document is
// unified with before it is decoded. Definitions are closed, so unknown
// keys are reported with their position.
type SchemaRegistry struct {
	ctx         *cue.Context
	declaration cue.Value
	mu          sync.Mutex
}

// NewSchemaRegistry compiles the built-in declaration schema.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(declarationSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile declaration schema: %w", err)
	}
	return &SchemaRegistry{
		ctx:         ctx,
		declaration: val.LookupPath(cue.ParsePath("#Declaration")),
	}, nil
}

// Context returns the CUE context values must be built in to be unified
// with the schema.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// Check unifies val with the declaration schema and returns the unified,
// concrete value.
func (sr *SchemaRegistry) Check(val cue.Value) (cue.Value, []ValidationError) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	unified := sr.declaration.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return unified, nil
}

// CheckData encodes a decoded document (YAML maps, slices and scalars) and
// checks it against the schema.
func (sr *SchemaRegistry) CheckData(data interface{}) []ValidationError {
	sr.mu.Lock()
	val := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}
	_, problems := sr.Check(val)
	return problems
}

func convertCUEErrors(err error) []ValidationError {
	var problems []ValidationError
	for _, e := range errors.Errors(err) {
		problem := ValidationError{
			Message:  errors.Details(e, nil),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			problem.File = pos[0].Filename()
			problem.Line = pos[0].Line()
			problem.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			problem.Path = strings.Join(path, ".")
		}
		problems = append(problems, problem)
	}
	return problems
}

const declarationSchema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Port: int & >=1 & <=65535

#HostFields: {
	port?:      #Port
	address?:   string
	user?:      string
	variables?: {...}
}

#Host: {
	#HostFields
	name: string & !=""
}

#Declaration: {
	name?:         string & !=""
	organization?: int & >=1

	controller?: {
		url?:                 =~"^https?://"
		verify_tls?:          bool
		request_timeout?:     #Duration
		requests_per_second?: number & >=0
		burst?:               int & >=0
	}

	inventory?: {
		name?:        string & !=""
		description?: string
	}

	group?: {
		name?:        string & !=""
		description?: string
	}

	// Either name: port pairs or a list of host objects.
	hosts?: {[string]: #Port | #HostFields} | [...#Host]

	connection?: {
		address?:     string
		user?:        string
		key_file?:    string
		known_hosts?: string
	}

	project?: {
		name?:             string & !=""
		description?:      string
		scm_type?:         "git" | "svn" | "insights" | "archive"
		scm_url?:          string
		scm_branch?:       string
		update_on_launch?: bool
		clean?:            bool
	}

	job_template?: {
		name?:                     string & !=""
		description?:              string
		playbook?:                 string
		job_type?:                 "run" | "check"
		verbosity?:                int & >=0 & <=5
		become_enabled?:           bool
		ask_variables_on_launch?:  bool
		ask_inventory_on_launch?:  bool
		ask_credential_on_launch?: bool
	}

	wait?: {
		enabled?:       bool
		timeout?:       #Duration
		poll_interval?: #Duration
	}

	token?: {
		source?:        string
		kubeconfig?:    string
		vault_address?: string
	}

	state?: {
		path?:       string
		policy_dir?: string
	}

	host_vars_script?: string
}
`
