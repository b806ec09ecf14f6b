package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ValidationError is one problem found in a declaration, with its location
// when known.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (v ValidationError) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// LoadError reports every problem that kept a declaration from loading.
type LoadError struct {
	Path     string
	Problems []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid declaration %s: %s", e.Path, e.Problems[0])
	}
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = "  " + p.String()
	}
	return fmt.Sprintf("invalid declaration %s (%d problems):\n%s", e.Path, len(e.Problems), strings.Join(lines, "\n"))
}

// Loader reads declaration files.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a loader with the built-in schema.
func NewLoader() (*Loader, error) {
	schemas, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}
	return &Loader{
		schemas:   schemas,
		validator: validator.New(),
	}, nil
}

// Load reads a declaration from path. Files ending in .cue are evaluated
// as CUE; anything else is read as YAML. Keys absent from the file keep
// their Default values.
func Load(path string) (*Declaration, error) {
	loader, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}

// Load reads, schema-checks, decodes and validates the declaration at path.
func (l *Loader) Load(path string) (*Declaration, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration: %w", err)
	}

	var doc []byte
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		doc, err = l.evaluateCUE(path, content)
	} else {
		doc, err = l.checkYAML(path, content)
	}
	if err != nil {
		return nil, err
	}

	decl := Default()
	if err := yaml.Unmarshal(doc, decl); err != nil {
		return nil, &LoadError{Path: path, Problems: []ValidationError{{
			File: path, Message: err.Error(), Severity: "error",
		}}}
	}
	decl.dir = filepath.Dir(path)

	if err := l.Validate(decl); err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
		}
		return nil, err
	}
	return decl, nil
}

// evaluateCUE compiles a CUE file, checks it and exports it as JSON, which
// the YAML decoder reads with field order intact.
func (l *Loader) evaluateCUE(path string, content []byte) ([]byte, error) {
	l.schemas.mu.Lock()
	val := l.schemas.Context().CompileBytes(content, cue.Filename(path))
	l.schemas.mu.Unlock()
	if err := val.Err(); err != nil {
		return nil, &LoadError{Path: path, Problems: convertCUEErrors(err)}
	}

	unified, problems := l.schemas.Check(val)
	if len(problems) > 0 {
		return nil, &LoadError{Path: path, Problems: problems}
	}

	doc, err := unified.MarshalJSON()
	if err != nil {
		return nil, &LoadError{Path: path, Problems: convertCUEErrors(err)}
	}
	return doc, nil
}

func (l *Loader) checkYAML(path string, content []byte) ([]byte, error) {
	var data interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, &LoadError{Path: path, Problems: []ValidationError{{
			File: path, Message: err.Error(), Severity: "error",
		}}}
	}
	if data == nil {
		return content, nil
	}

	if problems := l.schemas.CheckData(data); len(problems) > 0 {
		for i := range problems {
			if problems[i].File == "" {
				problems[i].File = path
			}
		}
		return nil, &LoadError{Path: path, Problems: problems}
	}
	return content, nil
}

// Validate checks struct constraints and the cross-field rules the schema
// cannot express.
func (l *Loader) Validate(decl *Declaration) error {
	var problems []ValidationError

	if err := l.validator.Struct(decl); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validation failed: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, ValidationError{
				Path:     strings.TrimPrefix(fe.Namespace(), "Declaration."),
				Message:  fmt.Sprintf("failed %q constraint", fe.Tag()),
				Severity: "error",
			})
		}
	}

	seen := make(map[string]bool, len(decl.Hosts))
	for _, h := range decl.Hosts {
		if seen[h.Name] {
			problems = append(problems, ValidationError{
				Path:     "hosts",
				Message:  fmt.Sprintf("host %q is declared more than once", h.Name),
				Severity: "error",
			})
		}
		seen[h.Name] = true
	}

	if len(problems) > 0 {
		return &LoadError{Problems: problems}
	}
	return nil
}

// Validate checks decl with a fresh validator.
func Validate(decl *Declaration) error {
	loader, err := NewLoader()
	if err != nil {
		return err
	}
	return loader.Validate(decl)
}

// Write renders decl as YAML to path, refusing to overwrite unless force.
func Write(decl *Declaration, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := Marshal(decl)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write declaration: %w", err)
	}
	return nil
}
