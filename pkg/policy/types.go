package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/awxlab/pkg/config"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	// SeverityError blocks setup and fails validate.
	SeverityError Severity = "error"
)

// Blocking reports whether violations of this severity stop a run.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy is a Rego module whose deny set yields violations.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
	// Source is the file a custom policy was read from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Subject  string   `json:"subject,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.Subject != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", v.Severity, v.Subject, v.Message, v.Policy)
	}
	return fmt.Sprintf("[%s] %s (%s)", v.Severity, v.Message, v.Policy)
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	Warnings          []Violation   `json:"warnings,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Err returns nil when the declaration is allowed and otherwise an error
// listing the blocking violations.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	lines := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			lines = append(lines, v.String())
		}
	}
	return fmt.Errorf("policy check failed:\n  %s", strings.Join(lines, "\n  "))
}

// Input is the document policies see as input.
type Input struct {
	Operation   string              `json:"operation"`
	Declaration *config.Declaration `json:"declaration"`
}
