package core

import (
	"fmt"
	"strings"
)

// Violation is one schema check failure. Row is -1 for column-level failures.
type Violation struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	if v.Row < 0 {
		return fmt.Sprintf("column %q: %s", v.Column, v.Reason)
	}
	return fmt.Sprintf("row %d column %q: %s", v.Row, v.Column, v.Reason)
}

// SchemaViolation reports that validation failed for one or more rows.
//
// It is recoverable: callers decide whether to abort or carry on with the report.
type SchemaViolation struct {
	Violations []Violation
}

const maxViolationsInMessage = 5

func (e *SchemaViolation) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "schema violation"
	}
	n := len(e.Violations)
	shown := e.Violations
	if n > maxViolationsInMessage {
		shown = shown[:maxViolationsInMessage]
	}
	parts := make([]string, 0, len(shown))
	for _, v := range shown {
		parts = append(parts, v.String())
	}
	msg := fmt.Sprintf("schema violation: %d violation(s): %s", n, strings.Join(parts, "; "))
	if n > len(shown) {
		msg += fmt.Sprintf("; and %d more", n-len(shown))
	}
	return msg
}

// Rows returns the distinct offending row indexes in first-seen order.
func (e *SchemaViolation) Rows() []int {
	if e == nil {
		return nil
	}
	seen := make(map[int]struct{}, len(e.Violations))
	var out []int
	for _, v := range e.Violations {
		if v.Row < 0 {
			continue
		}
		if _, ok := seen[v.Row]; ok {
			continue
		}
		seen[v.Row] = struct{}{}
		out = append(out, v.Row)
	}
	return out
}

// CoercionLoss records a cell that could not be parsed and was converted to missing.
// It is never returned as an error; stages collect and count these.
type CoercionLoss struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Raw    string `json:"raw"`
	Type   string `json:"type"`
}

func (c CoercionLoss) String() string {
	return fmt.Sprintf("row %d column %q: cannot parse %q as %s", c.Row, c.Column, c.Raw, c.Type)
}

// ConfigurationError is a malformed schema or policy. It is fatal and raised
// before any stage touches the table.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "invalid configuration"
	}
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StageError names the pipeline stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return "stage failed"
	}
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
