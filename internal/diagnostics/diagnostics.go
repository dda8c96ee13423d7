// Package diagnostics defines the coded errors and warnings produced by the
// compilation stages. Every diagnostic carries a stable code, the identifier
// of the offending node and, where the failure is a timing infeasibility, the
// computed time window.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/quantumctl/pulsec/internal/config"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Code is a stable diagnostic code. The letter groups follow the stage that
// raises them: S = structure, R = resolution, T = timing, G = generation,
// F = feedback.
type Code string

const (
	// Structure (experiment tree builder)
	ErrS001 Code = "S001" // unbalanced section nesting
	ErrS002 Code = "S002" // operation references undeclared signal
	ErrS003 Code = "S003" // conflicting explicit sibling lengths
	ErrS004 Code = "S004" // illegal child for this section kind
	ErrS005 Code = "S005" // duplicate section identifier
	ErrS006 Code = "S006" // invalid attribute value

	// Resolution (signal & calibration resolver)
	ErrR101 Code = "R101" // experiment signal has no map entry
	ErrR102 Code = "R102" // mapped line path unknown to the topology
	ErrR103 Code = "R103" // line references unknown device

	// Timing (scheduler)
	ErrT201 Code = "T201" // two operations overlap on one channel
	ErrT202 Code = "T202" // explicit length violates the required grid
	ErrT203 Code = "T203" // play-after references unknown sibling
	ErrT204 Code = "T204" // swept parameter not permitted in real time here

	// Generation (code generator)
	ErrG301 Code = "G301" // construct exceeds target device capability

	// Feedback (feedback resolver)
	ErrF401 Code = "F401" // two cases declare the same state label
	ErrF402 Code = "F402" // handle never produced by a prior acquire
	ErrF403 Code = "F403" // match not nested in exactly one real-time loop
	ErrF404 Code = "F404" // case label outside the discrimination alphabet

	// Warnings
	WarnF451 Code = "F451" // declared feedback delay clamped to the floor
)

// TimeWindow is the absolute window, in reference-clock ticks, attached to
// timing diagnostics.
type TimeWindow struct {
	Start int64
	End   int64
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%.1f ns, %.1f ns)",
		config.TicksToSeconds(w.Start)*1e9, config.TicksToSeconds(w.End)*1e9)
}

// Diagnostic is a single coded error or warning.
type Diagnostic struct {
	Code     Code
	Severity Severity
	Node     string // uid of the offending node, may be empty
	Message  string
	Window   *TimeWindow
}

func (d *Diagnostic) Error() string {
	var sb strings.Builder
	if d.Severity == SeverityWarning {
		sb.WriteString("warning ")
	} else {
		sb.WriteString("error ")
	}
	sb.WriteString(string(d.Code))
	if d.Node != "" {
		sb.WriteString(" [" + d.Node + "]")
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	if d.Window != nil {
		sb.WriteString(" at " + d.Window.String())
	}
	return sb.String()
}

// NewError creates an error diagnostic.
func NewError(code Code, node string, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Code:     code,
		Severity: SeverityError,
		Node:     node,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewWarning creates a warning diagnostic.
func NewWarning(code Code, node string, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Code:     code,
		Severity: SeverityWarning,
		Node:     node,
		Message:  fmt.Sprintf(format, args...),
	}
}

// WithWindow attaches a time window and returns the diagnostic for chaining.
func (d *Diagnostic) WithWindow(start, end int64) *Diagnostic {
	d.Window = &TimeWindow{Start: start, End: end}
	return d
}

// List accumulates diagnostics across compilation stages.
type List []*Diagnostic

// HasErrors reports whether the list contains at least one error-severity
// diagnostic. Warnings alone do not fail a compilation.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func (l List) Errors() List {
	var out List
	for _, d := range l {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns only the warning-severity diagnostics.
func (l List) Warnings() List {
	var out List
	for _, d := range l {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// Error renders every diagnostic on its own line, errors first.
func (l List) Error() string {
	var lines []string
	for _, d := range l.Errors() {
		lines = append(lines, d.Error())
	}
	for _, d := range l.Warnings() {
		lines = append(lines, d.Error())
	}
	return strings.Join(lines, "\n")
}
