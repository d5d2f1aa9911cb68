package patch

import (
	"fmt"
)

// DiagnosticKind classifies input the engine skipped without failing
type DiagnosticKind int

const (
	// CoercionSkipped marks a present delta value that could not be
	// converted to its field type. The field keeps its prior value.
	CoercionSkipped DiagnosticKind = iota

	// ChildSkipped marks a child collection entry that is not an object
	ChildSkipped

	// LinkUnresolved marks a child collection whose element model has no
	// foreign key back to the parent
	LinkUnresolved
)

// String returns the diagnostic kind name
func (k DiagnosticKind) String() string {
	switch k {
	case CoercionSkipped:
		return "coercion_skipped"
	case ChildSkipped:
		return "child_skipped"
	case LinkUnresolved:
		return "link_unresolved"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k DiagnosticKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Diagnostic reports one skipped input
type Diagnostic struct {
	Kind  DiagnosticKind `json:"kind"`
	Model string         `json:"model"`
	Field string         `json:"field,omitempty"`
	Value interface{}    `json:"value,omitempty"`
	Err   error          `json:"-"`
}

// String renders the diagnostic for logs
func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s: %s", d.Kind, d.Model)
	if d.Field != "" {
		s += "." + d.Field
	}
	if d.Err != nil {
		s += ": " + d.Err.Error()
	}
	return s
}

// reporter receives diagnostics. A nil reporter drops them.
type reporter func(Diagnostic)

func (r reporter) report(d Diagnostic) {
	if r != nil {
		r(d)
	}
}
