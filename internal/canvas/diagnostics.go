package canvas

import (
	"errors"
	"fmt"
)

// Failure classes. They are reported as diagnostics next to a safe default
// result and never abort a recompute.
var (
	ErrMalformedNode        = errors.New("malformed node")
	ErrCyclicTraversalGuard = errors.New("cyclic traversal guard")
	ErrEmptySequence        = errors.New("empty sequence")
	ErrNodeNotFound         = errors.New("node not found")
)

// Diagnostic records one degraded input.
type Diagnostic struct {
	Err    error  `json:"-"`
	Code   string `json:"code"`
	NodeID string `json:"nodeId,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// NewDiagnostic builds a diagnostic for one of the failure classes.
func NewDiagnostic(err error, nodeID, detail string) Diagnostic {
	return Diagnostic{Err: err, Code: codeFor(err), NodeID: nodeID, Detail: detail}
}

func (d Diagnostic) String() string {
	if d.NodeID == "" {
		return fmt.Sprintf("%s: %s", d.Code, d.Detail)
	}
	return fmt.Sprintf("%s(%s): %s", d.Code, d.NodeID, d.Detail)
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrMalformedNode):
		return "MalformedNode"
	case errors.Is(err, ErrCyclicTraversalGuard):
		return "CyclicTraversalGuard"
	case errors.Is(err, ErrEmptySequence):
		return "EmptySequence"
	default:
		return "Unknown"
	}
}

// CountCode returns how many diagnostics carry err.
func CountCode(diags []Diagnostic, err error) int {
	count := 0
	for _, d := range diags {
		if errors.Is(d.Err, err) {
			count++
		}
	}
	return count
}
