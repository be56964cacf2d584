package sitetheory

import (
	"errors"
	"fmt"

	"github.com/theory-cloud/sitetheory/pkg/graph"
)

var (
	// ErrDependencyUnavailable marks a node skipped because a node it references was not declared.
	ErrDependencyUnavailable = errors.New("sitetheory: dependency unavailable")
	// ErrEnginePanic marks an engine failure raised as a panic rather than returned.
	ErrEnginePanic = errors.New("sitetheory: engine panic")
	// ErrUnsupportedSpec is returned by emitters that do not know a node's spec type.
	ErrUnsupportedSpec = errors.New("sitetheory: unsupported spec")
)

// ApplyError reports the fatal node that stopped an apply.
type ApplyError struct {
	NodeID string
	Kind   graph.Kind
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("sitetheory: declare %s %s: %v", e.Kind, e.NodeID, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Warning records a best-effort node that failed or was skipped.
type Warning struct {
	NodeID string
	Kind   graph.Kind
	Err    error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %v", w.Kind, w.NodeID, w.Err)
}
