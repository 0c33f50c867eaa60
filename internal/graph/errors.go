package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph      = errors.New("invalid task graph")
	ErrCycle             = errors.New("cycle detected")
	ErrUndeclaredHandler = errors.New("undeclared handler")
)

// GraphError wraps task graph construction failures. It is never retried
// and aborts a run before any host is contacted.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func undeclaredHandler(task, handler string) error {
	return &GraphError{Kind: ErrUndeclaredHandler, Msg: fmt.Sprintf("task %q notifies %q", task, handler)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg}
}
