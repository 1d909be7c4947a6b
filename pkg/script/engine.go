// Package script defines the contract the execution engine requires from an
// embedded script interpreter and provides a JavaScript implementation.
//
// Engines are not safe for concurrent use. Each engine must be owned by a
// single goroutine that serializes every call into it.
package script

import (
	"errors"
	"fmt"

	"github.com/nemanja-m/pulsar/pkg/core"
)

const (
	FuncMap    = "map"
	FuncReduce = "reduce"
	FuncSort   = "sort"
)

var (
	// ErrFunctionNotFound is returned by Call when the named global function
	// is not defined by the evaluated script.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrInterrupted is returned by calls aborted through Interrupt.
	ErrInterrupted = errors.New("script interrupted")
)

type Engine interface {
	// Evaluate runs the script source once, defining its global functions.
	Evaluate(source string) error
	// Call invokes a global function by name.
	Call(name string, args ...core.Value) (core.Value, error)
	// HasFunction reports whether name resolves to a callable global.
	HasFunction(name string) bool
}

// Interrupter is implemented by engines whose running calls can be aborted
// from another goroutine.
type Interrupter interface {
	Interrupt(reason string)
}

// Factory creates a fresh engine instance.
type Factory func() (Engine, error)

// ScriptError wraps a failure raised while evaluating or calling into a script.
type ScriptError struct {
	Function string
	Err      error
}

func (e *ScriptError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("script evaluation failed: %v", e.Err)
	}
	return fmt.Sprintf("script function %q failed: %v", e.Function, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
