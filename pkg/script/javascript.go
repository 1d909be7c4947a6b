package script

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/nemanja-m/pulsar/pkg/core"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Logger receives console output produced by scripts.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type JSOption func(*JSEngine)

// WithConsoleLogger routes console.log/warn/error to logger.
func WithConsoleLogger(logger Logger) JSOption {
	return func(e *JSEngine) {
		e.logger = logger
	}
}

// JSEngine runs JavaScript on a goja runtime. A JSEngine must only be used
// from one goroutine at a time, except for Interrupt.
type JSEngine struct {
	vm     *goja.Runtime
	logger Logger
}

func NewJSEngine(opts ...JSOption) *JSEngine {
	e := &JSEngine{vm: goja.New()}
	for _, opt := range opts {
		opt(e)
	}

	registry := require.NewRegistry()
	if e.logger != nil {
		registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{logger: e.logger}))
	}
	registry.Enable(e.vm)
	console.Enable(e.vm)

	return e
}

// JSFactory returns a Factory producing independent JavaScript engines.
func JSFactory(opts ...JSOption) Factory {
	return func() (Engine, error) {
		return NewJSEngine(opts...), nil
	}
}

func (e *JSEngine) Evaluate(source string) error {
	if _, err := e.vm.RunString(source); err != nil {
		return &ScriptError{Err: e.translateError(err)}
	}
	return nil
}

func (e *JSEngine) HasFunction(name string) bool {
	_, err := e.lookup(name)
	return err == nil
}

func (e *JSEngine) Call(name string, args ...core.Value) (core.Value, error) {
	fn, err := e.lookup(name)
	if err != nil {
		return core.Value{}, err
	}

	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		jsArgs[i] = toJS(e.vm, arg)
	}

	result, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return core.Value{}, &ScriptError{Function: name, Err: e.translateError(err)}
	}

	result, err = settle(result)
	if err != nil {
		return core.Value{}, &ScriptError{Function: name, Err: err}
	}

	value, err := fromJS(result)
	if err != nil {
		return core.Value{}, &ScriptError{Function: name, Err: err}
	}
	return value, nil
}

// Interrupt aborts the call currently running on the engine, if any. It is
// safe to call from any goroutine.
func (e *JSEngine) Interrupt(reason string) {
	e.vm.Interrupt(reason)
}

// lookup resolves a global property first and falls back to evaluating the
// bare identifier, which also finds top-level const and let bindings.
func (e *JSEngine) lookup(name string) (goja.Callable, error) {
	if !identifierPattern.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrFunctionNotFound, name)
	}

	value := e.vm.Get(name)
	if value == nil || goja.IsUndefined(value) {
		resolved, err := e.vm.RunString(name)
		if err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				e.vm.ClearInterrupt()
			}
			return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
		}
		value = resolved
	}

	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a function", ErrFunctionNotFound, name)
	}
	return fn, nil
}

func settle(result goja.Value) (goja.Value, error) {
	if result == nil {
		return result, nil
	}
	promise, ok := result.Export().(*goja.Promise)
	if !ok {
		return result, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", promise.Result())
	default:
		return nil, errors.New("promise did not settle")
	}
}

// translateError clears a consumed interrupt so the runtime stays usable.
func (e *JSEngine) translateError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		e.vm.ClearInterrupt()
		return fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
	}
	return err
}

type consolePrinter struct {
	logger Logger
}

func (p consolePrinter) Log(msg string) {
	p.logger.Info(msg, "source", "console")
}

func (p consolePrinter) Warn(msg string) {
	p.logger.Warn(msg, "source", "console")
}

func (p consolePrinter) Error(msg string) {
	p.logger.Error(msg, "source", "console")
}
