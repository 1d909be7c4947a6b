package local

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/nemanja-m/pulsar/internal/shared/logging"
	"github.com/nemanja-m/pulsar/pkg/core"
	"github.com/nemanja-m/pulsar/pkg/script"
)

// ScriptWorker owns exactly one script engine and serves jobs from its
// request channel strictly in arrival order.
type ScriptWorker struct {
	id       int
	requests chan Job
	ready    chan error
	done     chan struct{}
	logger   logging.Logger

	// fatal is only touched by the worker goroutine.
	fatal error
}

func newScriptWorker(id, queueSize int, logger logging.Logger) *ScriptWorker {
	return &ScriptWorker{
		id:       id,
		requests: make(chan Job, queueSize),
		ready:    make(chan error, 1),
		done:     make(chan struct{}),
		logger:   logger.With("worker", id),
	}
}

func (w *ScriptWorker) ID() int {
	return w.id
}

// Done is closed once the worker goroutine has exited.
func (w *ScriptWorker) Done() <-chan struct{} {
	return w.done
}

// run creates and evaluates the engine, reports readiness and serves jobs
// until the request channel is closed or ctx is cancelled. The goroutine is
// pinned to its own OS thread for the lifetime of the engine.
func (w *ScriptWorker) run(ctx context.Context, factory script.Factory, source string) {
	defer close(w.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	engine, err := factory()
	if err == nil {
		err = engine.Evaluate(source)
	}
	if err != nil {
		w.fatal = &FatalError{Worker: w.id, Err: err}
		w.logger.Error("Script evaluation failed", "error", err)
	}
	w.ready <- w.fatal

	if interrupter, ok := engine.(script.Interrupter); ok {
		stop := context.AfterFunc(ctx, func() {
			interrupter.Interrupt("worker stopped")
		})
		defer stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.requests:
			if !ok {
				return
			}
			job.reply <- w.serve(engine, job)
		}
	}
}

func (w *ScriptWorker) serve(engine script.Engine, job Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from panic while serving job", "kind", job.Kind, "panic", r)
			res = Result{Err: fmt.Errorf("%w: %v", ErrWorkerPanic, r)}
		}
	}()

	if w.fatal != nil {
		return Result{Err: w.fatal}
	}

	switch job.Kind {
	case JobKindMap:
		return w.handleMap(engine, job.Records)
	case JobKindReduce:
		return w.handleReduce(engine, job.Groups)
	case JobKindSort:
		return w.handleSort(engine, job.Pairs)
	case JobKindProbe:
		return Result{Capabilities: Capabilities{
			Map:    engine.HasFunction(script.FuncMap),
			Reduce: engine.HasFunction(script.FuncReduce),
			Sort:   engine.HasFunction(script.FuncSort),
		}}
	default:
		return Result{Err: fmt.Errorf("unknown job kind %q", job.Kind)}
	}
}

func (w *ScriptWorker) handleMap(engine script.Engine, records []string) Result {
	var res Result
	for _, record := range records {
		out, err := engine.Call(script.FuncMap, core.StringValue(record))
		if err == nil {
			var kvs []core.KeyValue
			kvs, err = core.PairsFromValue(out)
			if err == nil {
				res.Output = append(res.Output, kvs...)
				continue
			}
		}

		if abort := w.classify(script.FuncMap, err); abort != nil {
			return Result{Err: abort}
		}
		w.logger.Warn("Dropping record after map error", "error", err)
		res.Dropped++
	}
	return res
}

func (w *ScriptWorker) handleReduce(engine script.Engine, groups []core.Group) Result {
	res := Result{Output: make([]core.KeyValue, 0, len(groups))}
	for _, group := range groups {
		out, err := engine.Call(script.FuncReduce, core.StringValue(group.Key), core.ArrayValue(group.Values...))
		if err != nil {
			if abort := w.classify(script.FuncReduce, err); abort != nil {
				return Result{Err: abort}
			}
			w.logger.Warn("Dropping key after reduce error", "key", group.Key, "error", err)
			res.Dropped++
			continue
		}
		res.Output = append(res.Output, core.KeyValue{Key: group.Key, Value: out})
	}
	return res
}

func (w *ScriptWorker) handleSort(engine script.Engine, pairs []core.KeyValue) Result {
	out, err := engine.Call(script.FuncSort, core.PairsValue(pairs))
	if err != nil {
		return Result{Err: err}
	}
	sorted, err := core.PairsFromValue(out)
	if err != nil {
		return Result{Err: &script.ScriptError{Function: script.FuncSort, Err: err}}
	}
	return Result{Output: sorted}
}

// classify returns a non-nil error when err must abort the whole job rather
// than drop a single item. A missing function poisons the worker.
func (w *ScriptWorker) classify(function string, err error) error {
	switch {
	case errors.Is(err, script.ErrFunctionNotFound):
		w.fatal = &FatalError{Worker: w.id, Err: err}
		w.logger.Error("Required script function is missing", "function", function, "error", err)
		return w.fatal
	case errors.Is(err, script.ErrInterrupted):
		return err
	default:
		return nil
	}
}
