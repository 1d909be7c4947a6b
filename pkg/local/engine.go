package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/pulsar/internal/shared/logging"
	"github.com/nemanja-m/pulsar/pkg/core"
	"github.com/nemanja-m/pulsar/pkg/script"
)

const (
	DefaultChunkSize        = 64
	DefaultQueueSize        = 64
	DefaultMaxBatchFailures = 8
	DefaultShutdownGrace    = 2 * time.Second
)

type SortMode string

const (
	// SortAuto sorts when the script defines a sort function.
	SortAuto SortMode = "auto"
	// SortRequired fails the run when the script has no sort function.
	SortRequired SortMode = "required"
	// SortDisabled never sorts.
	SortDisabled SortMode = "disabled"
)

type Config struct {
	Script  string
	Factory script.Factory

	NumWorkers       int
	ChunkSize        int
	Concurrency      int
	QueueSize        int
	MaxBatchFailures int
	ShutdownGrace    time.Duration

	// SpillThreshold is the number of buffered values that triggers a merge
	// into an on-disk store. Zero keeps all groups in memory.
	SpillThreshold int
	SpillDir       string

	Sort   SortMode
	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.NumWorkers <= 0 {
		c.NumWorkers = max(runtime.GOMAXPROCS(0), 1)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = c.NumWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Sort == "" {
		c.Sort = SortAuto
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Factory == nil {
		c.Factory = script.JSFactory(script.WithConsoleLogger(c.Logger.With("component", "script")))
	}
	return c
}

// Stats summarizes a run.
type Stats struct {
	RunID         uuid.UUID
	Records       int
	MapBatches    int
	MapErrors     int
	Pairs         int
	Groups        int
	Spills        int
	ReduceBatches int
	ReduceErrors  int
	Results       int
	FailedBatches int
	Sorted        bool
}

// Engine runs one map/group/reduce/sort pipeline per call to Run.
type Engine struct {
	config Config

	mu          sync.Mutex
	state       State
	transitions []State
}

func NewEngine(config Config) *Engine {
	return &Engine{config: config.withDefaults()}
}

// Run executes the whole pipeline, reading records from input and emitting
// results to sink. Cancelling ctx stops reading input, waits up to the
// shutdown grace for in-flight batches and flushes what was emitted.
func (e *Engine) Run(ctx context.Context, input InputSource, sink Sink) (*Stats, error) {
	e.resetState()
	cfg := e.config
	stats := &Stats{RunID: uuid.New()}
	logger := cfg.Logger.With("run_id", stats.RunID.String())

	logger.Info("Starting run",
		"workers", cfg.NumWorkers,
		"chunk_size", cfg.ChunkSize,
		"concurrency", cfg.Concurrency,
		"spill_threshold", cfg.SpillThreshold,
	)

	pool := NewPool(cfg.NumWorkers, cfg.QueueSize, cfg.Factory, cfg.Script, logger)
	if err := pool.Start(); err != nil {
		e.setState(StateDone)
		return stats, err
	}
	defer pool.Close()

	dispatcher := NewDispatcher(pool, cfg.Concurrency, cfg.MaxBatchFailures, cfg.ShutdownGrace, logger)
	useSort, err := e.probe(ctx, dispatcher)
	if err != nil {
		e.setState(StateDone)
		return stats, err
	}
	stats.Sorted = useSort

	store, err := e.newGroupStore(stats.RunID)
	if err != nil {
		e.setState(StateDone)
		return stats, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close group store", "error", err)
		}
	}()

	out := &emitter{sink: sink}
	runErr := e.execute(ctx, dispatcher, input, store, out, stats, logger)
	stats.FailedBatches = dispatcher.Failures()
	stats.Results = out.count

	e.setState(StateDraining)
	if err := sink.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to flush output: %w", err)
	}
	e.setState(StateDone)

	if runErr != nil {
		logger.Error("Run failed", "error", runErr)
	} else {
		logger.Info("Run completed",
			"records", stats.Records,
			"groups", stats.Groups,
			"results", stats.Results,
			"map_errors", stats.MapErrors,
			"reduce_errors", stats.ReduceErrors,
			"failed_batches", stats.FailedBatches,
		)
	}
	return stats, runErr
}

// probe checks, once, which functions the script defines.
func (e *Engine) probe(ctx context.Context, dispatcher *Dispatcher) (bool, error) {
	res := dispatcher.Exchange(ctx, Job{Kind: JobKindProbe})
	if res.Err != nil {
		return false, res.Err
	}

	caps := res.Capabilities
	if !caps.Map {
		return false, &FatalError{Worker: -1, Err: fmt.Errorf("%w: %s", script.ErrFunctionNotFound, script.FuncMap)}
	}
	if !caps.Reduce {
		return false, &FatalError{Worker: -1, Err: fmt.Errorf("%w: %s", script.ErrFunctionNotFound, script.FuncReduce)}
	}

	switch e.config.Sort {
	case SortDisabled:
		return false, nil
	case SortRequired:
		if !caps.Sort {
			return false, &FatalError{Worker: -1, Err: fmt.Errorf("%w: %s", script.ErrFunctionNotFound, script.FuncSort)}
		}
	}
	return caps.Sort, nil
}

func (e *Engine) newGroupStore(runID uuid.UUID) (GroupStore, error) {
	if e.config.SpillThreshold <= 0 {
		return NewMemoryGroupStore(), nil
	}
	return NewTempBoltGroupStore(e.config.SpillDir, runID)
}

func (e *Engine) execute(ctx context.Context, dispatcher *Dispatcher, input InputSource, store GroupStore, out *emitter, stats *Stats, logger logging.Logger) error {
	if err := e.mapAndGroup(ctx, dispatcher, input, store, stats, logger); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	groups, err := store.Len()
	if err != nil {
		return err
	}
	stats.Groups = groups

	return e.reduceAndSort(ctx, dispatcher, store, out, stats, logger)
}

func (e *Engine) mapAndGroup(ctx context.Context, dispatcher *Dispatcher, input InputSource, store GroupStore, stats *Stats, logger logging.Logger) error {
	e.setState(StateMapping)

	mapCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	mapped := make(chan []core.KeyValue, e.config.QueueSize)
	aggregator := NewAggregator(store, e.config.SpillThreshold, logger)
	aggDone := make(chan error, 1)
	go func() {
		aggDone <- aggregator.Run(mapCtx, mapped, cancel)
	}()

	var mapErrors, records atomic.Int64
	batches, readDone := chunkRecords(mapCtx, input, e.config.ChunkSize, &records)
	dispatchErr := dispatcher.Run(mapCtx, batches, func(hctx context.Context, job Job, res Result) error {
		mapErrors.Add(int64(res.Dropped))
		if len(res.Output) == 0 {
			return nil
		}
		select {
		case mapped <- res.Output:
		case <-hctx.Done():
		}
		return nil
	})
	if dispatchErr != nil {
		cancel(dispatchErr)
	}

	var readErr error
	select {
	case readErr = <-readDone:
	case <-mapCtx.Done():
	}

	close(mapped)
	e.setState(StateGrouping)
	aggErr := <-aggDone

	stats.Records = int(records.Load())
	stats.MapBatches = dispatcher.Batches()
	stats.MapErrors = int(mapErrors.Load())
	stats.Pairs = aggregator.Pairs()
	stats.Spills = aggregator.Spills()

	for _, err := range []error{dispatchErr, readErr, aggErr} {
		if err != nil && !isContextErr(err) {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	for _, err := range []error{dispatchErr, readErr, aggErr} {
		if err != nil {
			return err
		}
	}

	logger.Debug("Grouping completed", "pairs", stats.Pairs, "spills", stats.Spills)
	return nil
}

func (e *Engine) reduceAndSort(ctx context.Context, dispatcher *Dispatcher, store GroupStore, out *emitter, stats *Stats, logger logging.Logger) error {
	e.setState(StateReducing)

	reduceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu           sync.Mutex
		collected    []core.KeyValue
		reduceErrors atomic.Int64
	)
	mapBatches := dispatcher.Batches()

	batches, scanDone := chunkGroups(reduceCtx, store, e.config.ChunkSize)
	dispatchErr := dispatcher.Run(reduceCtx, batches, func(_ context.Context, job Job, res Result) error {
		reduceErrors.Add(int64(res.Dropped))
		if !stats.Sorted {
			return out.emitAll(res.Output)
		}
		mu.Lock()
		defer mu.Unlock()
		collected = append(collected, res.Output...)
		return nil
	})
	cancel()

	var scanErr error
	if dispatchErr == nil && ctx.Err() == nil {
		scanErr = <-scanDone
	}

	stats.ReduceBatches = dispatcher.Batches() - mapBatches
	stats.ReduceErrors = int(reduceErrors.Load())

	if dispatchErr != nil {
		return dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if scanErr != nil {
		return scanErr
	}

	if !stats.Sorted || len(collected) == 0 {
		return nil
	}

	e.setState(StateSorting)
	res := dispatcher.Exchange(ctx, SortJob(collected))
	if res.Err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Sort failed, emitting unsorted results", "error", res.Err)
		stats.Sorted = false
		return out.emitAll(collected)
	}
	return out.emitAll(res.Output)
}

// chunkRecords reads input into map jobs of at most size records. The error
// channel receives exactly one value when reading stops.
func chunkRecords(ctx context.Context, input InputSource, size int, count *atomic.Int64) (<-chan Job, <-chan error) {
	jobs := make(chan Job)
	done := make(chan error, 1)

	go func() {
		defer close(jobs)

		batch := make([]string, 0, size)
		send := func() bool {
			select {
			case jobs <- MapJob(batch):
				batch = make([]string, 0, size)
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			if ctx.Err() != nil {
				done <- ctx.Err()
				return
			}
			record, err := input.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				done <- fmt.Errorf("failed to read input: %w", err)
				return
			}
			count.Add(1)
			batch = append(batch, record)
			if len(batch) >= size && !send() {
				done <- ctx.Err()
				return
			}
		}
		if len(batch) > 0 && !send() {
			done <- ctx.Err()
			return
		}
		done <- nil
	}()

	return jobs, done
}

// chunkGroups streams the stored groups as reduce jobs of at most size groups.
func chunkGroups(ctx context.Context, store GroupStore, size int) (<-chan Job, <-chan error) {
	jobs := make(chan Job)
	done := make(chan error, 1)

	go func() {
		defer close(jobs)

		batch := make([]core.Group, 0, size)
		send := func() error {
			select {
			case jobs <- ReduceJob(batch):
				batch = make([]core.Group, 0, size)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := store.ForEach(func(g core.Group) error {
			batch = append(batch, g)
			if len(batch) >= size {
				return send()
			}
			return nil
		})
		if err == nil && len(batch) > 0 {
			err = send()
		}
		done <- err
	}()

	return jobs, done
}

// emitter serializes access to the sink.
type emitter struct {
	mu    sync.Mutex
	sink  Sink
	count int
}

func (em *emitter) emitAll(kvs []core.KeyValue) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, kv := range kvs {
		if err := em.sink.Emit(kv.Key, kv.Value); err != nil {
			return fmt.Errorf("failed to emit %q: %w", kv.Key, err)
		}
		em.count++
	}
	return nil
}
