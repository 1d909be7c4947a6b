package local

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nemanja-m/pulsar/internal/shared/logging"
)

// ResultHandler consumes the result of a successful batch. It may be called
// from several goroutines at once.
type ResultHandler func(ctx context.Context, job Job, res Result) error

// Dispatcher fans batches out over the pool with a bounded number of
// batches in flight.
type Dispatcher struct {
	pool        *Pool
	concurrency int
	maxFailures int
	grace       time.Duration
	logger      logging.Logger

	failures atomic.Int64
	batches  atomic.Int64
}

func NewDispatcher(pool *Pool, concurrency, maxFailures int, grace time.Duration, logger logging.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = pool.Size()
	}
	return &Dispatcher{
		pool:        pool,
		concurrency: concurrency,
		maxFailures: maxFailures,
		grace:       grace,
		logger:      logger,
	}
}

// Failures returns the number of batches that produced no output because
// their exchange with a worker failed.
func (d *Dispatcher) Failures() int {
	return int(d.failures.Load())
}

// Batches returns the number of batches dispatched so far.
func (d *Dispatcher) Batches() int {
	return int(d.batches.Load())
}

// Run dispatches every job received from jobs until the channel is closed,
// ctx is cancelled or a fatal error occurs. Replies already in flight when
// ctx is cancelled are awaited for at most the grace period.
func (d *Dispatcher) Run(ctx context.Context, jobs <-chan Job, handle ResultHandler) error {
	awaitCtx, stop := graceContext(ctx, d.grace)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case job, ok := <-jobs:
			if !ok || gctx.Err() != nil {
				break loop
			}
			worker := d.pool.Next()
			d.batches.Add(1)
			g.Go(func() error {
				res := d.pool.Exchange(gctx, awaitCtx, worker, job)
				return d.complete(awaitCtx, worker, job, res, handle)
			})
		}
	}

	return g.Wait()
}

// Exchange sends a single job to the next worker and waits for its result.
func (d *Dispatcher) Exchange(ctx context.Context, job Job) Result {
	awaitCtx, stop := graceContext(ctx, d.grace)
	defer stop()
	return d.pool.Exchange(ctx, awaitCtx, d.pool.Next(), job)
}

func (d *Dispatcher) complete(ctx context.Context, worker *ScriptWorker, job Job, res Result, handle ResultHandler) error {
	switch {
	case res.Err == nil:
		return handle(ctx, job, res)
	case IsFatal(res.Err):
		return res.Err
	case isContextErr(res.Err):
		d.logger.Debug("Abandoned batch after cancellation", "worker", worker.ID(), "kind", job.Kind)
		return nil
	}

	failures := d.failures.Add(1)
	d.logger.Error("Batch failed",
		"worker", worker.ID(),
		"kind", job.Kind,
		"size", job.Size(),
		"error", res.Err,
	)
	if d.maxFailures > 0 && failures > int64(d.maxFailures) {
		return fmt.Errorf("%w: %d batches failed, last error: %v", ErrTooManyFailures, failures, res.Err)
	}
	return nil
}

// graceContext returns a context that is cancelled grace after parent is.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stopAfter := context.AfterFunc(parent, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		stopAfter()
		cancel()
	}
}
