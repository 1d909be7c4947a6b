package local

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nemanja-m/pulsar/internal/shared/logging"
	"github.com/nemanja-m/pulsar/pkg/script"
)

// Pool is a fixed set of script workers, each reachable through its own
// request channel. Workers are picked round-robin.
type Pool struct {
	numWorkers int
	queueSize  int
	factory    script.Factory
	source     string
	logger     logging.Logger

	workers []*ScriptWorker
	counter atomic.Uint64

	once   sync.Once
	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

func NewPool(numWorkers, queueSize int, factory script.Factory, source string, logger logging.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		factory:    factory,
		source:     source,
		logger:     logger,
	}
}

// Start launches every worker and waits until each has evaluated the
// script. Evaluation failures are fatal and close the pool.
func (p *Pool) Start() error {
	var startErr error
	p.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel

		p.workers = make([]*ScriptWorker, p.numWorkers)
		for i := range p.workers {
			w := newScriptWorker(i, p.queueSize, p.logger)
			p.workers[i] = w
			go w.run(ctx, p.factory, p.source)
		}

		var errs []error
		for _, w := range p.workers {
			if err := <-w.ready; err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			// Every worker evaluates the same script, so one error is enough.
			startErr = errs[0]
			p.Close()
		}
	})
	return startErr
}

func (p *Pool) Size() int {
	return p.numWorkers
}

// Next returns the next worker in round-robin order.
func (p *Pool) Next() *ScriptWorker {
	idx := p.counter.Add(1) - 1
	return p.workers[idx%uint64(len(p.workers))]
}

// Submit sends job to worker w and returns the channel its result arrives on.
func (p *Pool) Submit(ctx context.Context, w *ScriptWorker, job Job) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply := make(chan Result, 1)
	job.reply = reply

	select {
	case w.requests <- job:
		return reply, nil
	case <-w.done:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Exchange submits job to w and waits for its result. Sending is bounded by
// ctx, awaiting the reply by awaitCtx.
func (p *Pool) Exchange(ctx, awaitCtx context.Context, w *ScriptWorker, job Job) Result {
	reply, err := p.Submit(ctx, w, job)
	if err != nil {
		return Result{Err: err}
	}

	select {
	case res := <-reply:
		return res
	case <-w.done:
		// The worker may have replied right before exiting.
		select {
		case res := <-reply:
			return res
		default:
			return Result{Err: ErrWorkerStopped}
		}
	case <-awaitCtx.Done():
		return Result{Err: awaitCtx.Err()}
	}
}

// Close stops all workers, interrupting running script calls, and waits
// for them to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	for _, w := range p.workers {
		close(w.requests)
	}
	p.mu.Unlock()

	for _, w := range p.workers {
		<-w.done
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
