package local

import (
	"context"

	"github.com/nemanja-m/pulsar/internal/shared/logging"
	"github.com/nemanja-m/pulsar/pkg/core"
)

// Aggregator groups map output by key. Values are buffered in memory and
// merged into the store whenever the buffer holds more than threshold
// values, and once more when the input is exhausted. A threshold of zero
// buffers everything until the end.
type Aggregator struct {
	store     GroupStore
	threshold int
	logger    logging.Logger

	buffer   map[string][]core.Value
	buffered int
	pairs    int
	spills   int
}

func NewAggregator(store GroupStore, threshold int, logger logging.Logger) *Aggregator {
	return &Aggregator{
		store:     store,
		threshold: threshold,
		logger:    logger,
		buffer:    make(map[string][]core.Value),
	}
}

// Run consumes in until it is closed. After the first error the remaining
// input is drained and discarded so producers never block; onError is
// called once with that error.
func (a *Aggregator) Run(ctx context.Context, in <-chan []core.KeyValue, onError func(error)) error {
	var err error
	for kvs := range in {
		if err != nil {
			continue
		}
		if err = a.Add(kvs); err != nil {
			a.logger.Error("Grouping failed", "error", err)
			onError(err)
		}
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return a.Flush()
}

func (a *Aggregator) Add(kvs []core.KeyValue) error {
	for _, kv := range kvs {
		a.buffer[kv.Key] = append(a.buffer[kv.Key], kv.Value)
	}
	a.buffered += len(kvs)
	a.pairs += len(kvs)

	if a.threshold > 0 && a.buffered >= a.threshold {
		a.spills++
		a.logger.Debug("Spilling groups", "keys", len(a.buffer), "values", a.buffered)
		return a.Flush()
	}
	return nil
}

// Flush merges buffered groups into the store and clears the buffer.
func (a *Aggregator) Flush() error {
	if len(a.buffer) == 0 {
		return nil
	}
	if err := a.store.Merge(a.buffer); err != nil {
		return err
	}
	a.buffer = make(map[string][]core.Value)
	a.buffered = 0
	return nil
}

// Pairs returns the number of key-values consumed.
func (a *Aggregator) Pairs() int {
	return a.pairs
}

// Spills returns how many times the threshold forced a flush.
func (a *Aggregator) Spills() int {
	return a.spills
}
