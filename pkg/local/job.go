package local

import (
	"errors"
	"fmt"

	"github.com/nemanja-m/pulsar/pkg/core"
)

var (
	// ErrWorkerStopped is returned when a worker exits before replying.
	ErrWorkerStopped = errors.New("script worker stopped")
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrTooManyFailures aborts a run once too many batches failed.
	ErrTooManyFailures = errors.New("too many failed batches")
	// ErrWorkerPanic is reported for jobs whose handling panicked.
	ErrWorkerPanic = errors.New("script worker panicked")
)

type JobKind string

const (
	JobKindMap    JobKind = "MAP"
	JobKindReduce JobKind = "REDUCE"
	JobKindSort   JobKind = "SORT"
	JobKindProbe  JobKind = "PROBE"
)

// Job is a unit of work sent to a single script worker. Exactly one Result
// is delivered on its reply channel.
type Job struct {
	Kind    JobKind
	Records []string
	Groups  []core.Group
	Pairs   []core.KeyValue

	reply chan<- Result
}

func MapJob(records []string) Job {
	return Job{Kind: JobKindMap, Records: records}
}

func ReduceJob(groups []core.Group) Job {
	return Job{Kind: JobKindReduce, Groups: groups}
}

func SortJob(pairs []core.KeyValue) Job {
	return Job{Kind: JobKindSort, Pairs: pairs}
}

func (j Job) Size() int {
	switch j.Kind {
	case JobKindMap:
		return len(j.Records)
	case JobKindReduce:
		return len(j.Groups)
	case JobKindSort:
		return len(j.Pairs)
	default:
		return 0
	}
}

// Capabilities lists which user functions the evaluated script defines.
type Capabilities struct {
	Map    bool
	Reduce bool
	Sort   bool
}

type Result struct {
	Output []core.KeyValue
	// Dropped counts records or groups skipped because their call failed.
	Dropped      int
	Capabilities Capabilities
	Err          error
}

// FatalError marks an engine-level failure that must abort the run. Worker
// is -1 when the failure is not tied to a single worker.
type FatalError struct {
	Worker int
	Err    error
}

func (e *FatalError) Error() string {
	if e.Worker < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("worker %d: %v", e.Worker, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
