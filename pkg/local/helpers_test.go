package local

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/pulsar/internal/shared/logging"
	"github.com/nemanja-m/pulsar/pkg/core"
	"github.com/nemanja-m/pulsar/pkg/script"
)

type scriptFunc func(args ...core.Value) (core.Value, error)

// fakeEngine is a script.Engine backed by Go functions. Evaluate fails when
// the source is "syntax error".
type fakeEngine struct {
	funcs map[string]scriptFunc
}

func (f *fakeEngine) Evaluate(source string) error {
	if source == "syntax error" {
		return &script.ScriptError{Err: errors.New("unexpected token")}
	}
	return nil
}

func (f *fakeEngine) Call(name string, args ...core.Value) (core.Value, error) {
	fn, ok := f.funcs[name]
	if !ok {
		return core.Null(), fmt.Errorf("%w: %s", script.ErrFunctionNotFound, name)
	}
	out, err := fn(args...)
	if err != nil {
		return core.Null(), &script.ScriptError{Function: name, Err: err}
	}
	return out, nil
}

func (f *fakeEngine) HasFunction(name string) bool {
	_, ok := f.funcs[name]
	return ok
}

func fakeFactory(funcs map[string]scriptFunc) script.Factory {
	return func() (script.Engine, error) {
		return &fakeEngine{funcs: funcs}, nil
	}
}

func wordCountFuncs() map[string]scriptFunc {
	return map[string]scriptFunc{
		script.FuncMap: func(args ...core.Value) (core.Value, error) {
			line, _ := args[0].Str()
			var pairs []core.Value
			for _, word := range strings.Fields(line) {
				pairs = append(pairs, core.ArrayValue(core.StringValue(word), core.IntValue(1)))
			}
			return core.ArrayValue(pairs...), nil
		},
		script.FuncReduce: func(args ...core.Value) (core.Value, error) {
			var sum int64
			for _, v := range args[1].Items() {
				n, _ := v.Int()
				sum += n
			}
			return core.IntValue(sum), nil
		},
	}
}

// collectSink records emitted results in order.
type collectSink struct {
	mu      sync.Mutex
	results []core.KeyValue
	flushes int
	failAt  int
}

func (s *collectSink) Emit(key string, value core.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.results)+1 == s.failAt {
		return errors.New("sink is full")
	}
	s.results = append(s.results, core.KeyValue{Key: key, Value: value})
	return nil
}

func (s *collectSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *collectSink) Results() []core.KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.KeyValue(nil), s.results...)
}

// asMap converts results to a key to rendered value map.
func (s *collectSink) asMap(t *testing.T) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, kv := range s.Results() {
		_, dup := out[kv.Key]
		require.False(t, dup, "key %q emitted twice", kv.Key)
		out[kv.Key] = kv.Value.String()
	}
	return out
}

func sortedKeys(kvs []core.KeyValue) []string {
	keys := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
	}
	sort.Strings(keys)
	return keys
}

func testLogger() logging.Logger {
	return logging.Nop()
}
