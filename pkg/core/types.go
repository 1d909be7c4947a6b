package core

import "fmt"

// KeyValue is a single pair emitted by a map call or produced by a reduce call.
type KeyValue struct {
	Key   string
	Value Value
}

func (kv KeyValue) String() string {
	return fmt.Sprintf("%s: %s", kv.Key, kv.Value)
}

// Group holds every value emitted for one key, in arrival order.
type Group struct {
	Key    string
	Values []Value
}

// Pair encodes the key-value as the two element array scripts exchange.
func (kv KeyValue) Pair() Value {
	return ArrayValue(StringValue(kv.Key), kv.Value)
}

// PairFromValue decodes a `[key, value]` array. The key must be a string.
func PairFromValue(v Value) (KeyValue, error) {
	if v.Kind() != KindArray || v.Len() != 2 {
		return KeyValue{}, fmt.Errorf("%w: key-value pair must be a two element array, got %s", ErrUnsupportedValue, v.Kind())
	}
	key, ok := v.Index(0).Str()
	if !ok {
		return KeyValue{}, fmt.Errorf("%w: key must be a string, got %s", ErrUnsupportedValue, v.Index(0).Kind())
	}
	return KeyValue{Key: key, Value: v.Index(1)}, nil
}

// PairsFromValue decodes an array of `[key, value]` arrays.
func PairsFromValue(v Value) ([]KeyValue, error) {
	if v.Kind() != KindArray {
		return nil, fmt.Errorf("%w: expected array of pairs, got %s", ErrUnsupportedValue, v.Kind())
	}
	kvs := make([]KeyValue, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		kv, err := PairFromValue(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		kvs = append(kvs, kv)
	}
	return kvs, nil
}

// PairsValue encodes key-values as an array of `[key, value]` arrays.
func PairsValue(kvs []KeyValue) Value {
	items := make([]Value, len(kvs))
	for i, kv := range kvs {
		items[i] = kv.Pair()
	}
	return Value{kind: KindArray, items: items}
}
