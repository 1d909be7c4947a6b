package script

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dop251/goja"

	"github.com/nemanja-m/pulsar/pkg/core"
)

func toJS(vm *goja.Runtime, v core.Value) goja.Value {
	switch v.Kind() {
	case core.KindBool:
		b, _ := v.Bool()
		return vm.ToValue(b)
	case core.KindInt:
		i, _ := v.Int()
		return vm.ToValue(i)
	case core.KindString:
		s, _ := v.Str()
		return vm.ToValue(s)
	case core.KindArray:
		items := make([]any, v.Len())
		for i := range items {
			items[i] = toJS(vm, v.Index(i))
		}
		return vm.NewArray(items...)
	default:
		return goja.Null()
	}
}

// MaxDepth bounds array nesting accepted from scripts.
const MaxDepth = 64

func fromJS(v goja.Value) (core.Value, error) {
	return convertJS(v, make(map[*goja.Object]struct{}), 0)
}

// convertJS converts v, rejecting arrays that contain themselves and
// nesting deeper than MaxDepth. ancestors holds the arrays on the current path.
func convertJS(v goja.Value, ancestors map[*goja.Object]struct{}, depth int) (core.Value, error) {
	if v == nil || goja.IsUndefined(v) {
		return core.Value{}, fmt.Errorf("%w: undefined", core.ErrUnsupportedValue)
	}
	if goja.IsNull(v) {
		return core.Null(), nil
	}

	if obj, ok := v.(*goja.Object); ok {
		if obj.ClassName() != "Array" {
			return core.Value{}, fmt.Errorf("%w: %s", core.ErrUnsupportedValue, obj.ClassName())
		}
		if depth >= MaxDepth {
			return core.Value{}, fmt.Errorf("%w: arrays nested deeper than %d", core.ErrUnsupportedValue, MaxDepth)
		}
		if _, seen := ancestors[obj]; seen {
			return core.Value{}, fmt.Errorf("%w: cyclic array", core.ErrUnsupportedValue)
		}
		ancestors[obj] = struct{}{}
		defer delete(ancestors, obj)

		length := int(obj.Get("length").ToInteger())
		items := make([]core.Value, 0, length)
		for i := 0; i < length; i++ {
			item, err := convertJS(obj.Get(strconv.Itoa(i)), ancestors, depth+1)
			if err != nil {
				return core.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items = append(items, item)
		}
		return core.ArrayValue(items...), nil
	}

	switch x := v.Export().(type) {
	case bool:
		return core.BoolValue(x), nil
	case string:
		return core.StringValue(x), nil
	case int64:
		return core.IntValue(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Trunc(x) != x {
			return core.Value{}, fmt.Errorf("%w: non-integer number %v", core.ErrUnsupportedValue, x)
		}
		return core.FromAny(x)
	default:
		return core.Value{}, fmt.Errorf("%w: %T", core.ErrUnsupportedValue, x)
	}
}
