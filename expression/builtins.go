package expression

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// builtin is one entry in the fixed function registry. minArgs/maxArgs bound
// arity; maxArgs of -1 means variadic.
type builtin struct {
	minArgs int
	maxArgs int
	fn      func(args []any) (any, error)
}

func (b builtin) apply(args []any) (any, error) {
	if len(args) < b.minArgs || (b.maxArgs >= 0 && len(args) > b.maxArgs) {
		return nil, errors.Wrap(ErrEval, "wrong number of arguments", j.MKV{
			"got": strconv.Itoa(len(args)),
		})
	}
	return b.fn(args)
}

// BuiltinNames returns the sorted names of all registered builtin functions.
// The diagnostics pass validates $-calls against this registry.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

var builtins = map[string]builtin{
	"sum": {1, 1, func(args []any) (any, error) {
		return reduceNumbers(args[0], 0, func(acc, f float64) float64 { return acc + f })
	}},
	"count": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil {
			return nil, err
		}
		return float64(len(arr)), nil
	}},
	"avg": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return nil, nil
		}
		total, err := reduceNumbers(arr, 0, func(acc, f float64) float64 { return acc + f })
		if err != nil {
			return nil, err
		}
		return total.(float64) / float64(len(arr)), nil
	}},
	"min": {1, 1, func(args []any) (any, error) {
		return extremum(args[0], func(a, b float64) bool { return a < b })
	}},
	"max": {1, 1, func(args []any) (any, error) {
		return extremum(args[0], func(a, b float64) bool { return a > b })
	}},
	"first": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil || len(arr) == 0 {
			return nil, err
		}
		return arr[0], nil
	}},
	"last": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil || len(arr) == 0 {
			return nil, err
		}
		return arr[len(arr)-1], nil
	}},
	"length": {1, 1, func(args []any) (any, error) {
		switch t := args[0].(type) {
		case nil:
			return float64(0), nil
		case string:
			return float64(len(t)), nil
		case []any:
			return float64(len(t)), nil
		case map[string]any:
			return float64(len(t)), nil
		}
		return nil, errors.Wrap(ErrEval, "length requires a string, array or object")
	}},
	"flatten": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(arr))
		for _, e := range arr {
			if nested, ok := e.([]any); ok {
				out = append(out, nested...)
				continue
			}
			out = append(out, e)
		}
		return out, nil
	}},
	"distinct": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil {
			return nil, err
		}
		var out []any
		for _, e := range arr {
			seen := false
			for _, existing := range out {
				if looseEqual(e, existing) {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, e)
			}
		}
		return out, nil
	}},
	"reverse": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil {
			return nil, err
		}
		out := make([]any, len(arr))
		for i, e := range arr {
			out[len(arr)-1-i] = e
		}
		return out, nil
	}},
	"sort": {1, 1, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil {
			return nil, err
		}
		out := make([]any, len(arr))
		copy(out, arr)
		sort.SliceStable(out, func(i, j int) bool {
			fi, iok := asNumber(out[i])
			fj, jok := asNumber(out[j])
			if iok && jok {
				return fi < fj
			}
			return Stringify(out[i]) < Stringify(out[j])
		})
		return out, nil
	}},

	"concat": {0, -1, func(args []any) (any, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(Stringify(a))
		}
		return b.String(), nil
	}},
	"lower": {1, 1, stringFn(strings.ToLower)},
	"upper": {1, 1, stringFn(strings.ToUpper)},
	"trim":  {1, 1, stringFn(strings.TrimSpace)},
	"split": {2, 2, func(args []any) (any, error) {
		s, sep, err := twoStrings(args)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}},
	"join": {2, 2, func(args []any) (any, error) {
		arr, err := asArray(args[0])
		if err != nil {
			return nil, err
		}
		sep, ok := args[1].(string)
		if !ok {
			return nil, errors.Wrap(ErrEval, "join separator must be a string")
		}
		parts := make([]string, len(arr))
		for i, e := range arr {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, sep), nil
	}},
	"contains": {2, 2, func(args []any) (any, error) {
		if arr, ok := args[0].([]any); ok {
			for _, e := range arr {
				if looseEqual(e, args[1]) {
					return true, nil
				}
			}
			return false, nil
		}
		s, sub, err := twoStrings(args)
		if err != nil {
			return nil, err
		}
		return strings.Contains(s, sub), nil
	}},
	"startsWith": {2, 2, func(args []any) (any, error) {
		s, prefix, err := twoStrings(args)
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(s, prefix), nil
	}},
	"endsWith": {2, 2, func(args []any) (any, error) {
		s, suffix, err := twoStrings(args)
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(s, suffix), nil
	}},
	"replace": {3, 3, func(args []any) (any, error) {
		s, old, err := twoStrings(args[:2])
		if err != nil {
			return nil, err
		}
		newS, ok := args[2].(string)
		if !ok {
			return nil, errors.Wrap(ErrEval, "replace requires string arguments")
		}
		return strings.ReplaceAll(s, old, newS), nil
	}},
	"substring": {2, 3, func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, errors.Wrap(ErrEval, "substring requires a string")
		}
		from, ok := asNumber(args[1])
		if !ok {
			return nil, errors.Wrap(ErrEval, "substring offsets must be numbers")
		}
		start := clampIndex(int(from), len(s))
		end := len(s)
		if len(args) == 3 {
			to, ok := asNumber(args[2])
			if !ok {
				return nil, errors.Wrap(ErrEval, "substring offsets must be numbers")
			}
			end = clampIndex(int(to), len(s))
		}
		if start > end {
			return "", nil
		}
		return s[start:end], nil
	}},

	"coalesce": {0, -1, func(args []any) (any, error) {
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	}},
	"default": {2, 2, func(args []any) (any, error) {
		if args[0] == nil {
			return args[1], nil
		}
		return args[0], nil
	}},
	"exists": {1, 1, func(args []any) (any, error) {
		return args[0] != nil, nil
	}},

	"keys": {1, 1, func(args []any) (any, error) {
		obj, ok := args[0].(map[string]any)
		if !ok {
			return nil, errors.Wrap(ErrEval, "keys requires an object")
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	}},
	"values": {1, 1, func(args []any) (any, error) {
		obj, ok := args[0].(map[string]any)
		if !ok {
			return nil, errors.Wrap(ErrEval, "values requires an object")
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = obj[k]
		}
		return out, nil
	}},
	"merge": {0, -1, func(args []any) (any, error) {
		out := make(map[string]any)
		for _, a := range args {
			if a == nil {
				continue
			}
			obj, ok := a.(map[string]any)
			if !ok {
				return nil, errors.Wrap(ErrEval, "merge requires object arguments")
			}
			for k, v := range obj {
				out[k] = v
			}
		}
		return out, nil
	}},

	"abs":   {1, 1, numberFn(math.Abs)},
	"floor": {1, 1, numberFn(math.Floor)},
	"ceil":  {1, 1, numberFn(math.Ceil)},
	"round": {1, 1, numberFn(math.Round)},

	"number": {1, 1, func(args []any) (any, error) {
		if f, ok := asNumber(args[0]); ok {
			return f, nil
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, errors.Wrap(ErrEval, "cannot convert value to number")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errors.Wrap(ErrEval, "cannot parse number", j.MKV{"value": s})
		}
		return f, nil
	}},
	"string": {1, 1, func(args []any) (any, error) {
		return Stringify(args[0]), nil
	}},
	"boolean": {1, 1, func(args []any) (any, error) {
		return truthy(args[0]), nil
	}},
}

func stringFn(fn func(string) string) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, errors.Wrap(ErrEval, "argument must be a string")
		}
		return fn(s), nil
	}
}

func numberFn(fn func(float64) float64) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		f, ok := asNumber(args[0])
		if !ok {
			return nil, errors.Wrap(ErrEval, "argument must be a number")
		}
		return fn(f), nil
	}
}

func asArray(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, errors.Wrap(ErrEval, "argument must be an array")
	}
	return arr, nil
}

func twoStrings(args []any) (string, string, error) {
	a, aok := args[0].(string)
	b, bok := args[1].(string)
	if !aok || !bok {
		return "", "", errors.Wrap(ErrEval, "arguments must be strings")
	}
	return a, b, nil
}

func reduceNumbers(v any, init float64, fn func(acc, f float64) float64) (any, error) {
	arr, err := asArray(v)
	if err != nil {
		return nil, err
	}
	acc := init
	for _, e := range arr {
		f, ok := asNumber(e)
		if !ok {
			return nil, errors.Wrap(ErrEval, "array elements must be numbers")
		}
		acc = fn(acc, f)
	}
	return acc, nil
}

func extremum(v any, better func(a, b float64) bool) (any, error) {
	arr, err := asArray(v)
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, nil
	}
	best, ok := asNumber(arr[0])
	if !ok {
		return nil, errors.Wrap(ErrEval, "array elements must be numbers")
	}
	for _, e := range arr[1:] {
		f, ok := asNumber(e)
		if !ok {
			return nil, errors.Wrap(ErrEval, "array elements must be numbers")
		}
		if better(f, best) {
			best = f
		}
	}
	return best, nil
}

func clampIndex(i, limit int) int {
	if i < 0 {
		return 0
	}
	if i > limit {
		return limit
	}
	return i
}

// Stringify renders a value the way the language's string coercion does:
// numbers drop a trailing ".0", null renders empty.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
