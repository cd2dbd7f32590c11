// Package expression implements the mapping expression language used by
// workflow step input mappings: context root paths, indexing, a fixed
// registry of $-prefixed builtin functions, ternary conditionals and the
// usual boolean, comparison and arithmetic operators.
//
// Evaluation is side-effect free and always terminates: nesting depth is
// bounded at parse time and there are no user-defined functions.
package expression

import (
	"math"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var ErrEval = errors.New("expression evaluation failed", j.C("ERR_d40b83f6a912ce57"))

// Context is the object expressions are evaluated against. Error is non-nil
// only inside catch scopes; ScopeVars carries declared loop item/index
// variables which shadow nothing (roots and scope vars share a flat
// namespace, with scope vars resolved first).
type Context struct {
	Payload   map[string]any
	Vars      map[string]any
	Meta      map[string]any
	Error     map[string]any
	ScopeVars map[string]any
}

// Roots returns the identifier roots resolvable in this context, in a stable
// order. It feeds the diagnostics pass so that authoring-time validation and
// runtime resolution can never disagree.
func (c Context) Roots() []string {
	roots := []string{"payload", "vars", "meta"}
	if c.Error != nil {
		roots = append(roots, "error")
	}
	for name := range c.ScopeVars {
		roots = append(roots, name)
	}
	return roots
}

func (c Context) resolve(name string) (any, bool) {
	if v, ok := c.ScopeVars[name]; ok {
		return v, true
	}
	switch name {
	case "payload":
		return c.Payload, true
	case "vars":
		return c.Vars, true
	case "meta":
		return c.Meta, true
	case "error":
		if c.Error != nil {
			return c.Error, true
		}
	}
	return nil, false
}

// Evaluate parses and evaluates expr against ctx. The context is never
// mutated. Missing properties under a known root evaluate to null rather
// than failing, since payload schemas may be incomplete.
func Evaluate(expr string, ctx Context) (any, error) {
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	return eval(n, ctx)
}

func evalErr(n node, msg string) error {
	start, _ := n.span()
	return errors.Wrap(ErrEval, msg, j.MKV{"offset": strconv.Itoa(start)})
}

func eval(n node, ctx Context) (any, error) {
	switch t := n.(type) {
	case literalNode:
		return t.value, nil

	case identNode:
		v, ok := ctx.resolve(t.name)
		if !ok {
			return nil, evalErr(n, "unknown identifier '"+t.name+"'")
		}
		return v, nil

	case memberNode:
		target, err := eval(t.target, ctx)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, nil
		}
		obj, ok := target.(map[string]any)
		if !ok {
			return nil, evalErr(n, "cannot access property '"+t.property+"' of non-object")
		}
		return obj[t.property], nil

	case indexNode:
		target, err := eval(t.target, ctx)
		if err != nil {
			return nil, err
		}
		idx, err := eval(t.index, ctx)
		if err != nil {
			return nil, err
		}
		return evalIndex(n, target, idx)

	case callNode:
		fn, ok := builtins[t.name]
		if !ok {
			return nil, evalErr(n, "unknown function '$"+t.name+"'")
		}
		args := make([]any, 0, len(t.args))
		for _, a := range t.args {
			v, err := eval(a, ctx)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		v, err := fn.apply(args)
		if err != nil {
			return nil, errors.Wrap(err, "in call to $"+t.name)
		}
		return v, nil

	case unaryNode:
		v, err := eval(t.operand, ctx)
		if err != nil {
			return nil, err
		}
		switch t.op {
		case tokenBang:
			return !truthy(v), nil
		case tokenMinus:
			f, ok := asNumber(v)
			if !ok {
				return nil, evalErr(n, "unary '-' requires a number")
			}
			return -f, nil
		}
		return nil, evalErr(n, "unsupported unary operator")

	case binaryNode:
		return evalBinary(t, ctx)

	case ternaryNode:
		cond, err := eval(t.cond, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return eval(t.then, ctx)
		}
		return eval(t.otherwise, ctx)

	case arrayNode:
		out := make([]any, 0, len(t.elems))
		for _, e := range t.elems {
			v, err := eval(e, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case objectNode:
		out := make(map[string]any, len(t.keys))
		for i, k := range t.keys {
			v, err := eval(t.values[i], ctx)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}

	return nil, evalErr(n, "unsupported expression node")
}

func evalBinary(n binaryNode, ctx Context) (any, error) {
	// Short-circuit the logical operators before evaluating the right side.
	if n.op == tokenAnd || n.op == tokenOr {
		left, err := eval(n.left, ctx)
		if err != nil {
			return nil, err
		}
		if n.op == tokenAnd && !truthy(left) {
			return false, nil
		}
		if n.op == tokenOr && truthy(left) {
			return true, nil
		}
		right, err := eval(n.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := eval(n.left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := eval(n.right, ctx)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return looseEqual(left, right), nil
	case tokenNotEq:
		return !looseEqual(left, right), nil
	}

	if n.op == tokenPlus {
		// '+' concatenates when either side is a string, otherwise adds.
		if ls, ok := left.(string); ok {
			return ls + Stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return Stringify(left) + rs, nil
		}
	}

	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if !lok || !rok {
		return nil, evalErr(n, "operator requires numeric operands")
	}

	switch n.op {
	case tokenPlus:
		return lf + rf, nil
	case tokenMinus:
		return lf - rf, nil
	case tokenStar:
		return lf * rf, nil
	case tokenSlash:
		if rf == 0 {
			return nil, evalErr(n, "division by zero")
		}
		return lf / rf, nil
	case tokenPercent:
		if rf == 0 {
			return nil, evalErr(n, "division by zero")
		}
		return math.Mod(lf, rf), nil
	case tokenLess:
		return lf < rf, nil
	case tokenLessEq:
		return lf <= rf, nil
	case tokenGreater:
		return lf > rf, nil
	case tokenGreaterEq:
		return lf >= rf, nil
	}

	return nil, evalErr(n, "unsupported binary operator")
}

func evalIndex(n node, target, idx any) (any, error) {
	switch t := target.(type) {
	case nil:
		return nil, nil
	case []any:
		f, ok := asNumber(idx)
		if !ok {
			return nil, evalErr(n, "array index must be a number")
		}
		i := int(f)
		if i < 0 || i >= len(t) {
			return nil, nil
		}
		return t[i], nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, evalErr(n, "object index must be a string")
		}
		return t[key], nil
	}
	return nil, evalErr(n, "cannot index non-collection value")
}

// Truthy reports whether a value counts as true under the language's loose
// semantics. Condition steps use it to pick a branch.
func Truthy(v any) bool {
	return truthy(v)
}

// truthy follows the language's loose semantics: null, false, zero and the
// empty string/collection are false, everything else true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func looseEqual(a, b any) bool {
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return af == bf
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch at := a.(type) {
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !looseEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, present := bt[k]
			if !present || !looseEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}
