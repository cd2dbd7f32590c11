package expression_test

import (
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	"github.com/nine-minds/alga-workflow/expression"
)

func testContext() expression.Context {
	return expression.Context{
		Payload: map[string]any{
			"user": map[string]any{
				"name":  "ada",
				"email": "ada@example.com",
			},
			"items": []any{
				map[string]any{"sku": "a", "qty": float64(2)},
				map[string]any{"sku": "b", "qty": float64(3)},
			},
			"amounts": []any{float64(10), float64(20), float64(12)},
			"active":  true,
		},
		Vars: map[string]any{
			"ticketId": "T-42",
		},
		Meta: map[string]any{
			"workflowKey": "sample.hello",
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want any
	}{
		{
			name: "property path",
			expr: "payload.user.name",
			want: "ada",
		},
		{
			name: "missing property resolves to null",
			expr: "payload.user.missing",
			want: nil,
		},
		{
			name: "missing nested property short-circuits to null",
			expr: "payload.nothing.here.at.all",
			want: nil,
		},
		{
			name: "array index",
			expr: "payload.amounts[1]",
			want: float64(20),
		},
		{
			name: "out of range index resolves to null",
			expr: "payload.amounts[99]",
			want: nil,
		},
		{
			name: "index expression",
			expr: "payload.amounts[1 + 1]",
			want: float64(12),
		},
		{
			name: "vars root",
			expr: "vars.ticketId",
			want: "T-42",
		},
		{
			name: "meta root",
			expr: "meta.workflowKey",
			want: "sample.hello",
		},
		{
			name: "arithmetic",
			expr: "(2 + 3) * 4 - 10 / 2",
			want: float64(15),
		},
		{
			name: "modulo",
			expr: "7 % 3",
			want: float64(1),
		},
		{
			name: "string concatenation",
			expr: "'ticket ' + vars.ticketId",
			want: "ticket T-42",
		},
		{
			name: "number concatenates onto string",
			expr: "'n=' + 5",
			want: "n=5",
		},
		{
			name: "comparison",
			expr: "payload.amounts[0] >= 10",
			want: true,
		},
		{
			name: "loose numeric equality",
			expr: "2 == 2.0",
			want: true,
		},
		{
			name: "inequality",
			expr: "payload.user.name != 'bob'",
			want: true,
		},
		{
			name: "logical and",
			expr: "payload.active && payload.user.name == 'ada'",
			want: true,
		},
		{
			name: "logical or short-circuits",
			expr: "payload.active || payload.explodes.here",
			want: true,
		},
		{
			name: "negation",
			expr: "!payload.active",
			want: false,
		},
		{
			name: "ternary",
			expr: "payload.active ? 'on' : 'off'",
			want: "on",
		},
		{
			name: "null literal",
			expr: "null",
			want: nil,
		},
		{
			name: "array literal",
			expr: "[1, 'two', payload.active]",
			want: []any{float64(1), "two", true},
		},
		{
			name: "object literal",
			expr: "{name: payload.user.name, n: 2}",
			want: map[string]any{"name": "ada", "n": float64(2)},
		},
		{
			name: "sum builtin",
			expr: "$sum(payload.amounts)",
			want: float64(42),
		},
		{
			name: "count builtin",
			expr: "$count(payload.items)",
			want: float64(2),
		},
		{
			name: "avg builtin",
			expr: "$avg(payload.amounts)",
			want: float64(14),
		},
		{
			name: "min and max",
			expr: "$max(payload.amounts) - $min(payload.amounts)",
			want: float64(10),
		},
		{
			name: "first builtin",
			expr: "$first(payload.amounts)",
			want: float64(10),
		},
		{
			name: "length of string",
			expr: "$length(payload.user.name)",
			want: float64(3),
		},
		{
			name: "upper builtin",
			expr: "$upper(payload.user.name)",
			want: "ADA",
		},
		{
			name: "split and join",
			expr: "$join($split(payload.user.email, '@'), ' at ')",
			want: "ada at example.com",
		},
		{
			name: "contains on array",
			expr: "$contains(payload.amounts, 20)",
			want: true,
		},
		{
			name: "contains on string",
			expr: "$contains(payload.user.email, 'example')",
			want: true,
		},
		{
			name: "coalesce builtin",
			expr: "$coalesce(payload.missing, null, 'fallback')",
			want: "fallback",
		},
		{
			name: "default builtin",
			expr: "$default(payload.user.name, 'anonymous')",
			want: "ada",
		},
		{
			name: "exists builtin",
			expr: "$exists(payload.missing)",
			want: false,
		},
		{
			name: "keys builtin sorts",
			expr: "$keys(payload.user)",
			want: []any{"email", "name"},
		},
		{
			name: "merge builtin",
			expr: "$merge({a: 1}, {b: 2}, null)",
			want: map[string]any{"a": float64(1), "b": float64(2)},
		},
		{
			name: "distinct builtin",
			expr: "$distinct([1, 2, 1, 3, 2])",
			want: []any{float64(1), float64(2), float64(3)},
		},
		{
			name: "flatten builtin",
			expr: "$flatten([[1, 2], 3, [4]])",
			want: []any{float64(1), float64(2), float64(3), float64(4)},
		},
		{
			name: "sort builtin",
			expr: "$sort(payload.amounts)",
			want: []any{float64(10), float64(12), float64(20)},
		},
		{
			name: "number builtin parses strings",
			expr: "$number(' 12.5 ') * 2",
			want: float64(25),
		},
		{
			name: "string builtin drops trailing zero",
			expr: "$string(3.0)",
			want: "3",
		},
		{
			name: "boolean builtin",
			expr: "$boolean('')",
			want: false,
		},
		{
			name: "substring builtin",
			expr: "$substring(payload.user.email, 0, 3)",
			want: "ada",
		},
		{
			name: "round builtin",
			expr: "$round(2.5)",
			want: float64(3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expression.Evaluate(tt.expr, testContext())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		sentinel error
	}{
		{
			name:     "unknown root",
			expr:     "payloads.name",
			sentinel: expression.ErrEval,
		},
		{
			name:     "unknown function",
			expr:     "$nope(1)",
			sentinel: expression.ErrEval,
		},
		{
			name:     "division by zero",
			expr:     "1 / 0",
			sentinel: expression.ErrEval,
		},
		{
			name:     "numeric operator on string",
			expr:     "payload.user.name - 1",
			sentinel: expression.ErrEval,
		},
		{
			name:     "wrong arity",
			expr:     "$sum(payload.amounts, 1)",
			sentinel: expression.ErrEval,
		},
		{
			name:     "sum of non-numbers",
			expr:     "$sum(payload.items)",
			sentinel: expression.ErrEval,
		},
		{
			name:     "unclosed call",
			expr:     "$sum(payload.amounts",
			sentinel: expression.ErrParse,
		},
		{
			name:     "unterminated string",
			expr:     "'open",
			sentinel: expression.ErrParse,
		},
		{
			name:     "trailing input",
			expr:     "1 2",
			sentinel: expression.ErrParse,
		},
		{
			name:     "single equals",
			expr:     "payload.active = true",
			sentinel: expression.ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expression.Evaluate(tt.expr, testContext())
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.sentinel))
		})
	}
}

func TestEvaluateScopeVars(t *testing.T) {
	ctx := testContext()
	ctx.ScopeVars = map[string]any{
		"item":  map[string]any{"qty": float64(7)},
		"index": float64(1),
	}

	got, err := expression.Evaluate("item.qty * 10 + index", ctx)
	require.NoError(t, err)
	require.Equal(t, float64(71), got)

	// Scope vars win over context roots of the same name.
	ctx.ScopeVars["payload"] = map[string]any{"user": "shadowed"}
	got, err = expression.Evaluate("payload.user", ctx)
	require.NoError(t, err)
	require.Equal(t, "shadowed", got)
}

func TestEvaluateErrorRoot(t *testing.T) {
	ctx := testContext()

	_, err := expression.Evaluate("error.message", ctx)
	require.Error(t, err)

	ctx.Error = map[string]any{"message": "boom", "stepPath": "steps[1]"}
	got, err := expression.Evaluate("error.message + ' at ' + error.stepPath", ctx)
	require.NoError(t, err)
	require.Equal(t, "boom at steps[1]", got)
}

func TestTruthy(t *testing.T) {
	require.False(t, expression.Truthy(nil))
	require.False(t, expression.Truthy(false))
	require.False(t, expression.Truthy(float64(0)))
	require.False(t, expression.Truthy(""))
	require.False(t, expression.Truthy([]any{}))
	require.False(t, expression.Truthy(map[string]any{}))

	require.True(t, expression.Truthy(true))
	require.True(t, expression.Truthy(float64(-1)))
	require.True(t, expression.Truthy("no"))
	require.True(t, expression.Truthy([]any{nil}))
	require.True(t, expression.Truthy(map[string]any{"k": nil}))
}

func TestStringify(t *testing.T) {
	require.Equal(t, "", expression.Stringify(nil))
	require.Equal(t, "42", expression.Stringify(float64(42)))
	require.Equal(t, "2.5", expression.Stringify(2.5))
	require.Equal(t, "true", expression.Stringify(true))
	require.Equal(t, "hi", expression.Stringify("hi"))
}
