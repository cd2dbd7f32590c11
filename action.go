package workflow

import "context"

// ActionFunc is a side-effecting handler for an action type. The
// idempotency key is derived from (run_id, step path, attempt);
// implementations must ensure re-invocation with the same key does not
// re-apply side effects.
type ActionFunc func(ctx context.Context, idempotencyKey string, input map[string]any) (output any, err error)

// ActionRegistry resolves action types to their handlers. Like the schema
// catalog it is read-mostly state built at startup and injected into the
// engine, and publish resolves every referenced action type against it once
// so unknown types fail at publish time.
type ActionRegistry interface {
	Resolve(actionType string) (ActionFunc, bool)
	// Types returns all registered action types, used by publish-time
	// dependency-closure validation.
	Types() []string
}

// StaticActionRegistry is a map-backed ActionRegistry.
type StaticActionRegistry struct {
	Actions map[string]ActionFunc
}

func (r *StaticActionRegistry) Resolve(actionType string) (ActionFunc, bool) {
	fn, ok := r.Actions[actionType]
	return fn, ok
}

func (r *StaticActionRegistry) Types() []string {
	types := make([]string, 0, len(r.Actions))
	for t := range r.Actions {
		types = append(types, t)
	}
	return types
}

var _ ActionRegistry = (*StaticActionRegistry)(nil)
