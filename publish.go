package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/nine-minds/alga-workflow/expression"
	"github.com/nine-minds/alga-workflow/internal/graph"
)

// CreateWorkflow registers a new workflow identity with an empty draft. The
// key must be lowercase dotted segments and unique; the ID is generated and
// opaque.
func (e *Engine) CreateWorkflow(ctx context.Context, key string, metadata map[string]any) (*WorkflowMeta, error) {
	if !ValidKey(key) {
		return nil, errors.Wrap(ErrValidation, "invalid workflow key", j.MKV{"key": key})
	}

	id, err := uuidString()
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	meta := &WorkflowMeta{
		ID:        id,
		Key:       key,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	draft := &Draft{
		WorkflowID: id,
		UpdatedAt:  now,
	}

	err = e.store.CreateWorkflow(ctx, meta, draft)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// UpdateDraft replaces the workflow's draft definition. Drafts are allowed
// to be incomplete or invalid; full validation runs at publish time.
func (e *Engine) UpdateDraft(ctx context.Context, workflowID string, def Definition) (*Draft, error) {
	e.draftLock.Lock(workflowID)
	defer e.draftLock.Unlock(workflowID)

	_, err := e.store.LookupWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	draft := &Draft{
		WorkflowID: workflowID,
		Definition: def,
		UpdatedAt:  e.clock.Now(),
	}
	err = e.store.SaveDraft(ctx, draft)
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// Publish freezes the workflow's current draft as the next version. The
// whole dependency closure is validated first: step kinds and action types
// against the registry, schema refs against the catalog, every expression
// field for Error-severity diagnostics, and the workflow-call graph for
// cycles. The draft itself stays editable.
func (e *Engine) Publish(ctx context.Context, workflowID string) (*Version, error) {
	e.draftLock.Lock(workflowID)
	defer e.draftLock.Unlock(workflowID)

	meta, err := e.store.LookupWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	draft, err := e.store.LookupDraft(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	snapshot, err := e.validateDefinition(ctx, meta.Key, &draft.Definition)
	if err != nil {
		return nil, err
	}

	versions, err := e.store.ListVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	next := 1
	for _, v := range versions {
		if v.Version >= next {
			next = v.Version + 1
		}
	}

	version := &Version{
		WorkflowID:            workflowID,
		Version:               next,
		Definition:            draft.Definition,
		PayloadSchemaSnapshot: snapshot,
		CreatedAt:             e.clock.Now(),
	}
	err = e.store.CreateVersion(ctx, version)
	if err != nil {
		return nil, err
	}

	e.logger.Debug(ctx, "workflow published", MKV{
		"workflow_id":  workflowID,
		"workflow_key": meta.Key,
		"version":      fmt.Sprintf("%d", next),
	})
	return version, nil
}

// validateDefinition runs the full publish-time validation and returns the
// resolved payload schema snapshot.
func (e *Engine) validateDefinition(ctx context.Context, key string, def *Definition) (map[string]any, error) {
	var snapshot map[string]any
	if def.PayloadSchemaRef != "" {
		if e.schemas == nil {
			return nil, errors.Wrap(ErrValidation, "no schema catalog configured", j.MKV{
				"ref": def.PayloadSchemaRef,
			})
		}
		s, ok := e.schemas.Resolve(def.PayloadSchemaRef)
		if !ok {
			return nil, errors.Wrap(ErrValidation, "unresolvable payload schema ref", j.MKV{
				"ref": def.PayloadSchemaRef,
			})
		}
		snapshot = s
	}

	if def.Trigger != nil && def.Trigger.EventName == "" {
		return nil, errors.Wrap(ErrValidation, "trigger binding requires an event name")
	}

	seenIDs := make(map[string]bool)
	err := e.validateSteps(def.Steps, "steps", seenIDs)
	if err != nil {
		return nil, err
	}

	findings := CheckDefinition(def, snapshot)
	for _, f := range findings {
		for _, d := range f.Diagnostics {
			if d.Severity != expression.SeverityError {
				continue
			}
			return nil, errors.Wrap(ErrValidation, "expression error", j.MKV{
				"step_path": f.StepPath,
				"field":     f.Field,
				"message":   d.Message,
				"offset":    fmt.Sprintf("%d", d.StartOffset),
			})
		}
	}

	return snapshot, e.validateCallGraph(ctx, key, def)
}

func (e *Engine) validateSteps(steps []Step, base string, seenIDs map[string]bool) error {
	for i := range steps {
		step := &steps[i]
		path := fmt.Sprintf("%s[%d]", base, i)

		if step.ID == "" {
			return errors.Wrap(ErrValidation, "step requires an id", j.MKV{"step_path": path})
		}
		if seenIDs[step.ID] {
			return errors.Wrap(ErrValidation, "duplicate step id", j.MKV{
				"step_path": path,
				"step_id":   step.ID,
			})
		}
		seenIDs[step.ID] = true

		if !step.Kind.Authorable() {
			return errors.Wrap(ErrValidation, "unknown step kind", j.MKV{
				"step_path": path,
				"kind":      string(step.Kind),
			})
		}

		switch step.Kind {
		case StepKindAction:
			if _, ok := e.actions.Resolve(step.ActionType); !ok {
				return errors.Wrap(ErrValidation, "unregistered action type", j.MKV{
					"step_path":   path,
					"action_type": step.ActionType,
				})
			}
			if err := e.validateSteps(step.Catch, path+".catch", seenIDs); err != nil {
				return err
			}

		case StepKindCondition:
			if step.Condition == "" {
				return errors.Wrap(ErrValidation, "condition step requires an expression", j.MKV{
					"step_path": path,
				})
			}
			if err := e.validateSteps(step.Then, path+".then", seenIDs); err != nil {
				return err
			}
			if err := e.validateSteps(step.Else, path+".else", seenIDs); err != nil {
				return err
			}

		case StepKindForEach:
			if step.Items == "" {
				return errors.Wrap(ErrValidation, "forEach step requires an items expression", j.MKV{
					"step_path": path,
				})
			}
			if err := e.validateSteps(step.Body, path+".body", seenIDs); err != nil {
				return err
			}

		case StepKindCallWorkflow:
			if !ValidKey(step.WorkflowKey) {
				return errors.Wrap(ErrValidation, "callWorkflow requires a valid workflow key", j.MKV{
					"step_path": path,
					"key":       step.WorkflowKey,
				})
			}

		case StepKindWaitForEvent:
			if step.EventName == "" {
				return errors.Wrap(ErrValidation, "waitForEvent step requires an event name", j.MKV{
					"step_path": path,
				})
			}

		case StepKindWaitForTimer:
			if step.TimeoutMillis <= 0 {
				return errors.Wrap(ErrValidation, "waitForTimer step requires a positive duration", j.MKV{
					"step_path": path,
				})
			}
		}
	}
	return nil
}

// validateCallGraph walks the callWorkflow closure from the publishing
// workflow: every referenced key must exist with a published (or currently
// validating) definition and the whole graph must be acyclic.
func (e *Engine) validateCallGraph(ctx context.Context, key string, def *Definition) error {
	g := graph.New()
	visited := map[string]bool{key: true}

	err := e.collectCallEdges(ctx, g, visited, key, def)
	if err != nil {
		return err
	}

	if cycle := g.FindCycle(); cycle != nil {
		return errors.Wrap(ErrValidation, "workflow call cycle", j.MKV{
			"cycle": strings.Join(cycle, " -> "),
		})
	}
	return nil
}

func (e *Engine) collectCallEdges(ctx context.Context, g *graph.Graph, visited map[string]bool, fromKey string, def *Definition) error {
	for _, childKey := range callWorkflowKeys(def.Steps) {
		g.AddEdge(fromKey, childKey)
		if visited[childKey] {
			continue
		}
		visited[childKey] = true

		child, err := e.store.LookupWorkflowByKey(ctx, childKey)
		if errors.Is(err, ErrWorkflowNotFound) {
			return errors.Wrap(ErrValidation, "callWorkflow references unknown workflow", j.MKV{
				"from": fromKey,
				"key":  childKey,
			})
		} else if err != nil {
			return err
		}

		childVersion, err := e.resolveVersion(ctx, child.ID, 0)
		if errors.Is(err, ErrVersionNotFound) {
			return errors.Wrap(ErrValidation, "callWorkflow references unpublished workflow", j.MKV{
				"from": fromKey,
				"key":  childKey,
			})
		} else if err != nil {
			return err
		}

		err = e.collectCallEdges(ctx, g, visited, childKey, &childVersion.Definition)
		if err != nil {
			return err
		}
	}
	return nil
}

func callWorkflowKeys(steps []Step) []string {
	var keys []string
	for i := range steps {
		step := &steps[i]
		if step.Kind == StepKindCallWorkflow && step.WorkflowKey != "" {
			keys = append(keys, step.WorkflowKey)
		}
		keys = append(keys, callWorkflowKeys(step.Catch)...)
		keys = append(keys, callWorkflowKeys(step.Then)...)
		keys = append(keys, callWorkflowKeys(step.Else)...)
		keys = append(keys, callWorkflowKeys(step.Body)...)
	}
	return keys
}

// ExpressionFinding groups the diagnostics of one expression field of one
// step, positioned by step path for editor surfacing.
type ExpressionFinding struct {
	StepPath    string
	Field       string
	Expression  string
	Diagnostics []expression.Diagnostic
}

// CheckDefinition statically checks every expression field in the definition
// and returns the findings. Scopes track catch blocks (which add the 'error'
// root) and enclosing forEach variables. Only expressions with at least one
// diagnostic are returned.
func CheckDefinition(def *Definition, payloadSchema map[string]any) []ExpressionFinding {
	scope := expression.Scope{}
	if payloadSchema != nil {
		scope.RootSchemas = map[string]*expression.Type{
			"payload": expression.TypeFromSchema(payloadSchema),
		}
	}

	var findings []ExpressionFinding
	if def.Trigger != nil && def.Trigger.CorrelationKeyExpr != "" {
		findings = appendFinding(findings, "trigger", "correlationKey", def.Trigger.CorrelationKeyExpr, scope)
	}
	return append(findings, checkStepExpressions(def.Steps, "steps", scope)...)
}

func checkStepExpressions(steps []Step, base string, scope expression.Scope) []ExpressionFinding {
	var findings []ExpressionFinding
	for i := range steps {
		step := &steps[i]
		path := fmt.Sprintf("%s[%d]", base, i)

		for field, expr := range inputExpressions(step.Input, "input") {
			findings = appendFinding(findings, path, field, expr, scope)
		}

		switch step.Kind {
		case StepKindAction:
			catchScope := scope
			catchScope.InCatch = true
			findings = append(findings, checkStepExpressions(step.Catch, path+".catch", catchScope)...)

		case StepKindCondition:
			findings = appendFinding(findings, path, "condition", step.Condition, scope)
			findings = append(findings, checkStepExpressions(step.Then, path+".then", scope)...)
			findings = append(findings, checkStepExpressions(step.Else, path+".else", scope)...)

		case StepKindForEach:
			findings = appendFinding(findings, path, "items", step.Items, scope)
			bodyScope := scope
			bodyScope.LoopVars = append(append([]string{}, scope.LoopVars...), loopVars(step)...)
			findings = append(findings, checkStepExpressions(step.Body, path+".body", bodyScope)...)

		case StepKindWaitForEvent:
			if step.CorrelationKeyExpr != "" {
				findings = appendFinding(findings, path, "correlationKey", step.CorrelationKeyExpr, scope)
			}
		}
	}
	return findings
}

func loopVars(step *Step) []string {
	var vars []string
	if step.ItemVar != "" {
		vars = append(vars, step.ItemVar)
	}
	if step.IndexVar != "" {
		vars = append(vars, step.IndexVar)
	}
	return vars
}

// inputExpressions flattens the {"$expr": "..."} objects of an input mapping
// into field-path keyed expression sources.
func inputExpressions(value any, field string) map[string]string {
	out := make(map[string]string)
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 1 {
			if raw, ok := v["$expr"].(string); ok {
				out[field] = raw
				return out
			}
		}
		for k, nested := range v {
			for f, expr := range inputExpressions(nested, field+"."+k) {
				out[f] = expr
			}
		}
	case []any:
		for i, nested := range v {
			for f, expr := range inputExpressions(nested, fmt.Sprintf("%s[%d]", field, i)) {
				out[f] = expr
			}
		}
	}
	return out
}

func appendFinding(findings []ExpressionFinding, path, field, expr string, scope expression.Scope) []ExpressionFinding {
	ds := expression.Check(expr, scope)
	if len(ds) == 0 {
		return findings
	}
	return append(findings, ExpressionFinding{
		StepPath:    path,
		Field:       field,
		Expression:  expr,
		Diagnostics: ds,
	})
}
