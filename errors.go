package workflow

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	// ErrValidation covers bad input shapes: draft definitions referencing
	// unregistered action types or schema refs, trigger payloads that fail
	// the version's payload schema, and malformed bundles. Non-retryable.
	ErrValidation = errors.New("validation failed", j.C("ERR_8a41c2de90f3b617"))

	// ErrConflict is returned by create-only bundle imports when a workflow
	// with the same key already exists. Non-retryable.
	ErrConflict = errors.New("workflow key already exists", j.C("ERR_3f9d10c7a25e48bb"))

	// ErrConcurrencyLimit is returned by Start when the version's limit of
	// simultaneously active runs is reached. Callers may retry later.
	ErrConcurrencyLimit = errors.New("concurrency limit for workflow version reached", j.C("ERR_5be2d7f4c1a09e36"))

	// ErrInvalidTransition marks an illegal run status transition. It points
	// at a programming or data error and is logged, never swallowed.
	ErrInvalidTransition = errors.New("invalid run status transition", j.C("ERR_c07d3a918e54f2ba"))

	// ErrEvaluation wraps expression runtime failures. It is caught at the
	// step boundary and recorded on the step execution.
	ErrEvaluation = errors.New("expression evaluation failed", j.C("ERR_e1f68b0d47c3a925"))

	// ErrAction wraps failures of external side-effecting action calls and is
	// subject to the step's retry policy.
	ErrAction = errors.New("action invocation failed", j.C("ERR_72cfa9e3d1b8640d"))

	ErrWorkflowNotFound = errors.New("workflow not found", j.C("ERR_94b6e8d02a1c73f5"))
	ErrDraftNotFound    = errors.New("workflow has no draft", j.C("ERR_1d35ab9c6e07f284"))
	ErrVersionNotFound  = errors.New("workflow version not found", j.C("ERR_a82f40c5d96e31b7"))
	ErrRunNotFound      = errors.New("run not found", j.C("ERR_6d982e73339f351a"))
	ErrWaitNotFound     = errors.New("wait not found", j.C("ERR_2f6c8edf63f7ac8d"))
	ErrEventNotFound    = errors.New("event not found", j.C("ERR_b59c31f7e2d084a6"))

	// ErrWaitAlreadyResolved is returned by conditional wait updates when
	// another committer won the race. Losing the race is not an error for
	// ingestion; the event is simply recorded as unmatched.
	ErrWaitAlreadyResolved = errors.New("wait is no longer open", j.C("ERR_4e07c8b2f691d5a3"))

	ErrEngineNotRunning = errors.New("engine is not running - call Run() first", j.C("ERR_6b414d1eb843a681"))
	ErrEngineShutdown   = errors.New("engine is shutting down", j.C("ERR_f3a2c58e9d1b7460"))
)
