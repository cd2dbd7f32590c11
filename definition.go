package workflow

import (
	"regexp"
	"time"
)

// WorkflowMeta is the stable identity of a workflow: an opaque ID that is
// regenerated on force import and a human-assigned key that is portable
// across environments via bundles.
type WorkflowMeta struct {
	ID        string
	Key       string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// keyPattern constrains workflow keys to lowercase dotted segments, e.g.
// "sample.ticket-created-hello".
var keyPattern = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)*$`)

func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Draft is the single mutable definition of a workflow. Publishing freezes a
// snapshot of it as the next Version; the draft itself stays editable.
type Draft struct {
	WorkflowID string
	Definition Definition
	UpdatedAt  time.Time
}

// Version is an immutable published snapshot. Its definition, trigger
// binding and payload schema snapshot never change once created; only a
// higher version number may supersede it. Immutability is what allows
// unlimited concurrent readers without locking.
type Version struct {
	WorkflowID string
	Version    int
	Definition Definition
	// PayloadSchemaSnapshot is the resolved JSON Schema for the trigger
	// payload, frozen at publish time so later catalog edits cannot change
	// the validation behaviour of existing versions.
	PayloadSchemaSnapshot map[string]any
	CreatedAt             time.Time
}

// Definition is the authored content of a workflow: its trigger binding and
// step graph. It serializes to canonical JSON inside bundles.
type Definition struct {
	Name             string          `json:"name,omitempty"`
	Trigger          *TriggerBinding `json:"trigger,omitempty"`
	PayloadSchemaRef string          `json:"payloadSchemaRef,omitempty"`
	// ConcurrencyLimit caps simultaneously RUNNING/WAITING runs of a
	// version. Zero means unlimited.
	ConcurrencyLimit int            `json:"concurrencyLimit,omitempty"`
	Vars             map[string]any `json:"vars,omitempty"`
	Steps            []Step         `json:"steps"`
}

// TriggerBinding associates a version with an inbound event. A nil binding
// means the workflow can only be started manually or as a sub-workflow. At
// most one binding exists per published version.
type TriggerBinding struct {
	EventName string `json:"eventName"`
	// CorrelationKeyExpr is evaluated against {payload} at trigger time to
	// derive the run's correlation key.
	CorrelationKeyExpr string `json:"correlationKey,omitempty"`
}

// StepKind is the closed set of step types. Publish resolves every kind and
// action type against the registries once, so unknown kinds fail fast at
// publish time rather than at run time.
type StepKind string

const (
	StepKindAction       StepKind = "action"
	StepKindCondition    StepKind = "condition"
	StepKindForEach      StepKind = "forEach"
	StepKindCallWorkflow StepKind = "control.callWorkflow"
	StepKindWaitForEvent StepKind = "waitForEvent"
	StepKindWaitForTimer StepKind = "waitForTimer"

	// StepKindAudit marks operator entries (signal, resume, cancel) in the
	// step-execution log. It is never authored in a definition.
	StepKindAudit StepKind = "audit"
)

func (k StepKind) Authorable() bool {
	switch k {
	case StepKindAction, StepKindCondition, StepKindForEach,
		StepKindCallWorkflow, StepKindWaitForEvent, StepKindWaitForTimer:
		return true
	default:
		return false
	}
}

// Step is the tagged union of all step types. Kind decides which field
// group applies. Input mapping values may be literals or {"$expr": "..."}
// objects resolved against the run context at execution time.
type Step struct {
	ID   string   `json:"id"`
	Kind StepKind `json:"kind"`

	// action
	ActionType string         `json:"actionType,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Retry      *RetryPolicy   `json:"retry,omitempty"`
	// Catch runs when the action exhausts its retries; inside it the
	// expression context exposes the 'error' root.
	Catch []Step `json:"catch,omitempty"`

	// condition
	Condition string `json:"condition,omitempty"`
	Then      []Step `json:"then,omitempty"`
	Else      []Step `json:"else,omitempty"`

	// forEach
	Items   string `json:"items,omitempty"`
	ItemVar string `json:"itemVar,omitempty"`
	// IndexVar optionally binds the zero-based iteration index.
	IndexVar string `json:"indexVar,omitempty"`
	Body     []Step `json:"body,omitempty"`

	// control.callWorkflow binds to a specific child key and version.
	WorkflowKey     string `json:"workflowKey,omitempty"`
	WorkflowVersion int    `json:"workflowVersion,omitempty"`

	// waitForEvent
	EventName string `json:"eventName,omitempty"`
	// CorrelationKeyExpr derives the wait's correlation key from the run
	// context.
	CorrelationKeyExpr string `json:"correlationKey,omitempty"`
	// TimeoutMillis bounds how long the wait may stay open. Zero means no
	// timeout. Also used by waitForTimer as the timer duration.
	TimeoutMillis int64 `json:"timeoutMs,omitempty"`

	// SaveAs stores the step's output under vars.<SaveAs> for later steps.
	SaveAs string `json:"saveAs,omitempty"`
}

// RetryPolicy controls re-execution of failed action steps. Exhaustion
// transitions the run to FAILED and makes it visible in the dead-letter
// view.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. Values below 1 mean 1.
	MaxAttempts int `json:"maxAttempts"`
	// Backoff is "fixed" or "exponential".
	Backoff string `json:"backoff,omitempty"`
	// IntervalMillis is the base delay between attempts.
	IntervalMillis int64 `json:"intervalMs,omitempty"`
	// Jitter adds up to 50% random spread to exponential backoff so
	// retry storms decorrelate.
	Jitter bool `json:"jitter,omitempty"`
}

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)
