package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	workflowKey = "workflow_key"
	processName = "process_name"
	runStatus   = "run_status"
	eventStatus = "event_status"
	stepKind    = "step_kind"
)

var (
	// RunsStarted counts runs created by trigger, schedule or manual start.
	RunsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_runs_started_count",
		Help: "Number of runs started per workflow",
	}, []string{workflowKey})

	// RunsFinished counts runs reaching a terminal status.
	RunsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_runs_finished_count",
		Help: "Number of runs that reached a terminal status",
	}, []string{workflowKey, runStatus})

	// StepLatency is how long a single step execution attempt takes.
	StepLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflow_step_latency_seconds",
		Help:    "Step execution latency in seconds",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 60, 300},
	}, []string{workflowKey, stepKind})

	// StepErrors is the number of step attempts that returned an error.
	StepErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_step_error_count",
		Help: "Number of step execution attempts that errored",
	}, []string{workflowKey, stepKind})

	// EventsIngested counts ingested events by derived matching status.
	EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_events_ingested_count",
		Help: "Number of ingested events by matching outcome",
	}, []string{eventStatus})

	// DeadLetteredRuns gauges the size of the dead-letter view.
	DeadLetteredRuns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workflow_dead_lettered_runs",
		Help: "Number of runs currently visible in the dead-letter view",
	}, []string{workflowKey})

	// ProcessStates reflects the states of the engine's background processes.
	ProcessStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workflow_process_states",
		Help: "The current states of all the engine processes",
	}, []string{processName})

	// ProcessErrors is the number of errors from background processes.
	ProcessErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_process_error_count",
		Help: "Number of errors from background processes",
	}, []string{processName})
)

func init() {
	prometheus.MustRegister(
		RunsStarted,
		RunsFinished,
		StepLatency,
		StepErrors,
		EventsIngested,
		DeadLetteredRuns,
		ProcessStates,
		ProcessErrors,
	)
}
