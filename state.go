package workflow

import (
	"fmt"
	"strings"

	"github.com/nine-minds/alga-workflow/internal/metrics"
)

type State string

const (
	StateUnknown  State = ""
	StateShutdown State = "Shutdown"
	StateRunning  State = "Running"
	StateIdle     State = "Idle"
)

func (e *Engine) updateState(processName string, s State) {
	e.internalStateMu.Lock()
	defer e.internalStateMu.Unlock()

	switch s {
	case StateIdle:
		metrics.ProcessStates.WithLabelValues(processName).Set(2)
	case StateRunning:
		metrics.ProcessStates.WithLabelValues(processName).Set(1)
	case StateShutdown:
		metrics.ProcessStates.WithLabelValues(processName).Set(0.0)
	}

	e.internalState[processName] = s
}

// States returns the current state of every background process, keyed by
// process name.
func (e *Engine) States() map[string]State {
	e.internalStateMu.Lock()
	defer e.internalStateMu.Unlock()

	states := make(map[string]State)
	for k, v := range e.internalState {
		states[k] = v
	}

	return states
}

func makeRole(parts ...any) string {
	joined := make([]string, 0, len(parts))
	for _, p := range parts {
		joined = append(joined, strings.ToLower(fmt.Sprintf("%v", p)))
	}
	return strings.Join(joined, "-")
}
