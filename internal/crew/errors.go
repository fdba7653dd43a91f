package crew

import "fmt"

// ConfigurationError reports missing or malformed agent and task definitions.
// It is raised before any task runs.
type ConfigurationError struct {
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// OrchestrationError reports the task that failed a run. The whole run is
// discarded when it is returned.
type OrchestrationError struct {
	RunID string
	Task  string
	Err   error
	// States is the state of every task when the run stopped.
	States map[string]TaskState
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// StructuredOutputParseError is recorded when a task's raw output does not
// match its schema or cannot be persisted. The run continues with raw text.
type StructuredOutputParseError struct {
	Task   string
	Schema string
	Err    error
}

func (e *StructuredOutputParseError) Error() string {
	return fmt.Sprintf("task %q output does not match schema %q: %v", e.Task, e.Schema, e.Err)
}

func (e *StructuredOutputParseError) Unwrap() error { return e.Err }
