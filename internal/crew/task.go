package crew

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spigell/jobfit-ai/internal/schema"
)

// ToolCall runs a tool of the task's agent before the LLM call. Input is a
// template rendered like the task description.
type ToolCall struct {
	Tool  string
	Input string
}

// Task is one unit of work for an agent. Context lists the names of tasks
// whose raw output is appended to the prompt; they always finish first.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
	Context        []string
	ToolCalls      []ToolCall
	OutputSchema   schema.Schema
	// OutputFile receives the structured output as JSON. It is a template and
	// may reference {run_id}. Relative paths resolve against the crew's output dir.
	OutputFile string
	Async      bool
}

// ErrUnknownPlaceholder is wrapped when a template names a missing input.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

var placeholder = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes {name} placeholders from inputs. {{ and }} produce
// literal braces. A placeholder without an input is an error.
func Render(template string, inputs map[string]string) (string, error) {
	var (
		b       strings.Builder
		missing []string
		last    int
	)

	for _, m := range placeholder.FindAllStringSubmatchIndex(template, -1) {
		b.WriteString(template[last:m[0]])
		last = m[1]

		switch token := template[m[0]:m[1]]; token {
		case "{{":
			b.WriteString("{")
		case "}}":
			b.WriteString("}")
		default:
			name := template[m[2]:m[3]]
			value, ok := inputs[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			b.WriteString(value)
		}
	}
	b.WriteString(template[last:])

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlaceholder, strings.Join(missing, ", "))
	}
	return b.String(), nil
}

// Placeholders lists the input names a template references.
func Placeholders(template string) []string {
	var names []string
	seen := map[string]struct{}{}
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if m[1] == "" {
			continue
		}
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

func (t *Task) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name is empty")
	}
	if strings.TrimSpace(t.Description) == "" {
		return errors.New("description is empty")
	}
	if strings.TrimSpace(t.ExpectedOutput) == "" {
		return errors.New("expected output is empty")
	}
	if t.Agent == nil {
		return errors.New("agent is not set")
	}
	for _, call := range t.ToolCalls {
		if _, ok := t.Agent.Tool(call.Tool); !ok {
			return fmt.Errorf("agent %q has no tool %q", t.Agent.Name, call.Tool)
		}
	}
	if t.OutputFile != "" && t.OutputSchema == nil {
		return errors.New("output file requires an output schema")
	}
	return nil
}
