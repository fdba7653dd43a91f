package crew

import (
	"context"
	"fmt"
	"strings"
)

const contextSeparator = "\n\n----------\n\n"

// resolvePrompt renders the task description and expected output, runs the
// declared tool calls and appends the raw output of every context task in
// declared order.
func (c *Crew) resolvePrompt(ctx context.Context, t *Task, inputs map[string]string, outputs map[string]string) (string, error) {
	description, err := Render(t.Description, inputs)
	if err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}

	expected, err := Render(t.ExpectedOutput, inputs)
	if err != nil {
		return "", fmt.Errorf("render expected output: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(description))
	b.WriteString("\n\nThis is the expected criteria for your final answer: ")
	b.WriteString(strings.TrimSpace(expected))
	b.WriteString("\nYou MUST return the actual complete content as the final answer, not a summary.")

	if t.OutputSchema != nil {
		fmt.Fprintf(&b, "\nReturn only a valid JSON document that matches the %q schema, without any surrounding commentary.", t.OutputSchema.Name())
	}

	for _, call := range t.ToolCalls {
		tool, _ := t.Agent.Tool(call.Tool)

		input, err := Render(call.Input, inputs)
		if err != nil {
			return "", fmt.Errorf("render %s input: %w", call.Tool, err)
		}

		observation, err := tool.Run(ctx, input)
		if err != nil {
			return "", fmt.Errorf("tool %s: %w", call.Tool, err)
		}

		fmt.Fprintf(&b, "\n\nObservation from %s (%s) for %q:\n%s", tool.Name(), tool.Description(), input, observation)
	}

	if len(t.Context) > 0 {
		b.WriteString("\n\nThis is the context you're working with:\n")
		for i, dep := range t.Context {
			raw, ok := outputs[dep]
			if !ok {
				return "", fmt.Errorf("context task %q has no output", dep)
			}
			if i > 0 {
				b.WriteString(contextSeparator)
			}
			b.WriteString(raw)
		}
	}

	return b.String(), nil
}
