package crew

import (
	"context"
	"errors"
	"strings"

	"github.com/spigell/jobfit-ai/internal/ai"
	"github.com/spigell/jobfit-ai/internal/tools"
)

// Agent is a role bound to an LLM and an optional toolset. It keeps no state
// between tasks.
type Agent struct {
	Name         string
	Role         string
	Goal         string
	Backstory    string
	Instructions string
	Tools        []tools.Tool
	LLM          ai.Provider
}

// SystemPrompt renders the role, backstory, goal and extra instructions.
func (a *Agent) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(strings.TrimSpace(a.Role))
	b.WriteString(".")
	if backstory := strings.TrimSpace(a.Backstory); backstory != "" {
		b.WriteString(" ")
		b.WriteString(backstory)
	}
	if goal := strings.TrimSpace(a.Goal); goal != "" {
		b.WriteString("\nYour personal goal is: ")
		b.WriteString(goal)
	}
	if instructions := strings.TrimSpace(a.Instructions); instructions != "" {
		b.WriteString("\n")
		b.WriteString(instructions)
	}
	return b.String()
}

// Tool returns the agent's tool with the given name.
func (a *Agent) Tool(name string) (tools.Tool, bool) {
	for _, t := range a.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

func (a *Agent) validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("agent name is empty")
	}
	if strings.TrimSpace(a.Role) == "" {
		return errors.New("role is empty")
	}
	if strings.TrimSpace(a.Goal) == "" {
		return errors.New("goal is empty")
	}
	if a.LLM == nil {
		return errors.New("llm is not bound")
	}
	seen := make(map[string]struct{}, len(a.Tools))
	for _, t := range a.Tools {
		if t == nil {
			return errors.New("nil tool")
		}
		if _, dup := seen[t.Name()]; dup {
			return errors.New("duplicate tool " + t.Name())
		}
		seen[t.Name()] = struct{}{}
	}
	return nil
}

func (a *Agent) complete(ctx context.Context, llm ai.Provider, prompt string) (string, error) {
	return llm.Complete(ctx, a.SystemPrompt(), prompt)
}
