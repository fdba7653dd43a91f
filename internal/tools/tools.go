package tools

import (
	"context"
	"fmt"
	"strings"
)

// Tool is a capability an agent can call with a single text input.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, input string) (string, error)
}

// Set indexes tools by name.
type Set map[string]Tool

// NewSet returns a Set, rejecting duplicate or empty names.
func NewSet(tools ...Tool) (Set, error) {
	set := make(Set, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, ok := set[name]; ok {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		set[name] = t
	}
	return set, nil
}

// Describe renders a one line summary per tool in the given order.
func Describe(tools []Tool) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	return strings.TrimSuffix(b.String(), "\n")
}
