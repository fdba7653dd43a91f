package crew

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/jobfit-ai/internal/ai"
	"github.com/spigell/jobfit-ai/internal/schema"
	"github.com/spigell/jobfit-ai/internal/tools"
	"github.com/spigell/jobfit-ai/internal/utils"
)

const (
	agentsFile = "agents.yaml"
	tasksFile  = "tasks.yaml"
)

type AgentDefinition struct {
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Goal         string   `yaml:"goal"`
	Backstory    string   `yaml:"backstory"`
	Instructions string   `yaml:"instructions"`
	Tools        []string `yaml:"tools"`
}

type ToolCallDefinition struct {
	Tool  string `yaml:"tool"`
	Input string `yaml:"input"`
}

type TaskDefinition struct {
	Name           string               `yaml:"name"`
	Agent          string               `yaml:"agent"`
	Description    string               `yaml:"description"`
	ExpectedOutput string               `yaml:"expected_output"`
	Context        []string             `yaml:"context"`
	Tools          []ToolCallDefinition `yaml:"tools"`
	OutputSchema   string               `yaml:"output_schema"`
	OutputFile     string               `yaml:"output_file"`
	Async          bool                 `yaml:"async"`
}

// Definitions is the declarative form of a crew, read from agents.yaml and
// tasks.yaml of one directory.
type Definitions struct {
	Name    string
	Process Process
	Agents  []AgentDefinition
	Tasks   []TaskDefinition
}

type agentsDocument struct {
	Agents []AgentDefinition `yaml:"agents"`
}

type tasksDocument struct {
	Process Process          `yaml:"process"`
	Tasks   []TaskDefinition `yaml:"tasks"`
}

// LoadDefinitions reads dir/agents.yaml and dir/tasks.yaml from fsys. Unknown
// keys are rejected.
func LoadDefinitions(fsys fs.FS, dir string) (*Definitions, error) {
	name := path.Base(dir)

	var agents agentsDocument
	if err := decodeYAML(fsys, path.Join(dir, agentsFile), &agents); err != nil {
		return nil, &ConfigurationError{Source: name, Err: err}
	}

	var tasks tasksDocument
	if err := decodeYAML(fsys, path.Join(dir, tasksFile), &tasks); err != nil {
		return nil, &ConfigurationError{Source: name, Err: err}
	}

	return &Definitions{
		Name:    name,
		Process: tasks.Process,
		Agents:  agents.Agents,
		Tasks:   tasks.Tasks,
	}, nil
}

func decodeYAML(fsys fs.FS, file string, target any) error {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s is empty", file)
		}
		return fmt.Errorf("parse %s: %w", file, err)
	}
	return nil
}

// Validate checks that every referenced agent, tool and schema exists. Tools
// are checked against the names in knownTools.
func (d *Definitions) Validate(knownTools []string, registry *schema.Registry) error {
	if registry == nil {
		registry = schema.DefaultRegistry()
	}

	known := make(map[string]struct{}, len(knownTools))
	for _, n := range knownTools {
		known[n] = struct{}{}
	}

	var errs []error
	agentTools := make(map[string]map[string]struct{}, len(d.Agents))
	for _, a := range d.Agents {
		for _, field := range []struct{ key, value string }{
			{"name", a.Name}, {"role", a.Role}, {"goal", a.Goal},
		} {
			if strings.TrimSpace(field.value) == "" {
				errs = append(errs, fmt.Errorf("agent %q: missing %s", a.Name, field.key))
			}
		}
		if _, dup := agentTools[a.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate agent %q", a.Name))
		}
		set := make(map[string]struct{}, len(a.Tools))
		for _, tool := range a.Tools {
			if _, ok := known[tool]; !ok {
				errs = append(errs, fmt.Errorf("agent %q: unknown tool %q", a.Name, tool))
			}
			set[tool] = struct{}{}
		}
		agentTools[a.Name] = set
	}

	if len(d.Tasks) == 0 {
		errs = append(errs, errors.New("no tasks defined"))
	}

	for _, t := range d.Tasks {
		for _, field := range []struct{ key, value string }{
			{"name", t.Name}, {"agent", t.Agent}, {"description", t.Description}, {"expected_output", t.ExpectedOutput},
		} {
			if strings.TrimSpace(field.value) == "" {
				errs = append(errs, fmt.Errorf("task %q: missing %s", t.Name, field.key))
			}
		}

		set, ok := agentTools[t.Agent]
		if !ok && t.Agent != "" {
			errs = append(errs, fmt.Errorf("task %q: unknown agent %q", t.Name, t.Agent))
		}
		for _, call := range t.Tools {
			if _, ok := set[call.Tool]; !ok {
				errs = append(errs, fmt.Errorf("task %q: agent %q has no tool %q", t.Name, t.Agent, call.Tool))
			}
		}
		if t.OutputSchema != "" {
			if _, err := registry.Lookup(t.OutputSchema); err != nil {
				errs = append(errs, fmt.Errorf("task %q: %w", t.Name, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return &ConfigurationError{Source: d.Name, Err: err}
	}
	return nil
}

// Inputs lists the placeholders referenced by task descriptions, expected
// outputs and tool inputs, in order of first use.
func (d *Definitions) Inputs() []string {
	var (
		names []string
		seen  = map[string]struct{}{}
	)
	add := func(template string) {
		for _, n := range Placeholders(template) {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}

	for _, t := range d.Tasks {
		add(t.Description)
		add(t.ExpectedOutput)
		for _, call := range t.Tools {
			add(call.Input)
		}
	}
	return names
}

type BuildOptions struct {
	// Tools resolves the tool names agents declare.
	Tools    tools.Set
	Registry *schema.Registry
	// Process overrides the process from tasks.yaml when set.
	Process      Process
	OutputDir    string
	SerializeLLM bool
	Tokens       *utils.TokenCounter
	Logger       *zap.Logger
}

// Build binds every agent to llm and the named tools and returns a ready crew.
func (d *Definitions) Build(llm ai.Provider, opts BuildOptions) (*Crew, error) {
	registry := opts.Registry
	if registry == nil {
		registry = schema.DefaultRegistry()
	}

	names := make([]string, 0, len(opts.Tools))
	for n := range opts.Tools {
		names = append(names, n)
	}
	if err := d.Validate(names, registry); err != nil {
		return nil, err
	}

	agents := make([]*Agent, 0, len(d.Agents))
	byName := make(map[string]*Agent, len(d.Agents))
	for _, def := range d.Agents {
		a := &Agent{
			Name:         def.Name,
			Role:         strings.TrimSpace(def.Role),
			Goal:         strings.TrimSpace(def.Goal),
			Backstory:    strings.TrimSpace(def.Backstory),
			Instructions: strings.TrimSpace(def.Instructions),
			LLM:          llm,
		}
		for _, n := range def.Tools {
			a.Tools = append(a.Tools, opts.Tools[n])
		}
		agents = append(agents, a)
		byName[a.Name] = a
	}

	tasks := make([]*Task, 0, len(d.Tasks))
	for _, def := range d.Tasks {
		t := &Task{
			Name:           def.Name,
			Description:    def.Description,
			ExpectedOutput: def.ExpectedOutput,
			Agent:          byName[def.Agent],
			Context:        def.Context,
			OutputFile:     def.OutputFile,
			Async:          def.Async,
		}
		for _, call := range def.Tools {
			t.ToolCalls = append(t.ToolCalls, ToolCall{Tool: call.Tool, Input: call.Input})
		}
		if def.OutputSchema != "" {
			s, _ := registry.Lookup(def.OutputSchema)
			t.OutputSchema = s
		}
		tasks = append(tasks, t)
	}

	process := d.Process
	if opts.Process != "" {
		process = opts.Process
	}

	return New(Config{
		Name:         d.Name,
		Agents:       agents,
		Tasks:        tasks,
		Process:      process,
		OutputDir:    opts.OutputDir,
		SerializeLLM: opts.SerializeLLM,
		Tokens:       opts.Tokens,
		Logger:       opts.Logger,
	})
}

// Only returns a copy restricted to the named tasks, in their original order,
// and the agents they use. Context references to excluded tasks are kept and
// rejected when the subset is built.
func (d *Definitions) Only(tasks ...string) (*Definitions, error) {
	want := make(map[string]struct{}, len(tasks))
	for _, n := range tasks {
		want[n] = struct{}{}
	}

	sub := &Definitions{Name: d.Name, Process: d.Process}
	agents := make(map[string]struct{})
	for _, t := range d.Tasks {
		if _, ok := want[t.Name]; !ok {
			continue
		}
		sub.Tasks = append(sub.Tasks, t)
		agents[t.Agent] = struct{}{}
		delete(want, t.Name)
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, n := range tasks {
			if _, ok := want[n]; ok {
				missing = append(missing, n)
			}
		}
		return nil, &ConfigurationError{Source: d.Name, Err: fmt.Errorf("unknown tasks %s", strings.Join(missing, ", "))}
	}

	for _, a := range d.Agents {
		if _, ok := agents[a.Name]; ok {
			sub.Agents = append(sub.Agents, a)
		}
	}
	return sub, nil
}
