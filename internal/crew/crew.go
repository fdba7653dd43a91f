package crew

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobfit-ai/internal/ai"
	"github.com/spigell/jobfit-ai/internal/logger"
	"github.com/spigell/jobfit-ai/internal/utils"
)

// Process selects how tasks are scheduled.
type Process string

const (
	// Sequential runs tasks one at a time in list order.
	Sequential Process = "sequential"
	// Parallel runs tasks in dependency waves; async tasks of a wave run
	// concurrently, the others one at a time in list order.
	Parallel Process = "parallel"
)

// TaskState is the lifecycle state of a task within one run. A task moves
// PENDING -> RUNNING -> COMPLETED or FAILED; tasks never reached stay PENDING.
type TaskState string

const (
	StatePending   TaskState = "PENDING"
	StateRunning   TaskState = "RUNNING"
	StateCompleted TaskState = "COMPLETED"
	StateFailed    TaskState = "FAILED"
)

// TaskOutput is the recorded result of one task.
type TaskOutput struct {
	Task       string
	Agent      string
	Prompt     string
	Raw        string
	Structured any
	// File is the path the structured output was written to, if any.
	File     string
	Duration time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	RunID string
	// Raw is the raw output of the last listed task.
	Raw string
	// Structured is the structured output of the last listed task, if any.
	Structured any
	// Tasks holds every task output in list order.
	Tasks    []TaskOutput
	Warnings []*StructuredOutputParseError
	States   map[string]TaskState
	Duration time.Duration
}

// Output returns the output of the named task.
func (r *Result) Output(task string) (TaskOutput, bool) {
	for _, out := range r.Tasks {
		if out.Task == task {
			return out, true
		}
	}
	return TaskOutput{}, false
}

type Config struct {
	// Name identifies the crew in logs.
	Name    string
	Agents  []*Agent
	Tasks   []*Task
	Process Process
	// OutputDir is the base for relative task output files.
	OutputDir string
	// SerializeLLM makes agents sharing a provider take turns.
	SerializeLLM bool
	Tokens       *utils.TokenCounter
	Logger       *zap.Logger
}

// Crew executes a fixed task graph. It is safe to Kickoff concurrently.
type Crew struct {
	name      string
	tasks     []*Task
	waves     [][]*Task
	process   Process
	outputDir string
	llms      map[*Agent]ai.Provider
	tokens    *utils.TokenCounter
	logger    *zap.Logger
}

// New validates the configuration and plans the execution order.
func New(cfg Config) (*Crew, error) {
	process := cfg.Process
	if process == "" {
		process = Parallel
	}
	if process != Sequential && process != Parallel {
		return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("unknown process %q", process)}
	}

	if len(cfg.Tasks) == 0 {
		return nil, &ConfigurationError{Source: cfg.Name, Err: errors.New("no tasks")}
	}

	members := make(map[*Agent]struct{}, len(cfg.Agents))
	agentNames := make(map[string]struct{}, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a == nil {
			return nil, &ConfigurationError{Source: cfg.Name, Err: errors.New("nil agent")}
		}
		if err := a.validate(); err != nil {
			return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("agent %q: %w", a.Name, err)}
		}
		if _, dup := agentNames[a.Name]; dup {
			return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("duplicate agent %q", a.Name)}
		}
		agentNames[a.Name] = struct{}{}
		members[a] = struct{}{}
	}

	position := make(map[string]int, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t == nil {
			return nil, &ConfigurationError{Source: cfg.Name, Err: errors.New("nil task")}
		}
		if err := t.validate(); err != nil {
			return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("task %q: %w", t.Name, err)}
		}
		if _, ok := members[t.Agent]; !ok {
			return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("task %q: agent %q is not part of the crew", t.Name, t.Agent.Name)}
		}
		if _, dup := position[t.Name]; dup {
			return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("duplicate task %q", t.Name)}
		}
		position[t.Name] = i
	}

	for _, t := range cfg.Tasks {
		for _, dep := range t.Context {
			p, ok := position[dep]
			switch {
			case !ok:
				return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("task %q: unknown context task %q", t.Name, dep)}
			case dep == t.Name:
				return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("task %q lists itself as context", t.Name)}
			case process == Sequential && p > position[t.Name]:
				return nil, &ConfigurationError{Source: cfg.Name, Err: fmt.Errorf("task %q: context task %q runs later in sequential mode", t.Name, dep)}
			}
		}
	}

	waves, err := plan(cfg.Tasks, process)
	if err != nil {
		return nil, &ConfigurationError{Source: cfg.Name, Err: err}
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	llms := make(map[*Agent]ai.Provider, len(cfg.Agents))
	shared := make(map[ai.Provider]ai.Provider)
	for _, a := range cfg.Agents {
		p := a.LLM
		if cfg.SerializeLLM {
			w, ok := shared[a.LLM]
			if !ok {
				w = ai.Serialized(a.LLM)
				shared[a.LLM] = w
			}
			p = w
		}
		llms[a] = p
	}

	return &Crew{
		name:      cfg.Name,
		tasks:     cfg.Tasks,
		waves:     waves,
		process:   process,
		outputDir: cfg.OutputDir,
		llms:      llms,
		tokens:    cfg.Tokens,
		logger:    log,
	}, nil
}

// plan groups tasks into waves. Every task lands in a later wave than all of
// its context tasks; tasks keep list order inside a wave. Sequential crews get
// one task per wave.
func plan(tasks []*Task, process Process) ([][]*Task, error) {
	if process == Sequential {
		waves := make([][]*Task, len(tasks))
		for i, t := range tasks {
			waves[i] = []*Task{t}
		}
		return waves, nil
	}

	byName := make(map[string]*Task, len(tasks))
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
		indegree[t.Name] = len(t.Context)
		for _, dep := range t.Context {
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	level := make(map[string]int, len(tasks))
	var queue []string
	for _, t := range tasks {
		if indegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[name] {
			if level[name]+1 > level[next] {
				level[next] = level[name] + 1
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(tasks) {
		var cyclic []string
		for _, t := range tasks {
			if indegree[t.Name] > 0 {
				cyclic = append(cyclic, t.Name)
			}
		}
		return nil, fmt.Errorf("context dependencies form a cycle between %s", strings.Join(cyclic, ", "))
	}

	var waves [][]*Task
	for _, t := range tasks {
		l := level[t.Name]
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], byName[t.Name])
	}
	return waves, nil
}

// Kickoff runs every task against inputs. The run is all or nothing: on the
// first task failure the remaining tasks are cancelled and a single
// *OrchestrationError is returned.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*Result, error) {
	r := &run{
		crew:    c,
		id:      uuid.NewString(),
		inputs:  maps.Clone(inputs),
		states:  make(map[string]TaskState, len(c.tasks)),
		outputs: make(map[string]TaskOutput, len(c.tasks)),
	}
	if r.inputs == nil {
		r.inputs = map[string]string{}
	}
	for _, t := range c.tasks {
		r.states[t.Name] = StatePending
	}
	r.logger = c.logger.With(
		zap.String(logger.FieldPipeline, c.name),
		zap.String(logger.FieldRunID, r.id),
	)

	started := time.Now()
	r.logger.Info("orchestration run started",
		zap.String("process", string(c.process)),
		zap.Int("tasks", len(c.tasks)),
		zap.Int("waves", len(c.waves)),
	)

	for _, wave := range c.waves {
		if err := r.runWave(ctx, wave); err != nil {
			var orchErr *OrchestrationError
			if !errors.As(err, &orchErr) {
				orchErr = &OrchestrationError{RunID: r.id, Err: err}
			}
			orchErr.States = r.snapshotStates()
			r.logger.Error("orchestration run failed",
				zap.String(logger.FieldTask, orchErr.Task),
				zap.Duration("duration", time.Since(started)),
				zap.Error(orchErr.Err),
			)
			return nil, orchErr
		}
	}

	result := &Result{
		RunID:    r.id,
		Tasks:    make([]TaskOutput, 0, len(c.tasks)),
		States:   r.snapshotStates(),
		Duration: time.Since(started),
	}
	for _, t := range c.tasks {
		result.Tasks = append(result.Tasks, r.outputs[t.Name])
	}
	last := result.Tasks[len(result.Tasks)-1]
	result.Raw = last.Raw
	result.Structured = last.Structured

	for _, t := range c.tasks {
		if w, ok := r.warnings[t.Name]; ok {
			result.Warnings = append(result.Warnings, w)
		}
	}

	r.logger.Info("orchestration run completed",
		zap.Duration("duration", result.Duration),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

type run struct {
	crew   *Crew
	id     string
	inputs map[string]string
	logger *zap.Logger

	mu       sync.Mutex
	states   map[string]TaskState
	outputs  map[string]TaskOutput
	warnings map[string]*StructuredOutputParseError
}

func (r *run) runWave(ctx context.Context, wave []*Task) error {
	g, gctx := errgroup.WithContext(ctx)

	var serial []*Task
	for _, t := range wave {
		if t.Async && r.crew.process == Parallel {
			g.Go(func() error { return r.execute(gctx, t) })
			continue
		}
		serial = append(serial, t)
	}

	if len(serial) > 0 {
		g.Go(func() error {
			for _, t := range serial {
				if err := r.execute(gctx, t); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *run) execute(ctx context.Context, t *Task) error {
	log := r.logger.With(logger.TaskFields("", "", t.Name, t.Agent.Name)...)

	fail := func(err error) error {
		r.setState(t, StateFailed, log)
		return &OrchestrationError{RunID: r.id, Task: t.Name, Err: err}
	}

	r.setState(t, StateRunning, log)
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	deps, err := r.contextOutputs(t)
	if err != nil {
		return fail(err)
	}

	prompt, err := r.crew.resolvePrompt(ctx, t, r.inputs, deps)
	if err != nil {
		return fail(err)
	}

	if tokens, exact := r.crew.tokens.Count(t.Agent.SystemPrompt() + prompt); tokens > 0 {
		log.Debug("task prompt resolved",
			zap.Int("prompt_tokens", tokens),
			zap.Bool("exact", exact),
			zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		)
	}

	raw, err := t.Agent.complete(ctx, r.crew.llms[t.Agent], prompt)
	if err != nil {
		return fail(err)
	}

	out := TaskOutput{
		Task:   t.Name,
		Agent:  t.Agent.Name,
		Prompt: prompt,
		Raw:    raw,
	}

	if t.OutputSchema != nil {
		r.structure(t, &out, log)
	}

	out.Duration = time.Since(started)

	r.mu.Lock()
	r.outputs[t.Name] = out
	r.mu.Unlock()
	r.setState(t, StateCompleted, log)

	log.Info("task completed",
		zap.Duration("duration", out.Duration),
		zap.Int("output_length", utf8.RuneCountInString(raw)),
		zap.String("output_preview", utils.TruncateForLog(raw, 200)),
	)
	return nil
}

// contextOutputs returns the raw outputs of t's context tasks. Every one of
// them must be COMPLETED.
func (r *run) contextOutputs(t *Task) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deps := make(map[string]string, len(t.Context))
	for _, dep := range t.Context {
		if r.states[dep] != StateCompleted {
			return nil, fmt.Errorf("context task %q is %s", dep, r.states[dep])
		}
		deps[dep] = r.outputs[dep].Raw
	}
	return deps, nil
}

func (r *run) structure(t *Task, out *TaskOutput, log *zap.Logger) {
	warn := func(err error) {
		w := &StructuredOutputParseError{Task: t.Name, Schema: t.OutputSchema.Name(), Err: err}
		log.Warn("structured output discarded", zap.String("schema", w.Schema), zap.Error(err))

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.warnings == nil {
			r.warnings = make(map[string]*StructuredOutputParseError)
		}
		r.warnings[t.Name] = w
	}

	v, err := t.OutputSchema.Decode(out.Raw)
	if err != nil {
		warn(err)
		return
	}
	out.Structured = v

	if t.OutputFile == "" {
		return
	}

	path, err := r.outputPath(t)
	if err != nil {
		warn(err)
		return
	}
	if err := writeJSONFile(path, v); err != nil {
		warn(err)
		return
	}
	out.File = path
	log.Debug("structured output persisted", zap.String("file", path))
}

func (r *run) outputPath(t *Task) (string, error) {
	inputs := maps.Clone(r.inputs)
	inputs["run_id"] = r.id

	path, err := Render(t.OutputFile, inputs)
	if err != nil {
		return "", fmt.Errorf("render output file: %w", err)
	}
	if !filepath.IsAbs(path) && r.crew.outputDir != "" {
		path = filepath.Join(r.crew.outputDir, path)
	}
	return path, nil
}

func (r *run) setState(t *Task, state TaskState, log *zap.Logger) {
	r.mu.Lock()
	prev := r.states[t.Name]
	r.states[t.Name] = state
	r.mu.Unlock()

	log.Debug("task state changed", zap.String("from", string(prev)), zap.String("to", string(state)))
}

func (r *run) snapshotStates() map[string]TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.states)
}
