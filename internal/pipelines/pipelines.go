package pipelines

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/ai"
	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/schema"
	"github.com/spigell/jobfit-ai/internal/tools"
	"github.com/spigell/jobfit-ai/internal/utils"
)

// Names of the bundled pipelines. They match the definition directories.
const (
	HRQAName         = "hr_qa"
	ATSCheckerName   = "ats_checker"
	JobAnalyzerName  = "job_analyzer"
	ResumeTailorName = "resume_builder"
)

const maxInputLength = 20000

// Status summarizes how complete a pipeline result is.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusDegraded marks a result that is usable but missing its structured
	// part or carrying an empty answer.
	StatusDegraded Status = "degraded"
)

// InputError reports a request rejected before any agent ran.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Options carries the collaborators shared by every pipeline.
type Options struct {
	LLM ai.Provider
	// Tools holds the shared tools such as scrape_website and web_search.
	Tools    tools.Set
	Registry *schema.Registry
	// OutputDir receives structured task outputs.
	OutputDir string
	// RunTimeout bounds a single pipeline run. Zero disables it.
	RunTimeout   time.Duration
	SerializeLLM bool
	// K is the number of passages retrievers return.
	K      int
	Tokens *utils.TokenCounter
	Logger *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// build binds defs to the shared LLM, the shared tools and any extra tools.
func (o Options) build(defs *crew.Definitions, extra ...tools.Tool) (*crew.Crew, error) {
	if o.LLM == nil {
		return nil, &crew.ConfigurationError{Source: defs.Name, Err: errors.New("llm provider is not configured")}
	}

	set := make(tools.Set, len(o.Tools)+len(extra))
	for name, t := range o.Tools {
		set[name] = t
	}
	for _, t := range extra {
		set[t.Name()] = t
	}

	return defs.Build(o.LLM, crew.BuildOptions{
		Tools:        set,
		Registry:     o.Registry,
		OutputDir:    o.OutputDir,
		SerializeLLM: o.SerializeLLM,
		Tokens:       o.Tokens,
		Logger:       o.logger(),
	})
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.RunTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.RunTimeout)
}

// sanitize trims free text, drops control characters other than newlines
// and tabs, and caps its length.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)

	if runes := []rune(s); len(runes) > maxInputLength {
		s = string(runes[:maxInputLength])
	}
	return s
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("job_description", func(fl validator.FieldLevel) bool {
		return jobDescriptionKeywords(fl.Field().String())
	})
	return v
}

// validateRequest converts the first validation failure into an InputError.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	return &InputError{Field: fe.Field(), Reason: describeTag(fe)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "url", "http_url":
		return "must be an http(s) URL"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "job_description":
		return "must mention requirements, skills, experience or qualifications"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// stage runs one named step of a multi crew pipeline and logs its duration.
func stage[T any](log *zap.Logger, name string, fn func() (T, error)) (T, error) {
	started := time.Now()
	out, err := fn()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	log.Info("pipeline step", zap.String("name", name), zap.Duration("duration", time.Since(started)))
	return out, nil
}
