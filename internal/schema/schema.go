package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	jsonvalidator "github.com/spigell/jobfit-ai/internal/validator"
)

const (
	// Resume decodes into *ResumeData.
	Resume = "resume"
	// JSON accepts any JSON object or array.
	JSON = "json"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Schema turns raw model output into a validated structured value.
type Schema interface {
	Name() string
	Decode(raw string) (any, error)
}

type typed[T any] struct {
	name string
}

// Of returns a schema decoding into *T and validating its struct tags.
func Of[T any](name string) Schema {
	return typed[T]{name: name}
}

func (s typed[T]) Name() string { return s.name }

func (s typed[T]) Decode(raw string) (any, error) {
	v := new(T)
	if err := jsonvalidator.DecodeInto(raw, v); err != nil {
		return nil, err
	}
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("validate %s: %w", s.name, err)
	}
	return v, nil
}

type untyped struct{}

func (untyped) Name() string { return JSON }

func (untyped) Decode(raw string) (any, error) {
	return jsonvalidator.CleanAndParse(raw)
}

// Registry resolves schema names used in task definitions.
type Registry struct {
	schemas map[string]Schema
}

// DefaultRegistry knows the resume and generic JSON schemas.
func DefaultRegistry() *Registry {
	r := &Registry{schemas: make(map[string]Schema)}
	r.Register(Of[ResumeData](Resume))
	r.Register(untyped{})
	return r
}

func (r *Registry) Register(s Schema) {
	r.schemas[strings.ToLower(s.Name())] = s
}

func (r *Registry) Lookup(name string) (Schema, error) {
	s, ok := r.schemas[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown output schema %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return s, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
