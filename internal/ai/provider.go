package ai

import (
	"context"
	"sync"
)

// Provider is a text-completion backend shared by every agent.
// Implementations must be safe for concurrent use unless wrapped with Serialized.
type Provider interface {
	// Complete sends prompt under the given system instruction and returns the model text.
	Complete(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length, or 0 when it is only known after the first call.
	Dimensions() int
	Name() string
}

type serialized struct {
	mu sync.Mutex
	p  Provider
}

// Serialized wraps a provider that is not safe for concurrent calls so that
// independent tasks take turns.
func Serialized(p Provider) Provider {
	if p == nil {
		return nil
	}
	if _, ok := p.(*serialized); ok {
		return p
	}
	return &serialized{p: p}
}

func (s *serialized) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.p.Complete(ctx, system, prompt)
}

func (s *serialized) Model() string { return s.p.Model() }
