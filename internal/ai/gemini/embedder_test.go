package gemini

import (
	"context"
	"errors"
	"math"
	"testing"

	"google.golang.org/genai"
)

type fakeModels struct {
	values []float32
	err    error
	model  string
	texts  []string
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.model = model
	for _, c := range contents {
		f.texts = append(f.texts, c.Parts[0].Text)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: f.values}},
	}, nil
}

func TestEmbedderNormalizes(t *testing.T) {
	models := &fakeModels{values: []float32{3, 0, 4}}
	e := newEmbedder(models, "", nil)

	vec, err := e.Embed(context.Background(), "leave policy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if models.model != defaultEmbeddingModel {
		t.Fatalf("expected default model, got %q", models.model)
	}
	if len(models.texts) != 1 || models.texts[0] != "leave policy" {
		t.Fatalf("unexpected embedded texts: %v", models.texts)
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[2])-0.8) > 1e-6 {
		t.Fatalf("expected normalized vector, got %v", vec)
	}
	if e.Dimensions() != 3 {
		t.Fatalf("expected dimensions 3, got %d", e.Dimensions())
	}
	if models.values[0] != 3 {
		t.Fatalf("response values must not be mutated")
	}
}

func TestEmbedderErrors(t *testing.T) {
	e := newEmbedder(&fakeModels{err: errors.New("boom")}, "m", nil)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}

	empty := newEmbedder(&fakeModels{}, "m", nil)
	if _, err := empty.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
