package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/jobfit-ai/internal/embedding"
	"github.com/spigell/jobfit-ai/internal/logger"
)

const defaultEmbeddingModel = "text-embedding-004"

type embedModels interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder produces L2-normalized Gemini embeddings and implements ai.Embedder.
type Embedder struct {
	models embedModels
	model  string
	dims   atomic.Int32
	logger *zap.Logger
}

func NewEmbedder(ctx context.Context, apiKey, model string, log *zap.Logger) (*Embedder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newEmbedder(client.Models, model, log), nil
}

func newEmbedder(models embedModels, model string, log *zap.Logger) *Embedder {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{
		models: models,
		model:  model,
		logger: logger.WithCommonFields(log, "gemini", model),
	}
}

func (e *Embedder) Name() string { return "gemini/" + e.model }

// Dimensions is known after the first successful call.
func (e *Embedder) Dimensions() int { return int(e.dims.Load()) }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e == nil || e.models == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	resp, err := e.models.EmbedContent(ctx, e.model, []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini embed: no embeddings returned")
	}

	values := resp.Embeddings[0].Values
	vec := make([]float32, len(values))
	copy(vec, values)

	if e.dims.CompareAndSwap(0, int32(len(vec))) {
		e.logger.Debug("gemini embedding dimensions detected", zap.Int("dimensions", len(vec)))
	}

	return embedding.Normalize(vec), nil
}
