package rag

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/ai"
	"github.com/spigell/jobfit-ai/internal/index"
)

// Pipeline turns documents into a vector index: load, clean, split, embed.
type Pipeline struct {
	loader   Loader
	splitter *Splitter
	embedder ai.Embedder
	logger   *zap.Logger
}

// NewPipeline builds a pipeline. When loader is nil the loader is picked per
// document by file extension.
func NewPipeline(embedder ai.Embedder, splitter *Splitter, loader Loader, logger *zap.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if splitter == nil {
		var err error
		splitter, err = NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// LoadAndProcess ingests a single document.
func (p *Pipeline) LoadAndProcess(ctx context.Context, path string) (*index.Index, error) {
	return p.LoadAndProcessAll(ctx, []string{path})
}

// LoadAndProcessAll ingests documents in order into one index. Any failure
// discards everything built so far.
func (p *Pipeline) LoadAndProcessAll(ctx context.Context, paths []string) (*index.Index, error) {
	if len(paths) == 0 {
		return nil, &IngestionError{Stage: StageLoad, Err: errors.New("no documents given")}
	}

	var chunks []index.Chunk
	for _, path := range paths {
		docChunks, err := p.chunkDocument(ctx, path)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, docChunks...)
	}

	started := time.Now()
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vec, err := p.embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, &IngestionError{Source: c.Source, Stage: StageEmbed, Err: fmt.Errorf("chunk %d: %w", i, err)}
		}
		vectors[i] = vec
	}

	idx, err := index.Build(p.embedder, chunks, vectors)
	if err != nil {
		return nil, &IngestionError{Source: joinSources(paths), Stage: StageIndex, Err: err}
	}

	p.logger.Info("documents indexed",
		zap.Strings("sources", paths),
		zap.Int("chunks", idx.Len()),
		zap.Int("dimensions", idx.Dimensions()),
		zap.String("embedder", p.embedder.Name()),
		zap.Duration("embedding_duration", time.Since(started)),
	)

	return idx, nil
}

func (p *Pipeline) chunkDocument(ctx context.Context, path string) ([]index.Chunk, error) {
	loader := p.loader
	if loader == nil {
		var err error
		if loader, err = LoaderFor(path); err != nil {
			return nil, &IngestionError{Source: path, Stage: StageLoad, Err: err}
		}
	}

	pages, err := loader.Load(ctx, path)
	if err != nil {
		return nil, &IngestionError{Source: path, Stage: StageLoad, Err: err}
	}

	var chunks []index.Chunk
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, &IngestionError{Source: path, Stage: StageSplit, Err: err}
		}

		for _, text := range p.splitter.Split(Clean(page.Text)) {
			chunks = append(chunks, index.Chunk{
				Text:       text,
				Page:       page.Index + 1,
				Source:     path,
				CharLength: utf8.RuneCountInString(text),
			})
		}
	}

	p.logger.Debug("document split",
		zap.String("source", path),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
	)

	return chunks, nil
}

func joinSources(paths []string) string {
	if len(paths) == 1 {
		return paths[0]
	}
	return fmt.Sprintf("%s (+%d more)", paths[0], len(paths)-1)
}
