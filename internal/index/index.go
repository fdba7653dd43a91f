package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spigell/jobfit-ai/internal/ai"
	"github.com/spigell/jobfit-ai/internal/embedding"
)

// DefaultK is the number of chunks returned when the caller passes k <= 0.
const DefaultK = 5

// Chunk is an immutable slice of a source document.
type Chunk struct {
	Text       string `json:"text"`
	Page       int    `json:"page"`
	Source     string `json:"source"`
	CharLength int    `json:"char_length"`
}

// Scored is a chunk with its cosine similarity to a query.
type Scored struct {
	Chunk
	Score float32 `json:"score"`
}

// Searcher returns the k chunks nearest to query, nearest first.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Chunk, error)
}

// Index is an in-memory vector index. It is read-only after Build and safe
// for concurrent readers.
type Index struct {
	embedder ai.Embedder
	dims     int
	vectors  [][]float32
	chunks   []Chunk
}

// Build creates an index over chunks and their embeddings. Every vector must
// have the same length; vectors are normalized to unit length.
func Build(embedder ai.Embedder, chunks []Chunk, vectors [][]float32) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}

	dims := embedder.Dimensions()
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}

	idx := &Index{
		embedder: embedder,
		dims:     dims,
		vectors:  make([][]float32, len(vectors)),
		chunks:   slices.Clone(chunks),
	}

	for i, v := range vectors {
		if len(v) == 0 || len(v) != dims {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dims)
		}
		idx.vectors[i] = embedding.Normalize(slices.Clone(v))
	}

	return idx, nil
}

func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.chunks)
}

func (x *Index) Dimensions() int {
	if x == nil {
		return 0
	}
	return x.dims
}

// Chunks returns a copy of the indexed chunks in insertion order.
func (x *Index) Chunks() []Chunk {
	if x == nil {
		return nil
	}
	return slices.Clone(x.chunks)
}

// Vectors returns a copy of the indexed vectors in insertion order.
func (x *Index) Vectors() [][]float32 {
	if x == nil {
		return nil
	}
	out := make([][]float32, len(x.vectors))
	for i, v := range x.vectors {
		out[i] = slices.Clone(v)
	}
	return out
}

func (x *Index) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	scored, err := x.SearchScored(ctx, query, k)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = s.Chunk
	}
	return chunks, nil
}

// SearchScored embeds query and ranks every chunk by cosine similarity.
// Ties keep insertion order. An empty index yields an empty result.
func (x *Index) SearchScored(ctx context.Context, query string, k int) ([]Scored, error) {
	if x.Len() == 0 {
		return []Scored{}, nil
	}
	if k <= 0 {
		k = DefaultK
	}

	qv, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Query: query, Err: fmt.Errorf("embed query: %w", err)}
	}
	if len(qv) != x.dims {
		return nil, &RetrievalError{Query: query, Err: fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(qv), x.dims)}
	}
	qv = embedding.Normalize(slices.Clone(qv))

	results := make([]Scored, len(x.chunks))
	for i := range x.chunks {
		results[i] = Scored{Chunk: x.chunks[i], Score: embedding.Dot(x.vectors[i], qv)}
	}

	slices.SortStableFunc(results, func(a, b Scored) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}
