package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

type mapEmbedder struct {
	dims    int
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return append([]float32(nil), v...), nil
}

func (m *mapEmbedder) Dimensions() int { return m.dims }
func (m *mapEmbedder) Name() string    { return "map" }

func chunk(text string, page int) Chunk {
	return Chunk{Text: text, Page: page, Source: "handbook.pdf", CharLength: len(text)}
}

func TestSearchRanksByCosine(t *testing.T) {
	emb := &mapEmbedder{dims: 2, vectors: map[string][]float32{
		"vacation": {1, 0},
	}}

	chunks := []Chunk{chunk("parking", 1), chunk("leave", 1), chunk("holidays", 2)}
	vectors := [][]float32{{0, 1}, {1, 0}, {2, 1}}

	idx, err := Build(emb, chunks, vectors)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := idx.Search(context.Background(), "vacation", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	want := []Chunk{chunk("leave", 1), chunk("holidays", 2)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	emb := &mapEmbedder{dims: 2, vectors: map[string][]float32{"q": {1, 1}}}

	chunks := []Chunk{chunk("first", 1), chunk("second", 1), chunk("third", 2), chunk("fourth", 2)}
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 0}, {0, 1}}

	idx, err := Build(emb, chunks, vectors)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := idx.Search(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if diff := cmp.Diff(chunks, got); diff != "" {
		t.Fatalf("ties must keep insertion order (-want +got):\n%s", diff)
	}
}

func TestSearchIsDeterministicUnderConcurrency(t *testing.T) {
	vectors := map[string][]float32{"q": {0.3, 0.9, 0.1}}
	emb := &lockedEmbedder{inner: &mapEmbedder{dims: 3, vectors: vectors}}

	var (
		chunks []Chunk
		vecs   [][]float32
	)
	for i := 0; i < 20; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("chunk-%d", i), i/5+1))
		vecs = append(vecs, []float32{float32(i % 3), float32(i % 4), 1})
	}

	idx, err := Build(emb, chunks, vecs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	first, err := idx.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := idx.Search(context.Background(), "q", 5)
			if err != nil {
				errs <- err
				return
			}
			if diff := cmp.Diff(first, got); diff != "" {
				errs <- fmt.Errorf("result changed:\n%s", diff)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	emb := &mapEmbedder{dims: 3}
	idx, err := Build(emb, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := idx.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	if emb.calls != 0 {
		t.Fatalf("empty index must not embed the query")
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	emb := &mapEmbedder{dims: 2, vectors: map[string][]float32{"q": {1, 0, 0}}}
	idx, err := Build(emb, []Chunk{chunk("a", 1)}, [][]float32{{1, 0}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	_, err = idx.Search(context.Background(), "q", 1)

	var retrievalErr *RetrievalError
	if !errors.As(err, &retrievalErr) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch in chain, got %v", err)
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	emb := &mapEmbedder{dims: 1, err: errors.New("offline")}
	idx, err := Build(emb, []Chunk{chunk("a", 1)}, [][]float32{{1}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var retrievalErr *RetrievalError
	if _, err := idx.Search(context.Background(), "q", 1); !errors.As(err, &retrievalErr) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
}

func TestBuildValidatesVectors(t *testing.T) {
	emb := &mapEmbedder{dims: 2}

	tests := []struct {
		name    string
		chunks  []Chunk
		vectors [][]float32
	}{
		{name: "length mismatch", chunks: []Chunk{chunk("a", 1)}, vectors: nil},
		{name: "mixed dimensions", chunks: []Chunk{chunk("a", 1), chunk("b", 1)}, vectors: [][]float32{{1, 0}, {1}}},
		{name: "empty vector", chunks: []Chunk{chunk("a", 1)}, vectors: [][]float32{{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(emb, tt.chunks, tt.vectors); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := Build(nil, nil, nil); err == nil {
		t.Fatal("expected error for nil embedder")
	}
}

func TestBuildNormalizesAndCopies(t *testing.T) {
	emb := &mapEmbedder{dims: 2}
	vectors := [][]float32{{3, 4}}
	chunks := []Chunk{chunk("a", 1)}

	idx, err := Build(emb, chunks, vectors)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	vectors[0][0] = 100
	chunks[0].Text = "mutated"

	got := idx.Vectors()[0]
	if got[0] < 0.59 || got[0] > 0.61 || got[1] < 0.79 || got[1] > 0.81 {
		t.Fatalf("expected normalized copy, got %v", got)
	}
	if idx.Chunks()[0].Text != "a" {
		t.Fatalf("index must not share caller's chunk slice")
	}
}

type lockedEmbedder struct {
	mu    sync.Mutex
	inner *mapEmbedder
}

func (l *lockedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Embed(ctx, text)
}

func (l *lockedEmbedder) Dimensions() int { return l.inner.Dimensions() }
func (l *lockedEmbedder) Name() string    { return l.inner.Name() }

func TestPGStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("JOBFIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JOBFIT_TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	emb := &mapEmbedder{dims: 2, vectors: map[string][]float32{"vacation": {1, 0}}}

	store, err := NewPGStore(ctx, dsn, emb, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	idx, err := Build(emb, []Chunk{chunk("parking", 1), chunk("leave", 2)}, [][]float32{{0, 1}, {1, 0}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := store.Save(ctx, "test-handbook", idx); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Collection("test-handbook").Search(ctx, "vacation", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if diff := cmp.Diff([]Chunk{chunk("leave", 2)}, got); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}

	loaded, err := store.Load(ctx, "test-handbook")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(idx.Chunks(), loaded.Chunks()); diff != "" {
		t.Fatalf("loaded chunks differ (-want +got):\n%s", diff)
	}
}
