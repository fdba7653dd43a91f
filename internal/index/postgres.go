package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/ai"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS rag_chunks (
	collection  TEXT NOT NULL,
	position    INT NOT NULL,
	page        INT NOT NULL,
	source      TEXT NOT NULL,
	content     TEXT NOT NULL,
	char_length INT NOT NULL,
	embedding   vector NOT NULL,
	PRIMARY KEY (collection, position)
);
`

// PGStore persists indexes into Postgres with the pgvector extension.
// Each index is stored under a collection name and replaced as a whole.
type PGStore struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *zap.Logger
}

func NewPGStore(ctx context.Context, dsn string, embedder ai.Embedder, logger *zap.Logger) (*PGStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PGStore{pool: pool, embedder: embedder, logger: logger}, nil
}

func (p *PGStore) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// Migrate creates the vector extension and the chunk table.
func (p *PGStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate rag schema: %w", err)
	}
	return nil
}

// Save replaces the collection with the contents of idx in one transaction.
func (p *PGStore) Save(ctx context.Context, collection string, idx *Index) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM rag_chunks WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("clear collection %q: %w", collection, err)
	}

	batch := &pgx.Batch{}
	for i, chunk := range idx.chunks {
		batch.Queue(`
			INSERT INTO rag_chunks (collection, position, page, source, content, char_length, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			collection, i, chunk.Page, chunk.Source, chunk.Text, chunk.CharLength, pgvector.NewVector(idx.vectors[i]),
		)
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit collection %q: %w", collection, err)
	}

	p.logger.Info("index persisted",
		zap.String("collection", collection),
		zap.Int("chunks", idx.Len()),
	)
	return nil
}

// Load reads a collection back into an in-memory index.
func (p *PGStore) Load(ctx context.Context, collection string) (*Index, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT page, source, content, char_length, embedding
		FROM rag_chunks
		WHERE collection = $1
		ORDER BY position`, collection)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", collection, err)
	}
	defer rows.Close()

	var (
		chunks  []Chunk
		vectors [][]float32
	)
	for rows.Next() {
		var (
			chunk Chunk
			vec   pgvector.Vector
		)
		if err := rows.Scan(&chunk.Page, &chunk.Source, &chunk.Text, &chunk.CharLength, &vec); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
		vectors = append(vectors, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read collection %q: %w", collection, err)
	}

	return Build(p.embedder, chunks, vectors)
}

// Collection returns a Searcher that ranks inside Postgres.
func (p *PGStore) Collection(name string) Searcher {
	return &pgCollection{store: p, name: name}
}

type pgCollection struct {
	store *PGStore
	name  string
}

func (c *pgCollection) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	if k <= 0 {
		k = DefaultK
	}

	qv, err := c.store.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Query: query, Err: fmt.Errorf("embed query: %w", err)}
	}

	rows, err := c.store.pool.Query(ctx, `
		SELECT page, source, content, char_length
		FROM rag_chunks
		WHERE collection = $1
		ORDER BY embedding <=> $2, position
		LIMIT $3`, c.name, pgvector.NewVector(qv), k)
	if err != nil {
		return nil, &RetrievalError{Query: query, Err: err}
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.Page, &chunk.Source, &chunk.Text, &chunk.CharLength); err != nil {
			return nil, &RetrievalError{Query: query, Err: err}
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, &RetrievalError{Query: query, Err: err}
	}

	return chunks, nil
}
