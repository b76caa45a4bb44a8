// Package knowledge manages the vector store collaborator: chunk
// upserts and similarity search over PostgreSQL + pgvector.
//
// The store treats embedding generation as part of the write/read path:
// text goes in, the configured embedder produces the vector, pgvector
// does the distance math. Upserts are keyed by chunk ID, so re-indexing
// the same content is idempotent.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/indigobot/indigo/internal/loader"
)

// Querier is the common interface satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const upsertSQL = `INSERT INTO documents (id, source, content, embedding, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (id) DO UPDATE
	SET source = EXCLUDED.source,
	    content = EXCLUDED.content,
	    embedding = EXCLUDED.embedding,
	    metadata = EXCLUDED.metadata`

const searchSQL = `SELECT id, source, content, metadata,
	1 - (embedding <=> $1) AS similarity
	FROM documents
	ORDER BY embedding <=> $1
	LIMIT $2`

// Result is a single search hit.
type Result struct {
	ID         string
	Source     string
	Content    string
	Metadata   map[string]string
	Similarity float64
}

// Store manages document chunks backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a knowledge Store. db is usually a *pgxpool.Pool.
func NewStore(db Querier, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("knowledge: db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("knowledge: embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// embed generates the vector for a piece of text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Upsert embeds a chunk and writes it, keyed by chunk ID.
func (s *Store) Upsert(ctx context.Context, chunk loader.Chunk, metadata map[string]string) error {
	vec, err := s.embed(ctx, chunk.Text)
	if err != nil {
		return err
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	if _, err := s.db.Exec(ctx, upsertSQL,
		chunk.ID, chunk.Source, chunk.Text, vec, metaJSON); err != nil {
		return fmt.Errorf("upserting chunk %s: %w", chunk.ID, err)
	}

	s.logger.Debug("chunk upserted", "id", chunk.ID, "source", chunk.Source)
	return nil
}

// Search embeds the query and returns the topK most similar chunks by
// cosine similarity, best first.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK < 1 {
		topK = 5
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, searchSQL, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metaJSON []byte
		if err := rows.Scan(&r.ID, &r.Source, &r.Content, &metaJSON, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %s: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// DeleteBySource removes all chunks for one source document.
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE source = $1`, source); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", source, err)
	}
	return nil
}
