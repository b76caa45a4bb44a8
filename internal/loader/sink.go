package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/indigobot/indigo/internal/refine"
)

// Upserter is the slice of the knowledge store the sink needs.
// Upserts must be idempotent per chunk ID.
type Upserter interface {
	Upsert(ctx context.Context, chunk Chunk, metadata map[string]string) error
	DeleteBySource(ctx context.Context, source string) error
}

// Sink splits refined documents and writes their chunks to a store.
// It is the bridge between the crawler (or file loader) and the vector
// store collaborator.
type Sink struct {
	splitter *Splitter
	store    Upserter
	logger   *slog.Logger
}

// NewSink creates a sink.
func NewSink(splitter *Splitter, store Upserter, logger *slog.Logger) (*Sink, error) {
	if splitter == nil {
		return nil, fmt.Errorf("loader: splitter is required")
	}
	if store == nil {
		return nil, fmt.Errorf("loader: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{splitter: splitter, store: store, logger: logger}, nil
}

// Store chunks doc and upserts every chunk. An empty document is a
// no-op, not an error. The first failed upsert aborts: a partially
// stored document will be re-chunked to identical IDs on the next pass.
func (s *Sink) Store(ctx context.Context, doc refine.Document) error {
	chunks := s.splitter.Split(doc.Source, doc.Text)
	if len(chunks) == 0 {
		s.logger.Debug("nothing to index", "source", doc.Source)
		return nil
	}

	// Changed content can shrink. Clear the source's previous chunks
	// first, or offsets past the new tail survive as stale context.
	if err := s.store.DeleteBySource(ctx, doc.Source); err != nil {
		return fmt.Errorf("clearing stale chunks of %s: %w", doc.Source, err)
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	for _, chunk := range chunks {
		meta := map[string]string{
			"source":       doc.Source,
			"title":        doc.Title,
			"content_hash": doc.ContentHash,
			"ordinal":      fmt.Sprintf("%d", chunk.Ordinal),
			"indexed_at":   indexedAt,
		}
		if err := s.store.Upsert(ctx, chunk, meta); err != nil {
			return fmt.Errorf("upserting chunk %s of %s: %w", chunk.ID, doc.Source, err)
		}
	}

	s.logger.Info("document indexed", "source", doc.Source, "chunks", len(chunks))
	return nil
}
