package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// recordSQL is a single conditional upsert, so Record is atomic per
// key: of two concurrent writers with the same content exactly one
// observes a row change.
const recordSQL = `INSERT INTO seen_pages (url_hash, content_hash, last_seen)
	VALUES ($1, $2, now())
	ON CONFLICT (url_hash) DO UPDATE
	SET content_hash = EXCLUDED.content_hash, last_seen = now()
	WHERE seen_pages.content_hash IS DISTINCT FROM EXCLUDED.content_hash`

// Postgres is a Registry backed by the seen_pages table. Entries
// survive process restarts, which is what makes re-crawls idempotent.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a registry over the given pool.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("dedup: pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// ShouldProcess reports whether the URL is unseen or was last seen with
// different content. Read-only: aborted tasks leave no registry state.
func (p *Postgres) ShouldProcess(ctx context.Context, pageURL, contentHash string) (bool, error) {
	var prev string
	err := p.pool.QueryRow(ctx,
		`SELECT content_hash FROM seen_pages WHERE url_hash = $1`,
		URLKey(pageURL),
	).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying seen_pages: %w", err)
	}
	return prev != contentHash, nil
}

// SeenContent reports whether any recorded URL carries this content.
func (p *Postgres) SeenContent(ctx context.Context, contentHash string) (bool, error) {
	var seen bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM seen_pages WHERE content_hash = $1)`,
		contentHash,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("querying seen content: %w", err)
	}
	return seen, nil
}

// Record upserts the (url, content) pair after the document has been
// committed. Returns false when the stored hash already matched,
// meaning a concurrent worker won the race.
func (p *Postgres) Record(ctx context.Context, pageURL, contentHash string) (bool, error) {
	tag, err := p.pool.Exec(ctx, recordSQL, URLKey(pageURL), contentHash)
	if err != nil {
		return false, fmt.Errorf("recording seen page: %w", err)
	}
	won := tag.RowsAffected() > 0
	if !won {
		p.logger.Debug("lost dedup write race", "url", pageURL)
	}
	return won, nil
}
