package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/stratumhq/stratum/internal/domain"
)

// PostgresStore keeps knowledge entries in postgres and ranks with
// pgvector cosine distance. Expected table:
//
//	CREATE TABLE knowledge_entries (
//		id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//		content      TEXT NOT NULL,
//		content_hash TEXT NOT NULL UNIQUE,
//		scale        TEXT NOT NULL,
//		importance   DOUBLE PRECISION NOT NULL,
//		source_ids   TEXT[],
//		metadata     JSONB,
//		embedding    VECTOR,
//		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresStore struct {
	db       *pgxpool.Pool
	embedder domain.Embedder
}

func NewPostgresStore(db *pgxpool.Pool, embedder domain.Embedder) *PostgresStore {
	return &PostgresStore{db: db, embedder: embedder}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(content))))
	return hex.EncodeToString(sum[:])
}

// Store inserts the entry, filling in its id and timestamp. An entry with
// identical content already present is kept; its importance is raised to
// the higher of the two. Embedding failures degrade to a NULL embedding
// rather than losing the entry.
func (s *PostgresStore) Store(ctx context.Context, e *domain.KnowledgeEntry) error {
	var vec *pgvector.Vector
	if emb, err := s.embedder.Embed(ctx, e.Content); err == nil && len(emb) > 0 {
		v := pgvector.NewVector(emb)
		vec = &v
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO knowledge_entries (content, content_hash, scale, importance, source_ids, metadata, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (content_hash) DO UPDATE
		 SET importance = GREATEST(knowledge_entries.importance, EXCLUDED.importance)
		 RETURNING id::text, created_at`,
		e.Content, contentHash(e.Content), string(e.Scale), e.Importance, e.SourceIDs, e.Metadata, vec,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return domain.Transient(fmt.Errorf("store knowledge entry: %w", err))
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, content string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM knowledge_entries WHERE content_hash = $1)`,
		contentHash(content),
	).Scan(&exists)
	if err != nil {
		return false, domain.Transient(fmt.Errorf("check knowledge entry: %w", err))
	}
	return exists, nil
}

func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]domain.ScoredEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := pgvector.NewVector(emb)

	rows, err := s.db.Query(ctx,
		`SELECT id::text, content, scale, importance, metadata, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM knowledge_entries
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, limit,
	)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("search knowledge entries: %w", err))
	}
	defer rows.Close()

	return scanScored(rows)
}

// KeywordSearch ranks entries by postgres full-text relevance.
func (s *PostgresStore) KeywordSearch(ctx context.Context, query string, limit int) ([]domain.ScoredEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(ctx,
		`SELECT id::text, content, scale, importance, metadata, created_at,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		 FROM knowledge_entries
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("keyword search: %w", err))
	}
	defer rows.Close()

	return scanScored(rows)
}

func (s *PostgresStore) Related(ctx context.Context, id string, limit int) ([]domain.ScoredEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	var target pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT embedding FROM knowledge_entries WHERE id = $1::uuid AND embedding IS NOT NULL`,
		id,
	).Scan(&target)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Transient(fmt.Errorf("load knowledge entry: %w", err))
	}

	rows, err := s.db.Query(ctx,
		`SELECT id::text, content, scale, importance, metadata, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM knowledge_entries
		 WHERE id <> $2::uuid AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		target, id, limit,
	)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("find related entries: %w", err))
	}
	defer rows.Close()

	return scanScored(rows)
}

func scanScored(rows pgx.Rows) ([]domain.ScoredEntry, error) {
	var out []domain.ScoredEntry
	for rows.Next() {
		var se domain.ScoredEntry
		var scale string
		if err := rows.Scan(&se.Entry.ID, &se.Entry.Content, &scale, &se.Entry.Importance, &se.Entry.Metadata, &se.Entry.CreatedAt, &se.Score); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		se.Entry.Scale = domain.KnowledgeScale(scale)
		out = append(out, se)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient(fmt.Errorf("iterate knowledge entries: %w", err))
	}
	return out, nil
}
