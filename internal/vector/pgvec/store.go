package pgvec

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/mnemo-agent/mnemo/internal/core"
)

// Store implements core.VectorStore on postgres with the pgvector extension.
// The embedding column uses the `vector` type and the `<->` L2 operator.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.VectorStore = (*Store)(nil)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS vector_storage (
    id BIGSERIAL PRIMARY KEY,
    source_type TEXT NOT NULL,
    source_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    content_hash TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    embedding vector NOT NULL,
    UNIQUE (source_type, source_id)
);`

// New connects to postgres and ensures the vector schema exists.
func New(ctx context.Context, url string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	// Register the vector type on every connection so pgvector.Vector scans
	// natively.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure vector schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Upsert(ctx context.Context, t core.EntityType, id, userID int64, vec []float32, contentHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vector_storage (source_type, source_id, user_id, content_hash, active, embedding)
		 VALUES ($1, $2, $3, $4, TRUE, $5)
		 ON CONFLICT (source_type, source_id) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   content_hash = EXCLUDED.content_hash,
		   active = EXCLUDED.active,
		   embedding = EXCLUDED.embedding`,
		string(t), id, userID, contentHash, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s/%d: %w", t, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, t core.EntityType, id int64) ([]float32, string, bool, error) {
	var vec pgvector.Vector
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT embedding, content_hash FROM vector_storage WHERE source_type = $1 AND source_id = $2`,
		string(t), id).Scan(&vec, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to get embedding: %w", err)
	}
	return vec.Slice(), hash, true, nil
}

func (s *Store) SetActive(ctx context.Context, t core.EntityType, id int64, active bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE vector_storage SET active = $1 WHERE source_type = $2 AND source_id = $3`,
		active, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to set embedding active flag: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, t core.EntityType, userID int64, query []float32, threshold float64, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id
		 FROM vector_storage
		 WHERE source_type = $1 AND user_id = $2 AND active
		   AND embedding <-> $3 < $4
		 ORDER BY embedding <-> $3, id
		 LIMIT $5`,
		string(t), userID, pgvector.NewVector(query), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) FindRedundantPairs(ctx context.Context, t core.EntityType, userID int64, threshold float64, limit int) ([]core.EntityPair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.source_id, b.source_id
		 FROM vector_storage a
		 JOIN vector_storage b
		   ON a.source_type = b.source_type AND a.source_id < b.source_id
		 WHERE a.source_type = $1 AND a.user_id = $2 AND b.user_id = $2
		   AND a.active AND b.active
		   AND a.embedding <-> b.embedding < $3
		 ORDER BY RANDOM()
		 LIMIT $4`,
		string(t), userID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query redundant pairs: %w", err)
	}
	defer rows.Close()

	var pairs []core.EntityPair
	for rows.Next() {
		var a, b int64
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		pairs = append(pairs, core.EntityPair{
			A: core.EntityRef{Type: t, ID: a},
			B: core.EntityRef{Type: t, ID: b},
		})
	}
	return pairs, rows.Err()
}
