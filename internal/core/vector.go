package core

import "context"

// EntityRef identifies one stored embedding.
type EntityRef struct {
	Type EntityType
	ID   int64
}

// EntityPair is a candidate pair for consolidation.
type EntityPair struct {
	A EntityRef
	B EntityRef
}

// VectorStore is the uniform contract over the three embedding backends
// (sqlite-vec, postgres/pgvector, chromem). Distance is Euclidean (L2);
// backends with a different native metric must convert. A successful Upsert
// is immediately visible to Query from the same process.
type VectorStore interface {
	// Upsert stores or replaces the embedding for one entity. At most one
	// embedding exists per (type, id). Failures must be surfaced loudly:
	// losing an embedding silently breaks future recall forever.
	Upsert(ctx context.Context, t EntityType, id, userID int64, vec []float32, contentHash string) error

	// Get returns the stored vector and content hash, or found=false.
	Get(ctx context.Context, t EntityType, id int64) (vec []float32, contentHash string, found bool, err error)

	// SetActive mirrors the entity's activation flag so queries can filter
	// without touching the relational store.
	SetActive(ctx context.Context, t EntityType, id int64, active bool) error

	// Query returns ids of active entities strictly below threshold, sorted
	// ascending by distance, ties broken by insertion order, at most limit.
	Query(ctx context.Context, t EntityType, userID int64, query []float32, threshold float64, limit int) ([]int64, error)

	// FindRedundantPairs self-joins active embeddings of one type and
	// returns pairs strictly below threshold in randomized order. The
	// randomization is an anti-starvation measure for consolidation.
	FindRedundantPairs(ctx context.Context, t EntityType, userID int64, threshold float64, limit int) ([]EntityPair, error)
}
