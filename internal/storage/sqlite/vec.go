package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"

	"github.com/mnemo-agent/mnemo/internal/core"
)

// VecStore implements core.VectorStore on the vector_storage table using the
// sqlite-vec extension's vec_distance_l2 over float32 blobs.
type VecStore struct {
	db *sql.DB
}

var _ core.VectorStore = (*VecStore)(nil)

func NewVecStore(db *sql.DB) *VecStore {
	return &VecStore{db: db}
}

func (s *VecStore) Upsert(ctx context.Context, t core.EntityType, id, userID int64, vec []float32, contentHash string) error {
	blob, err := serializeVector(vec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vector_storage (source_type, source_id, user_id, content_hash, active, embedding)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT (source_type, source_id) DO UPDATE SET
		   user_id = excluded.user_id,
		   content_hash = excluded.content_hash,
		   active = excluded.active,
		   embedding = excluded.embedding`,
		string(t), id, userID, contentHash, blob)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s/%d: %w", t, id, err)
	}
	return nil
}

func (s *VecStore) Get(ctx context.Context, t core.EntityType, id int64) ([]float32, string, bool, error) {
	var blob []byte
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, content_hash FROM vector_storage WHERE source_type = ? AND source_id = ?`,
		string(t), id).Scan(&blob, &hash)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to get embedding: %w", err)
	}
	vec, err := deserializeVector(blob)
	if err != nil {
		return nil, "", false, err
	}
	return vec, hash, true, nil
}

func (s *VecStore) SetActive(ctx context.Context, t core.EntityType, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE vector_storage SET active = ? WHERE source_type = ? AND source_id = ?`,
		active, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to set embedding active flag: %w", err)
	}
	return nil
}

func (s *VecStore) Query(ctx context.Context, t core.EntityType, userID int64, query []float32, threshold float64, limit int) ([]int64, error) {
	blob, err := serializeVector(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, vec_distance_l2(embedding, ?) AS distance
		 FROM vector_storage
		 WHERE source_type = ? AND user_id = ? AND active = 1
		   AND vec_distance_l2(embedding, ?) < ?
		 ORDER BY distance, id
		 LIMIT ?`,
		blob, string(t), userID, blob, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *VecStore) FindRedundantPairs(ctx context.Context, t core.EntityType, userID int64, threshold float64, limit int) ([]core.EntityPair, error) {
	// Self-join in randomized order so the same close cluster cannot starve
	// every other pair across repeated consolidation passes.
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.source_id, b.source_id
		 FROM vector_storage a
		 JOIN vector_storage b
		   ON a.source_type = b.source_type AND a.source_id < b.source_id
		 WHERE a.source_type = ? AND a.user_id = ? AND b.user_id = ?
		   AND a.active = 1 AND b.active = 1
		   AND vec_distance_l2(a.embedding, b.embedding) < ?
		 ORDER BY RANDOM()
		 LIMIT ?`,
		string(t), userID, userID, threshold, limit)
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

func serializeVector(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("cannot serialize empty vector")
	}
	buf := new(bytes.Buffer)
	for _, v := range vec {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("failed to serialize vector: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func deserializeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("malformed vector blob of %d bytes", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("failed to deserialize vector: %w", err)
	}
	return vec, nil
}
