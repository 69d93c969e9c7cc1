package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemo-agent/mnemo/internal/core"
)

// Store implements core.VectorStore on chromem-go, an embedded vector
// database. One collection per user. chromem's native metric is cosine
// similarity; results are converted to Euclidean distance so callers see the
// same metric as the sqlite and postgres backends (for unit vectors,
// l2 = sqrt(2*(1-cos))).
//
// chromem has no listing API, so the store keeps a mirror of document ids and
// activation flags. SetActive and FindRedundantPairs operate through the
// mirror; vectors themselves always come from chromem. For persistent stores
// the mirror is written to an index file next to the chromem data on every
// mutation and reloaded on open, so activation flags and content hashes
// survive restarts.
type Store struct {
	db        *chromem.DB
	indexPath string // empty for in-memory stores

	mu      sync.RWMutex
	entries map[string]*entry // doc id -> bookkeeping
	nextSeq int64
}

type entry struct {
	userID int64
	hash   string
	active bool
	seq    int64 // insertion order, used for deterministic tie-breaks
}

var _ core.VectorStore = (*Store)(nil)

// NewPersistent opens a chromem database backed by the given directory:
// chromem data under db/, the bookkeeping index beside it.
func NewPersistent(path string) (*Store, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(path, "db"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem db: %w", err)
	}
	s := &Store{db: db, indexPath: filepath.Join(path, "index.json"), entries: make(map[string]*entry)}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewInMemory creates an ephemeral store, used by tests.
func NewInMemory() *Store {
	return &Store{db: chromem.NewDB(), entries: make(map[string]*entry)}
}

type indexEntry struct {
	UserID int64  `json:"user_id"`
	Hash   string `json:"content_hash"`
	Active bool   `json:"active"`
	Seq    int64  `json:"seq"`
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read vector index: %w", err)
	}

	var stored map[string]indexEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse vector index %s: %w", s.indexPath, err)
	}
	for key, e := range stored {
		s.entries[key] = &entry{userID: e.UserID, hash: e.Hash, active: e.Active, seq: e.Seq}
		if e.Seq > s.nextSeq {
			s.nextSeq = e.Seq
		}
	}
	return nil
}

// saveIndexLocked writes the mirror to disk. Callers must hold s.mu.
func (s *Store) saveIndexLocked() error {
	if s.indexPath == "" {
		return nil
	}
	stored := make(map[string]indexEntry, len(s.entries))
	for key, e := range s.entries {
		stored[key] = indexEntry{UserID: e.userID, Hash: e.hash, Active: e.active, Seq: e.seq}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode vector index: %w", err)
	}
	if err := os.WriteFile(s.indexPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write vector index: %w", err)
	}
	return nil
}

// noEmbed rejects implicit embedding: vectors are always computed upstream
// and passed in explicitly.
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("implicit embedding is not supported")
}

func docID(t core.EntityType, id int64) string {
	return fmt.Sprintf("%s_%d", t, id)
}

func (s *Store) collection(userID int64) (*chromem.Collection, error) {
	name := fmt.Sprintf("user-%d", userID)
	c, err := s.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	return c, nil
}

func (s *Store) Upsert(ctx context.Context, t core.EntityType, id, userID int64, vec []float32, contentHash string) error {
	c, err := s.collection(userID)
	if err != nil {
		return err
	}

	key := docID(t, id)
	doc := chromem.Document{
		ID:        key,
		Embedding: vec,
		Content:   key,
		Metadata: map[string]string{
			"type":         string(t),
			"source_id":    strconv.FormatInt(id, 10),
			"user_id":      strconv.FormatInt(userID, 10),
			"content_hash": contentHash,
			"active":       "true",
		},
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to upsert embedding for %s/%d: %w", t, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.hash = contentHash
		e.active = true
		e.userID = userID
	} else {
		s.nextSeq++
		s.entries[key] = &entry{userID: userID, hash: contentHash, active: true, seq: s.nextSeq}
	}
	return s.saveIndexLocked()
}

func (s *Store) Get(ctx context.Context, t core.EntityType, id int64) ([]float32, string, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[docID(t, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, "", false, nil
	}

	c, err := s.collection(e.userID)
	if err != nil {
		return nil, "", false, err
	}
	doc, err := c.GetByID(ctx, docID(t, id))
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to get document: %w", err)
	}
	return doc.Embedding, e.hash, true, nil
}

func (s *Store) SetActive(ctx context.Context, t core.EntityType, id int64, active bool) error {
	key := docID(t, id)

	s.mu.Lock()
	e, ok := s.entries[key]
	var userID int64
	if ok {
		e.active = active
		userID = e.userID
		if err := s.saveIndexLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	c, err := s.collection(userID)
	if err != nil {
		return err
	}
	doc, err := c.GetByID(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	doc.Metadata["active"] = strconv.FormatBool(active)
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, t core.EntityType, userID int64, query []float32, threshold float64, limit int) ([]int64, error) {
	c, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size.
	n := c.Count()
	if n == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, query, n,
		map[string]string{"type": string(t), "active": "true"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	type hit struct {
		id   int64
		dist float64
		seq  int64
	}
	var hits []hit
	s.mu.RLock()
	for _, res := range results {
		dist := cosineSimToL2(res.Similarity)
		if dist >= threshold {
			continue
		}
		id, err := strconv.ParseInt(res.Metadata["source_id"], 10, 64)
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("malformed source_id metadata %q", res.Metadata["source_id"])
		}
		var seq int64
		if e, ok := s.entries[res.ID]; ok {
			seq = e.seq
		}
		hits = append(hits, hit{id: id, dist: dist, seq: seq})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].seq < hits[j].seq
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func (s *Store) FindRedundantPairs(ctx context.Context, t core.EntityType, userID int64, threshold float64, limit int) ([]core.EntityPair, error) {
	c, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id  int64
		vec []float32
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for key, e := range s.entries {
		if e.userID == userID && e.active {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()

	var cands []candidate
	for _, key := range keys {
		doc, err := c.GetByID(ctx, key)
		if err != nil {
			continue // deleted since snapshot
		}
		if doc.Metadata["type"] != string(t) {
			continue
		}
		id, err := strconv.ParseInt(doc.Metadata["source_id"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed source_id metadata %q", doc.Metadata["source_id"])
		}
		cands = append(cands, candidate{id: id, vec: doc.Embedding})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].id < cands[j].id })

	var pairs []core.EntityPair
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			if l2Distance(cands[i].vec, cands[j].vec) < threshold {
				pairs = append(pairs, core.EntityPair{
					A: core.EntityRef{Type: t, ID: cands[i].id},
					B: core.EntityRef{Type: t, ID: cands[j].id},
				})
			}
		}
	}

	rand.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs, nil
}

// cosineSimToL2 converts cosine similarity to Euclidean distance. chromem
// normalizes stored vectors, and for unit vectors l2^2 = 2*(1-cos).
func cosineSimToL2(sim float32) float64 {
	d := 2 * (1 - float64(sim))
	if d < 0 {
		d = 0
	}
	return math.Sqrt(d)
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
