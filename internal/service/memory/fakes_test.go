package memory

import (
	"context"
	"time"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/core"
)

type fakeEntityStore struct {
	memories map[int64]*core.Memory
	nextID   int64
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{memories: make(map[int64]*core.Memory)}
}

func (s *fakeEntityStore) InsertMemory(_ context.Context, m *core.Memory) error {
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()
	s.memories[m.ID] = m
	return nil
}

func (s *fakeEntityStore) InsertGoal(context.Context, *core.Goal) error         { return nil }
func (s *fakeEntityStore) InsertReminder(context.Context, *core.Reminder) error { return nil }

func (s *fakeEntityStore) Get(_ context.Context, _ int64, t core.EntityType, id int64) (core.Embeddable, error) {
	if t != core.EntityMemory {
		return nil, core.ErrNotFound
	}
	m, ok := s.memories[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return m, nil
}

func (s *fakeEntityStore) GetActive(_ context.Context, _ int64, t core.EntityType) ([]core.Embeddable, error) {
	var out []core.Embeddable
	if t != core.EntityMemory {
		return out, nil
	}
	for i := int64(1); i <= s.nextID; i++ {
		if m, ok := s.memories[i]; ok && m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeEntityStore) Deactivate(_ context.Context, _ int64, _ core.EntityType, id int64) error {
	m, ok := s.memories[id]
	if !ok {
		return core.ErrNotFound
	}
	m.Active = false
	return nil
}

type fakeVectorStore struct {
	vectors     map[core.EntityRef][]float32
	hashes      map[core.EntityRef]string
	inactive    map[core.EntityRef]bool
	queryResult []int64
	queryErr    error
	pairs       []core.EntityPair
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		vectors:  make(map[core.EntityRef][]float32),
		hashes:   make(map[core.EntityRef]string),
		inactive: make(map[core.EntityRef]bool),
	}
}

func (s *fakeVectorStore) Upsert(_ context.Context, t core.EntityType, id, _ int64, vec []float32, contentHash string) error {
	ref := core.EntityRef{Type: t, ID: id}
	s.vectors[ref] = vec
	s.hashes[ref] = contentHash
	delete(s.inactive, ref)
	return nil
}

func (s *fakeVectorStore) Get(_ context.Context, t core.EntityType, id int64) ([]float32, string, bool, error) {
	ref := core.EntityRef{Type: t, ID: id}
	vec, ok := s.vectors[ref]
	if !ok {
		return nil, "", false, nil
	}
	return vec, s.hashes[ref], true, nil
}

func (s *fakeVectorStore) SetActive(_ context.Context, t core.EntityType, id int64, active bool) error {
	ref := core.EntityRef{Type: t, ID: id}
	if active {
		delete(s.inactive, ref)
	} else {
		s.inactive[ref] = true
	}
	return nil
}

func (s *fakeVectorStore) Query(context.Context, core.EntityType, int64, []float32, float64, int) ([]int64, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.queryResult, nil
}

func (s *fakeVectorStore) FindRedundantPairs(context.Context, core.EntityType, int64, float64, int) ([]core.EntityPair, error) {
	return s.pairs, nil
}

type fakeMessageStore struct {
	removedRefs []core.EntityRef
}

func (s *fakeMessageStore) ActiveSet(context.Context, int64) (*core.ContextMessageSet, []core.ContextMessage, error) {
	return &core.ContextMessageSet{ID: 1, UserID: 1, Active: true}, nil, nil
}

func (s *fakeMessageStore) AppendMessages(context.Context, int64, []core.ContextMessage) ([]int64, error) {
	return nil, nil
}

func (s *fakeMessageStore) ReplaceActiveSet(context.Context, int64, []core.ContextMessage) error {
	return nil
}

func (s *fakeMessageStore) RemoveMetadataRefs(_ context.Context, _ int64, t core.EntityType, id int64) error {
	s.removedRefs = append(s.removedRefs, core.EntityRef{Type: t, ID: id})
	return nil
}

type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, core.ErrEmptyEmbedText
	}
	e.calls++
	return []float32{1, 0, 0}, nil
}

type fakeChat struct {
	replies []string
	calls   int
}

func (c *fakeChat) Chat(context.Context, []core.ContextMessage, []core.Tool) (core.ContextMessage, error) {
	reply := ""
	if c.calls < len(c.replies) {
		reply = c.replies[c.calls]
	}
	c.calls++
	return core.ContextMessage{Role: core.RoleAssistant, Content: reply}, nil
}

func (c *fakeChat) ChatStream(context.Context, []core.ContextMessage, []core.Tool) (core.CompletionStream, error) {
	return nil, nil
}

func testConfig() *config.MemoryConfig {
	return &config.MemoryConfig{
		RelevanceDistanceThreshold:     1.24,
		ConsolidationDistanceThreshold: 0.65,
		ConsolidationPairLimit:         3,
	}
}

func newTestRepo(entities *fakeEntityStore, vectors *fakeVectorStore, messages *fakeMessageStore, embedder *fakeEmbedder, chat *fakeChat) *Repository {
	return NewRepository(testConfig(), entities, vectors, messages, embedder, chat, nil)
}
