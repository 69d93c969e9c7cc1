package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/mnemo-agent/mnemo/internal/core"
)

func TestEmbeddingStaleCheck(t *testing.T) {
	ctx := context.Background()
	entities := newFakeEntityStore()
	vectors := newFakeVectorStore()
	embedder := &fakeEmbedder{}
	repo := newTestRepo(entities, vectors, &fakeMessageStore{}, embedder, &fakeChat{})

	id, err := repo.CreateMemory(ctx, 1, "Coffee", "Prefers oat milk")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected one embedding call, got %d", embedder.calls)
	}

	// Re-upserting with unchanged content must hit the hash short-circuit.
	m := entities.memories[id]
	if err := repo.upsertEmbedding(ctx, m); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if embedder.calls != 1 {
		t.Errorf("unchanged content must not re-embed, got %d calls", embedder.calls)
	}

	// Changed content must re-embed.
	m.Text = "Switched to regular milk"
	if err := repo.upsertEmbedding(ctx, m); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("changed content must re-embed, got %d calls", embedder.calls)
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	repo := newTestRepo(newFakeEntityStore(), newFakeVectorStore(), &fakeMessageStore{}, &fakeEmbedder{}, &fakeChat{})
	_, err := repo.embed(context.Background(), "   ", "hash")
	if !errors.Is(err, core.ErrEmptyEmbedText) {
		t.Fatalf("expected ErrEmptyEmbedText, got %v", err)
	}
}

func TestRecallSkipsInWindowEntities(t *testing.T) {
	ctx := context.Background()
	entities := newFakeEntityStore()
	vectors := newFakeVectorStore()
	repo := newTestRepo(entities, vectors, &fakeMessageStore{}, &fakeEmbedder{}, &fakeChat{})

	first, _ := repo.CreateMemory(ctx, 1, "First", "already in window")
	second, _ := repo.CreateMemory(ctx, 1, "Second", "not yet surfaced")
	vectors.queryResult = []int64{first, second}

	window := []core.ContextMessage{
		{Role: core.RoleSystem, Content: "sys"},
		{
			Role:    core.RoleSystem,
			Content: "recall",
			MemoryMetadata: []core.MemoryMetadata{
				{EntityType: core.EntityMemory, EntityID: first, Name: "First"},
			},
		},
		{Role: core.RoleUser, Content: "tell me about my preferences"},
	}

	msg, err := repo.Recall(ctx, 1, window)
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a recall message")
	}

	for _, md := range msg.MemoryMetadata {
		if md.EntityID == first {
			t.Error("entity already in window must not be recalled again")
		}
	}
	found := false
	for _, md := range msg.MemoryMetadata {
		if md.EntityID == second {
			found = true
		}
	}
	if !found {
		t.Error("next best match must be recalled")
	}
}

func TestRecallToleratesQueryFailures(t *testing.T) {
	ctx := context.Background()
	entities := newFakeEntityStore()
	vectors := newFakeVectorStore()
	repo := newTestRepo(entities, vectors, &fakeMessageStore{}, &fakeEmbedder{}, &fakeChat{})

	if _, err := repo.CreateMemory(ctx, 1, "Coffee", "Prefers oat milk"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	vectors.queryErr = errors.New("backend unavailable")

	msg, err := repo.Recall(ctx, 1, []core.ContextMessage{
		{Role: core.RoleUser, Content: "what do I like?"},
	})
	if err != nil {
		t.Fatalf("a failing vector backend must not fail recall, got %v", err)
	}
	if msg != nil {
		t.Fatalf("expected no recall message, got %+v", msg)
	}
}

func TestRecallNothingRelevant(t *testing.T) {
	repo := newTestRepo(newFakeEntityStore(), newFakeVectorStore(), &fakeMessageStore{}, &fakeEmbedder{}, &fakeChat{})

	msg, err := repo.Recall(context.Background(), 1, []core.ContextMessage{
		{Role: core.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected no recall message, got %+v", msg)
	}
}
