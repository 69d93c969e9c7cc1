package memory

import (
	"context"
	"testing"

	"github.com/mnemo-agent/mnemo/internal/core"
)

func TestConsolidateIdenticalFacts(t *testing.T) {
	ctx := context.Background()
	entities := newFakeEntityStore()
	vectors := newFakeVectorStore()
	messages := &fakeMessageStore{}
	chat := &fakeChat{}
	repo := newTestRepo(entities, vectors, messages, &fakeEmbedder{}, chat)

	a, err := repo.CreateMemory(ctx, 1, "Coffee", "Prefers oat milk")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	b, err := repo.CreateMemory(ctx, 1, "Coffee", "Prefers oat milk")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	pair := core.EntityPair{
		A: core.EntityRef{Type: core.EntityMemory, ID: a},
		B: core.EntityRef{Type: core.EntityMemory, ID: b},
	}
	if err := repo.Consolidate(ctx, 1, pair); err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}

	if chat.calls != 0 {
		t.Errorf("identical facts must not call the model, got %d calls", chat.calls)
	}
	if !entities.memories[a].Active {
		t.Error("first memory must stay active")
	}
	if entities.memories[b].Active {
		t.Error("second memory must be deactivated")
	}
	if !vectors.inactive[core.EntityRef{Type: core.EntityMemory, ID: b}] {
		t.Error("second memory's embedding must be deactivated")
	}
}

func TestConsolidateMerge(t *testing.T) {
	ctx := context.Background()
	entities := newFakeEntityStore()
	vectors := newFakeVectorStore()
	messages := &fakeMessageStore{}
	chat := &fakeChat{replies: []string{
		`{"reasoning": "same fact, different words", "memories": [{"name": "Coffee order", "text": "Drinks oat milk lattes"}]}`,
	}}
	repo := newTestRepo(entities, vectors, messages, &fakeEmbedder{}, chat)

	a, _ := repo.CreateMemory(ctx, 1, "Coffee", "Likes lattes")
	b, _ := repo.CreateMemory(ctx, 1, "Milk", "Uses oat milk")

	pair := core.EntityPair{
		A: core.EntityRef{Type: core.EntityMemory, ID: a},
		B: core.EntityRef{Type: core.EntityMemory, ID: b},
	}
	if err := repo.Consolidate(ctx, 1, pair); err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}

	if entities.memories[a].Active || entities.memories[b].Active {
		t.Error("both originals must be deactivated after a merge")
	}

	active, err := entities.GetActive(ctx, 1, core.EntityMemory)
	if err != nil {
		t.Fatalf("get active failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one merged memory, got %d", len(active))
	}
	if active[0].EntityName() != "Coffee order" {
		t.Errorf("unexpected merged memory: %q", active[0].EntityName())
	}
	// Both originals fan out to the window eviction.
	if len(messages.removedRefs) != 2 {
		t.Errorf("expected 2 metadata evictions, got %d", len(messages.removedRefs))
	}
}

func TestConsolidateKeepsOriginalsWhenReplacementsUnusable(t *testing.T) {
	ctx := context.Background()
	entities := newFakeEntityStore()
	vectors := newFakeVectorStore()
	chat := &fakeChat{replies: []string{
		`{"reasoning": "merge them", "memories": [{"name": "", "text": ""}, {"name": "  ", "text": "something"}]}`,
	}}
	repo := newTestRepo(entities, vectors, &fakeMessageStore{}, &fakeEmbedder{}, chat)

	a, _ := repo.CreateMemory(ctx, 1, "Coffee", "Likes lattes")
	b, _ := repo.CreateMemory(ctx, 1, "Milk", "Uses oat milk")

	pair := core.EntityPair{
		A: core.EntityRef{Type: core.EntityMemory, ID: a},
		B: core.EntityRef{Type: core.EntityMemory, ID: b},
	}
	if err := repo.Consolidate(ctx, 1, pair); err == nil {
		t.Fatal("expected an error when every replacement is blank")
	}

	if !entities.memories[a].Active || !entities.memories[b].Active {
		t.Error("originals must stay active when no replacement was created")
	}
}

func TestConsolidateSkipsDeactivatedPair(t *testing.T) {
	ctx := context.Background()
	entities := newFakeEntityStore()
	vectors := newFakeVectorStore()
	chat := &fakeChat{}
	repo := newTestRepo(entities, vectors, &fakeMessageStore{}, &fakeEmbedder{}, chat)

	a, _ := repo.CreateMemory(ctx, 1, "A", "text a")
	b, _ := repo.CreateMemory(ctx, 1, "B", "text b")
	if err := repo.Deactivate(ctx, 1, core.EntityMemory, b); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	pair := core.EntityPair{
		A: core.EntityRef{Type: core.EntityMemory, ID: a},
		B: core.EntityRef{Type: core.EntityMemory, ID: b},
	}
	if err := repo.Consolidate(ctx, 1, pair); err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}
	if chat.calls != 0 {
		t.Error("stale pair must be skipped without a model call")
	}
	if !entities.memories[a].Active {
		t.Error("surviving memory must stay active")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no language", "```\n{\"a\":1}\n```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFence(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
