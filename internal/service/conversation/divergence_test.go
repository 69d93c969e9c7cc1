package conversation

import (
	"context"
	"testing"

	"github.com/mnemo-agent/mnemo/internal/core"
)

type recordingStore struct {
	stored   []core.ContextMessage
	replaced [][]core.ContextMessage
}

func (s *recordingStore) ActiveSet(context.Context, int64) (*core.ContextMessageSet, []core.ContextMessage, error) {
	return &core.ContextMessageSet{ID: 1, UserID: 1, Active: true}, s.stored, nil
}

func (s *recordingStore) AppendMessages(context.Context, int64, []core.ContextMessage) ([]int64, error) {
	return nil, nil
}

func (s *recordingStore) ReplaceActiveSet(_ context.Context, _ int64, msgs []core.ContextMessage) error {
	s.replaced = append(s.replaced, msgs)
	return nil
}

func (s *recordingStore) RemoveMetadataRefs(context.Context, int64, core.EntityType, int64) error {
	return nil
}

func TestReconcileNoDivergence(t *testing.T) {
	store := &recordingStore{stored: []core.ContextMessage{
		{ID: 1, Role: core.RoleSystem, Content: "sys"},
		{ID: 2, Role: core.RoleUser, Content: "hi"},
	}}
	tracker := NewTracker(store)

	client := []core.ContextMessage{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "hi"},
	}
	if err := tracker.Reconcile(context.Background(), 1, client); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(store.replaced) != 0 {
		t.Fatal("identical transcripts must not rewrite the set")
	}
}

func TestReconcileClientAuthoritative(t *testing.T) {
	store := &recordingStore{stored: []core.ContextMessage{
		{ID: 1, Role: core.RoleSystem, Content: "sys"},
		{ID: 2, Role: core.RoleUser, Content: "hi"},
		{ID: 3, Role: core.RoleAssistant, Content: "hello there"},
		{ID: 4, Role: core.RoleUser, Content: "dropped by client"},
	}}
	tracker := NewTracker(store)

	client := []core.ContextMessage{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "edited reply"},
		{Role: core.RoleUser, Content: "follow-up"},
	}
	if err := tracker.Reconcile(context.Background(), 1, client); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(store.replaced) != 1 {
		t.Fatalf("expected one replacement, got %d", len(store.replaced))
	}

	final := store.replaced[0]
	if len(final) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(final))
	}
	// Matching prefix keeps its stored ids.
	if final[0].ID != 1 || final[1].ID != 2 {
		t.Errorf("prefix ids not preserved: %d, %d", final[0].ID, final[1].ID)
	}
	// Diverging suffix comes from the client as fresh rows.
	if final[2].ID != 0 || final[2].Content != "edited reply" {
		t.Errorf("divergent message not replaced: %+v", final[2])
	}
	if final[3].Content != "follow-up" {
		t.Errorf("client suffix not adopted: %+v", final[3])
	}
}

func TestReconcileClientTruncates(t *testing.T) {
	store := &recordingStore{stored: []core.ContextMessage{
		{ID: 1, Role: core.RoleSystem, Content: "sys"},
		{ID: 2, Role: core.RoleUser, Content: "hi"},
		{ID: 3, Role: core.RoleAssistant, Content: "hello"},
	}}
	tracker := NewTracker(store)

	client := []core.ContextMessage{
		{Role: core.RoleSystem, Content: "sys"},
	}
	if err := tracker.Reconcile(context.Background(), 1, client); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(store.replaced) != 1 || len(store.replaced[0]) != 1 {
		t.Fatalf("expected truncation to one message, got %+v", store.replaced)
	}
	if store.replaced[0][0].ID != 1 {
		t.Errorf("kept message should reuse stored id, got %d", store.replaced[0][0].ID)
	}
}
