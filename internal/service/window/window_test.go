package window

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/core"
)

// charCounter prices a message at one token per content byte, keeping test
// budgets easy to reason about.
type charCounter struct{}

func (charCounter) MessageCost(m core.ContextMessage) int { return len(m.Content) }

type fakeMessageStore struct {
	set    core.ContextMessageSet
	msgs   []core.ContextMessage
	nextID int64
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{set: core.ContextMessageSet{ID: 1, UserID: 1, Active: true, CreatedAt: time.Now().UTC()}}
}

func (s *fakeMessageStore) ActiveSet(_ context.Context, _ int64) (*core.ContextMessageSet, []core.ContextMessage, error) {
	set := s.set
	msgs := make([]core.ContextMessage, len(s.msgs))
	copy(msgs, s.msgs)
	return &set, msgs, nil
}

func (s *fakeMessageStore) AppendMessages(_ context.Context, _ int64, msgs []core.ContextMessage) ([]int64, error) {
	var ids []int64
	for _, m := range msgs {
		s.nextID++
		m.ID = s.nextID
		s.msgs = append(s.msgs, m)
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *fakeMessageStore) ReplaceActiveSet(_ context.Context, _ int64, msgs []core.ContextMessage) error {
	replaced := make([]core.ContextMessage, len(msgs))
	copy(replaced, msgs)
	for i := range replaced {
		if replaced[i].ID == 0 {
			s.nextID++
			replaced[i].ID = s.nextID
		}
	}
	s.msgs = replaced
	s.set.ID++
	s.set.CreatedAt = time.Now().UTC()
	return nil
}

func (s *fakeMessageStore) RemoveMetadataRefs(_ context.Context, _ int64, _ core.EntityType, _ int64) error {
	return nil
}

type fakeTracker struct {
	count int
}

func (t *fakeTracker) MessagesSinceMemory(_ context.Context, _ int64) (int, error) { return t.count, nil }
func (t *fakeTracker) SetMessagesSinceMemory(_ context.Context, _ int64, count int) error {
	t.count = count
	return nil
}

func TestCompress(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)
	stale := now.Add(-3 * time.Hour)

	system := core.ContextMessage{Role: core.RoleSystem, Content: "sys", CreatedAt: stale}

	tests := []struct {
		name     string
		msgs     []core.ContextMessage
		target   int
		expected []string // expected contents after compression, in order
	}{
		{
			name: "system message survives regardless of age or budget",
			msgs: []core.ContextMessage{
				system,
				{Role: core.RoleUser, Content: "old", CreatedAt: stale},
			},
			target:   0,
			expected: []string{"sys"},
		},
		{
			name: "budget keeps newest messages",
			msgs: []core.ContextMessage{
				system,
				{Role: core.RoleUser, Content: "aaaa", CreatedAt: fresh},
				{Role: core.RoleAssistant, Content: "bbbb", CreatedAt: fresh},
				{Role: core.RoleUser, Content: "cccc", CreatedAt: fresh},
			},
			target:   10,
			expected: []string{"sys", "bbbb", "cccc"},
		},
		{
			name: "old messages dropped even under budget",
			msgs: []core.ContextMessage{
				system,
				{Role: core.RoleUser, Content: "old", CreatedAt: stale},
				{Role: core.RoleUser, Content: "new", CreatedAt: fresh},
			},
			target:   1000,
			expected: []string{"sys", "new"},
		},
		{
			name: "tool result keeps its calling assistant message",
			msgs: []core.ContextMessage{
				system,
				{Role: core.RoleUser, Content: "question", CreatedAt: fresh},
				{Role: core.RoleAssistant, Content: "calling a tool now", CreatedAt: fresh,
					ToolCalls: []core.ToolCall{{ID: "call_1", Type: "function"}}},
				{Role: core.RoleTool, Content: "result", ToolCallID: "call_1", CreatedAt: fresh},
				{Role: core.RoleAssistant, Content: "answer", CreatedAt: fresh},
			},
			// Budget fits "answer" and "result" but not the assistant
			// message; pairing must force-keep it anyway.
			target:   15,
			expected: []string{"sys", "calling a tool now", "result", "answer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Compress(tt.msgs, charCounter{}, tt.target, 2*time.Hour, now)
			if len(out) != len(tt.expected) {
				t.Fatalf("expected %d messages, got %d: %+v", len(tt.expected), len(out), out)
			}
			for i, content := range tt.expected {
				if out[i].Content != content {
					t.Errorf("message %d: expected %q, got %q", i, content, out[i].Content)
				}
			}
			if out[0].Role != core.RoleSystem {
				t.Errorf("first message must stay system, got %q", out[0].Role)
			}
		})
	}
}

func TestCompressIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)
	msgs := []core.ContextMessage{
		{Role: core.RoleSystem, Content: "sys", CreatedAt: fresh},
		{Role: core.RoleUser, Content: "aaaa", CreatedAt: fresh},
		{Role: core.RoleAssistant, Content: "bbbb", CreatedAt: fresh},
	}

	once := Compress(msgs, charCounter{}, 10, time.Hour, now)
	twice := Compress(once, charCounter{}, 10, time.Hour, now)
	if len(once) != len(twice) {
		t.Fatalf("second compression changed the window: %d vs %d", len(once), len(twice))
	}
}

func TestAppendAdvancesTracker(t *testing.T) {
	ctx := context.Background()
	cfg := &config.ContextConfig{MessagesBetweenMemory: 4, RefreshTriggerTokens: 1000, RefreshTargetTokens: 500, MaxContextAgeMinutes: 120, RefreshIntervalMinutes: 30}
	store := newFakeMessageStore()
	tracker := &fakeTracker{}

	fired := 0
	w := New(cfg, store, tracker, nil, nil, charCounter{}, "persona")
	w.OnMemoryDue = func(context.Context, int64) { fired++ }

	append3 := []core.ContextMessage{
		{Role: core.RoleUser, Content: "a"},
		{Role: core.RoleAssistant, Content: "b"},
		{Role: core.RoleUser, Content: "c"},
	}
	if err := w.Append(ctx, 1, append3); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if fired != 0 || tracker.count != 3 {
		t.Fatalf("expected no formation yet and count 3, got fired=%d count=%d", fired, tracker.count)
	}

	// Crossing the threshold in one batch fires exactly once and keeps the
	// remainder.
	if err := w.Append(ctx, 1, append3); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("expected one formation, got %d", fired)
	}
	if tracker.count != 2 {
		t.Errorf("expected remainder 2, got %d", tracker.count)
	}
}

func TestAppendIgnoresSystemMessages(t *testing.T) {
	ctx := context.Background()
	cfg := &config.ContextConfig{MessagesBetweenMemory: 2}
	store := newFakeMessageStore()
	tracker := &fakeTracker{}

	w := New(cfg, store, tracker, nil, nil, charCounter{}, "persona")
	err := w.Append(ctx, 1, []core.ContextMessage{{Role: core.RoleSystem, Content: "sys"}})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if tracker.count != 0 {
		t.Errorf("system messages must not advance the tracker, got %d", tracker.count)
	}
}

func TestIsRefreshDue(t *testing.T) {
	ctx := context.Background()
	cfg := &config.ContextConfig{RefreshTriggerTokens: 10, RefreshIntervalMinutes: 30, MessagesBetweenMemory: 100}
	store := newFakeMessageStore()
	w := New(cfg, store, &fakeTracker{}, nil, nil, charCounter{}, "persona")

	// Empty window is never due.
	due, err := w.IsRefreshDue(ctx, 1)
	if err != nil {
		t.Fatalf("refresh check failed: %v", err)
	}
	if due {
		t.Error("empty window must not be due")
	}

	store.msgs = []core.ContextMessage{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "a very long message over budget"},
	}
	due, err = w.IsRefreshDue(ctx, 1)
	if err != nil {
		t.Fatalf("refresh check failed: %v", err)
	}
	if !due {
		t.Error("window over token budget must be due")
	}

	// Under budget but set older than the refresh interval.
	store.msgs = []core.ContextMessage{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "hi"},
	}
	store.set.CreatedAt = time.Now().UTC().Add(-time.Hour)
	due, err = w.IsRefreshDue(ctx, 1)
	if err != nil {
		t.Fatalf("refresh check failed: %v", err)
	}
	if !due {
		t.Error("stale set must be due")
	}
}

func TestIsRefreshDueIgnoresSystemMessageCost(t *testing.T) {
	ctx := context.Background()
	cfg := &config.ContextConfig{RefreshTriggerTokens: 100, RefreshIntervalMinutes: 30, MessagesBetweenMemory: 100}
	store := newFakeMessageStore()
	w := New(cfg, store, &fakeTracker{}, nil, nil, charCounter{}, "persona")

	// A persona far over the trigger on its own must not make a two-token
	// conversation due.
	store.msgs = []core.ContextMessage{
		{Role: core.RoleSystem, Content: strings.Repeat("p", 500)},
		{Role: core.RoleUser, Content: "hi"},
	}
	due, err := w.IsRefreshDue(ctx, 1)
	if err != nil {
		t.Fatalf("refresh check failed: %v", err)
	}
	if due {
		t.Error("system message cost must not count toward the refresh trigger")
	}
}
