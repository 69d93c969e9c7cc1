package agent

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/internal/service/window"
	"github.com/mnemo-agent/mnemo/internal/service/worker"
)

type memStore struct {
	set    core.ContextMessageSet
	msgs   []core.ContextMessage
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{set: core.ContextMessageSet{ID: 1, UserID: 1, Active: true, CreatedAt: time.Now().UTC()}}
}

func (s *memStore) ActiveSet(context.Context, int64) (*core.ContextMessageSet, []core.ContextMessage, error) {
	set := s.set
	msgs := make([]core.ContextMessage, len(s.msgs))
	copy(msgs, s.msgs)
	return &set, msgs, nil
}

func (s *memStore) AppendMessages(_ context.Context, _ int64, msgs []core.ContextMessage) ([]int64, error) {
	var ids []int64
	for _, m := range msgs {
		s.nextID++
		m.ID = s.nextID
		s.msgs = append(s.msgs, m)
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *memStore) ReplaceActiveSet(_ context.Context, _ int64, msgs []core.ContextMessage) error {
	s.msgs = append([]core.ContextMessage{}, msgs...)
	s.set.ID++
	s.set.CreatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) RemoveMetadataRefs(context.Context, int64, core.EntityType, int64) error {
	return nil
}

type memTracker struct{ count int }

func (t *memTracker) MessagesSinceMemory(context.Context, int64) (int, error) { return t.count, nil }
func (t *memTracker) SetMessagesSinceMemory(_ context.Context, _ int64, c int) error {
	t.count = c
	return nil
}

type flatCounter struct{}

func (flatCounter) MessageCost(core.ContextMessage) int    { return 1 }

type nullMemories struct{}

func (nullMemories) Recall(context.Context, int64, []core.ContextMessage) (*core.ContextMessage, error) {
	return nil, nil
}
func (nullMemories) FormulateFromContext(context.Context, int64) error { return nil }

type noTools struct{}

func (noTools) Tools(context.Context) ([]core.Tool, error) { return nil, nil }
func (noTools) CallTool(context.Context, int64, string, string) (string, error) {
	return "", nil
}

type scriptedStream struct {
	deltas []core.StreamDelta
	pos    int
}

func (s *scriptedStream) Recv() (core.StreamDelta, error) {
	if s.pos >= len(s.deltas) {
		return core.StreamDelta{}, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *scriptedStream) Close() error { return nil }

// scriptedProvider serves one scripted stream per ChatStream call, repeating
// the last script when exhausted.
type scriptedProvider struct {
	scripts [][]core.StreamDelta
	calls   int
}

func (p *scriptedProvider) Chat(context.Context, []core.ContextMessage, []core.Tool) (core.ContextMessage, error) {
	return core.ContextMessage{Role: core.RoleAssistant, Content: "summary"}, nil
}

func (p *scriptedProvider) ChatStream(context.Context, []core.ContextMessage, []core.Tool) (core.CompletionStream, error) {
	i := p.calls
	if i >= len(p.scripts) {
		i = len(p.scripts) - 1
	}
	p.calls++
	return &scriptedStream{deltas: p.scripts[i]}, nil
}

func newTestAgent(provider *scriptedProvider, store *memStore) *Agent {
	cfg := &config.ContextConfig{
		RefreshTriggerTokens:   1000,
		RefreshTargetTokens:    500,
		MaxContextAgeMinutes:   120,
		RefreshIntervalMinutes: 30,
		MessagesBetweenMemory:  100,
	}
	w := window.New(cfg, store, &memTracker{}, provider, nil, flatCounter{}, "persona")
	return New(w, nullMemories{}, provider, noTools{}, worker.NewPool(2))
}

func goodScript(text string) []core.StreamDelta {
	return []core.StreamDelta{{Content: text}}
}

// badScript opens a second tool call while the first one's arguments are
// still an unclosed JSON fragment, which the accumulator rejects.
func badScript() []core.StreamDelta {
	id1, name1, args1 := "call_1", "search_memories", `{"query":`
	id2, name2 := "call_2", "list_goals"
	return []core.StreamDelta{
		{ToolCall: &core.ToolCallDelta{Index: 0, ID: &id1, Name: &name1, Arguments: &args1}},
		{ToolCall: &core.ToolCallDelta{Index: 1, ID: &id2, Name: &name2}},
	}
}

func TestRespondHappyPath(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]core.StreamDelta{goodScript("hello!")}}
	store := newMemStore()
	a := newTestAgent(provider, store)

	var streamed string
	reply, err := a.Respond(context.Background(), 1, "hi", func(s string) { streamed += s })
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	if reply != "hello!" {
		t.Errorf("unexpected reply %q", reply)
	}
	if streamed != "hello!" {
		t.Errorf("deltas not forwarded, got %q", streamed)
	}

	// Window ends with user then assistant messages.
	last := store.msgs[len(store.msgs)-1]
	if last.Role != core.RoleAssistant || last.Content != "hello!" {
		t.Errorf("assistant message not persisted: %+v", last)
	}
}

func TestRespondRecoversViaRefresh(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]core.StreamDelta{
		badScript(),
		goodScript("recovered"),
	}}
	a := newTestAgent(provider, newMemStore())

	reply, err := a.Respond(context.Background(), 1, "hi", nil)
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("expected recovery after refresh, got %q", reply)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 completion attempts, got %d", provider.calls)
	}
}

func TestRespondApologizesWhenRecoveryFails(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]core.StreamDelta{badScript()}}
	store := newMemStore()
	a := newTestAgent(provider, store)

	reply, err := a.Respond(context.Background(), 1, "hi", nil)
	if err != nil {
		t.Fatalf("the ladder must swallow protocol errors, got %v", err)
	}
	if reply != apologyReply {
		t.Errorf("expected apology, got %q", reply)
	}
	// All three rungs attempted a completion.
	if provider.calls != 3 {
		t.Errorf("expected 3 completion attempts, got %d", provider.calls)
	}

	// After the reset rung the window holds the replayed user message.
	foundUser := false
	for _, m := range store.msgs {
		if m.Role == core.RoleUser && m.Content == "hi" {
			foundUser = true
		}
	}
	if !foundUser {
		t.Error("user message not replayed after reset")
	}
}
