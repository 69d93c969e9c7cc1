package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// MemoryRecorder is the slice of the memory repository the window needs for
// refresh-time memory formation and cleanup. Kept narrow to avoid an import
// cycle with the memory service.
type MemoryRecorder interface {
	CreateMemory(ctx context.Context, userID int64, name, text string) (int64, error)
	ConsolidatePass(ctx context.Context, userID int64) error
}

// Window manages the per-user active context window: appends, the refresh
// trigger, compression, and the system message.
type Window struct {
	cfg      *config.ContextConfig
	messages core.MessageStore
	tracker  core.TrackerStore
	chat     core.ChatProvider
	memories MemoryRecorder
	counter  Counter
	persona  string
	now      func() time.Time

	// OnMemoryDue fires at most once per Append when the tracker crosses the
	// formation threshold. Wired to the background worker pool at startup.
	OnMemoryDue func(ctx context.Context, userID int64)
}

func New(cfg *config.ContextConfig, messages core.MessageStore, tracker core.TrackerStore, chat core.ChatProvider, memories MemoryRecorder, counter Counter, persona string) *Window {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	return &Window{
		cfg:      cfg,
		messages: messages,
		tracker:  tracker,
		chat:     chat,
		memories: memories,
		counter:  counter,
		persona:  persona,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ActiveMessages returns the window for one user, seeding the system message
// on first contact.
func (w *Window) ActiveMessages(ctx context.Context, userID int64) ([]core.ContextMessage, error) {
	_, msgs, err := w.messages.ActiveSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		seed := w.systemMessage("")
		if err := w.messages.ReplaceActiveSet(ctx, userID, []core.ContextMessage{seed}); err != nil {
			return nil, err
		}
		_, msgs, err = w.messages.ActiveSet(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// Append persists new messages onto the window and advances the memory
// tracker. Crossing the formation threshold fires OnMemoryDue exactly once;
// the remainder above the threshold carries over so bursts are not lost.
func (w *Window) Append(ctx context.Context, userID int64, msgs []core.ContextMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if _, err := w.messages.AppendMessages(ctx, userID, msgs); err != nil {
		return err
	}

	delta := 0
	for _, m := range msgs {
		if m.Role != core.RoleSystem {
			delta++
		}
	}
	if delta == 0 {
		return nil
	}

	count, err := w.tracker.MessagesSinceMemory(ctx, userID)
	if err != nil {
		return err
	}
	count += delta

	if count >= w.cfg.MessagesBetweenMemory {
		count -= w.cfg.MessagesBetweenMemory
		if w.OnMemoryDue != nil {
			w.OnMemoryDue(ctx, userID)
		}
	}
	return w.tracker.SetMessagesSinceMemory(ctx, userID, count)
}

// IsRefreshDue reports whether the conversation has outgrown its token budget
// or outlived the refresh interval. The system message is excluded from the
// cost: it is rebuilt on refresh anyway, and a large persona must not keep a
// short conversation permanently over the trigger.
func (w *Window) IsRefreshDue(ctx context.Context, userID int64) (bool, error) {
	set, msgs, err := w.messages.ActiveSet(ctx, userID)
	if err != nil {
		return false, err
	}
	if countNonSystem(msgs) == 0 {
		return false, nil
	}
	cost := 0
	for _, m := range msgs {
		if m.Role != core.RoleSystem {
			cost += w.counter.MessageCost(m)
		}
	}
	if cost >= w.cfg.RefreshTriggerTokens {
		return true, nil
	}
	return w.now().Sub(set.CreatedAt) >= w.cfg.RefreshInterval(), nil
}

// Compress walks the window newest to oldest and keeps messages until the
// token target is exceeded or a message is older than maxAge. The system
// message at position zero is always kept. When the most recently kept
// message has role tool, the next older message is force-kept regardless of
// budget or age so assistant/tool pairs never split.
func Compress(msgs []core.ContextMessage, counter Counter, targetTokens int, maxAge time.Duration, now time.Time) []core.ContextMessage {
	if len(msgs) == 0 {
		return msgs
	}

	system := msgs[0]
	rest := msgs[1:]
	cutoff := now.Add(-maxAge)
	budget := counter.MessageCost(system)

	var kept []core.ContextMessage
	var lastKept *core.ContextMessage
	for i := len(rest) - 1; i >= 0; i-- {
		m := rest[i]
		if lastKept != nil && lastKept.Role == core.RoleTool {
			kept = append(kept, m)
			budget += counter.MessageCost(m)
			lastKept = &rest[i]
			continue
		}
		if m.CreatedAt.Before(cutoff) {
			break
		}
		if budget > targetTokens {
			break
		}
		kept = append(kept, m)
		budget += counter.MessageCost(m)
		lastKept = &rest[i]
	}

	out := make([]core.ContextMessage, 0, len(kept)+1)
	out = append(out, system)
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}

// Refresh records a summary memory of the conversation so far, rebuilds the
// system message around that summary, compresses the remainder, and installs
// the result as the new active set.
func (w *Window) Refresh(ctx context.Context, userID int64) error {
	logger := log.FromCtx(ctx)
	_, msgs, err := w.messages.ActiveSet(ctx, userID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	summary, err := w.summarize(ctx, msgs)
	if err != nil {
		// A failed summary degrades the refresh, it must not block it.
		logger.Warn().Err(err).Int64("user_id", userID).Msg("conversation summary failed, refreshing without one")
		summary = ""
	} else if w.memories != nil && summary != "" {
		name := fmt.Sprintf("Conversation summary from %s", w.now().Format("2006-01-02 15:04"))
		if _, err := w.memories.CreateMemory(ctx, userID, name, summary); err != nil {
			logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to record summary memory")
		}
	}

	// Fold the new summary memory into any near-duplicates before rebuilding
	// the window.
	if w.memories != nil {
		if err := w.memories.ConsolidatePass(ctx, userID); err != nil {
			logger.Warn().Err(err).Int64("user_id", userID).Msg("consolidation pass failed during refresh")
		}
	}

	refreshed := make([]core.ContextMessage, len(msgs))
	copy(refreshed, msgs)
	refreshed[0] = w.systemMessage(summary)

	compressed := Compress(refreshed, w.counter, w.cfg.RefreshTargetTokens, w.cfg.MaxContextAge(), w.now())

	logger.Debug().
		Int64("user_id", userID).
		Int("before", len(msgs)).
		Int("after", len(compressed)).
		Msg("context window refreshed")
	return w.messages.ReplaceActiveSet(ctx, userID, compressed)
}

// ResetToSystemOnly discards everything except a fresh system message. Last
// rung of the turn recovery ladder.
func (w *Window) ResetToSystemOnly(ctx context.Context, userID int64) error {
	log.FromCtx(ctx).Warn().Int64("user_id", userID).Msg("resetting context window to system message only")
	return w.messages.ReplaceActiveSet(ctx, userID, []core.ContextMessage{w.systemMessage("")})
}

func (w *Window) summarize(ctx context.Context, msgs []core.ContextMessage) (string, error) {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == core.RoleSystem || m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	if b.Len() == 0 {
		return "", nil
	}

	reply, err := w.chat.Chat(ctx, []core.ContextMessage{
		{Role: core.RoleSystem, Content: summarizerPrompt},
		{Role: core.RoleUser, Content: b.String()},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summary completion failed: %w", err)
	}
	return strings.TrimSpace(reply.Content), nil
}

func (w *Window) systemMessage(summary string) core.ContextMessage {
	var b strings.Builder
	b.WriteString(w.persona)
	if summary != "" {
		b.WriteString("\n\n# Conversation so far\n")
		b.WriteString(summary)
	}
	return core.ContextMessage{
		Role:      core.RoleSystem,
		Content:   b.String(),
		CreatedAt: w.now(),
	}
}

func countNonSystem(msgs []core.ContextMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role != core.RoleSystem {
			n++
		}
	}
	return n
}
