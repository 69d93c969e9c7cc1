package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

type formulatedMemory struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// FormulateFromContext distills the recent conversation into one new memory,
// then runs a consolidation pass so the new memory is folded into any
// near-duplicates it created. Runs in the background per-user queue.
func (r *Repository) FormulateFromContext(ctx context.Context, userID int64) error {
	_, msgs, err := r.messages.ActiveSet(ctx, userID)
	if err != nil {
		return err
	}

	var transcript strings.Builder
	for _, m := range msgs {
		if m.Role == core.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	if transcript.Len() == 0 {
		return nil
	}

	reply, err := r.chat.Chat(ctx, []core.ContextMessage{
		{Role: core.RoleSystem, Content: formulatePrompt},
		{Role: core.RoleUser, Content: transcript.String()},
	}, nil)
	if err != nil {
		return fmt.Errorf("memory formulation failed: %w", err)
	}

	raw := stripCodeFence(reply.Content)
	if strings.EqualFold(strings.TrimSpace(raw), "NONE") {
		return nil
	}

	var m formulatedMemory
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("failed to parse formulated memory: %w", err)
	}
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Text) == "" {
		return nil
	}

	if _, err := r.CreateMemory(ctx, userID, m.Name, m.Text); err != nil {
		return err
	}
	log.FromCtx(ctx).Debug().Int64("user_id", userID).Str("name", m.Name).Msg("memory formulated from context")

	return r.ConsolidatePass(ctx, userID)
}
