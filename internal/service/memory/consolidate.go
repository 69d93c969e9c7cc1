package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

type consolidationResult struct {
	Reasoning string `json:"reasoning"`
	Memories  []struct {
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"memories"`
}

// ConsolidatePass examines up to the configured number of redundant memory
// pairs and consolidates each. Pair order is randomized by the vector store,
// so repeated passes eventually visit every redundant cluster.
func (r *Repository) ConsolidatePass(ctx context.Context, userID int64) error {
	pairs, err := r.vectors.FindRedundantPairs(ctx, core.EntityMemory, userID,
		r.cfg.ConsolidationDistanceThreshold, r.cfg.ConsolidationPairLimit)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		if err := r.Consolidate(ctx, userID, pair); err != nil {
			// One bad pair must not abort the pass.
			log.FromCtx(ctx).Warn().Err(err).
				Int64("a", pair.A.ID).Int64("b", pair.B.ID).
				Msg("failed to consolidate pair")
		}
	}
	return nil
}

// Consolidate merges one redundant pair. Identical fact text needs no model
// call: the younger entity is simply deactivated. Otherwise the model
// rewrites the pair into one or more replacement memories and both originals
// are deactivated.
func (r *Repository) Consolidate(ctx context.Context, userID int64, pair core.EntityPair) error {
	a, err := r.entities.Get(ctx, userID, pair.A.Type, pair.A.ID)
	if err == core.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	b, err := r.entities.Get(ctx, userID, pair.B.Type, pair.B.ID)
	if err == core.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	// Pairs may have been computed before a concurrent deactivation landed.
	if !a.IsActive() || !b.IsActive() {
		return nil
	}

	if a.Fact() == b.Fact() {
		return r.Deactivate(ctx, userID, pair.B.Type, pair.B.ID)
	}

	reply, err := r.chat.Chat(ctx, []core.ContextMessage{
		{Role: core.RoleSystem, Content: consolidatePrompt},
		{Role: core.RoleUser, Content: fmt.Sprintf("Memory 1:\n%s\n\nMemory 2:\n%s", a.Fact(), b.Fact())},
	}, nil)
	if err != nil {
		return fmt.Errorf("consolidation completion failed: %w", err)
	}

	var result consolidationResult
	if err := json.Unmarshal([]byte(stripCodeFence(reply.Content)), &result); err != nil {
		return fmt.Errorf("failed to parse consolidation result: %w", err)
	}
	// Deactivating the originals is only safe once at least one replacement
	// actually landed; a reply full of blank entries must leave both intact.
	created := 0
	for _, m := range result.Memories {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Text) == "" {
			continue
		}
		if _, err := r.CreateMemory(ctx, userID, m.Name, m.Text); err != nil {
			return err
		}
		created++
	}
	if created == 0 {
		return fmt.Errorf("consolidation produced no usable replacement memories")
	}

	if err := r.Deactivate(ctx, userID, pair.A.Type, pair.A.ID); err != nil {
		return err
	}
	if err := r.Deactivate(ctx, userID, pair.B.Type, pair.B.ID); err != nil {
		return err
	}

	log.FromCtx(ctx).Info().
		Int64("user_id", userID).
		Int64("a", pair.A.ID).Int64("b", pair.B.ID).
		Int("replacements", created).
		Msg("memories consolidated")
	return nil
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
