package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// recallMessageWindow is how many trailing non-system messages form the
// recall query.
const recallMessageWindow = 4

// recallTypes is searched in fixed order; at most one entity per type is
// surfaced per recall.
var recallTypes = []core.EntityType{core.EntityGoal, core.EntityMemory, core.EntityReminder}

// Recall searches stored entities against the tail of the conversation and
// returns a context message carrying the best match per entity type, or nil
// when nothing relevant is found. Entities already referenced by the window
// are skipped. In reflective mode the injected text is a model-written
// reflection on how the recalled material bears on the conversation; in fast
// mode the facts are injected verbatim.
func (r *Repository) Recall(ctx context.Context, userID int64, msgs []core.ContextMessage) (*core.ContextMessage, error) {
	query := recallQuery(msgs)
	if query == "" {
		return nil, nil
	}

	vec, err := r.embed(ctx, query, core.ContentHash(query))
	if err != nil {
		return nil, err
	}

	inWindow := referencedRefs(msgs)

	var recalled []core.Embeddable
	for _, t := range recallTypes {
		ids, err := r.vectors.Query(ctx, t, userID, vec, r.cfg.RelevanceDistanceThreshold, recallMessageWindow)
		if err != nil {
			// Recall enriches a turn, it must not fail one; a flaky backend
			// just means this type surfaces nothing.
			log.FromCtx(ctx).Warn().Err(err).Str("entity_type", string(t)).Msg("recall query failed, skipping type")
			continue
		}
		for _, id := range ids {
			if inWindow[core.EntityRef{Type: t, ID: id}] {
				continue
			}
			e, err := r.entities.Get(ctx, userID, t, id)
			if err == core.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			recalled = append(recalled, e)
			break // best match per type only
		}
	}
	if len(recalled) == 0 {
		return nil, nil
	}

	content, err := r.recallContent(ctx, query, recalled)
	if err != nil {
		return nil, err
	}

	metadata := make([]core.MemoryMetadata, len(recalled))
	for i, e := range recalled {
		metadata[i] = core.MemoryMetadata{
			EntityType: e.EntityType(),
			EntityID:   e.EntityID(),
			Name:       e.EntityName(),
		}
	}

	log.FromCtx(ctx).Debug().Int64("user_id", userID).Int("recalled", len(recalled)).Msg("recall surfaced entities")
	return &core.ContextMessage{
		Role:           core.RoleSystem,
		Content:        content,
		MemoryMetadata: metadata,
	}, nil
}

func (r *Repository) recallContent(ctx context.Context, query string, recalled []core.Embeddable) (string, error) {
	var facts strings.Builder
	for _, e := range recalled {
		fmt.Fprintf(&facts, "- %s\n", e.Fact())
	}

	if !r.cfg.ReflectiveRecall {
		return "Relevant context recalled from memory:\n" + facts.String(), nil
	}

	reply, err := r.chat.Chat(ctx, []core.ContextMessage{
		{Role: core.RoleSystem, Content: reflectPrompt},
		{Role: core.RoleUser, Content: fmt.Sprintf("Conversation excerpt:\n%s\n\nRecalled material:\n%s", query, facts.String())},
	}, nil)
	if err != nil {
		// Reflection is an enhancement; fall back to the fast form.
		log.FromCtx(ctx).Warn().Err(err).Msg("reflective recall failed, using fast recall")
		return "Relevant context recalled from memory:\n" + facts.String(), nil
	}
	return "Reflection on recalled memory:\n" + strings.TrimSpace(reply.Content), nil
}

// Search runs an ad-hoc similarity search over one entity type. Backs the
// search tools exposed to the model and to MCP clients.
func (r *Repository) Search(ctx context.Context, userID int64, t core.EntityType, query string, limit int) ([]core.Embeddable, error) {
	vec, err := r.embed(ctx, query, core.ContentHash(query))
	if err != nil {
		return nil, err
	}
	ids, err := r.vectors.Query(ctx, t, userID, vec, r.cfg.RelevanceDistanceThreshold, limit)
	if err != nil {
		return nil, err
	}
	var out []core.Embeddable
	for _, id := range ids {
		e, err := r.entities.Get(ctx, userID, t, id)
		if err == core.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func recallQuery(msgs []core.ContextMessage) string {
	var tail []string
	for i := len(msgs) - 1; i >= 0 && len(tail) < recallMessageWindow; i-- {
		m := msgs[i]
		if m.Role == core.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		tail = append(tail, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	// Restore chronological order.
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return strings.Join(tail, "\n")
}

func referencedRefs(msgs []core.ContextMessage) map[core.EntityRef]bool {
	refs := make(map[core.EntityRef]bool)
	for _, m := range msgs {
		for _, md := range m.MemoryMetadata {
			refs[core.EntityRef{Type: md.EntityType, ID: md.EntityID}] = true
		}
	}
	return refs
}
