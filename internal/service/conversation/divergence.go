package conversation

import (
	"context"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// Tracker reconciles an externally-held transcript (an API client replaying
// its own message list) with the stored active window. The client is
// authoritative: the stored prefix that still matches is kept, and
// everything past the first divergence is replaced by the client's suffix.
type Tracker struct {
	messages core.MessageStore
}

func NewTracker(messages core.MessageStore) *Tracker {
	return &Tracker{messages: messages}
}

// Reconcile compares positionally on (role, content). Matching stored rows
// keep their ids so history is not rewritten; diverging client messages are
// inserted as fresh rows. A no-op when the transcripts already agree.
func (t *Tracker) Reconcile(ctx context.Context, userID int64, client []core.ContextMessage) error {
	_, stored, err := t.messages.ActiveSet(ctx, userID)
	if err != nil {
		return err
	}

	prefix := 0
	for prefix < len(stored) && prefix < len(client) {
		if stored[prefix].Role != client[prefix].Role || stored[prefix].Content != client[prefix].Content {
			break
		}
		prefix++
	}
	if prefix == len(stored) && prefix == len(client) {
		return nil
	}

	final := make([]core.ContextMessage, 0, len(client))
	final = append(final, stored[:prefix]...)
	for _, m := range client[prefix:] {
		m.ID = 0 // force insertion as a new row
		final = append(final, m)
	}

	log.FromCtx(ctx).Debug().
		Int64("user_id", userID).
		Int("prefix", prefix).
		Int("stored", len(stored)).
		Int("client", len(client)).
		Msg("conversation diverged, adopting client transcript")
	return t.messages.ReplaceActiveSet(ctx, userID, final)
}
