package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// MessagesRepo implements core.MessageStore. Message rows are append-only;
// window replacement creates a new set row and deactivates the prior one in
// the same transaction.
type MessagesRepo struct {
	db *sql.DB
}

var _ core.MessageStore = (*MessagesRepo)(nil)

func NewMessagesRepo(db *sql.DB) *MessagesRepo {
	return &MessagesRepo{db: db}
}

func (r *MessagesRepo) ActiveSet(ctx context.Context, userID int64) (*core.ContextMessageSet, []core.ContextMessage, error) {
	set, err := r.getActiveSet(ctx, r.db, userID)
	if err == sql.ErrNoRows {
		set, err = r.createEmptySet(ctx, userID)
	}
	if err != nil {
		return nil, nil, err
	}

	msgs, err := r.getMessagesByIDs(ctx, set.MessageIDs)
	if err != nil {
		return nil, nil, err
	}
	return set, msgs, nil
}

func (r *MessagesRepo) AppendMessages(ctx context.Context, userID int64, msgs []core.ContextMessage) ([]int64, error) {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	set, err := r.getActiveSet(ctx, tx, userID)
	if err == sql.ErrNoRows {
		if set, err = r.createEmptySetTx(ctx, tx, userID); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		id, err := r.insertMessage(ctx, tx, userID, m)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	set.MessageIDs = append(set.MessageIDs, ids...)
	if err := r.updateSetMessageIDs(ctx, tx, set); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.FromCtx(ctx).Debug().Int64("user_id", userID).Int("count", len(ids)).Msg("appended context messages")
	return ids, nil
}

func (r *MessagesRepo) ReplaceActiveSet(ctx context.Context, userID int64, msgs []core.ContextMessage) error {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != 0 {
			ids = append(ids, m.ID)
			continue
		}
		id, err := r.insertMessage(ctx, tx, userID, m)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	// Deactivate first: the partial unique index allows only one active set
	// per user at any instant.
	if _, err := tx.ExecContext(ctx,
		`UPDATE context_message_sets SET active = 0 WHERE user_id = ? AND active = 1`, userID); err != nil {
		return fmt.Errorf("failed to deactivate prior set: %w", err)
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO context_message_sets (user_id, message_ids, active) VALUES (?, ?, 1)`,
		userID, string(idsJSON)); err != nil {
		return fmt.Errorf("failed to insert message set: %w", err)
	}

	return tx.Commit()
}

// RemoveMetadataRefs drops references to one entity from the active window.
// Message rows are immutable, so a message that keeps other content is
// superseded by a copy without the reference; a message that carried nothing
// but the reference is removed from the set.
func (r *MessagesRepo) RemoveMetadataRefs(ctx context.Context, userID int64, t core.EntityType, id int64) error {
	_, msgs, err := r.ActiveSet(ctx, userID)
	if err != nil {
		return err
	}

	pruned, changed := pruneEntityRefs(msgs, t, id)
	if !changed {
		return nil
	}
	return r.ReplaceActiveSet(ctx, userID, pruned)
}

// pruneEntityRefs rebuilds the window without references to the given
// entity. Messages that retain content, tool calls, or other references come
// back with a zero ID so superseding rows get inserted for them; unchanged
// messages keep their ids.
func pruneEntityRefs(msgs []core.ContextMessage, t core.EntityType, id int64) ([]core.ContextMessage, bool) {
	out := make([]core.ContextMessage, 0, len(msgs))
	changed := false
	for _, m := range msgs {
		refs := make([]core.MemoryMetadata, 0, len(m.MemoryMetadata))
		for _, md := range m.MemoryMetadata {
			if md.EntityType == t && md.EntityID == id {
				continue
			}
			refs = append(refs, md)
		}
		if len(refs) == len(m.MemoryMetadata) {
			out = append(out, m)
			continue
		}
		changed = true
		if m.Content == "" && len(refs) == 0 && len(m.ToolCalls) == 0 {
			continue
		}
		m.ID = 0
		m.MemoryMetadata = refs
		if len(refs) == 0 {
			m.MemoryMetadata = nil
		}
		out = append(out, m)
	}
	return out, changed
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *MessagesRepo) insertMessage(ctx context.Context, tx execer, userID int64, m core.ContextMessage) (int64, error) {
	toolCalls, err := marshalOrEmpty(m.ToolCalls)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	metadata, err := marshalOrEmpty(m.MemoryMetadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal memory metadata: %w", err)
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO context_messages (user_id, role, content, tool_calls, tool_call_id, memory_metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, m.Role, m.Content, toolCalls, m.ToolCallID, metadata, createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

func marshalOrEmpty(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(data)
	if s == "null" {
		s = ""
	}
	return s, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *MessagesRepo) getActiveSet(ctx context.Context, q querier, userID int64) (*core.ContextMessageSet, error) {
	var set core.ContextMessageSet
	var idsJSON string
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, message_ids, created_at FROM context_message_sets WHERE user_id = ? AND active = 1`,
		userID).Scan(&set.ID, &set.UserID, &idsJSON, &set.CreatedAt)
	if err != nil {
		return nil, err
	}
	set.Active = true
	if err := json.Unmarshal([]byte(idsJSON), &set.MessageIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message ids: %w", err)
	}
	return &set, nil
}

func (r *MessagesRepo) createEmptySet(ctx context.Context, userID int64) (*core.ContextMessageSet, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	set, err := r.createEmptySetTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return set, tx.Commit()
}

func (r *MessagesRepo) createEmptySetTx(ctx context.Context, tx execer, userID int64) (*core.ContextMessageSet, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO context_message_sets (user_id, message_ids, active) VALUES (?, '[]', 1)`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create message set: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.ContextMessageSet{ID: id, UserID: userID, Active: true, CreatedAt: time.Now().UTC()}, nil
}

func (r *MessagesRepo) updateSetMessageIDs(ctx context.Context, tx execer, set *core.ContextMessageSet) error {
	idsJSON, err := json.Marshal(set.MessageIDs)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE context_message_sets SET message_ids = ? WHERE id = ?`, string(idsJSON), set.ID); err != nil {
		return fmt.Errorf("failed to update message set: %w", err)
	}
	return nil
}

func (r *MessagesRepo) getMessagesByIDs(ctx context.Context, ids []int64) ([]core.ContextMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, tool_calls, tool_call_id, memory_metadata, created_at
		 FROM context_messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]core.ContextMessage, len(ids))
	for rows.Next() {
		var m core.ContextMessage
		var toolCalls, metadata string
		if err := rows.Scan(&m.ID, new(int64), &m.Role, &m.Content, &toolCalls, &m.ToolCallID, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &m.MemoryMetadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal memory metadata: %w", err)
			}
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve set ordering, not row ordering.
	msgs := make([]core.ContextMessage, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}
