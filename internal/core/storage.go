package core

import "context"

// MessageStore owns context messages and the per-user active message set.
// Message rows are append-only; sets supersede each other. Implementations
// must keep exactly one active set per user.
type MessageStore interface {
	// ActiveSet returns the active set and its materialized messages in
	// order, creating an empty set on first touch.
	ActiveSet(ctx context.Context, userID int64) (*ContextMessageSet, []ContextMessage, error)

	// AppendMessages persists new message rows and appends their ids to the
	// active set. Returns the assigned ids.
	AppendMessages(ctx context.Context, userID int64, msgs []ContextMessage) ([]int64, error)

	// ReplaceActiveSet atomically creates a new active set referencing the
	// given messages and deactivates the prior set. Messages with a zero ID
	// are inserted as new rows; messages with a non-zero ID are referenced
	// as-is (rows are immutable and shareable across historical sets).
	ReplaceActiveSet(ctx context.Context, userID int64, msgs []ContextMessage) error

	// RemoveMetadataRefs drops every reference to the given entity from the
	// active set's messages (fan-out eviction on deactivation). A message
	// that retains content or other references survives with the one
	// reference stripped; a message whose only content was the reference is
	// removed from the set.
	RemoveMetadataRefs(ctx context.Context, userID int64, t EntityType, id int64) error
}

// EntityStore provides CRUD over the embeddable entities. Deletion is always
// a soft deactivation; historical message sets may still reference rows.
type EntityStore interface {
	InsertMemory(ctx context.Context, m *Memory) error
	InsertGoal(ctx context.Context, g *Goal) error
	InsertReminder(ctx context.Context, r *Reminder) error

	// Get returns the entity or ErrNotFound.
	Get(ctx context.Context, userID int64, t EntityType, id int64) (Embeddable, error)

	// GetActive returns active entities of one type, oldest first.
	GetActive(ctx context.Context, userID int64, t EntityType) ([]Embeddable, error)

	// Deactivate sets active=false. Idempotent; unknown ids are an error.
	Deactivate(ctx context.Context, userID int64, t EntityType, id int64) error
}

// TrackerStore persists the per-user count of non-system messages appended
// since the last memory formation. Read-modify-write cycles are serialized
// by the caller's per-user queue, not by the store.
type TrackerStore interface {
	MessagesSinceMemory(ctx context.Context, userID int64) (int, error)
	SetMessagesSinceMemory(ctx context.Context, userID int64, count int) error
}
