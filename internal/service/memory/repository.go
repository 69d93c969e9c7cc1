package memory

import (
	"context"
	"strings"
	"time"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
	"github.com/mnemo-agent/mnemo/pkg/retry"
)

// Repository is the write path for embeddable entities. Every create embeds
// synchronously: an entity without an embedding is invisible to recall, so
// the insert is not considered done until the vector is stored.
type Repository struct {
	cfg      *config.MemoryConfig
	entities core.EntityStore
	vectors  core.VectorStore
	messages core.MessageStore
	embedder core.Embedder
	chat     core.ChatProvider
	cache    *EmbedCache
	retrier  *retry.Retrier
}

func NewRepository(cfg *config.MemoryConfig, entities core.EntityStore, vectors core.VectorStore, messages core.MessageStore, embedder core.Embedder, chat core.ChatProvider, cache *EmbedCache) *Repository {
	return &Repository{
		cfg:      cfg,
		entities: entities,
		vectors:  vectors,
		messages: messages,
		embedder: embedder,
		chat:     chat,
		cache:    cache,
		retrier:  retry.NewDefaultRetrier(),
	}
}

func (r *Repository) CreateMemory(ctx context.Context, userID int64, name, text string) (int64, error) {
	m := &core.Memory{UserID: userID, Name: name, Text: text, Active: true}
	if err := r.entities.InsertMemory(ctx, m); err != nil {
		return 0, err
	}
	if err := r.upsertEmbedding(ctx, m); err != nil {
		return 0, err
	}
	log.FromCtx(ctx).Debug().Int64("user_id", userID).Str("name", name).Msg("memory created")
	return m.ID, nil
}

func (r *Repository) CreateGoal(ctx context.Context, userID int64, name, description string, targetDate *time.Time) (int64, error) {
	g := &core.Goal{UserID: userID, Name: name, Description: description, TargetDate: targetDate, Active: true}
	if err := r.entities.InsertGoal(ctx, g); err != nil {
		return 0, err
	}
	if err := r.upsertEmbedding(ctx, g); err != nil {
		return 0, err
	}
	return g.ID, nil
}

func (r *Repository) CreateReminder(ctx context.Context, userID int64, name, text string, triggerAt time.Time) (int64, error) {
	rem := &core.Reminder{UserID: userID, Name: name, Text: text, TriggerAt: triggerAt, Active: true}
	if err := r.entities.InsertReminder(ctx, rem); err != nil {
		return 0, err
	}
	if err := r.upsertEmbedding(ctx, rem); err != nil {
		return 0, err
	}
	return rem.ID, nil
}

func (r *Repository) Get(ctx context.Context, userID int64, t core.EntityType, id int64) (core.Embeddable, error) {
	return r.entities.Get(ctx, userID, t, id)
}

func (r *Repository) GetActive(ctx context.Context, userID int64, t core.EntityType) ([]core.Embeddable, error) {
	return r.entities.GetActive(ctx, userID, t)
}

// Deactivate soft-deletes an entity and fans the deactivation out to the
// vector store and the active window so a dead entity cannot be recalled or
// keep occupying context.
func (r *Repository) Deactivate(ctx context.Context, userID int64, t core.EntityType, id int64) error {
	if err := r.entities.Deactivate(ctx, userID, t, id); err != nil {
		return err
	}
	if err := r.vectors.SetActive(ctx, t, id, false); err != nil {
		return err
	}
	return r.messages.RemoveMetadataRefs(ctx, userID, t, id)
}

// upsertEmbedding computes and stores the vector for an entity. When the
// stored content hash already matches the current fact text the stale check
// short-circuits without calling the provider.
func (r *Repository) upsertEmbedding(ctx context.Context, e core.Embeddable) error {
	fact := e.Fact()
	hash := core.ContentHash(fact)

	_, storedHash, found, err := r.vectors.Get(ctx, e.EntityType(), e.EntityID())
	if err != nil {
		return err
	}
	if found && storedHash == hash {
		return nil
	}

	vec, err := r.embed(ctx, fact, hash)
	if err != nil {
		return err
	}
	return r.vectors.Upsert(ctx, e.EntityType(), e.EntityID(), e.OwnerID(), vec, hash)
}

func (r *Repository) embed(ctx context.Context, text, hash string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyEmbedText
	}
	if r.cache != nil {
		if vec, ok := r.cache.Get(hash); ok {
			return vec, nil
		}
	}

	var vec []float32
	err := r.retrier.Do(ctx, func() error {
		var embedErr error
		vec, embedErr = r.embedder.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(hash, vec)
	}
	return vec, nil
}
