package core

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// EntityType tags the closed set of embeddable entities. Storage and vector
// queries treat this as a tagged union, never an open-ended plugin set.
type EntityType string

const (
	EntityMemory   EntityType = "Memory"
	EntityGoal     EntityType = "Goal"
	EntityReminder EntityType = "Reminder"
)

// Embeddable is any entity that can be rendered to a fact string and given a
// vector representation for similarity search.
type Embeddable interface {
	Fact() string
	EntityName() string
	IsActive() bool
	EntityID() int64
	EntityType() EntityType
	OwnerID() int64
}

// ContentHash is the stable hash of a fact string. It must match the hash
// stored next to an embedding whenever the embedding is non-null; staleness
// is detected purely by comparing hashes, never timestamps.
func ContentHash(fact string) string {
	sum := md5.Sum([]byte(fact))
	return hex.EncodeToString(sum[:])
}

type Memory struct {
	ID        int64
	UserID    int64
	Name      string
	Text      string
	Active    bool
	CreatedAt time.Time
}

func (m *Memory) Fact() string           { return fmt.Sprintf("%s\n%s", m.Name, m.Text) }
func (m *Memory) EntityName() string     { return m.Name }
func (m *Memory) IsActive() bool         { return m.Active }
func (m *Memory) EntityID() int64        { return m.ID }
func (m *Memory) EntityType() EntityType { return EntityMemory }
func (m *Memory) OwnerID() int64         { return m.UserID }

type Goal struct {
	ID          int64
	UserID      int64
	Name        string
	Description string
	TargetDate  *time.Time
	Active      bool
	CreatedAt   time.Time
}

func (g *Goal) Fact() string {
	if g.TargetDate != nil {
		return fmt.Sprintf("Goal: %s (target %s)\n%s", g.Name, g.TargetDate.Format(time.DateOnly), g.Description)
	}
	return fmt.Sprintf("Goal: %s\n%s", g.Name, g.Description)
}
func (g *Goal) EntityName() string     { return g.Name }
func (g *Goal) IsActive() bool         { return g.Active }
func (g *Goal) EntityID() int64        { return g.ID }
func (g *Goal) EntityType() EntityType { return EntityGoal }
func (g *Goal) OwnerID() int64         { return g.UserID }

type Reminder struct {
	ID        int64
	UserID    int64
	Name      string
	Text      string
	TriggerAt time.Time
	Active    bool
	CreatedAt time.Time
}

func (r *Reminder) Fact() string {
	return fmt.Sprintf("Reminder: %s (due %s)\n%s", r.Name, r.TriggerAt.Format(time.RFC3339), r.Text)
}
func (r *Reminder) EntityName() string     { return r.Name }
func (r *Reminder) IsActive() bool         { return r.Active }
func (r *Reminder) EntityID() int64        { return r.ID }
func (r *Reminder) EntityType() EntityType { return EntityReminder }
func (r *Reminder) OwnerID() int64         { return r.UserID }
