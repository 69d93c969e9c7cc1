package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mnemo-agent/mnemo/internal/core"
)

// EntitiesRepo implements core.EntityStore over the memories, goals and
// reminders tables. Deactivation never deletes rows.
type EntitiesRepo struct {
	db *sql.DB
}

var _ core.EntityStore = (*EntitiesRepo)(nil)

func NewEntitiesRepo(db *sql.DB) *EntitiesRepo {
	return &EntitiesRepo{db: db}
}

func (r *EntitiesRepo) InsertMemory(ctx context.Context, m *core.Memory) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO memories (user_id, name, text, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.UserID, m.Name, m.Text, m.Active, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (r *EntitiesRepo) InsertGoal(ctx context.Context, g *core.Goal) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO goals (user_id, name, description, target_date, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		g.UserID, g.Name, g.Description, g.TargetDate, g.Active, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	g.ID, err = res.LastInsertId()
	return err
}

func (r *EntitiesRepo) InsertReminder(ctx context.Context, rem *core.Reminder) error {
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO reminders (user_id, name, text, trigger_at, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rem.UserID, rem.Name, rem.Text, rem.TriggerAt, rem.Active, rem.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	rem.ID, err = res.LastInsertId()
	return err
}

func (r *EntitiesRepo) Get(ctx context.Context, userID int64, t core.EntityType, id int64) (core.Embeddable, error) {
	switch t {
	case core.EntityMemory:
		m := &core.Memory{}
		err := r.db.QueryRowContext(ctx,
			`SELECT id, user_id, name, text, active, created_at FROM memories WHERE id = ? AND user_id = ?`,
			id, userID).Scan(&m.ID, &m.UserID, &m.Name, &m.Text, &m.Active, &m.CreatedAt)
		return wrapGet(m, err)
	case core.EntityGoal:
		g := &core.Goal{}
		err := r.db.QueryRowContext(ctx,
			`SELECT id, user_id, name, description, target_date, active, created_at FROM goals WHERE id = ? AND user_id = ?`,
			id, userID).Scan(&g.ID, &g.UserID, &g.Name, &g.Description, &g.TargetDate, &g.Active, &g.CreatedAt)
		return wrapGet(g, err)
	case core.EntityReminder:
		rem := &core.Reminder{}
		err := r.db.QueryRowContext(ctx,
			`SELECT id, user_id, name, text, trigger_at, active, created_at FROM reminders WHERE id = ? AND user_id = ?`,
			id, userID).Scan(&rem.ID, &rem.UserID, &rem.Name, &rem.Text, &rem.TriggerAt, &rem.Active, &rem.CreatedAt)
		return wrapGet(rem, err)
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}

func wrapGet(e core.Embeddable, err error) (core.Embeddable, error) {
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (r *EntitiesRepo) GetActive(ctx context.Context, userID int64, t core.EntityType) ([]core.Embeddable, error) {
	switch t {
	case core.EntityMemory:
		rows, err := r.db.QueryContext(ctx,
			`SELECT id, user_id, name, text, active, created_at FROM memories WHERE user_id = ? AND active = 1 ORDER BY id`,
			userID)
		if err != nil {
			return nil, fmt.Errorf("failed to query memories: %w", err)
		}
		defer rows.Close()
		var out []core.Embeddable
		for rows.Next() {
			m := &core.Memory{}
			if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &m.Text, &m.Active, &m.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, rows.Err()
	case core.EntityGoal:
		rows, err := r.db.QueryContext(ctx,
			`SELECT id, user_id, name, description, target_date, active, created_at FROM goals WHERE user_id = ? AND active = 1 ORDER BY id`,
			userID)
		if err != nil {
			return nil, fmt.Errorf("failed to query goals: %w", err)
		}
		defer rows.Close()
		var out []core.Embeddable
		for rows.Next() {
			g := &core.Goal{}
			if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &g.Description, &g.TargetDate, &g.Active, &g.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, rows.Err()
	case core.EntityReminder:
		rows, err := r.db.QueryContext(ctx,
			`SELECT id, user_id, name, text, trigger_at, active, created_at FROM reminders WHERE user_id = ? AND active = 1 ORDER BY id`,
			userID)
		if err != nil {
			return nil, fmt.Errorf("failed to query reminders: %w", err)
		}
		defer rows.Close()
		var out []core.Embeddable
		for rows.Next() {
			rem := &core.Reminder{}
			if err := rows.Scan(&rem.ID, &rem.UserID, &rem.Name, &rem.Text, &rem.TriggerAt, &rem.Active, &rem.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, rem)
		}
		return out, rows.Err()
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}

func (r *EntitiesRepo) Deactivate(ctx context.Context, userID int64, t core.EntityType, id int64) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET active = 0 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", t, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish "already inactive" from "does not exist".
		var exists int
		err := r.db.QueryRowContext(ctx,
			`SELECT 1 FROM `+table+` WHERE id = ? AND user_id = ?`, id, userID).Scan(&exists)
		if err == sql.ErrNoRows {
			return core.ErrNotFound
		}
		return err
	}
	return nil
}

func tableFor(t core.EntityType) (string, error) {
	switch t {
	case core.EntityMemory:
		return "memories", nil
	case core.EntityGoal:
		return "goals", nil
	case core.EntityReminder:
		return "reminders", nil
	default:
		return "", fmt.Errorf("unknown entity type %q", t)
	}
}
