package repo

import (
	"context"
	"database/sql"
	"errors"

	"permitline/internal/domain"
)

// UpsertActor registers an actor or updates its role and display name.
func (r Repo) UpsertActor(ctx context.Context, tx *sql.Tx, a domain.ActorRecord) error {
	if a.ID == "" {
		return errors.New("actor id required")
	}
	if !a.Role.Valid() {
		return errors.New("valid role required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO actors(id, role, display_name, created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, display_name=excluded.display_name`,
		a.ID, a.Role, a.DisplayName, a.CreatedAt)
	return err
}

// GetActor returns a registered actor.
func (r Repo) GetActor(ctx context.Context, id string) (domain.ActorRecord, error) {
	var a domain.ActorRecord
	err := r.x().GetContext(ctx, &a, `SELECT id, role, display_name, created_at FROM actors WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ActorRecord{}, ErrNotFound
	}
	return a, err
}

// ListActors returns registered actors, optionally limited to one role.
func (r Repo) ListActors(ctx context.Context, role domain.Role) ([]domain.ActorRecord, error) {
	query := `SELECT id, role, display_name, created_at FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY id`
	var res []domain.ActorRecord
	if err := r.x().SelectContext(ctx, &res, query, args...); err != nil {
		return nil, err
	}
	return res, nil
}
