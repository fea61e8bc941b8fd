package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

// ProjectRepo implements domain.ProjectRepository backed by PostgreSQL.
// Ownership and share relations are explicit columns; there is no
// model introspection anywhere in the access path.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) ResolveRole(ctx context.Context, userID, projectID int64) (domain.Role, error) {
	var ownerID int64
	err := r.pool.QueryRow(ctx,
		`SELECT owner_id FROM projects WHERE id = $1`, projectID,
	).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoleNone, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.RoleNone, fmt.Errorf("failed to query project owner: %w", err)
	}
	if ownerID == userID {
		return domain.RoleOwner, nil
	}

	var canEdit bool
	err = r.pool.QueryRow(ctx,
		`SELECT can_edit FROM project_shares WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&canEdit)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, fmt.Errorf("failed to query project share: %w", err)
	}

	if canEdit {
		return domain.RoleEditor, nil
	}
	return domain.RoleViewer, nil
}

func (r *ProjectRepo) FindByShareToken(ctx context.Context, token string) (int64, bool, error) {
	var projectID int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM projects WHERE share_token = $1`, token,
	).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query share token: %w", err)
	}
	return projectID, true, nil
}

func (r *ProjectRepo) DisplayName(ctx context.Context, userID int64) (string, error) {
	var username string
	err := r.pool.QueryRow(ctx,
		`SELECT username FROM users WHERE id = $1`, userID,
	).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Sprintf("user:%d", userID), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query username: %w", err)
	}
	return username, nil
}
