// Package access resolves a user's role on a project at connect time.
// The decision is an explicit SQL contract (owner column + share rows),
// queried once per connection, off the per-message hot path.
package access

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

// Guard wraps the project repository and collapses concurrent role
// lookups for the same (user, project) pair into one query, so a burst
// of tabs reconnecting does not stampede Postgres.
type Guard struct {
	repo  domain.ProjectRepository
	group singleflight.Group
}

func NewGuard(repo domain.ProjectRepository) *Guard {
	return &Guard{repo: repo}
}

func (g *Guard) ResolveRole(ctx context.Context, userID, projectID int64) (domain.Role, error) {
	key := fmt.Sprintf("%d:%d", userID, projectID)
	v, err, _ := g.group.Do(key, func() (any, error) {
		return g.repo.ResolveRole(ctx, userID, projectID)
	})
	if err != nil {
		return domain.RoleNone, err
	}
	return v.(domain.Role), nil
}
