package domain

import "context"

// ProjectRepository is the persistence collaborator consulted at
// connect time. Ownership and share rows are explicit columns, never
// guessed from model introspection.
type ProjectRepository interface {
	// ResolveRole returns the user's role on the project: RoleOwner for
	// the owner, RoleEditor/RoleViewer from the share table, RoleNone
	// otherwise.
	ResolveRole(ctx context.Context, userID, projectID int64) (Role, error)

	// FindByShareToken resolves a public share token to a project id.
	FindByShareToken(ctx context.Context, token string) (int64, bool, error)

	// DisplayName returns the username for presence records.
	DisplayName(ctx context.Context, userID int64) (string, error)
}

// AccessResolver is the connect-time authorization decision consumed by
// the connection handler.
type AccessResolver interface {
	ResolveRole(ctx context.Context, userID, projectID int64) (Role, error)
}
