package port

import "context"

// Authorizer is the boundary to the external auth collaborator. The core
// never reads user records directly.
type Authorizer interface {
	IsAdmin(ctx context.Context, actorID string) (bool, error)
	TenantOf(ctx context.Context, actorID string) (string, error)
}
