package auth

import "context"

// PermissionStore is the read-only view the resolver and the authentication
// service need over users, roles and the category/module/function catalog.
type PermissionStore interface {
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, userID int64) (User, error)
	GetRoleIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	GetRoleNamesForUser(ctx context.Context, userID int64) ([]string, error)
	// GetFunctionRowsForRoles returns every function reachable from roleIDs
	// through role_functions. Implementations must resolve this with a single
	// set-oriented join; rows may repeat when several roles grant the same function.
	GetFunctionRowsForRoles(ctx context.Context, roleIDs []int64) ([]FunctionRow, error)
}
