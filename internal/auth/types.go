package auth

import "time"

// User is an account that can authenticate and hold roles.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Role groups functions.
type Role struct {
	ID   int64
	Name string
}

// Category is the top level of the permission hierarchy.
type Category struct {
	ID   int64
	Name string
}

// Module belongs to exactly one category and routes to a front-end area.
type Module struct {
	ID         int64
	CategoryID int64
	Name       string
	Area       string
	Controller string
	Action     string
}

// Function is the atomic permission unit, identified by a globally unique code.
type Function struct {
	ID          int64
	ModuleID    int64
	Code        string
	DisplayName string
}

// UserRole gives a user a role.
type UserRole struct {
	UserID int64
	RoleID int64
}

// RoleFunction links roles to functions.
type RoleFunction struct {
	RoleID     int64
	FunctionID int64
}

// FunctionRow is one row of the role → function → module → category join.
type FunctionRow struct {
	CategoryID   int64
	CategoryName string
	ModuleID     int64
	ModuleName   string
	Area         string
	Controller   string
	Action       string
	FunctionID   int64
	Code         string
	DisplayName  string
}

// UserPermissions is the permission tree of a single user.
type UserPermissions struct {
	UserID     int64          `json:"userId"`
	Username   string         `json:"userName"`
	Categories PermissionTree `json:"categories"`
}
