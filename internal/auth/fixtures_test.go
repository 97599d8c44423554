package auth_test

import (
	"context"
	"sort"
	"sync"

	"qazna.org/permgate/internal/auth"
)

// memStore is an in-memory PermissionStore seeded with the catalog the
// front-end ships with: two categories, three modules, five functions.
type memStore struct {
	mu            sync.Mutex
	users         map[int64]auth.User
	roles         map[int64]auth.Role
	categories    map[int64]auth.Category
	modules       map[int64]auth.Module
	functions     map[int64]auth.Function
	userRoles     []auth.UserRole
	roleFunctions []auth.RoleFunction
	err           error
	rowCalls      int
}

const (
	aliceID int64 = 1
	bobID   int64 = 2
	daveID  int64 = 3
)

func seededStore(hash func(string) string) *memStore {
	s := &memStore{
		users: map[int64]auth.User{
			aliceID: {ID: aliceID, Username: "alice", PasswordHash: hash("alice")},
			bobID:   {ID: bobID, Username: "bob", PasswordHash: hash("bob")},
			daveID:  {ID: daveID, Username: "dave", PasswordHash: hash("dave")},
		},
		roles: map[int64]auth.Role{
			1: {ID: 1, Name: "Admin"},
			2: {ID: 2, Name: "Operator"},
		},
		categories: map[int64]auth.Category{
			1: {ID: 1, Name: "Administration"},
			2: {ID: 2, Name: "Operations"},
		},
		modules: map[int64]auth.Module{
			1: {ID: 1, CategoryID: 1, Name: "User Management", Area: "Admin", Controller: "Users", Action: "Index"},
			2: {ID: 2, CategoryID: 1, Name: "Role Management", Area: "Admin", Controller: "Roles", Action: "Index"},
			3: {ID: 3, CategoryID: 2, Name: "Payments", Area: "Ops", Controller: "Payments", Action: "Index"},
		},
		functions: map[int64]auth.Function{
			1: {ID: 1, ModuleID: 1, Code: "Users.View", DisplayName: "View Users"},
			2: {ID: 2, ModuleID: 1, Code: "Users.Edit", DisplayName: "Edit Users"},
			3: {ID: 3, ModuleID: 2, Code: "Roles.View", DisplayName: "View Roles"},
			4: {ID: 4, ModuleID: 2, Code: "Roles.Assign", DisplayName: "Assign Roles"},
			5: {ID: 5, ModuleID: 3, Code: "Payments.View", DisplayName: "View Payments"},
		},
		userRoles: []auth.UserRole{
			{UserID: aliceID, RoleID: 1},
			{UserID: bobID, RoleID: 2},
		},
		roleFunctions: []auth.RoleFunction{
			{RoleID: 1, FunctionID: 1}, {RoleID: 1, FunctionID: 2}, {RoleID: 1, FunctionID: 3},
			{RoleID: 1, FunctionID: 4}, {RoleID: 1, FunctionID: 5},
			{RoleID: 2, FunctionID: 1}, {RoleID: 2, FunctionID: 5},
		},
	}
	return s
}

func (s *memStore) assign(userID, roleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles = append(s.userRoles, auth.UserRole{UserID: userID, RoleID: roleID})
}

func (s *memStore) grant(roleID, functionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleFunctions = append(s.roleFunctions, auth.RoleFunction{RoleID: roleID, FunctionID: functionID})
}

func (s *memStore) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return auth.User{}, s.err
	}
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *memStore) GetUserByID(ctx context.Context, userID int64) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return auth.User{}, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *memStore) GetRoleIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, ur := range s.userRoles {
		if ur.UserID == userID {
			ids = append(ids, ur.RoleID)
		}
	}
	return ids, nil
}

func (s *memStore) GetRoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, ur := range s.userRoles {
		if ur.UserID == userID {
			names = append(names, s.roles[ur.RoleID].Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetFunctionRowsForRoles walks the join path role → function → module →
// category and emits one row per (role, function) pair, duplicates included.
func (s *memStore) GetFunctionRowsForRoles(ctx context.Context, roleIDs []int64) ([]auth.FunctionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[int64]bool, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = true
	}
	var rows []auth.FunctionRow
	for _, rf := range s.roleFunctions {
		if !wanted[rf.RoleID] {
			continue
		}
		fn, ok := s.functions[rf.FunctionID]
		if !ok {
			continue
		}
		mod, ok := s.modules[fn.ModuleID]
		if !ok {
			continue
		}
		cat, ok := s.categories[mod.CategoryID]
		if !ok {
			continue
		}
		rows = append(rows, auth.FunctionRow{
			CategoryID: cat.ID, CategoryName: cat.Name,
			ModuleID: mod.ID, ModuleName: mod.Name, Area: mod.Area, Controller: mod.Controller, Action: mod.Action,
			FunctionID: fn.ID, Code: fn.Code, DisplayName: fn.DisplayName,
		})
	}
	return rows, nil
}

// reachable returns every function code reachable from userID's roles.
func (s *memStore) reachable(userID int64) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, ur := range s.userRoles {
		if ur.UserID != userID {
			continue
		}
		for _, rf := range s.roleFunctions {
			if rf.RoleID == ur.RoleID {
				out[s.functions[rf.FunctionID].Code] = true
			}
		}
	}
	return out
}
