package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"qazna.org/permgate/internal/obs"
)

// Resolver computes the authorized Category → Module → Function tree of a user.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	store PermissionStore
}

// NewResolver constructs a Resolver over store.
func NewResolver(store PermissionStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("permission store is required")
	}
	return &Resolver{store: store}, nil
}

// ResolvePermissions returns the permission tree of userID. A user without
// roles gets an empty tree; an unknown user yields ErrNotFound.
func (r *Resolver) ResolvePermissions(ctx context.Context, userID int64) (PermissionTree, error) {
	start := time.Now()
	tree, err := r.resolve(ctx, userID)
	obs.ObserveResolve(time.Since(start), err)
	return tree, err
}

func (r *Resolver) resolve(ctx context.Context, userID int64) (PermissionTree, error) {
	if _, err := r.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return nil, resolutionError("load user", err)
	}
	roleIDs, err := r.store.GetRoleIDsForUser(ctx, userID)
	if err != nil {
		return nil, resolutionError("load roles", err)
	}
	if len(roleIDs) == 0 {
		return PermissionTree{}, nil
	}
	rows, err := r.store.GetFunctionRowsForRoles(ctx, roleIDs)
	if err != nil {
		return nil, resolutionError("load functions", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BuildTree(rows), nil
}

func resolutionError(step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrResolution, step, err)
}

// BuildTree groups join rows into a permission tree: categories, modules and
// functions are deduplicated by id, sorted by name/name/code, and empty
// modules and categories are dropped.
func BuildTree(rows []FunctionRow) PermissionTree {
	type moduleAcc struct {
		node      ModuleNode
		functions map[int64]FunctionNode
	}
	type categoryAcc struct {
		node    CategoryNode
		modules map[int64]*moduleAcc
	}

	categories := make(map[int64]*categoryAcc)
	for _, row := range rows {
		cat, ok := categories[row.CategoryID]
		if !ok {
			cat = &categoryAcc{
				node:    CategoryNode{ID: row.CategoryID, Name: row.CategoryName},
				modules: make(map[int64]*moduleAcc),
			}
			categories[row.CategoryID] = cat
		}
		mod, ok := cat.modules[row.ModuleID]
		if !ok {
			mod = &moduleAcc{
				node: ModuleNode{
					ID:         row.ModuleID,
					Name:       row.ModuleName,
					Area:       row.Area,
					Controller: row.Controller,
					Action:     row.Action,
				},
				functions: make(map[int64]FunctionNode),
			}
			cat.modules[row.ModuleID] = mod
		}
		if row.Code == "" {
			continue
		}
		mod.functions[row.FunctionID] = FunctionNode{
			ID:          row.FunctionID,
			Code:        row.Code,
			DisplayName: row.DisplayName,
		}
	}

	tree := make(PermissionTree, 0, len(categories))
	for _, cat := range categories {
		node := cat.node
		node.Modules = make([]ModuleNode, 0, len(cat.modules))
		for _, mod := range cat.modules {
			if len(mod.functions) == 0 {
				continue
			}
			m := mod.node
			m.Functions = make([]FunctionNode, 0, len(mod.functions))
			for _, fn := range mod.functions {
				m.Functions = append(m.Functions, fn)
			}
			sort.Slice(m.Functions, func(i, j int) bool { return functionLess(m.Functions[i], m.Functions[j]) })
			node.Modules = append(node.Modules, m)
		}
		if len(node.Modules) == 0 {
			continue
		}
		sort.Slice(node.Modules, func(i, j int) bool { return moduleLess(node.Modules[i], node.Modules[j]) })
		tree = append(tree, node)
	}
	sort.Slice(tree, func(i, j int) bool { return categoryLess(tree[i], tree[j]) })
	return tree
}

// FormatSubject renders a user id as the token subject.
func FormatSubject(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// ParseSubject is the inverse of FormatSubject.
func ParseSubject(subject string) (int64, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q", ErrInvalidInput, subject)
	}
	return id, nil
}
