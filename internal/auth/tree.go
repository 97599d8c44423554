package auth

import (
	"fmt"
	"sort"
)

// PermissionTree is the per-user, computed view of the catalog containing only
// authorized functions, ordered by category name, module name and function code.
type PermissionTree []CategoryNode

// CategoryNode is a category with at least one authorized module.
type CategoryNode struct {
	ID      int64        `json:"id"`
	Name    string       `json:"name"`
	Modules []ModuleNode `json:"modules"`
}

// ModuleNode is a module with at least one authorized function.
type ModuleNode struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Area       string         `json:"area"`
	Controller string         `json:"controller"`
	Action     string         `json:"action"`
	Functions  []FunctionNode `json:"functions"`
}

// FunctionNode is a single authorized function.
type FunctionNode struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

// Codes returns the sorted, distinct function codes in the tree.
func (t PermissionTree) Codes() []string {
	seen := make(map[string]struct{})
	codes := make([]string, 0)
	for _, c := range t {
		for _, m := range c.Modules {
			for _, f := range m.Functions {
				if _, ok := seen[f.Code]; ok {
					continue
				}
				seen[f.Code] = struct{}{}
				codes = append(codes, f.Code)
			}
		}
	}
	sort.Strings(codes)
	return codes
}

// Has reports whether the tree grants the function identified by code.
func (t PermissionTree) Has(code string) bool {
	for _, c := range t {
		for _, m := range c.Modules {
			for _, f := range m.Functions {
				if f.Code == code {
					return true
				}
			}
		}
	}
	return false
}

// Counts returns the number of categories, modules and functions in the tree.
func (t PermissionTree) Counts() (categories, modules, functions int) {
	categories = len(t)
	for _, c := range t {
		modules += len(c.Modules)
		for _, m := range c.Modules {
			functions += len(m.Functions)
		}
	}
	return categories, modules, functions
}

// Validate checks the structural invariants of a tree: no empty category or
// module, non-empty names and codes, and the canonical ordering. Module ids,
// function ids and function codes are unique across the whole tree, since a
// module has one category and a function one module.
func (t PermissionTree) Validate() error {
	categoryIDs := make(map[int64]struct{}, len(t))
	moduleIDs := make(map[int64]struct{})
	functionIDs := make(map[int64]struct{})
	codes := make(map[string]struct{})
	for i, c := range t {
		if c.Name == "" {
			return fmt.Errorf("%w: category %d has no name", ErrInvalidInput, c.ID)
		}
		if len(c.Modules) == 0 {
			return fmt.Errorf("%w: category %q has no modules", ErrInvalidInput, c.Name)
		}
		if _, dup := categoryIDs[c.ID]; dup {
			return fmt.Errorf("%w: duplicate category %d", ErrInvalidInput, c.ID)
		}
		categoryIDs[c.ID] = struct{}{}
		if i > 0 && categoryLess(c, t[i-1]) {
			return fmt.Errorf("%w: categories out of order at %q", ErrInvalidInput, c.Name)
		}

		for j, m := range c.Modules {
			if m.Name == "" {
				return fmt.Errorf("%w: module %d has no name", ErrInvalidInput, m.ID)
			}
			if len(m.Functions) == 0 {
				return fmt.Errorf("%w: module %q has no functions", ErrInvalidInput, m.Name)
			}
			if _, dup := moduleIDs[m.ID]; dup {
				return fmt.Errorf("%w: duplicate module %d", ErrInvalidInput, m.ID)
			}
			moduleIDs[m.ID] = struct{}{}
			if j > 0 && moduleLess(m, c.Modules[j-1]) {
				return fmt.Errorf("%w: modules out of order at %q", ErrInvalidInput, m.Name)
			}

			for k, f := range m.Functions {
				if f.Code == "" {
					return fmt.Errorf("%w: function %d has no code", ErrInvalidInput, f.ID)
				}
				if _, dup := functionIDs[f.ID]; dup {
					return fmt.Errorf("%w: duplicate function %d", ErrInvalidInput, f.ID)
				}
				functionIDs[f.ID] = struct{}{}
				if _, dup := codes[f.Code]; dup {
					return fmt.Errorf("%w: duplicate function code %q", ErrInvalidInput, f.Code)
				}
				codes[f.Code] = struct{}{}
				if k > 0 && functionLess(f, m.Functions[k-1]) {
					return fmt.Errorf("%w: functions out of order at %q", ErrInvalidInput, f.Code)
				}
			}
		}
	}
	return nil
}

func categoryLess(a, b CategoryNode) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func moduleLess(a, b ModuleNode) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func functionLess(a, b FunctionNode) bool {
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	return a.ID < b.ID
}
