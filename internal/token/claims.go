package token

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"qazna.org/permgate/internal/auth"
)

// ClaimVersion is the only permission claim encoding this package reads and writes.
const ClaimVersion = 1

// Claims are the JWT claims carried by an access token.
type Claims struct {
	Username    string          `json:"unique_name"`
	Roles       []string        `json:"roles,omitempty"`
	Permissions PermissionClaim `json:"perm"`
	jwt.RegisteredClaims
}

// PermissionClaim is the versioned, compact encoding of a permission tree.
type PermissionClaim struct {
	Version    int             `json:"v"`
	Categories []categoryClaim `json:"c"`
}

type categoryClaim struct {
	ID      int64         `json:"i"`
	Name    string        `json:"n"`
	Modules []moduleClaim `json:"m"`
}

type moduleClaim struct {
	ID         int64           `json:"i"`
	Name       string          `json:"n"`
	Area       string          `json:"a,omitempty"`
	Controller string          `json:"ct,omitempty"`
	Action     string          `json:"ac,omitempty"`
	Functions  []functionClaim `json:"f"`
}

type functionClaim struct {
	ID          int64  `json:"i"`
	Code        string `json:"c"`
	DisplayName string `json:"d,omitempty"`
}

// EncodePermissions converts a tree into its claim form.
func EncodePermissions(tree auth.PermissionTree) PermissionClaim {
	claim := PermissionClaim{Version: ClaimVersion, Categories: make([]categoryClaim, 0, len(tree))}
	for _, c := range tree {
		cc := categoryClaim{ID: c.ID, Name: c.Name, Modules: make([]moduleClaim, 0, len(c.Modules))}
		for _, m := range c.Modules {
			mc := moduleClaim{
				ID:         m.ID,
				Name:       m.Name,
				Area:       m.Area,
				Controller: m.Controller,
				Action:     m.Action,
				Functions:  make([]functionClaim, 0, len(m.Functions)),
			}
			for _, f := range m.Functions {
				mc.Functions = append(mc.Functions, functionClaim{ID: f.ID, Code: f.Code, DisplayName: f.DisplayName})
			}
			cc.Modules = append(cc.Modules, mc)
		}
		claim.Categories = append(claim.Categories, cc)
	}
	return claim
}

// Tree decodes the claim, rejecting unknown versions and trees that break
// the ordering, non-empty and uniqueness invariants.
func (p PermissionClaim) Tree() (auth.PermissionTree, error) {
	if p.Version != ClaimVersion {
		return nil, fmt.Errorf("unsupported permission claim version %d", p.Version)
	}
	tree := make(auth.PermissionTree, 0, len(p.Categories))
	for _, c := range p.Categories {
		node := auth.CategoryNode{ID: c.ID, Name: c.Name, Modules: make([]auth.ModuleNode, 0, len(c.Modules))}
		for _, m := range c.Modules {
			mod := auth.ModuleNode{
				ID:         m.ID,
				Name:       m.Name,
				Area:       m.Area,
				Controller: m.Controller,
				Action:     m.Action,
				Functions:  make([]auth.FunctionNode, 0, len(m.Functions)),
			}
			for _, f := range m.Functions {
				mod.Functions = append(mod.Functions, auth.FunctionNode{ID: f.ID, Code: f.Code, DisplayName: f.DisplayName})
			}
			node.Modules = append(node.Modules, mod)
		}
		tree = append(tree, node)
	}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}

func (p PermissionClaim) size() (int, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}
