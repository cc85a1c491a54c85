package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/solatis/rulekeeper/internal/types"
)

// MemoryDirectory is a Directory backed by maps. Used by tests and by the CLI
// `rule check` command for fixtures given as JSON. Not safe for concurrent
// mutation; concurrent reads are fine once populated.
type MemoryDirectory struct {
	Fields    map[types.FieldID]*types.Field `json:"fields"`
	Users     map[types.UserID]*types.User   `json:"users"`
	Paths     map[types.ValueID]string       `json:"paths"`
	Roles     []types.Role                   `json:"roles"`
	Abilities map[types.RoleID][]int64       `json:"abilities"`
	RoleRules map[types.RoleID]*types.Rule   `json:"role_rules"`
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		Fields:    map[types.FieldID]*types.Field{},
		Users:     map[types.UserID]*types.User{},
		Paths:     map[types.ValueID]string{},
		Abilities: map[types.RoleID][]int64{},
		RoleRules: map[types.RoleID]*types.Rule{},
	}
}

// DecodeMemoryDirectory reads a directory from its JSON form. Role rules
// are given in rule definition form and receive fresh ids. User dates are
// normalized to DateLayout, as the SQL store holds them.
func DecodeMemoryDirectory(r io.Reader) (*MemoryDirectory, error) {
	m := NewMemoryDirectory()
	var raw struct {
		*MemoryDirectory
		RoleRules map[types.RoleID]types.RuleDefinition `json:"role_rules"`
	}
	raw.MemoryDirectory = m
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	for id, def := range raw.RoleRules {
		rule := types.NewRule(def)
		rule.AssignIDs()
		m.RoleRules[id] = rule
	}
	for id, u := range m.Users {
		if u.ID == 0 {
			u.ID = id
		}
		for _, days := range u.Dates {
			for i, day := range days {
				normalized, err := NormalizeDate(day)
				if err != nil {
					return nil, fmt.Errorf("user %d date %q: %w", id, day, err)
				}
				days[i] = normalized
			}
		}
	}
	return m, nil
}

// User returns the profile of id, or an error wrapping types.ErrUserNotFound.
func (m *MemoryDirectory) User(id types.UserID) (*types.User, error) {
	u, ok := m.Users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrUserNotFound, id)
	}
	return u, nil
}

// AddUser registers u for relationship lookups.
func (m *MemoryDirectory) AddUser(u *types.User) {
	m.Users[u.ID] = u
}

// Field implements Directory.
func (m *MemoryDirectory) Field(_ context.Context, id types.FieldID) (*types.Field, error) {
	f, ok := m.Fields[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrFieldNotFound, id)
	}
	return f, nil
}

// AdminValues implements Directory.
func (m *MemoryDirectory) AdminValues(_ context.Context, field *types.Field, admin *types.User) ([]types.ValueID, error) {
	return admin.Values[field.ID], nil
}

// RolesWithAbility implements Directory.
func (m *MemoryDirectory) RolesWithAbility(_ context.Context, abilities []int64) ([]types.Role, error) {
	var out []types.Role
	for _, role := range m.Roles {
		if role.SuperAdmin {
			out = append(out, role)
			continue
		}
		for _, a := range m.Abilities[role.ID] {
			if containsID(abilities, a) {
				out = append(out, role)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RoleRule implements Directory.
func (m *MemoryDirectory) RoleRule(_ context.Context, role types.RoleID) (*types.Rule, error) {
	return m.RoleRules[role], nil
}

// HierarchyPath implements Directory.
func (m *MemoryDirectory) HierarchyPath(_ context.Context, value types.ValueID) (string, bool, error) {
	p, ok := m.Paths[value]
	return p, ok, nil
}

// RelatedUsers implements Directory.
func (m *MemoryDirectory) RelatedUsers(_ context.Context, field types.FieldID, user types.UserID) ([]types.UserID, error) {
	u, ok := m.Users[user]
	if !ok {
		return nil, nil
	}
	return u.Related[field], nil
}
