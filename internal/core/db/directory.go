// internal/core/db/directory.go
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/solatis/rulekeeper/internal/types"
)

// Field implements rules.Directory.
func (s *Store) Field(ctx context.Context, id types.FieldID) (*types.Field, error) {
	var f types.Field
	if err := s.q.Get(ctx, "get-field", &f, int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", types.ErrFieldNotFound, id)
		}
		return nil, fmt.Errorf("load field %d: %w", id, err)
	}
	return &f, nil
}

// AdminValues implements rules.Directory. The admin's values are read from
// the database, not from the admin profile passed in.
func (s *Store) AdminValues(ctx context.Context, field *types.Field, admin *types.User) ([]types.ValueID, error) {
	var ids []types.ValueID
	if err := s.q.Select(ctx, "list-user-field-values", &ids, int64(admin.ID), int64(field.ID)); err != nil {
		return nil, fmt.Errorf("admin values of %d for field %d: %w", admin.ID, field.ID, err)
	}
	return ids, nil
}

// RolesWithAbility implements rules.Directory.
func (s *Store) RolesWithAbility(ctx context.Context, abilities []int64) ([]types.Role, error) {
	var roles []types.Role
	var err error
	if len(abilities) == 0 {
		err = s.q.Select(ctx, "list-super-admin-roles", &roles)
	} else {
		err = s.q.SelectIn(ctx, "list-roles-with-abilities", &roles, abilities)
	}
	if err != nil {
		return nil, fmt.Errorf("roles with abilities %v: %w", abilities, err)
	}
	return roles, nil
}

// RoleRule implements rules.Directory.
func (s *Store) RoleRule(ctx context.Context, role types.RoleID) (*types.Rule, error) {
	var id string
	if err := s.q.Get(ctx, "get-role-rule-id", &id, int64(role)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("role %d rule: %w", role, err)
	}
	return s.GetRule(ctx, types.RuleID(id))
}

// HierarchyPath implements rules.Directory.
func (s *Store) HierarchyPath(ctx context.Context, value types.ValueID) (string, bool, error) {
	var path string
	if err := s.q.Get(ctx, "get-hierarchy-path", &path, int64(value)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("hierarchy path of %d: %w", value, err)
	}
	return path, true, nil
}

// RelatedUsers implements rules.Directory.
func (s *Store) RelatedUsers(ctx context.Context, field types.FieldID, user types.UserID) ([]types.UserID, error) {
	var ids []types.UserID
	if err := s.q.Select(ctx, "list-related-users", &ids, int64(field), int64(user)); err != nil {
		return nil, fmt.Errorf("related users of %d: %w", user, err)
	}
	return ids, nil
}

type userValueRow struct {
	Field types.FieldID `db:"field_id"`
	Value types.ValueID `db:"value_id"`
}

type userDateRow struct {
	Field types.FieldID `db:"field_id"`
	Value string        `db:"value"`
}

type userRelationRow struct {
	Field   types.FieldID `db:"field_id"`
	Related types.UserID  `db:"related_user_id"`
}

// GetUser loads the profile of user id for in-memory evaluation.
func (s *Store) GetUser(ctx context.Context, id types.UserID) (*types.User, error) {
	var u types.User
	if err := s.q.Get(ctx, "get-user", &u, int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", types.ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}

	var values []userValueRow
	if err := s.q.Select(ctx, "list-user-values", &values, int64(id)); err != nil {
		return nil, fmt.Errorf("load values of user %d: %w", id, err)
	}
	var dates []userDateRow
	if err := s.q.Select(ctx, "list-user-dates", &dates, int64(id)); err != nil {
		return nil, fmt.Errorf("load dates of user %d: %w", id, err)
	}
	var related []userRelationRow
	if err := s.q.Select(ctx, "list-user-related", &related, int64(id)); err != nil {
		return nil, fmt.Errorf("load relations of user %d: %w", id, err)
	}

	for _, v := range values {
		if u.Values == nil {
			u.Values = map[types.FieldID][]types.ValueID{}
		}
		u.Values[v.Field] = append(u.Values[v.Field], v.Value)
	}
	for _, d := range dates {
		if u.Dates == nil {
			u.Dates = map[types.FieldID][]string{}
		}
		u.Dates[d.Field] = append(u.Dates[d.Field], d.Value)
	}
	for _, r := range related {
		if u.Related == nil {
			u.Related = map[types.FieldID][]types.UserID{}
		}
		u.Related[r.Field] = append(u.Related[r.Field], r.Related)
	}

	memberships := []struct {
		name string
		dest *[]int64
	}{
		{"list-user-groups", &u.Groups},
		{"list-user-classes", &u.Classes},
		{"list-user-certifications", &u.Certifications},
	}
	for _, m := range memberships {
		if err := s.q.Select(ctx, m.name, m.dest, int64(id)); err != nil {
			return nil, fmt.Errorf("%s %d: %w", m.name, id, err)
		}
	}

	return &u, nil
}

// ListUserIDs returns every user id in ascending order.
func (s *Store) ListUserIDs(ctx context.Context) ([]types.UserID, error) {
	var ids []types.UserID
	if err := s.q.Select(ctx, "list-user-ids", &ids); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}
