// internal/core/db/import.go
package db

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Directory import.
 *
 * ImportDirectory writes a rules.MemoryDirectory (the JSON fixture format of
 * `rulekeeper rule check`) into an empty database, so the same fixture can
 * be evaluated in memory and through compiled SQL.
 *
 * The in-memory model is flatter than the schema, which fills the gaps:
 *   - every referenced value id becomes a field_values row of the field the
 *     users hold it in. Hierarchy values held by nobody go to the first
 *     hierarchy field.
 *   - each date becomes its own field_values row, numbered after the
 *     largest literal value id.
 *   - users belong to classes through user groups, so every class gets a
 *     membership group numbered after the largest literal group id.
 *   - delegated role rules are stored as new rule trees with fresh ids.
 */

// ImportDirectory writes dir in one transaction.
func (s *Store) ImportDirectory(ctx context.Context, dir *rules.MemoryDirectory) error {
	err := s.inTx(ctx, func(q *Queries) error {
		im := &importer{store: s, q: q, dir: dir}
		return im.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("import directory: %w", err)
	}
	s.logger.Info().
		Int("fields", len(dir.Fields)).
		Int("users", len(dir.Users)).
		Int("roles", len(dir.Roles)).
		Msg("directory imported")
	return nil
}

type importer struct {
	store *Store
	q     *Queries
	dir   *rules.MemoryDirectory
}

func (im *importer) exec(ctx context.Context, name string, args ...any) error {
	if _, err := im.q.Exec(ctx, name, args...); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func (im *importer) run(ctx context.Context) error {
	steps := []func(context.Context) error{
		im.fields,
		im.values,
		im.users,
		im.groups,
		im.classes,
		im.certifications,
		im.roles,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) sortedUsers() []*types.User {
	out := make([]*types.User, 0, len(im.dir.Users))
	for _, id := range slices.Sorted(maps.Keys(im.dir.Users)) {
		out = append(out, im.dir.Users[id])
	}
	return out
}

func (im *importer) isDate(field types.FieldID) bool {
	f, ok := im.dir.Fields[field]
	return ok && f.Type == types.FieldTypeDate
}

func (im *importer) fields(ctx context.Context) error {
	for _, id := range slices.Sorted(maps.Keys(im.dir.Fields)) {
		f := im.dir.Fields[id]
		if err := im.exec(ctx, "insert-field", int64(f.ID), f.Name, string(f.Type)); err != nil {
			return err
		}
	}
	return nil
}

// values writes literal field values and hierarchy nodes.
func (im *importer) values(ctx context.Context) error {
	owner := map[types.ValueID]types.FieldID{}
	for _, u := range im.sortedUsers() {
		for _, field := range slices.Sorted(maps.Keys(u.Values)) {
			if im.isDate(field) {
				continue
			}
			for _, v := range u.Values[field] {
				if _, ok := owner[v]; !ok {
					owner[v] = field
				}
			}
		}
	}

	for _, v := range slices.Sorted(maps.Keys(im.dir.Paths)) {
		if _, ok := owner[v]; ok {
			continue
		}
		field, ok := im.firstField(types.FieldTypeHierarchy)
		if !ok {
			return fmt.Errorf("hierarchy value %d: %w", v, types.ErrFieldNotFound)
		}
		owner[v] = field
	}

	for _, v := range slices.Sorted(maps.Keys(owner)) {
		if err := im.exec(ctx, "insert-field-value", int64(v), int64(owner[v]), strconv.FormatInt(int64(v), 10)); err != nil {
			return err
		}
	}
	for _, v := range slices.Sorted(maps.Keys(im.dir.Paths)) {
		if err := im.exec(ctx, "insert-hierarchy-node", int64(v), int64(v), im.dir.Paths[v]); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) firstField(t types.FieldType) (types.FieldID, bool) {
	for _, id := range slices.Sorted(maps.Keys(im.dir.Fields)) {
		if im.dir.Fields[id].Type == t {
			return id, true
		}
	}
	return 0, false
}

// nextValueID numbers generated value rows after every literal one.
func (im *importer) nextValueID() int64 {
	var maxID int64
	for _, u := range im.dir.Users {
		for _, vals := range u.Values {
			for _, v := range vals {
				maxID = max(maxID, int64(v))
			}
		}
	}
	for v := range im.dir.Paths {
		maxID = max(maxID, int64(v))
	}
	return maxID + 1
}

func (im *importer) users(ctx context.Context) error {
	users := im.sortedUsers()
	for _, u := range users {
		if err := im.exec(ctx, "insert-user", int64(u.ID), u.Email, u.Points, u.PreferredLocale); err != nil {
			return err
		}
	}

	next := im.nextValueID()
	for _, u := range users {
		for _, field := range slices.Sorted(maps.Keys(u.Values)) {
			if im.isDate(field) {
				continue
			}
			for _, v := range u.Values[field] {
				if err := im.exec(ctx, "insert-profile-value", int64(u.ID), int64(field), int64(v)); err != nil {
					return err
				}
			}
		}
		for _, field := range slices.Sorted(maps.Keys(u.Dates)) {
			for _, day := range u.Dates[field] {
				normalized, err := rules.NormalizeDate(day)
				if err != nil {
					return fmt.Errorf("user %d date %q: %w", u.ID, day, err)
				}
				if err := im.exec(ctx, "insert-field-value", next, int64(field), normalized); err != nil {
					return err
				}
				if err := im.exec(ctx, "insert-profile-value", int64(u.ID), int64(field), next); err != nil {
					return err
				}
				next++
			}
		}
		for _, field := range slices.Sorted(maps.Keys(u.Related)) {
			for _, other := range u.Related[field] {
				if err := im.exec(ctx, "insert-profile-relation", int64(u.ID), int64(field), int64(other)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// members collects, per id, the users listing it.
func (im *importer) members(list func(*types.User) []int64) map[int64][]types.UserID {
	out := map[int64][]types.UserID{}
	for _, u := range im.sortedUsers() {
		for _, id := range list(u) {
			out[id] = append(out[id], u.ID)
		}
	}
	return out
}

func (im *importer) groups(ctx context.Context) error {
	groups := im.members(func(u *types.User) []int64 { return u.Groups })
	for _, g := range slices.Sorted(maps.Keys(groups)) {
		if err := im.exec(ctx, "insert-user-group", g, "Group "+strconv.FormatInt(g, 10)); err != nil {
			return err
		}
		for _, u := range groups[g] {
			if err := im.exec(ctx, "insert-user-group-user", g, int64(u)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *importer) classes(ctx context.Context) error {
	var next int64
	for g := range im.members(func(u *types.User) []int64 { return u.Groups }) {
		next = max(next, g)
	}
	next++

	classes := im.members(func(u *types.User) []int64 { return u.Classes })
	for _, c := range slices.Sorted(maps.Keys(classes)) {
		name := "Class " + strconv.FormatInt(c, 10)
		if err := im.exec(ctx, "insert-class", c, name); err != nil {
			return err
		}
		if err := im.exec(ctx, "insert-user-group", next, name+" members"); err != nil {
			return err
		}
		if err := im.exec(ctx, "insert-class-user-group", c, next); err != nil {
			return err
		}
		for _, u := range classes[c] {
			if err := im.exec(ctx, "insert-user-group-user", next, int64(u)); err != nil {
				return err
			}
		}
		next++
	}
	return nil
}

func (im *importer) certifications(ctx context.Context) error {
	certs := im.members(func(u *types.User) []int64 { return u.Certifications })
	for _, c := range slices.Sorted(maps.Keys(certs)) {
		if err := im.exec(ctx, "insert-certification", c, "Certification "+strconv.FormatInt(c, 10)); err != nil {
			return err
		}
		for _, u := range certs[c] {
			if err := im.exec(ctx, "insert-user-certification", int64(u), c, "awarded"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *importer) roles(ctx context.Context) error {
	abilities := map[int64]bool{}
	for _, held := range im.dir.Abilities {
		for _, a := range held {
			abilities[a] = true
		}
	}
	for _, a := range slices.Sorted(maps.Keys(abilities)) {
		if err := im.exec(ctx, "insert-ability", a, "Ability "+strconv.FormatInt(a, 10)); err != nil {
			return err
		}
	}

	for _, role := range im.dir.Roles {
		if err := im.exec(ctx, "insert-role", int64(role.ID), role.Name, role.SuperAdmin); err != nil {
			return err
		}
		for _, a := range im.dir.Abilities[role.ID] {
			if err := im.exec(ctx, "insert-role-ability", int64(role.ID), a); err != nil {
				return err
			}
		}
	}

	for _, id := range slices.Sorted(maps.Keys(im.dir.RoleRules)) {
		r := im.dir.RoleRules[id].Clone(nil)
		r.AssignIDs()
		if err := im.store.insertRule(ctx, im.q, r, 0); err != nil {
			return err
		}
		if err := im.store.insertOwned(ctx, im.q, r); err != nil {
			return err
		}
		if err := im.store.storeRevision(ctx, im.q, r, revisionCreated, nil); err != nil {
			return err
		}
		if err := im.exec(ctx, "insert-role-admin-rule", int64(id), string(r.ID)); err != nil {
			return err
		}
	}
	return nil
}
