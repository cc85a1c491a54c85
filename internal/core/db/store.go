// internal/core/db/store.go
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Store persists rule trees and serves the read side of the rules engine.
 *
 * Rule trees are stored as adjacency rows (rules.parent_rule_id) with
 * expressions in their own table; both carry a position so children load
 * back in the order they were written. Every write runs in one transaction:
 * a failed update leaves the previous tree intact.
 *
 * Updates replace the tree wholesale. The root keeps its id, every owned
 * expression and sub-rule is deleted and recreated with fresh ids. Each
 * create and update appends an immutable revision holding the compact
 * snapshot of the tree.
 *
 * Store also implements rules.Directory, so the engine compiles against the
 * same rows the compiled predicates run on.
 */

// Revision keys.
const (
	revisionCreated = "Created"
	revisionUpdated = "Updated"
)

// Store is the sqlx-backed rule repository.
type Store struct {
	db     *sqlx.DB
	q      *Queries
	logger zerolog.Logger
	now    func() time.Time
}

var _ rules.Directory = (*Store)(nil)

// NewStore loads the named queries and returns a store over db.
func NewStore(db *sqlx.DB, logger zerolog.Logger) (*Store, error) {
	q, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, q: q, logger: logger, now: time.Now}, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// inTx runs fn inside a transaction, rolling back when fn fails.
func (s *Store) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(s.q.With(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateRule persists a new rule tree and records a "Rule Created" revision.
func (s *Store) CreateRule(ctx context.Context, def types.RuleDefinition, actor *types.UserID) (*types.Rule, error) {
	if _, err := rules.LookupLogical(def.LogicalOperator); err != nil {
		return nil, err
	}
	r := types.NewRule(def)
	r.AssignIDs()

	err := s.inTx(ctx, func(q *Queries) error {
		if err := s.insertRule(ctx, q, r, 0); err != nil {
			return err
		}
		if err := s.insertOwned(ctx, q, r); err != nil {
			return err
		}
		return s.storeRevision(ctx, q, r, revisionCreated, actor)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("rule_id", string(r.ID)).Msg("rule created")
	return r, nil
}

// UpdateRule replaces the tree rooted at id with def and records a
// "Rule Updated" revision. An empty def.Name keeps the stored name.
func (s *Store) UpdateRule(ctx context.Context, id types.RuleID, def types.RuleDefinition, actor *types.UserID) (*types.Rule, error) {
	if _, err := rules.LookupLogical(def.LogicalOperator); err != nil {
		return nil, err
	}

	var r *types.Rule
	err := s.inTx(ctx, func(q *Queries) error {
		var err error
		r, err = s.loadTree(ctx, q, id)
		if err != nil {
			return err
		}
		if err := s.deleteOwned(ctx, q, r); err != nil {
			return err
		}

		r.Replace(def)
		r.AssignIDs()

		if _, err := q.Exec(ctx, "update-rule", r.Name, string(r.LogicalOperator), timestamp(s.now()), string(r.ID)); err != nil {
			return fmt.Errorf("update rule %s: %w", r.ID, err)
		}
		if err := s.insertOwned(ctx, q, r); err != nil {
			return err
		}
		return s.storeRevision(ctx, q, r, revisionUpdated, actor)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("rule_id", string(r.ID)).Msg("rule updated")
	return r, nil
}

// GetRule loads the full tree rooted at id.
func (s *Store) GetRule(ctx context.Context, id types.RuleID) (*types.Rule, error) {
	return s.loadTree(ctx, s.q, id)
}

// ListRules returns every root rule without its expressions or sub-rules.
func (s *Store) ListRules(ctx context.Context) ([]*types.Rule, error) {
	var roots []*types.Rule
	if err := s.q.Select(ctx, "list-root-rules", &roots); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return roots, nil
}

// DeleteRule removes the tree rooted at id. Revisions are kept.
func (s *Store) DeleteRule(ctx context.Context, id types.RuleID) error {
	err := s.inTx(ctx, func(q *Queries) error {
		r, err := s.loadTree(ctx, q, id)
		if err != nil {
			return err
		}
		ids := treeIDs(r)
		if _, err := q.ExecIn(ctx, "delete-expressions", ids); err != nil {
			return fmt.Errorf("delete expressions of %s: %w", id, err)
		}
		if _, err := q.ExecIn(ctx, "delete-rules", ids); err != nil {
			return fmt.Errorf("delete rule %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("rule_id", string(id)).Msg("rule deleted")
	return nil
}

// CopyRule persists a deep copy of the tree rooted at id named
// "<name> (copy)". A copied sub-rule becomes the last sibling under the same parent.
func (s *Store) CopyRule(ctx context.Context, id types.RuleID, actor *types.UserID) (*types.Rule, error) {
	var cp *types.Rule
	err := s.inTx(ctx, func(q *Queries) error {
		orig, err := s.loadTree(ctx, q, id)
		if err != nil {
			return err
		}

		cp = orig.Clone(nil)
		cp.Name = types.CopyName(orig.Name)
		position := 0
		if orig.ParentRuleID != nil {
			parent := *orig.ParentRuleID
			cp.ParentRuleID = &parent
			if err := q.Get(ctx, "next-sub-rule-position", &position, string(parent)); err != nil {
				return fmt.Errorf("position under %s: %w", parent, err)
			}
		}
		cp.AssignIDs()

		if err := s.insertRule(ctx, q, cp, position); err != nil {
			return err
		}
		if err := s.insertOwned(ctx, q, cp); err != nil {
			return err
		}
		return s.storeRevision(ctx, q, cp, revisionCreated, actor)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("rule_id", string(id)).Str("copy_id", string(cp.ID)).Msg("rule copied")
	return cp, nil
}

// CombineAndSave persists a new parent joining the stored rules ids with op
// and re-parents each of them under it, in the given order.
func (s *Store) CombineAndSave(ctx context.Context, op types.LogicalOperator, ids []types.RuleID, actor *types.UserID) (*types.Rule, error) {
	if len(ids) == 0 {
		return nil, types.ErrEmptyCombine
	}
	if _, err := rules.LookupLogical(op); err != nil {
		return nil, err
	}

	var combined *types.Rule
	err := s.inTx(ctx, func(q *Queries) error {
		inputs := make([]*types.Rule, 0, len(ids))
		for _, id := range ids {
			r, err := s.loadTree(ctx, q, id)
			if err != nil {
				return err
			}
			inputs = append(inputs, r)
		}

		var err error
		combined, err = types.Combine(op, inputs...)
		if err != nil {
			return err
		}
		combined.AssignIDs()

		if err := s.insertRule(ctx, q, combined, 0); err != nil {
			return err
		}
		now := timestamp(s.now())
		for i, r := range inputs {
			if _, err := q.Exec(ctx, "reparent-rule", string(combined.ID), i, now, string(r.ID)); err != nil {
				return fmt.Errorf("reparent rule %s: %w", r.ID, err)
			}
		}
		return s.storeRevision(ctx, q, combined, revisionCreated, actor)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("rule_id", string(combined.ID)).Int("inputs", len(ids)).Msg("rules combined")
	return combined, nil
}

// revisionRow mirrors rule_revisions; created_at is RFC3339 text.
type revisionRow struct {
	ID        string        `db:"id"`
	RuleID    types.RuleID  `db:"rule_id"`
	Key       string        `db:"revision_key"`
	Snapshot  string        `db:"new_value"`
	ActorID   *types.UserID `db:"actor_id"`
	CreatedAt string        `db:"created_at"`
}

// ListRevisions returns the revisions of rule id, oldest first.
func (s *Store) ListRevisions(ctx context.Context, id types.RuleID) ([]types.Revision, error) {
	var rows []revisionRow
	if err := s.q.Select(ctx, "list-revisions", &rows, string(id)); err != nil {
		return nil, fmt.Errorf("list revisions of %s: %w", id, err)
	}

	revisions := make([]types.Revision, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("revision %s: %w", row.ID, err)
		}
		revisions = append(revisions, types.Revision{
			ID:        row.ID,
			RuleID:    row.RuleID,
			Key:       row.Key,
			Snapshot:  row.Snapshot,
			ActorID:   row.ActorID,
			CreatedAt: createdAt,
		})
	}
	return revisions, nil
}

func (s *Store) storeRevision(ctx context.Context, q *Queries, r *types.Rule, action string, actor *types.UserID) error {
	snapshot, err := r.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot rule %s: %w", r.ID, err)
	}
	var actorID any
	if actor != nil {
		actorID = int64(*actor)
	}
	_, err = q.Exec(ctx, "insert-revision",
		types.NewRevisionID(), string(r.ID), "Rule "+action, snapshot, actorID, timestamp(s.now()))
	if err != nil {
		return fmt.Errorf("store revision of %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) insertRule(ctx context.Context, q *Queries, r *types.Rule, position int) error {
	var parent any
	if r.ParentRuleID != nil {
		parent = string(*r.ParentRuleID)
	}
	now := timestamp(s.now())
	_, err := q.Exec(ctx, "insert-rule",
		string(r.ID), parent, r.ClientID, r.Name, string(r.LogicalOperator), position, now, now)
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", r.ID, err)
	}
	return nil
}

// insertOwned writes the expressions and sub-rules of r, recursively.
func (s *Store) insertOwned(ctx context.Context, q *Queries, r *types.Rule) error {
	for i, e := range r.Expressions {
		_, err := q.Exec(ctx, "insert-expression",
			string(e.ID), string(r.ID), i, string(e.OperandType), e.Operand, string(e.ConditionalOperator), e.Value)
		if err != nil {
			return fmt.Errorf("insert expression of %s: %w", r.ID, err)
		}
	}
	for i, sub := range r.SubRules {
		if err := s.insertRule(ctx, q, sub, i); err != nil {
			return err
		}
		if err := s.insertOwned(ctx, q, sub); err != nil {
			return err
		}
	}
	return nil
}

// deleteOwned removes the expressions and sub-rules of r, keeping the root row.
func (s *Store) deleteOwned(ctx context.Context, q *Queries, r *types.Rule) error {
	if _, err := q.ExecIn(ctx, "delete-expressions", treeIDs(r)); err != nil {
		return fmt.Errorf("delete expressions of %s: %w", r.ID, err)
	}
	var subs []string
	for _, sub := range r.SubRules {
		subs = append(subs, treeIDs(sub)...)
	}
	if len(subs) == 0 {
		return nil
	}
	if _, err := q.ExecIn(ctx, "delete-rules", subs); err != nil {
		return fmt.Errorf("delete sub-rules of %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) loadTree(ctx context.Context, q *Queries, id types.RuleID) (*types.Rule, error) {
	var r types.Rule
	if err := q.Get(ctx, "get-rule", &r, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", types.ErrRuleNotFound, id)
		}
		return nil, fmt.Errorf("load rule %s: %w", id, err)
	}
	if err := s.loadChildren(ctx, q, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) loadChildren(ctx context.Context, q *Queries, r *types.Rule) error {
	if err := q.Select(ctx, "list-expressions", &r.Expressions, string(r.ID)); err != nil {
		return fmt.Errorf("load expressions of %s: %w", r.ID, err)
	}
	var subs []*types.Rule
	if err := q.Select(ctx, "list-sub-rules", &subs, string(r.ID)); err != nil {
		return fmt.Errorf("load sub-rules of %s: %w", r.ID, err)
	}
	for _, sub := range subs {
		if err := s.loadChildren(ctx, q, sub); err != nil {
			return err
		}
		r.AddSubRule(sub)
	}
	return nil
}

// treeIDs lists the ids of r and its descendants, parents first.
func treeIDs(r *types.Rule) []string {
	var ids []string
	r.Walk(func(n *types.Rule) {
		ids = append(ids, string(n.ID))
	})
	return ids
}

// SelectUserIDs runs p against the users relation.
func (s *Store) SelectUserIDs(ctx context.Context, p rules.Predicate) ([]types.UserID, error) {
	query, args := rules.SelectUserIDs(p)
	var ids []types.UserID
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	return ids, nil
}

// UserMatches reports whether user id satisfies p.
func (s *Store) UserMatches(ctx context.Context, p rules.Predicate, id types.UserID) (bool, error) {
	where, args := rules.Render(p)
	query := "SELECT COUNT(*) FROM users WHERE users.id = ? AND (" + where + ")"
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), append([]any{int64(id)}, args...)...); err != nil {
		return false, fmt.Errorf("match user %d: %w", id, err)
	}
	return n > 0, nil
}
