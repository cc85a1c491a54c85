// internal/rules/evaluate.go
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * In-memory rule evaluation.
 *
 * Evaluate tests one user against a rule tree without touching SQL. It is the
 * reference the compiler is checked against, so it follows the same algebra:
 *
 *   - A subtree without expressions matches no one.
 *   - A rule is a sequence of terms followed by its sub-rules, combined with
 *     its logical operator. AND stops at the first failing term, OR at the
 *     first matching one; sub-rules are only visited when the terms did not
 *     already decide the result.
 *   - A term is one expression, except where the compiled form fuses several
 *     expressions into one clause: all hierarchy ADMIN_VALUE expressions form
 *     a single conjunctive term, and under OR the select/linked ADMIN_VALUE
 *     expressions form one pooled term per operator.
 *   - A sub-rule whose expressions are all unrecognized is unconstrained and
 *     is left out of the combination; an unconstrained root matches everyone.
 */

// evaluator carries per-call state through the rule tree.
type evaluator struct {
	engine *Engine
	ctx    context.Context
	user   *types.User
	admin  *types.User
	trail  trail
}

// term is one unit of short-circuit evaluation.
type term func() (bool, error)

// Evaluate reports whether user satisfies rule.
func (e *Engine) Evaluate(ctx context.Context, rule *types.Rule, user, admin *types.User) (bool, error) {
	t, err := trail(nil).enter(rule, e.maxAbilityDepth)
	if err != nil {
		return false, err
	}
	ev := &evaluator{engine: e, ctx: ctx, user: user, admin: admin, trail: t}
	return ev.root(rule)
}

// root evaluates r as a top-level rule.
func (ev *evaluator) root(r *types.Rule) (bool, error) {
	matched, constrained, err := ev.rule(r)
	if err != nil {
		return false, err
	}
	if !constrained {
		return true, nil
	}
	return matched, nil
}

// rule returns whether the user matches r and whether r constrains anything at all.
func (ev *evaluator) rule(r *types.Rule) (matched, constrained bool, err error) {
	if !r.HasExpressions() {
		return false, true, nil
	}
	if _, err := LookupLogical(r.LogicalOperator); err != nil {
		return false, false, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	terms, err := ev.terms(r)
	if err != nil {
		return false, false, fmt.Errorf("rule %s: %w", r.ID, err)
	}

	and := r.LogicalOperator == types.LogicalAnd
	for _, t := range terms {
		constrained = true
		m, err := t()
		if err != nil {
			return false, false, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if m != and {
			return m, true, nil
		}
	}
	for _, sub := range r.SubRules {
		m, c, err := ev.rule(sub)
		if err != nil {
			return false, false, err
		}
		if !c {
			continue
		}
		constrained = true
		if m != and {
			return m, true, nil
		}
	}
	if !constrained {
		return false, false, nil
	}
	return and, true, nil
}

// terms builds the evaluation terms of r's own expressions.
func (ev *evaluator) terms(r *types.Rule) ([]term, error) {
	items, _, err := ev.engine.classifyAll(ev.ctx, r.Expressions, ev.admin)
	if err != nil {
		return nil, err
	}

	var terms []term
	var hierarchyAdmin []item
	var adminPools []FieldGroup
	for _, it := range items {
		switch {
		case it.family == familyHierarchyAdminValue:
			hierarchyAdmin = append(hierarchyAdmin, it)
		case it.family == familyAdminValue && r.LogicalOperator == types.LogicalOr:
			adminPools = append(adminPools, FieldGroup{Field: it.field, Op: it.op, Values: it.ids})
		default:
			terms = append(terms, ev.itemTerm(it))
		}
	}
	for _, pool := range poolByOperator(adminPools) {
		terms = append(terms, ev.adminTerm(pool.Op, pool.Values))
	}
	if len(hierarchyAdmin) > 0 {
		terms = append(terms, func() (bool, error) {
			for _, it := range hierarchyAdmin {
				if len(it.ids) == 0 {
					return false, nil
				}
				for _, v := range it.ids {
					m, err := ev.holdsDescendant(v)
					if err != nil {
						return false, err
					}
					if m == (it.op == types.OpExcludes) {
						return false, nil
					}
				}
			}
			return true, nil
		})
	}
	return terms, nil
}

func (ev *evaluator) itemTerm(it item) term {
	excludes := it.op == types.OpExcludes
	u := ev.user
	switch it.family {
	case familyAttribute:
		return func() (bool, error) {
			return Compare(it.op, attributeOf(u, it.attribute), it.scalar), nil
		}
	case familyFieldValue:
		return func() (bool, error) {
			return u.HasValue(types.ValueID(it.ids[0])) != excludes, nil
		}
	case familyAdminValue:
		return ev.adminTerm(it.op, it.ids)
	case familyHierarchyValue:
		return func() (bool, error) {
			m, err := ev.holdsDescendant(it.ids[0])
			return m != excludes, err
		}
	case familyDate:
		return func() (bool, error) {
			for _, d := range u.Dates[it.field] {
				if Compare(it.op, d, it.scalar) {
					return true, nil
				}
			}
			return false, nil
		}
	case familyGroup:
		return func() (bool, error) {
			return containsID(u.Groups, it.ids[0]) != excludes, nil
		}
	case familyClass:
		if it.none {
			return func() (bool, error) {
				return (len(u.Classes) == 0) != excludes, nil
			}
		}
		return func() (bool, error) {
			return containsID(u.Classes, it.ids[0]) != excludes, nil
		}
	case familyCertification:
		return func() (bool, error) {
			return containsID(u.Certifications, it.ids[0]) != excludes, nil
		}
	case familyUserToUser:
		return func() (bool, error) {
			target := types.UserID(it.ids[0])
			if isHierarchical(it.op) {
				return ev.reaches(it.field, target)
			}
			direct := false
			for _, rel := range u.Related[it.field] {
				if rel == target {
					direct = true
					break
				}
			}
			return direct != excludes, nil
		}
	case familyAbility:
		return func() (bool, error) {
			m, err := ev.hasAbility(it.ids)
			return m != excludes, err
		}
	}
	return func() (bool, error) { return false, fmt.Errorf("unhandled expression family %d", it.family) }
}

// adminTerm tests membership against a resolved admin value set; empty never matches.
func (ev *evaluator) adminTerm(op types.ConditionalOperator, ids []int64) term {
	return func() (bool, error) {
		if len(ids) == 0 {
			return false, nil
		}
		held := false
		for _, id := range ids {
			if ev.user.HasValue(types.ValueID(id)) {
				held = true
				break
			}
		}
		return held != (op == types.OpExcludes), nil
	}
}

// holdsDescendant reports whether the user holds a value at or beneath value's hierarchy node.
func (ev *evaluator) holdsDescendant(value int64) (bool, error) {
	anchor, ok, err := ev.engine.dir.HierarchyPath(ev.ctx, types.ValueID(value))
	if err != nil || !ok {
		return false, err
	}
	for _, held := range ev.user.AllValues() {
		path, ok, err := ev.engine.dir.HierarchyPath(ev.ctx, held)
		if err != nil {
			return false, err
		}
		if ok && strings.HasPrefix(path, anchor) {
			return true, nil
		}
	}
	return false, nil
}

// reaches walks the relationship graph from the user for up to depthLimit hops.
func (ev *evaluator) reaches(field types.FieldID, target types.UserID) (bool, error) {
	seen := map[types.UserID]bool{ev.user.ID: true}
	frontier := ev.user.Related[field]
	for hop := 1; hop <= ev.engine.depthLimit && len(frontier) > 0; hop++ {
		var next []types.UserID
		for _, id := range frontier {
			if id == target {
				return true, nil
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			if hop == ev.engine.depthLimit {
				continue
			}
			related, err := ev.engine.dir.RelatedUsers(ev.ctx, field, id)
			if err != nil {
				return false, err
			}
			next = append(next, related...)
		}
		frontier = next
	}
	return false, nil
}

// hasAbility reports whether the user falls under the delegated rule of any
// role holding one of the abilities.
func (ev *evaluator) hasAbility(abilities []int64) (bool, error) {
	roles, err := ev.engine.dir.RolesWithAbility(ev.ctx, abilities)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		rule, err := ev.engine.dir.RoleRule(ev.ctx, role.ID)
		if err != nil {
			return false, err
		}
		if rule == nil {
			continue
		}
		t, err := ev.trail.enter(rule, ev.engine.maxAbilityDepth)
		if err != nil {
			return false, fmt.Errorf("role rule %s: %w", rule.ID, err)
		}
		inner := &evaluator{engine: ev.engine, ctx: ev.ctx, user: ev.user, admin: ev.admin, trail: t}
		m, err := inner.root(rule)
		if err != nil {
			return false, err
		}
		if m {
			return true, nil
		}
	}
	return false, nil
}
