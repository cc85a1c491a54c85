// internal/rules/compile.go
package rules

import (
	"context"
	"fmt"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Rule compilation.
 *
 * Compile turns a rule tree into a Predicate over the users relation:
 *   1. A subtree without expressions is unsatisfiable (1 = 0).
 *   2. The rule's own expressions are classified and handed to the
 *      per-family builders, which append clauses to one Group joined by the
 *      rule's logical operator.
 *   3. Every sub-rule compiles to its own Group and is appended to the same
 *      Group, so precedence is explicit at every level.
 *
 * Ability expressions re-enter step 1 for other roles' delegated rules. The
 * trail of entered rules rejects cycles (ErrRuleCycle) and bounds nesting
 * (ErrAbilityDepth).
 *
 * A rule whose expressions are all unrecognized constrains nothing: its Group
 * is empty, its parent drops it, and at the root it renders as 1 = 1.
 */

// compiler carries per-call state through the builders.
type compiler struct {
	engine *Engine
	ctx    context.Context
	admin  *types.User
	trail  trail
}

// Compile builds the predicate selecting users who satisfy rule.
// admin is required only when the tree uses ADMIN_VALUE.
func (e *Engine) Compile(ctx context.Context, rule *types.Rule, admin *types.User) (Predicate, error) {
	t, err := trail(nil).enter(rule, e.maxAbilityDepth)
	if err != nil {
		return nil, err
	}
	c := &compiler{engine: e, ctx: ctx, admin: admin, trail: t}
	p, err := c.rule(rule)
	if err != nil {
		return nil, err
	}
	if e.logger.Debug().Enabled() {
		sql, args := Render(p)
		e.logger.Debug().
			Str("rule_id", string(rule.ID)).
			Int("args", len(args)).
			Str("sql", sql).
			Msg("compiled rule")
	}
	return p, nil
}

func (c *compiler) rule(r *types.Rule) (Predicate, error) {
	if !r.HasExpressions() {
		return False, nil
	}
	if _, err := LookupLogical(r.LogicalOperator); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}

	grouped, err := c.engine.Classify(c.ctx, r.Expressions, c.admin)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}

	g := &Group{Op: r.LogicalOperator}
	if err := c.expressions(g, grouped); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	for _, sub := range r.SubRules {
		p, err := c.rule(sub)
		if err != nil {
			return nil, err
		}
		g.Add(p)
	}
	return g, nil
}

func (c *compiler) expressions(g *Group, grouped *GroupedExpressions) error {
	if err := c.addAttributes(g, grouped.Attributes); err != nil {
		return err
	}
	c.addLinkage(g, fieldValueLinkage, grouped.FieldValues)
	c.addAdminValues(g, grouped.AdminValues)
	c.addHierarchyValues(g, grouped.HierarchyValues)
	c.addHierarchyAdminValues(g, grouped.HierarchyAdminValues)
	if err := c.addDates(g, grouped.Dates); err != nil {
		return err
	}
	c.addLinkage(g, groupLinkage, grouped.Groups)
	c.addClassNone(g, grouped.ClassNone)
	c.addLinkage(g, classLinkage, grouped.Classes)
	c.addLinkage(g, certificationLinkage, grouped.Certifications)
	c.addUserToUser(g, grouped.UserToUser)
	return c.addAbilities(g, grouped.Abilities)
}

// nested compiles a delegated role rule as a root: an unconstrained rule
// admits everyone.
func (c *compiler) nested(rule *types.Rule) (Predicate, error) {
	t, err := c.trail.enter(rule, c.engine.maxAbilityDepth)
	if err != nil {
		return nil, fmt.Errorf("role rule %s: %w", rule.ID, err)
	}
	inner := &compiler{engine: c.engine, ctx: c.ctx, admin: c.admin, trail: t}
	p, err := inner.rule(rule)
	if err != nil {
		return nil, err
	}
	if p.empty() {
		return True, nil
	}
	return p, nil
}
