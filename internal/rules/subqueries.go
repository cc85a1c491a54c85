// internal/rules/subqueries.go
package rules

import (
	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Per-family subquery builders.
 *
 * Each builder appends clauses to the rule's Group; the Group's operator is
 * the rule's logical operator, so every clause combines with its siblings the
 * same way. A clause always stands for the logical-operator combination of
 * the expressions it covers, which keeps the compiled form equivalent to
 * per-expression evaluation.
 *
 * Tie-break for set membership: IS under AND and EXCLUDES under OR must hold
 * for every value. Linkage tables realize that with a cardinality check
 * (HAVING COUNT(DISTINCT ..) = N) and NOT IN for EXCLUDES; everything else
 * emits one clause per value. The remaining combinations test the whole list
 * at once with a single IN / NOT IN.
 */

const usersID = "users.id"

// linkage describes a user-to-id membership table.
type linkage struct {
	column   string
	from     string
	joins    []string
	idColumn string
	extra    []Predicate
}

var (
	fieldValueLinkage = linkage{
		column:   "profile_values.user_id",
		from:     "profile_values",
		idColumn: "profile_values.value_id",
	}
	groupLinkage = linkage{
		column:   "user_group_users.user_id",
		from:     "user_group_users",
		idColumn: "user_group_users.user_group_id",
	}
	classLinkage = linkage{
		column:   "user_group_users.user_id",
		from:     "user_group_users",
		joins:    []string{"JOIN class_user_groups ON class_user_groups.user_group_id = user_group_users.user_group_id"},
		idColumn: "class_user_groups.class_id",
	}
	certificationLinkage = linkage{
		column:   "user_certifications.user_id",
		from:     "user_certifications",
		idColumn: "user_certifications.certification_id",
		extra:    []Predicate{Comparison{Column: "user_certifications.status", Symbol: "=", Value: "awarded"}},
	}
)

func (l linkage) selectIDs(ids []int64) *Select {
	where := append([]Predicate{InList{Column: l.idColumn, Values: anyIDs(ids)}}, l.extra...)
	return &Select{Column: l.column, From: l.from, Joins: l.joins, Where: where}
}

// membership renders one tie-break aware clause over a linkage table.
func (l linkage) membership(op types.ConditionalOperator, logical types.LogicalOperator, ids []int64) Predicate {
	sel := l.selectIDs(ids)
	if len(ids) > 1 && allMustMatch(op, logical) {
		sel.HavingDistinct = l.idColumn
		sel.HavingCount = len(ids)
	}
	return InQuery{Column: usersID, Negate: op == types.OpExcludes, Query: sel}
}

func (c *compiler) addAttributes(g *Group, groups []AttributeGroup) error {
	for _, ag := range groups {
		spec, err := lookupAttribute(ag.Attribute)
		if err != nil {
			return err
		}
		info, err := LookupConditional(ag.Op)
		if err != nil {
			return err
		}
		switch {
		case isComparison(ag.Op):
			for _, v := range ag.Values {
				g.Add(Comparison{Column: spec.column, Symbol: info.Symbol, Value: v})
			}
		case allMustMatch(ag.Op, g.Op):
			symbol := "="
			if ag.Op == types.OpExcludes {
				symbol = "<>"
			}
			for _, v := range ag.Values {
				g.Add(Comparison{Column: spec.column, Symbol: symbol, Value: v})
			}
		default:
			g.Add(InList{Column: spec.column, Negate: ag.Op == types.OpExcludes, Values: ag.Values})
		}
	}
	return nil
}

func (c *compiler) addLinkage(g *Group, l linkage, groups []ValueGroup) {
	for _, vg := range groups {
		if len(vg.Values) == 0 {
			continue
		}
		g.Add(l.membership(vg.Op, g.Op, vg.Values))
	}
}

// addAdminValues renders select/linked ADMIN_VALUE groups. An empty admin set
// is unsatisfiable. Under AND each (field, operator) stands alone; under OR
// the values of all fields are pooled per operator.
func (c *compiler) addAdminValues(g *Group, groups []FieldGroup) {
	if g.Op == types.LogicalAnd {
		for _, fg := range groups {
			g.Add(adminMembership(fg.Op, fg.Values))
		}
		return
	}
	for _, pool := range poolByOperator(groups) {
		g.Add(adminMembership(pool.Op, pool.Values))
	}
}

func adminMembership(op types.ConditionalOperator, ids []int64) Predicate {
	if len(ids) == 0 {
		return False
	}
	return InQuery{Column: usersID, Negate: op == types.OpExcludes, Query: fieldValueLinkage.selectIDs(ids)}
}

// poolByOperator merges field groups per operator, in first-seen order.
// A pool is empty only when every contributing field had no admin values.
func poolByOperator(groups []FieldGroup) []ValueGroup {
	var pools []ValueGroup
	for _, fg := range groups {
		pools = addValues(pools, fg.Op, fg.Values)
	}
	return pools
}

// hierarchyDescendants selects users holding a value at or beneath value's node.
func hierarchyDescendants(value int64) *Select {
	return &Select{
		Column: "profile_values.user_id",
		From:   "profile_values",
		Joins:  []string{"JOIN hierarchy_nodes ON hierarchy_nodes.field_value_id = profile_values.value_id"},
		Where:  []Predicate{PathPrefix{Column: "hierarchy_nodes.path", ValueID: value}},
	}
}

func hierarchyClause(op types.ConditionalOperator, value int64) Predicate {
	return InQuery{Column: usersID, Negate: op == types.OpExcludes, Query: hierarchyDescendants(value)}
}

func (c *compiler) addHierarchyValues(g *Group, groups []ValueGroup) {
	for _, vg := range groups {
		for _, v := range vg.Values {
			g.Add(hierarchyClause(vg.Op, v))
		}
	}
}

// addHierarchyAdminValues renders every hierarchy ADMIN_VALUE group as one
// conjunction regardless of the rule's operator: each admin value must hold.
func (c *compiler) addHierarchyAdminValues(g *Group, groups []FieldGroup) {
	if len(groups) == 0 {
		return
	}
	all := &Group{Op: types.LogicalAnd}
	for _, fg := range groups {
		if len(fg.Values) == 0 {
			all.Add(False)
			continue
		}
		for _, v := range fg.Values {
			all.Add(hierarchyClause(fg.Op, v))
		}
	}
	g.Add(all)
}

func dateSelect(field types.FieldID, cond Predicate) *Select {
	return &Select{
		Column: "profile_values.user_id",
		From:   "profile_values",
		Joins:  []string{"JOIN field_values ON field_values.id = profile_values.value_id"},
		Where: []Predicate{
			Comparison{Column: "profile_values.field_id", Symbol: "=", Value: int64(field)},
			IsNull{Column: "field_values.deleted_at"},
			cond,
		},
	}
}

// addDates renders date conditions. Under OR the conditions of one field share
// a subquery; under AND each condition gets its own, since different values
// of the field may satisfy different conditions.
func (c *compiler) addDates(g *Group, groups []DateGroup) error {
	var fields []types.FieldID
	conds := map[types.FieldID]*Group{}
	for _, dg := range groups {
		info, err := LookupConditional(dg.Op)
		if err != nil {
			return err
		}
		for _, day := range dg.Dates {
			cond := Comparison{Column: "field_values.value", Symbol: info.Symbol, Value: day}
			if g.Op == types.LogicalAnd {
				g.Add(InQuery{Column: usersID, Query: dateSelect(dg.Field, cond)})
				continue
			}
			if _, ok := conds[dg.Field]; !ok {
				fields = append(fields, dg.Field)
				conds[dg.Field] = &Group{Op: types.LogicalOr}
			}
			conds[dg.Field].Add(cond)
		}
	}
	for _, f := range fields {
		g.Add(InQuery{Column: usersID, Query: dateSelect(f, conds[f])})
	}
	return nil
}

// addClassNone renders "belongs to no class" before literal class ids.
func (c *compiler) addClassNone(g *Group, ops []types.ConditionalOperator) {
	for _, op := range ops {
		anyClass := &Select{Column: classLinkage.column, From: classLinkage.from, Joins: classLinkage.joins}
		g.Add(InQuery{Column: usersID, Negate: op == types.OpIs, Query: anyClass})
	}
}

// relatedSelect selects users pointing at any of targets through field.
func relatedSelect(field types.FieldID, targets Predicate) *Select {
	return &Select{
		Column: "profile_values.user_id",
		From:   "profile_values",
		Where: []Predicate{
			Comparison{Column: "profile_values.field_id", Symbol: "=", Value: int64(field)},
			targets,
		},
	}
}

// relatedLevels unions levels 1..limit of the relationship closure below targets.
// Level 1 points at a target directly; level N points at someone on level N-1.
func relatedLevels(field types.FieldID, targets []int64, limit int) UnionAll {
	level := relatedSelect(field, InList{Column: "profile_values.related_user_id", Values: anyIDs(targets)})
	levels := UnionAll{level}
	for i := 1; i < limit; i++ {
		level = relatedSelect(field, InQuery{Column: "profile_values.related_user_id", Query: level})
		levels = append(levels, level)
	}
	return levels
}

func (c *compiler) addUserToUser(g *Group, groups []FieldGroup) {
	for _, fg := range groups {
		for _, targets := range splitByTieBreak(fg.Op, g.Op, fg.Values) {
			var q Query
			if isHierarchical(fg.Op) {
				q = relatedLevels(fg.Field, targets, c.engine.depthLimit)
			} else {
				q = relatedSelect(fg.Field, InList{Column: "profile_values.related_user_id", Values: anyIDs(targets)})
			}
			g.Add(InQuery{Column: usersID, Negate: fg.Op == types.OpExcludes, Query: q})
		}
	}
}

func (c *compiler) addAbilities(g *Group, groups []ValueGroup) error {
	for _, vg := range groups {
		for _, abilities := range splitByTieBreak(vg.Op, g.Op, vg.Values) {
			p, err := c.abilityPredicate(abilities)
			if err != nil {
				return err
			}
			if vg.Op == types.OpExcludes {
				p = Not{Inner: p}
			}
			g.Add(p)
		}
	}
	return nil
}

// abilityPredicate OR-combines the delegated rules of every role holding one
// of the abilities. No role, or no delegated rule, is unsatisfiable.
func (c *compiler) abilityPredicate(abilities []int64) (Predicate, error) {
	roles, err := c.engine.dir.RolesWithAbility(c.ctx, abilities)
	if err != nil {
		return nil, err
	}
	anyRole := &Group{Op: types.LogicalOr}
	for _, role := range roles {
		rule, err := c.engine.dir.RoleRule(c.ctx, role.ID)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			continue
		}
		p, err := c.nested(rule)
		if err != nil {
			return nil, err
		}
		anyRole.Add(p)
	}
	if len(anyRole.Clauses) == 0 {
		return False, nil
	}
	return anyRole, nil
}

// splitByTieBreak yields one list per value when every value must hold on its
// own, or the whole list once when a single set test suffices.
func splitByTieBreak(op types.ConditionalOperator, logical types.LogicalOperator, ids []int64) [][]int64 {
	if !allMustMatch(op, logical) {
		return [][]int64{ids}
	}
	out := make([][]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, []int64{id})
	}
	return out
}

func anyIDs(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
