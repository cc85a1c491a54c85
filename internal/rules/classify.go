// internal/rules/classify.go
package rules

import (
	"context"
	"fmt"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Expression classification.
 *
 * Every expression is first normalized on its own (classifyExpression):
 * operator validated for its family, value coerced, ADMIN_VALUE replaced by
 * the admin's resolved values. Classify then folds the normalized items into
 * GroupedExpressions, the per-family form the subquery builders consume.
 * The in-memory evaluator uses the same normalized items, so both paths
 * agree on validation and admin substitution.
 *
 * Grouping keys:
 *   - attributes:           (attribute, operator)
 *   - FieldValue:           operator
 *   - AdminValue:           (field, operator), present even when empty
 *   - HierarchyFieldValue:  operator
 *   - HierarchyAdminValue:  (field, operator), present even when empty
 *   - Date:                 (field, operator)
 *   - Group/Class/Cert:     operator, ids deduplicated
 *   - UserToUser:           (field, operator)
 *   - Ability:              operator
 *
 * Group order follows first appearance so compiled SQL is deterministic.
 */

// family is the closed set of expression kinds after classification.
type family int

const (
	familyAttribute family = iota
	familyFieldValue
	familyAdminValue
	familyHierarchyValue
	familyHierarchyAdminValue
	familyDate
	familyGroup
	familyClass
	familyCertification
	familyUserToUser
	familyAbility
)

// item is one expression after normalization.
type item struct {
	family    family
	expr      types.Expression
	op        types.ConditionalOperator
	field     types.FieldID
	attribute string
	scalar    any
	ids       []int64
	none      bool
}

// AttributeGroup collects user-attribute values for one (attribute, operator).
type AttributeGroup struct {
	Attribute string
	Op        types.ConditionalOperator
	Values    []any
}

// ValueGroup collects ids under one operator.
type ValueGroup struct {
	Op     types.ConditionalOperator
	Values []int64
}

// FieldGroup collects ids for one (field, operator).
type FieldGroup struct {
	Field  types.FieldID
	Op     types.ConditionalOperator
	Values []int64
}

// DateGroup collects normalized dates for one (field, operator).
type DateGroup struct {
	Field types.FieldID
	Op    types.ConditionalOperator
	Dates []string
}

// GroupedExpressions is the normalized intermediate form of a rule's own expressions.
type GroupedExpressions struct {
	Attributes           []AttributeGroup
	FieldValues          []ValueGroup
	AdminValues          []FieldGroup
	HierarchyValues      []ValueGroup
	HierarchyAdminValues []FieldGroup
	Dates                []DateGroup
	Groups               []ValueGroup
	Classes              []ValueGroup
	ClassNone            []types.ConditionalOperator
	Certifications       []ValueGroup
	UserToUser           []FieldGroup
	Abilities            []ValueGroup

	// Skipped holds expressions with an unrecognized operand type.
	Skipped []types.Expression
}

// Empty reports whether no group constrains anything.
func (g *GroupedExpressions) Empty() bool {
	return len(g.Attributes) == 0 && len(g.FieldValues) == 0 && len(g.AdminValues) == 0 &&
		len(g.HierarchyValues) == 0 && len(g.HierarchyAdminValues) == 0 && len(g.Dates) == 0 &&
		len(g.Groups) == 0 && len(g.Classes) == 0 && len(g.ClassNone) == 0 &&
		len(g.Certifications) == 0 && len(g.UserToUser) == 0 && len(g.Abilities) == 0
}

// Classify normalizes and groups expressions. admin may be nil when no
// expression uses ADMIN_VALUE.
func (e *Engine) Classify(ctx context.Context, exprs []types.Expression, admin *types.User) (*GroupedExpressions, error) {
	items, skipped, err := e.classifyAll(ctx, exprs, admin)
	if err != nil {
		return nil, err
	}
	g := &GroupedExpressions{Skipped: skipped}
	for _, it := range items {
		g.add(it)
	}
	return g, nil
}

func (e *Engine) classifyAll(ctx context.Context, exprs []types.Expression, admin *types.User) ([]item, []types.Expression, error) {
	var items []item
	var skipped []types.Expression
	for _, expr := range exprs {
		it, ok, err := e.classifyExpression(ctx, expr, admin)
		if err != nil {
			return nil, nil, fmt.Errorf("expression %s %s %s %q: %w",
				expr.OperandType, expr.Operand, expr.ConditionalOperator, expr.Value, err)
		}
		if !ok {
			e.logger.Warn().
				Str("rule_id", string(expr.RuleID)).
				Str("operand_type", string(expr.OperandType)).
				Str("operand", expr.Operand).
				Msg("skipping expression with unrecognized operand type")
			skipped = append(skipped, expr)
			continue
		}
		items = append(items, it)
	}
	return items, skipped, nil
}

// classifyExpression normalizes one expression. ok is false for an
// unrecognized operand type, which constrains nothing.
func (e *Engine) classifyExpression(ctx context.Context, expr types.Expression, admin *types.User) (item, bool, error) {
	op := expr.ConditionalOperator
	if _, err := LookupConditional(op); err != nil {
		return item{}, false, err
	}
	it := item{expr: expr, op: op}

	switch expr.OperandType {
	case types.OperandUserAttribute:
		if isHierarchical(op) {
			return item{}, false, invalidOperator(expr)
		}
		spec, err := lookupAttribute(expr.Operand)
		if err != nil {
			return item{}, false, err
		}
		v, err := coerceAttribute(spec, expr.Value)
		if err != nil {
			return item{}, false, err
		}
		it.family, it.attribute, it.scalar = familyAttribute, expr.Operand, v

	case types.OperandSelect, types.OperandLinked:
		if !isSetOperator(op) {
			return item{}, false, invalidOperator(expr)
		}
		if expr.IsAdminValue() {
			field, ids, err := e.adminValues(ctx, expr, admin)
			if err != nil {
				return item{}, false, err
			}
			it.family, it.field, it.ids = familyAdminValue, field, ids
			break
		}
		id, err := parseID(expr.Value)
		if err != nil {
			return item{}, false, err
		}
		it.family, it.ids = familyFieldValue, []int64{id}

	case types.OperandHierarchy:
		if !isSetOperator(op) {
			return item{}, false, invalidOperator(expr)
		}
		if expr.IsAdminValue() {
			field, ids, err := e.adminValues(ctx, expr, admin)
			if err != nil {
				return item{}, false, err
			}
			it.family, it.field, it.ids = familyHierarchyAdminValue, field, ids
			break
		}
		id, err := parseID(expr.Value)
		if err != nil {
			return item{}, false, err
		}
		it.family, it.ids = familyHierarchyValue, []int64{id}

	case types.OperandDate:
		if op == types.OpIs {
			op = types.OpEq
		}
		if !isComparison(op) {
			return item{}, false, invalidOperator(expr)
		}
		field, err := e.dateField(ctx, expr)
		if err != nil {
			return item{}, false, err
		}
		day, err := NormalizeDate(expr.Value)
		if err != nil {
			return item{}, false, err
		}
		it.family, it.op, it.field, it.scalar = familyDate, op, field, day

	case types.OperandGroup, types.OperandCertification, types.OperandAbility:
		if !isSetOperator(op) {
			return item{}, false, invalidOperator(expr)
		}
		id, err := parseID(expr.Value)
		if err != nil {
			return item{}, false, err
		}
		it.ids = []int64{id}
		switch expr.OperandType {
		case types.OperandGroup:
			it.family = familyGroup
		case types.OperandCertification:
			it.family = familyCertification
		default:
			it.family = familyAbility
		}

	case types.OperandClass:
		if !isSetOperator(op) {
			return item{}, false, invalidOperator(expr)
		}
		it.family = familyClass
		if expr.Value == types.ClassNone {
			it.none = true
			break
		}
		id, err := parseID(expr.Value)
		if err != nil {
			return item{}, false, err
		}
		it.ids = []int64{id}

	case types.OperandUserToUser:
		if !isSetOperator(op) && !isHierarchical(op) {
			return item{}, false, invalidOperator(expr)
		}
		field, err := parseFieldID(expr.Operand)
		if err != nil {
			return item{}, false, err
		}
		var target int64
		if expr.IsAdminValue() {
			if admin == nil {
				return item{}, false, types.ErrAdminRequired
			}
			target = int64(admin.ID)
		} else if target, err = parseID(expr.Value); err != nil {
			return item{}, false, err
		}
		it.family, it.field, it.ids = familyUserToUser, field, []int64{target}

	default:
		return item{}, false, nil
	}
	return it, true, nil
}

// adminValues resolves the admin's current values for the expression's field.
// An empty result is valid and compiles to an unsatisfiable clause.
func (e *Engine) adminValues(ctx context.Context, expr types.Expression, admin *types.User) (types.FieldID, []int64, error) {
	if admin == nil {
		return 0, nil, types.ErrAdminRequired
	}
	id, err := parseFieldID(expr.Operand)
	if err != nil {
		return 0, nil, err
	}
	field, err := e.dir.Field(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	vals, err := e.dir.AdminValues(ctx, field, admin)
	if err != nil {
		return 0, nil, fmt.Errorf("admin values for field %d: %w", id, err)
	}
	ids := make([]int64, 0, len(vals))
	for _, v := range vals {
		ids = append(ids, int64(v))
	}
	return id, uniqueIDs(ids), nil
}

// dateField resolves the operand of a date expression. Only values of
// date-typed fields are compared as dates.
func (e *Engine) dateField(ctx context.Context, expr types.Expression) (types.FieldID, error) {
	id, err := parseFieldID(expr.Operand)
	if err != nil {
		return 0, err
	}
	field, err := e.dir.Field(ctx, id)
	if err != nil {
		return 0, err
	}
	if field.Type != types.FieldTypeDate {
		return 0, fmt.Errorf("%w: field %d is %s, not date", types.ErrInvalidOperator, id, field.Type)
	}
	return id, nil
}

func invalidOperator(expr types.Expression) error {
	return fmt.Errorf("%w: %q for operand type %q", types.ErrInvalidOperator, expr.ConditionalOperator, expr.OperandType)
}

func (g *GroupedExpressions) add(it item) {
	switch it.family {
	case familyAttribute:
		for i := range g.Attributes {
			a := &g.Attributes[i]
			if a.Attribute == it.attribute && a.Op == it.op {
				a.Values = appendUniqueScalar(a.Values, it.scalar)
				return
			}
		}
		g.Attributes = append(g.Attributes, AttributeGroup{Attribute: it.attribute, Op: it.op, Values: []any{it.scalar}})
	case familyFieldValue:
		g.FieldValues = addValues(g.FieldValues, it.op, it.ids)
	case familyAdminValue:
		g.AdminValues = addFieldValues(g.AdminValues, it.field, it.op, it.ids)
	case familyHierarchyValue:
		g.HierarchyValues = addValues(g.HierarchyValues, it.op, it.ids)
	case familyHierarchyAdminValue:
		g.HierarchyAdminValues = addFieldValues(g.HierarchyAdminValues, it.field, it.op, it.ids)
	case familyDate:
		for i := range g.Dates {
			d := &g.Dates[i]
			if d.Field == it.field && d.Op == it.op {
				if s := it.scalar.(string); !containsString(d.Dates, s) {
					d.Dates = append(d.Dates, s)
				}
				return
			}
		}
		g.Dates = append(g.Dates, DateGroup{Field: it.field, Op: it.op, Dates: []string{it.scalar.(string)}})
	case familyGroup:
		g.Groups = addValues(g.Groups, it.op, it.ids)
	case familyClass:
		if it.none {
			for _, op := range g.ClassNone {
				if op == it.op {
					return
				}
			}
			g.ClassNone = append(g.ClassNone, it.op)
			return
		}
		g.Classes = addValues(g.Classes, it.op, it.ids)
	case familyCertification:
		g.Certifications = addValues(g.Certifications, it.op, it.ids)
	case familyUserToUser:
		g.UserToUser = addFieldValues(g.UserToUser, it.field, it.op, it.ids)
	case familyAbility:
		g.Abilities = addValues(g.Abilities, it.op, it.ids)
	}
}

func addValues(groups []ValueGroup, op types.ConditionalOperator, ids []int64) []ValueGroup {
	for i := range groups {
		if groups[i].Op == op {
			groups[i].Values = uniqueIDs(append(groups[i].Values, ids...))
			return groups
		}
	}
	return append(groups, ValueGroup{Op: op, Values: uniqueIDs(ids)})
}

func addFieldValues(groups []FieldGroup, field types.FieldID, op types.ConditionalOperator, ids []int64) []FieldGroup {
	for i := range groups {
		if groups[i].Field == field && groups[i].Op == op {
			groups[i].Values = uniqueIDs(append(groups[i].Values, ids...))
			return groups
		}
	}
	return append(groups, FieldGroup{Field: field, Op: op, Values: uniqueIDs(ids)})
}

func appendUniqueScalar(vals []any, v any) []any {
	for _, have := range vals {
		if have == v {
			return vals
		}
	}
	return append(vals, v)
}

func containsString(vals []string, s string) bool {
	for _, have := range vals {
		if have == s {
			return true
		}
	}
	return false
}
