// Package rulestest generates random rule trees over a fixed vocabulary.
// Property tests use it to drive Compile and Evaluate with the same inputs.
package rulestest

import (
	"math/rand"
	"strconv"

	"github.com/solatis/rulekeeper/internal/types"
)

// Vocabulary is the set of ids and literals generated expressions draw from.
// Empty slices disable the corresponding operand types.
type Vocabulary struct {
	SelectField     types.FieldID
	SelectValues    []int64
	HierarchyField  types.FieldID
	HierarchyValues []int64
	DateField       types.FieldID
	Dates           []string
	RelationField   types.FieldID
	Users           []int64
	Groups          []int64
	Classes         []int64
	Certifications  []int64
	Abilities       []int64
	Locales         []string

	// AdminValues enables ADMIN_VALUE expressions; the caller must pass an admin.
	AdminValues bool

	// MisdirectedDates are non-date fields a date expression is sometimes
	// aimed at. Compile and Evaluate both reject such expressions.
	MisdirectedDates []types.FieldID
}

var (
	setOps      = []types.ConditionalOperator{types.OpIs, types.OpExcludes}
	compareOps  = []types.ConditionalOperator{types.OpEq, types.OpNeq, types.OpGt, types.OpLt, types.OpGte, types.OpLte}
	attrOps     = append(append([]types.ConditionalOperator{}, setOps...), compareOps...)
	dateOps     = append([]types.ConditionalOperator{types.OpIs}, compareOps...)
	relationOps = []types.ConditionalOperator{types.OpIs, types.OpExcludes, types.OpIsEqualToOrBelow, types.OpIsEqualToOrBelowTheAdmin}
	logicalOps  = []types.LogicalOperator{types.LogicalAnd, types.LogicalOr}
)

// Rule returns a random transient rule tree nested at most depth levels below the root.
func Rule(rng *rand.Rand, v Vocabulary, depth int) *types.Rule {
	r := &types.Rule{LogicalOperator: pick(rng, logicalOps)}
	for n := rng.Intn(4); n > 0; n-- {
		if e, ok := Expression(rng, v); ok {
			r.Expressions = append(r.Expressions, e)
		}
	}
	if depth > 0 {
		for n := rng.Intn(3); n > 0; n-- {
			r.AddSubRule(Rule(rng, v, depth-1))
		}
	}
	return r
}

// Expression returns a random expression, or ok=false when the drawn operand
// type has no vocabulary.
func Expression(rng *rand.Rand, v Vocabulary) (types.Expression, bool) {
	switch rng.Intn(12) {
	case 0:
		return attribute(rng, v), true
	case 1:
		if len(v.SelectValues) == 0 {
			return types.Expression{}, false
		}
		e := types.Expression{
			OperandType:         pick(rng, []types.OperandType{types.OperandSelect, types.OperandLinked}),
			Operand:             itoa(int64(v.SelectField)),
			ConditionalOperator: pick(rng, setOps),
			Value:               itoa(pick(rng, v.SelectValues)),
		}
		if v.AdminValues && rng.Intn(3) == 0 {
			e.Value = types.AdminValue
		}
		return e, true
	case 2:
		if len(v.HierarchyValues) == 0 {
			return types.Expression{}, false
		}
		e := types.Expression{
			OperandType:         types.OperandHierarchy,
			Operand:             itoa(int64(v.HierarchyField)),
			ConditionalOperator: pick(rng, setOps),
			Value:               itoa(pick(rng, v.HierarchyValues)),
		}
		if v.AdminValues && rng.Intn(3) == 0 {
			e.Value = types.AdminValue
		}
		return e, true
	case 3:
		if len(v.Dates) == 0 {
			return types.Expression{}, false
		}
		e := types.Expression{
			OperandType:         types.OperandDate,
			Operand:             itoa(int64(v.DateField)),
			ConditionalOperator: pick(rng, dateOps),
			Value:               pick(rng, v.Dates),
		}
		if len(v.MisdirectedDates) > 0 && rng.Intn(5) == 0 {
			e.Operand = itoa(int64(pick(rng, v.MisdirectedDates)))
		}
		return e, true
	case 4:
		return ids(rng, types.OperandGroup, v.Groups)
	case 5:
		if len(v.Classes) > 0 && rng.Intn(4) == 0 {
			return types.Expression{
				OperandType:         types.OperandClass,
				ConditionalOperator: pick(rng, setOps),
				Value:               types.ClassNone,
			}, true
		}
		return ids(rng, types.OperandClass, v.Classes)
	case 6:
		return ids(rng, types.OperandCertification, v.Certifications)
	case 7:
		return ids(rng, types.OperandAbility, v.Abilities)
	case 8, 9:
		if len(v.Users) == 0 {
			return types.Expression{}, false
		}
		e := types.Expression{
			OperandType:         types.OperandUserToUser,
			Operand:             itoa(int64(v.RelationField)),
			ConditionalOperator: pick(rng, relationOps),
			Value:               itoa(pick(rng, v.Users)),
		}
		if v.AdminValues && rng.Intn(4) == 0 {
			e.Value = types.AdminValue
		}
		return e, true
	case 10:
		return attribute(rng, v), true
	default:
		return types.Expression{
			OperandType:         "legacy_score",
			Operand:             "1",
			ConditionalOperator: types.OpIs,
			Value:               "1",
		}, true
	}
}

// Misdirected reports whether any expression in r is a date expression aimed
// at one of v.MisdirectedDates, and whether one sits among r's own expressions.
func Misdirected(r *types.Rule, v Vocabulary) (anywhere, own bool) {
	hit := func(exprs []types.Expression) bool {
		for _, e := range exprs {
			if e.OperandType != types.OperandDate {
				continue
			}
			for _, f := range v.MisdirectedDates {
				if e.Operand == itoa(int64(f)) {
					return true
				}
			}
		}
		return false
	}
	own = hit(r.Expressions)
	anywhere = own
	r.Walk(func(n *types.Rule) {
		anywhere = anywhere || hit(n.Expressions)
	})
	return anywhere, own
}

func attribute(rng *rand.Rand, v Vocabulary) types.Expression {
	e := types.Expression{
		OperandType:         types.OperandUserAttribute,
		ConditionalOperator: pick(rng, attrOps),
	}
	switch {
	case len(v.Locales) > 0 && rng.Intn(3) == 0:
		e.Operand, e.Value = "preferred_locale", pick(rng, v.Locales)
	case len(v.Users) > 0 && rng.Intn(2) == 0:
		e.Operand, e.Value = "id", itoa(pick(rng, v.Users))
	default:
		e.Operand, e.Value = "points", itoa(int64(rng.Intn(5)*50))
	}
	return e
}

func ids(rng *rand.Rand, t types.OperandType, vals []int64) (types.Expression, bool) {
	if len(vals) == 0 {
		return types.Expression{}, false
	}
	return types.Expression{
		OperandType:         t,
		ConditionalOperator: pick(rng, setOps),
		Value:               itoa(pick(rng, vals)),
	}, true
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.Intn(len(xs))]
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
