// internal/rules/operators.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Operator registry and in-memory comparison.
 *
 * Static tables map conditional and logical operator codes to their SQL
 * rendering and display labels. Lookups are pure; unregistered codes fail
 * with ErrUnknownOperator so compilation aborts for the offending rule.
 *
 * Operator families:
 *   - set:        is, excludes (IN / NOT IN, never a raw inequality)
 *   - hierarchy:  is_equal_to_or_below[_the_administrator] (user_to_user only)
 *   - comparison: eq, neq, gt, lt, gte, lte (attributes and dates)
 *
 * Compare mirrors the SQL comparison for the in-memory evaluator: numeric
 * ordering for int64 operands, byte-wise ordering for strings (SQLite BINARY
 * collation, and ISO dates order correctly as strings).
 */

// ConditionalInfo is the registry entry for a conditional operator.
type ConditionalInfo struct {
	Symbol string
	Label  string
}

// LogicalInfo is the registry entry for a logical operator.
type LogicalInfo struct {
	Keyword string
	Label   string
}

var conditionalOperators = map[types.ConditionalOperator]ConditionalInfo{
	types.OpIs:                       {Symbol: "IN", Label: "is"},
	types.OpExcludes:                 {Symbol: "NOT IN", Label: "excludes"},
	types.OpIsEqualToOrBelow:         {Symbol: "IN", Label: "is equal to or below"},
	types.OpIsEqualToOrBelowTheAdmin: {Symbol: "IN", Label: "is equal to or below the administrator"},
	types.OpEq:                       {Symbol: "=", Label: "equals"},
	types.OpNeq:                      {Symbol: "<>", Label: "does not equal"},
	types.OpGt:                       {Symbol: ">", Label: "is greater than"},
	types.OpLt:                       {Symbol: "<", Label: "is less than"},
	types.OpGte:                      {Symbol: ">=", Label: "is at least"},
	types.OpLte:                      {Symbol: "<=", Label: "is at most"},
}

var logicalOperators = map[types.LogicalOperator]LogicalInfo{
	types.LogicalAnd: {Keyword: "AND", Label: "all"},
	types.LogicalOr:  {Keyword: "OR", Label: "any"},
}

// LookupConditional returns the registry entry for a conditional operator code.
func LookupConditional(op types.ConditionalOperator) (ConditionalInfo, error) {
	info, ok := conditionalOperators[op]
	if !ok {
		return ConditionalInfo{}, fmt.Errorf("%w: conditional %q", types.ErrUnknownOperator, op)
	}
	return info, nil
}

// LookupLogical returns the registry entry for a logical operator code.
func LookupLogical(op types.LogicalOperator) (LogicalInfo, error) {
	info, ok := logicalOperators[op]
	if !ok {
		return LogicalInfo{}, fmt.Errorf("%w: logical %q", types.ErrUnknownOperator, op)
	}
	return info, nil
}

// isSetOperator reports whether op is IS or EXCLUDES.
func isSetOperator(op types.ConditionalOperator) bool {
	return op == types.OpIs || op == types.OpExcludes
}

// isComparison reports whether op is one of the scalar comparison operators.
func isComparison(op types.ConditionalOperator) bool {
	switch op {
	case types.OpEq, types.OpNeq, types.OpGt, types.OpLt, types.OpGte, types.OpLte:
		return true
	default:
		return false
	}
}

// isHierarchical reports whether op walks user-to-user relationships transitively.
func isHierarchical(op types.ConditionalOperator) bool {
	return op == types.OpIsEqualToOrBelow || op == types.OpIsEqualToOrBelowTheAdmin
}

// allMustMatch implements the tie-break rule for set-membership groups.
// IS under AND and EXCLUDES under OR both mean "holds for every value";
// EXCLUDES under AND and IS under OR mean "holds for at least one".
func allMustMatch(op types.ConditionalOperator, logical types.LogicalOperator) bool {
	excludes := op == types.OpExcludes
	return (!excludes && logical == types.LogicalAnd) || (excludes && logical == types.LogicalOr)
}

// Compare applies a conditional operator to two operands of the same kind.
// IS behaves as equality and EXCLUDES as its negation for scalar operands.
func Compare(op types.ConditionalOperator, value, target any) bool {
	c, ok := compareValues(value, target)
	if !ok {
		return false
	}
	switch op {
	case types.OpIs, types.OpEq:
		return c == 0
	case types.OpExcludes, types.OpNeq:
		return c != 0
	case types.OpGt:
		return c > 0
	case types.OpLt:
		return c < 0
	case types.OpGte:
		return c >= 0
	case types.OpLte:
		return c <= 0
	default:
		return false
	}
}

// compareValues performs three-way comparison (-1/0/1).
// Returns ok=false for mismatched kinds.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	default:
		return 0, false
	}
}
