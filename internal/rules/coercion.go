// internal/rules/coercion.go
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Value coercion for expression values.
 *
 * Expression values are stored as strings. Each operand family coerces them
 * strictly: ids must be base-10 integers, dates must parse with one of the
 * accepted layouts and are normalized to calendar days (YYYY-MM-DD), numeric
 * attributes must be integers. Failures surface as ErrInvalidValue so a bad
 * expression aborts compilation instead of silently matching nothing.
 *
 * Text attributes are lenient: the raw string is the value.
 */

// DateLayout is the calendar-day form dates are stored and compared in.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"January 2, 2006",
}

// attributeKind distinguishes numeric from text user attributes.
type attributeKind int

const (
	attributeNumeric attributeKind = iota
	attributeText
)

type attributeSpec struct {
	column string
	kind   attributeKind
}

// userAttributes whitelists the users columns an expression may target.
var userAttributes = map[string]attributeSpec{
	"id":               {column: "users.id", kind: attributeNumeric},
	"points":           {column: "users.points", kind: attributeNumeric},
	"preferred_locale": {column: "users.preferred_locale", kind: attributeText},
	"email":            {column: "users.email", kind: attributeText},
}

func lookupAttribute(name string) (attributeSpec, error) {
	spec, ok := userAttributes[name]
	if !ok {
		return attributeSpec{}, fmt.Errorf("%w: %q", types.ErrUnknownAttribute, name)
	}
	return spec, nil
}

// coerceAttribute converts a raw value to the attribute's kind (int64 or string).
func coerceAttribute(spec attributeSpec, raw string) (any, error) {
	if spec.kind == attributeText {
		return raw, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", types.ErrInvalidValue, raw)
	}
	return n, nil
}

// attributeOf reads an attribute from an in-memory user in the attribute's kind.
func attributeOf(u *types.User, name string) any {
	switch name {
	case "id":
		return int64(u.ID)
	case "points":
		return u.Points
	case "preferred_locale":
		return u.PreferredLocale
	case "email":
		return u.Email
	default:
		return nil
	}
}

// parseID parses an integer identifier value.
func parseID(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an id", types.ErrInvalidValue, raw)
	}
	return n, nil
}

// parseFieldID parses an expression operand naming a field.
func parseFieldID(operand string) (types.FieldID, error) {
	n, err := parseID(operand)
	if err != nil {
		return 0, fmt.Errorf("field operand: %w", err)
	}
	return types.FieldID(n), nil
}

// NormalizeDate parses raw with the accepted layouts and returns its calendar day.
func NormalizeDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a date", types.ErrInvalidValue, raw)
}

// uniqueIDs removes duplicates while preserving first-seen order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}
