// internal/types/rules.go
package types

import (
	"encoding/json"
	"strings"
)

/*
 * Domain types for the rule tree.
 *
 * A Rule owns an ordered list of Expressions and an ordered list of child
 * Rules. The parent pointer is a non-owning back-reference used only for
 * upward traversal (Root); ownership always flows parent -> child.
 *
 * Key types:
 *   - Rule: tree node (logical operator, expressions, sub-rules)
 *   - Expression: leaf predicate (operand type, operand, operator, value)
 *   - RuleDefinition: nested wire form used to create, update and clone
 *
 * Transient rules carry empty IDs; the store assigns UUIDv7 IDs on save.
 */

// LogicalOperator combines sibling expressions and sub-rules.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
)

// ConditionalOperator compares an expression operand against its value.
type ConditionalOperator string

const (
	OpIs                       ConditionalOperator = "is"
	OpExcludes                 ConditionalOperator = "excludes"
	OpIsEqualToOrBelow         ConditionalOperator = "is_equal_to_or_below"
	OpIsEqualToOrBelowTheAdmin ConditionalOperator = "is_equal_to_or_below_the_administrator"
	OpEq                       ConditionalOperator = "eq"
	OpNeq                      ConditionalOperator = "neq"
	OpGt                       ConditionalOperator = "gt"
	OpLt                       ConditionalOperator = "lt"
	OpGte                      ConditionalOperator = "gte"
	OpLte                      ConditionalOperator = "lte"
)

// OperandType selects the data source an expression targets.
type OperandType string

const (
	OperandUserAttribute OperandType = "user_attribute"
	OperandSelect        OperandType = "select"
	OperandLinked        OperandType = "linked"
	OperandHierarchy     OperandType = "hierarchy"
	OperandDate          OperandType = "date"
	OperandGroup         OperandType = "group"
	OperandClass         OperandType = "class"
	OperandCertification OperandType = "certification"
	OperandAbility       OperandType = "ability"
	OperandUserToUser    OperandType = "user_to_user"
)

// AdminValue is the expression value meaning "the evaluating admin's own value(s)".
const AdminValue = "ADMIN_VALUE"

// ClassNone is the class expression value meaning "belongs to no class".
const ClassNone = "none"

// Expression is a single leaf predicate of a rule.
type Expression struct {
	ID                  ExpressionID        `db:"id" json:"id,omitempty"`
	RuleID              RuleID              `db:"rule_id" json:"rule_id,omitempty"`
	OperandType         OperandType         `db:"operand_type" json:"operand_type"`
	Operand             string              `db:"operand" json:"operand"`
	ConditionalOperator ConditionalOperator `db:"conditional_operator" json:"conditional_operator"`
	Value               string              `db:"value" json:"value"`
}

// IsAdminValue reports whether the expression substitutes the admin's values.
func (e Expression) IsAdminValue() bool {
	return e.Value == AdminValue
}

// Rule is a node of the rule tree.
type Rule struct {
	ID              RuleID          `db:"id" json:"id,omitempty"`
	ParentRuleID    *RuleID         `db:"parent_rule_id" json:"parent_rule_id,omitempty"`
	ClientID        int64           `db:"client_id" json:"client_id,omitempty"`
	Name            string          `db:"name" json:"name,omitempty"`
	LogicalOperator LogicalOperator `db:"logical_operator" json:"logical_operator"`
	Expressions     []Expression    `db:"-" json:"expressions,omitempty"`
	SubRules        []*Rule         `db:"-" json:"sub_rules,omitempty"`

	parent *Rule
}

// ExpressionDefinition is the wire form of an expression.
type ExpressionDefinition struct {
	OperandType         OperandType         `json:"operand_type"`
	Operand             string              `json:"operand"`
	ConditionalOperator ConditionalOperator `json:"conditional_operator"`
	Value               string              `json:"value"`
}

// RuleDefinition is the nested wire form of a rule tree.
type RuleDefinition struct {
	Name            string                 `json:"name,omitempty"`
	ClientID        int64                  `json:"client_id,omitempty"`
	LogicalOperator LogicalOperator        `json:"logical_operator"`
	Expressions     []ExpressionDefinition `json:"expressions,omitempty"`
	SubRules        []RuleDefinition       `json:"sub_rules,omitempty"`
}

// NewRule materializes a transient rule tree from a definition.
func NewRule(def RuleDefinition) *Rule {
	r := &Rule{
		ClientID:        def.ClientID,
		Name:            def.Name,
		LogicalOperator: def.LogicalOperator,
	}
	r.fill(def)
	return r
}

func (r *Rule) fill(def RuleDefinition) {
	for _, ed := range def.Expressions {
		r.Expressions = append(r.Expressions, Expression{
			OperandType:         ed.OperandType,
			Operand:             ed.Operand,
			ConditionalOperator: ed.ConditionalOperator,
			Value:               ed.Value,
		})
	}
	for _, sd := range def.SubRules {
		r.AddSubRule(NewRule(sd))
	}
}

// Definition converts the tree back to its nested wire form.
func (r *Rule) Definition() RuleDefinition {
	def := RuleDefinition{
		Name:            r.Name,
		ClientID:        r.ClientID,
		LogicalOperator: r.LogicalOperator,
	}
	for _, e := range r.Expressions {
		def.Expressions = append(def.Expressions, ExpressionDefinition{
			OperandType:         e.OperandType,
			Operand:             e.Operand,
			ConditionalOperator: e.ConditionalOperator,
			Value:               e.Value,
		})
	}
	for _, sub := range r.SubRules {
		def.SubRules = append(def.SubRules, sub.Definition())
	}
	return def
}

// Replace discards the owned expressions and sub-rules and rebuilds them from def.
// The rule keeps its ID and parent.
func (r *Rule) Replace(def RuleDefinition) {
	if def.Name != "" {
		r.Name = def.Name
	}
	r.LogicalOperator = def.LogicalOperator
	r.Expressions = nil
	r.SubRules = nil
	r.fill(def)
}

// AddSubRule appends child and points its back-reference at r.
func (r *Rule) AddSubRule(child *Rule) {
	child.parent = r
	if r.ID != "" {
		id := r.ID
		child.ParentRuleID = &id
	} else {
		child.ParentRuleID = nil
	}
	r.SubRules = append(r.SubRules, child)
}

// Parent returns the in-memory parent, nil for a root.
func (r *Rule) Parent() *Rule {
	return r.parent
}

// Root walks parent references to the top of the tree.
func (r *Rule) Root() *Rule {
	cur := r
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// AssignIDs gives every node and expression without an ID a fresh UUIDv7
// and links ParentRuleID/RuleID accordingly.
func (r *Rule) AssignIDs() {
	if r.ID == "" {
		r.ID = NewRuleID()
	}
	for i := range r.Expressions {
		if r.Expressions[i].ID == "" {
			r.Expressions[i].ID = NewExpressionID()
		}
		r.Expressions[i].RuleID = r.ID
	}
	for _, sub := range r.SubRules {
		id := r.ID
		sub.ParentRuleID = &id
		sub.parent = r
		sub.AssignIDs()
	}
}

// Walk visits r and every descendant depth-first, parents before children.
func (r *Rule) Walk(fn func(*Rule)) {
	fn(r)
	for _, sub := range r.SubRules {
		sub.Walk(fn)
	}
}

// HasExpressions reports whether r or any descendant holds at least one expression.
// A subtree without expressions matches no one.
func (r *Rule) HasExpressions() bool {
	if len(r.Expressions) > 0 {
		return true
	}
	for _, sub := range r.SubRules {
		if sub.HasExpressions() {
			return true
		}
	}
	return false
}

// Clone returns a transient deep copy. When keep is non-nil only expressions it
// accepts survive, and sub-rules left without expressions are pruned.
func (r *Rule) Clone(keep func(Expression) bool) *Rule {
	c := NewRule(r.Definition())
	if keep != nil {
		c.filterExpressions(keep)
	}
	return c
}

func (r *Rule) filterExpressions(keep func(Expression) bool) {
	kept := r.Expressions[:0]
	for _, e := range r.Expressions {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	r.Expressions = kept

	subs := r.SubRules[:0]
	for _, sub := range r.SubRules {
		sub.filterExpressions(keep)
		if sub.HasExpressions() {
			subs = append(subs, sub)
		}
	}
	r.SubRules = subs
}

// CloneAndRetainAdminValueExpressions keeps only ADMIN_VALUE expressions.
// Isolates the criteria an admin must fulfil for a user to fall under them.
func (r *Rule) CloneAndRetainAdminValueExpressions() *Rule {
	return r.Clone(func(e Expression) bool { return e.IsAdminValue() })
}

// CloneAndRejectAdminValueExpressions keeps only literal expressions.
func (r *Rule) CloneAndRejectAdminValueExpressions() *Rule {
	return r.Clone(func(e Expression) bool { return !e.IsAdminValue() })
}

// ContainsAdminValueExpression scans r and its descendants for ADMIN_VALUE.
func (r *Rule) ContainsAdminValueExpression() bool {
	return r.containsExpression(func(e Expression) bool { return e.IsAdminValue() })
}

// ContainsUserToUserExpression scans r and its descendants for user_to_user operands.
func (r *Rule) ContainsUserToUserExpression() bool {
	return r.containsExpression(func(e Expression) bool { return e.OperandType == OperandUserToUser })
}

func (r *Rule) containsExpression(match func(Expression) bool) bool {
	for _, e := range r.Expressions {
		if match(e) {
			return true
		}
	}
	for _, sub := range r.SubRules {
		if sub.containsExpression(match) {
			return true
		}
	}
	return false
}

// Combine wraps rules as the sub-rules of a new transient parent joined by op.
// The inputs are attached as-is, so their back-references now point at the new parent.
func Combine(op LogicalOperator, rules ...*Rule) (*Rule, error) {
	if len(rules) == 0 {
		return nil, ErrEmptyCombine
	}
	combined := &Rule{
		ClientID:        rules[0].ClientID,
		LogicalOperator: op,
	}
	for _, r := range rules {
		combined.AddSubRule(r)
	}
	return combined, nil
}

// CopyName derives the name of a copied rule: "<name> (copy)", never stacking suffixes.
func CopyName(name string) string {
	if strings.Contains(name, "(copy)") {
		return strings.TrimSpace(strings.ReplaceAll(name, "(copy)", "")) + " (copy)"
	}
	return name + " (copy)"
}

type snapshot struct {
	Operator    LogicalOperator `json:"o"`
	Expressions []string        `json:"e,omitempty"`
	SubRules    []snapshot      `json:"r,omitempty"`
}

func (r *Rule) snapshot() snapshot {
	s := snapshot{Operator: r.LogicalOperator}
	for _, e := range r.Expressions {
		s.Expressions = append(s.Expressions, strings.Join([]string{
			string(e.OperandType), e.Operand, string(e.ConditionalOperator), e.Value,
		}, "|"))
	}
	for _, sub := range r.SubRules {
		s.SubRules = append(s.SubRules, sub.snapshot())
	}
	return s
}

// Snapshot renders the compact revision form of the tree:
// {"o": operator, "e": ["type|operand|operator|value", ...], "r": [sub-rules...]}.
func (r *Rule) Snapshot() (string, error) {
	b, err := json.Marshal(r.snapshot())
	if err != nil {
		return "", err
	}
	return string(b), nil
}
