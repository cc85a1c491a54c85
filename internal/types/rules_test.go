package types

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func sampleDefinition() RuleDefinition {
	return RuleDefinition{
		Name:            "Managers in Europe",
		ClientID:        7,
		LogicalOperator: LogicalAnd,
		Expressions: []ExpressionDefinition{
			{OperandType: OperandGroup, ConditionalOperator: OpIs, Value: "5"},
			{OperandType: OperandSelect, Operand: "1", ConditionalOperator: OpIs, Value: AdminValue},
		},
		SubRules: []RuleDefinition{
			{
				LogicalOperator: LogicalOr,
				Expressions: []ExpressionDefinition{
					{OperandType: OperandUserToUser, Operand: "4", ConditionalOperator: OpIsEqualToOrBelow, Value: "3"},
				},
				SubRules: []RuleDefinition{
					{LogicalOperator: LogicalAnd},
				},
			},
		},
	}
}

func TestNewRule_DefinitionRoundTrip(t *testing.T) {
	def := sampleDefinition()
	r := NewRule(def)

	if got := r.Definition(); !reflect.DeepEqual(got, def) {
		t.Errorf("Definition() = %+v, want %+v", got, def)
	}
	if r.ID != "" {
		t.Errorf("ID = %q, want transient", r.ID)
	}
	if len(r.SubRules) != 1 || r.SubRules[0].Parent() != r {
		t.Fatalf("sub-rule parent not linked")
	}
	leaf := r.SubRules[0].SubRules[0]
	if leaf.Root() != r {
		t.Errorf("Root() did not reach the top of the tree")
	}
	if r.Root() != r {
		t.Errorf("Root() of a root should be itself")
	}
}

func TestRule_HasExpressions(t *testing.T) {
	empty := NewRule(RuleDefinition{
		LogicalOperator: LogicalAnd,
		SubRules:        []RuleDefinition{{LogicalOperator: LogicalOr}, {LogicalOperator: LogicalAnd}},
	})
	if empty.HasExpressions() {
		t.Errorf("HasExpressions() = true for a tree without expressions")
	}

	deep := NewRule(RuleDefinition{
		LogicalOperator: LogicalAnd,
		SubRules: []RuleDefinition{{
			LogicalOperator: LogicalOr,
			SubRules: []RuleDefinition{{
				LogicalOperator: LogicalAnd,
				Expressions:     []ExpressionDefinition{{OperandType: OperandGroup, ConditionalOperator: OpIs, Value: "1"}},
			}},
		}},
	})
	if !deep.HasExpressions() {
		t.Errorf("HasExpressions() = false for a tree with a nested expression")
	}
}

func TestRule_AssignIDs(t *testing.T) {
	r := NewRule(sampleDefinition())
	r.AssignIDs()

	r.Walk(func(n *Rule) {
		if n.ID == "" {
			t.Errorf("rule without id after AssignIDs")
		}
		if _, err := ParseRuleID(string(n.ID)); err != nil {
			t.Errorf("ParseRuleID(%q) error = %v", n.ID, err)
		}
		for _, e := range n.Expressions {
			if e.ID == "" || e.RuleID != n.ID {
				t.Errorf("expression %+v not linked to rule %s", e, n.ID)
			}
		}
		for _, sub := range n.SubRules {
			if sub.ParentRuleID == nil || *sub.ParentRuleID != n.ID {
				t.Errorf("sub-rule ParentRuleID = %v, want %s", sub.ParentRuleID, n.ID)
			}
		}
	})
}

func TestRule_Replace(t *testing.T) {
	r := NewRule(sampleDefinition())
	r.AssignIDs()
	id := r.ID

	r.Replace(RuleDefinition{
		LogicalOperator: LogicalOr,
		Expressions:     []ExpressionDefinition{{OperandType: OperandClass, ConditionalOperator: OpIs, Value: ClassNone}},
	})

	if r.ID != id {
		t.Errorf("Replace() changed root id")
	}
	if r.Name != "Managers in Europe" {
		t.Errorf("Replace() with empty name changed Name to %q", r.Name)
	}
	if r.LogicalOperator != LogicalOr || len(r.Expressions) != 1 || len(r.SubRules) != 0 {
		t.Errorf("Replace() = %+v, want the new definition", r.Definition())
	}
}

func TestRule_Contains(t *testing.T) {
	r := NewRule(sampleDefinition())
	if !r.ContainsAdminValueExpression() {
		t.Errorf("ContainsAdminValueExpression() = false, want true")
	}
	if !r.ContainsUserToUserExpression() {
		t.Errorf("ContainsUserToUserExpression() = false, want true")
	}

	literal := r.CloneAndRejectAdminValueExpressions()
	if literal.ContainsAdminValueExpression() {
		t.Errorf("rejected clone still contains ADMIN_VALUE")
	}
	admin := r.CloneAndRetainAdminValueExpressions()
	if admin.ContainsUserToUserExpression() {
		t.Errorf("retained clone still contains user_to_user")
	}
	if len(admin.SubRules) != 0 {
		t.Errorf("retained clone kept %d sub-rules, want empty ones pruned", len(admin.SubRules))
	}
}

func TestCombine(t *testing.T) {
	if _, err := Combine(LogicalAnd); !errors.Is(err, ErrEmptyCombine) {
		t.Errorf("Combine() error = %v, want ErrEmptyCombine", err)
	}

	r1 := NewRule(RuleDefinition{ClientID: 3, LogicalOperator: LogicalAnd})
	r2 := NewRule(RuleDefinition{ClientID: 3, LogicalOperator: LogicalOr})
	c, err := Combine(LogicalOr, r1, r2)
	if err != nil {
		t.Fatalf("Combine() error = %v, want nil", err)
	}
	if c.LogicalOperator != LogicalOr || c.ClientID != 3 {
		t.Errorf("Combine() = %+v", c)
	}
	if len(c.SubRules) != 2 || r1.Parent() != c || r2.Parent() != c {
		t.Errorf("Combine() did not attach inputs as sub-rules")
	}
}

func TestCopyName(t *testing.T) {
	tests := map[string]string{
		"Audience":               "Audience (copy)",
		"Audience (copy)":        "Audience (copy)",
		"Audience (copy) (copy)": "Audience (copy)",
	}
	for in, want := range tests {
		if got := CopyName(in); got != want {
			t.Errorf("CopyName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRule_Snapshot(t *testing.T) {
	r := NewRule(RuleDefinition{
		LogicalOperator: LogicalAnd,
		Expressions:     []ExpressionDefinition{{OperandType: OperandGroup, ConditionalOperator: OpIs, Value: "5"}},
		SubRules: []RuleDefinition{
			{LogicalOperator: LogicalOr, Expressions: []ExpressionDefinition{{OperandType: OperandClass, ConditionalOperator: OpExcludes, Value: "2"}}},
			{LogicalOperator: LogicalAnd, Expressions: []ExpressionDefinition{{OperandType: OperandDate, Operand: "3", ConditionalOperator: OpGt, Value: "2020-01-01"}}},
		},
	})

	got, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v, want nil", err)
	}
	want := `{"o":"and","e":["group||is|5"],"r":[{"o":"or","e":["class||excludes|2"]},{"o":"and","e":["date|3|gt|2020-01-01"]}]}`
	if got != want {
		t.Errorf("Snapshot() =\n  %s\nwant\n  %s", got, want)
	}
}

// randomDefinition builds a definition tree from a seed-driven sequence.
func randomDefinition(choices []int, depth int) RuleDefinition {
	def := RuleDefinition{LogicalOperator: LogicalAnd}
	if len(choices) == 0 {
		return def
	}
	if choices[0]%2 == 1 {
		def.LogicalOperator = LogicalOr
	}
	for i, c := range choices {
		value := "1"
		if c%3 == 0 {
			value = AdminValue
		}
		def.Expressions = append(def.Expressions, ExpressionDefinition{
			OperandType:         OperandSelect,
			Operand:             "1",
			ConditionalOperator: OpIs,
			Value:               value,
		})
		if depth > 0 && c%4 == 1 {
			def.SubRules = append(def.SubRules, randomDefinition(choices[i+1:], depth-1))
			break
		}
	}
	return def
}

func expressionKeys(r *Rule) []string {
	var keys []string
	r.Walk(func(n *Rule) {
		for _, e := range n.Expressions {
			keys = append(keys, string(e.OperandType)+"|"+e.Operand+"|"+string(e.ConditionalOperator)+"|"+e.Value)
		}
	})
	sort.Strings(keys)
	return keys
}

// Property-based test: retain/reject admin-value clones partition the expressions.
func TestClone_PropertyAdminValuePartition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("retained and rejected clones partition the original", prop.ForAll(
		func(choices []int) bool {
			r := NewRule(randomDefinition(choices, 3))
			retained := r.CloneAndRetainAdminValueExpressions()
			rejected := r.CloneAndRejectAdminValueExpressions()

			ok := true
			retained.Walk(func(n *Rule) {
				for _, e := range n.Expressions {
					ok = ok && e.IsAdminValue()
				}
			})
			rejected.Walk(func(n *Rule) {
				for _, e := range n.Expressions {
					ok = ok && !e.IsAdminValue()
				}
			})
			if !ok {
				return false
			}

			union := append(expressionKeys(retained), expressionKeys(rejected)...)
			sort.Strings(union)
			return reflect.DeepEqual(union, expressionKeys(r))
		},
		gen.SliceOfN(12, gen.IntRange(0, 11)),
	))

	properties.TestingRun(t)
}
