package rules

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/rulekeeper/internal/rules/rulestest"
	"github.com/solatis/rulekeeper/internal/types"
)

// matching evaluates r against every fixture user and returns the ids that match.
func matching(t *testing.T, e *Engine, f *fixture, r *types.Rule, admin *types.User) []types.UserID {
	t.Helper()
	var out []types.UserID
	for _, u := range f.users {
		ok, err := e.Evaluate(context.Background(), r, u, admin)
		if err != nil {
			t.Fatalf("Evaluate(user %d) error = %v, want nil", u.ID, err)
		}
		if ok {
			out = append(out, u.ID)
		}
	}
	return out
}

func sameIDs(a, b []types.UserID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEvaluate_Families(t *testing.T) {
	tests := []struct {
		name string
		rule *types.Rule
		want []types.UserID
	}{
		{
			name: "attribute comparison",
			rule: rule(types.LogicalAnd, expr(types.OperandUserAttribute, "points", types.OpGte, "50")),
			want: []types.UserID{1, 2},
		},
		{
			name: "attribute excludes",
			rule: rule(types.LogicalAnd, expr(types.OperandUserAttribute, "preferred_locale", types.OpExcludes, "en_US")),
			want: []types.UserID{2},
		},
		{
			name: "field value all under AND",
			rule: rule(types.LogicalAnd,
				expr(types.OperandSelect, "1", types.OpIs, "10"),
				expr(types.OperandSelect, "1", types.OpIs, "20")),
			want: []types.UserID{1},
		},
		{
			name: "field value any under OR",
			rule: rule(types.LogicalOr,
				expr(types.OperandSelect, "1", types.OpIs, "10"),
				expr(types.OperandSelect, "1", types.OpIs, "20")),
			want: []types.UserID{1, 2},
		},
		{
			name: "group excludes",
			rule: rule(types.LogicalAnd, expr(types.OperandGroup, "", types.OpExcludes, "5")),
			want: []types.UserID{2, 3},
		},
		{
			name: "hierarchy descendants",
			rule: rule(types.LogicalAnd, expr(types.OperandHierarchy, "2", types.OpIs, "8")),
			want: []types.UserID{1, 2},
		},
		{
			name: "hierarchy excludes",
			rule: rule(types.LogicalAnd, expr(types.OperandHierarchy, "2", types.OpExcludes, "7")),
			want: []types.UserID{3},
		},
		{
			name: "date after",
			rule: rule(types.LogicalAnd, expr(types.OperandDate, "3", types.OpGt, "2019-12-31")),
			want: []types.UserID{1},
		},
		{
			name: "date is normalizes",
			rule: rule(types.LogicalAnd, expr(types.OperandDate, "3", types.OpIs, "01/15/2020")),
			want: []types.UserID{1},
		},
		{
			name: "class none",
			rule: rule(types.LogicalAnd, expr(types.OperandClass, "", types.OpIs, types.ClassNone)),
			want: []types.UserID{1},
		},
		{
			name: "class excludes none",
			rule: rule(types.LogicalAnd, expr(types.OperandClass, "", types.OpExcludes, types.ClassNone)),
			want: []types.UserID{2, 3},
		},
		{
			name: "certification",
			rule: rule(types.LogicalAnd, expr(types.OperandCertification, "", types.OpIs, "100")),
			want: []types.UserID{1},
		},
		{
			name: "user to user direct",
			rule: rule(types.LogicalAnd, expr(types.OperandUserToUser, "4", types.OpIs, "3")),
			want: []types.UserID{2},
		},
		{
			name: "user to user excludes",
			rule: rule(types.LogicalAnd, expr(types.OperandUserToUser, "4", types.OpExcludes, "3")),
			want: []types.UserID{1, 3},
		},
		{
			name: "user to user below",
			rule: rule(types.LogicalAnd, expr(types.OperandUserToUser, "4", types.OpIsEqualToOrBelow, "3")),
			want: []types.UserID{1, 2},
		},
		{
			name: "ability through role rule",
			rule: rule(types.LogicalAnd, expr(types.OperandAbility, "", types.OpIs, "40")),
			want: []types.UserID{1},
		},
		{
			name: "ability without roles",
			rule: rule(types.LogicalOr, expr(types.OperandAbility, "", types.OpIs, "41")),
			want: nil,
		},
		{
			name: "ability excludes",
			rule: rule(types.LogicalAnd, expr(types.OperandAbility, "", types.OpExcludes, "40")),
			want: []types.UserID{2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			e := NewEngine(f.dir)
			if got := matching(t, e, f, tt.rule, nil); !sameIDs(got, tt.want) {
				t.Errorf("matching users = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_DepthLimit(t *testing.T) {
	f := newFixture()
	r := rule(types.LogicalAnd, expr(types.OperandUserToUser, "4", types.OpIsEqualToOrBelow, "3"))

	if got := matching(t, NewEngine(f.dir, WithDepthLimit(1)), f, r, nil); !sameIDs(got, []types.UserID{2}) {
		t.Errorf("depth 1 matching users = %v, want [2]", got)
	}
	if got := matching(t, NewEngine(f.dir, WithDepthLimit(2)), f, r, nil); !sameIDs(got, []types.UserID{1, 2}) {
		t.Errorf("depth 2 matching users = %v, want [1 2]", got)
	}
}

func TestEvaluate_AndShortCircuit(t *testing.T) {
	f := newFixture()
	e := NewEngine(f.dir)

	r := rule(types.LogicalAnd,
		expr(types.OperandUserAttribute, "points", types.OpGt, "0"),
		expr(types.OperandGroup, "", types.OpIs, "99"))
	// Evaluating this sub-rule would fail with ErrUnknownAttribute.
	r.AddSubRule(rule(types.LogicalAnd, expr(types.OperandUserAttribute, "password", types.OpIs, "x")))

	ok, err := e.Evaluate(context.Background(), r, f.user(1), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil (sub-rules must be skipped)", err)
	}
	if ok {
		t.Errorf("Evaluate() = true, want false")
	}
}

func TestEvaluate_OrShortCircuit(t *testing.T) {
	f := newFixture()
	e := NewEngine(f.dir)

	r := rule(types.LogicalOr,
		expr(types.OperandGroup, "", types.OpIs, "99"),
		expr(types.OperandGroup, "", types.OpIs, "5"))
	r.AddSubRule(rule(types.LogicalAnd, expr(types.OperandUserAttribute, "password", types.OpIs, "x")))

	ok, err := e.Evaluate(context.Background(), r, f.user(1), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	if !ok {
		t.Errorf("Evaluate() = false, want true")
	}
}

func TestEvaluate_OrSubRulesDoNotOverrideMatch(t *testing.T) {
	f := newFixture()
	e := NewEngine(f.dir)

	r := rule(types.LogicalOr, expr(types.OperandGroup, "", types.OpIs, "5"))
	r.AddSubRule(rule(types.LogicalAnd, expr(types.OperandGroup, "", types.OpIs, "99")))

	ok, err := e.Evaluate(context.Background(), r, f.user(1), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	if !ok {
		t.Errorf("Evaluate() = false, want true")
	}
}

func TestEvaluate_VacuousRule(t *testing.T) {
	f := newFixture()
	e := NewEngine(f.dir)

	empty := rule(types.LogicalOr)
	empty.AddSubRule(rule(types.LogicalAnd))

	if got := matching(t, e, f, empty, nil); len(got) != 0 {
		t.Errorf("matching users = %v, want none", got)
	}
}

func TestEvaluate_UnrecognizedOperandType(t *testing.T) {
	f := newFixture()
	e := NewEngine(f.dir)
	unknown := expr("legacy_score", "1", types.OpIs, "1")

	// Unconstrained root admits everyone.
	if got := matching(t, e, f, rule(types.LogicalAnd, unknown), nil); len(got) != 3 {
		t.Errorf("root matching users = %v, want all", got)
	}

	// Unconstrained sub-rule is left out of the combination.
	r := rule(types.LogicalOr, expr(types.OperandGroup, "", types.OpIs, "6"))
	r.AddSubRule(rule(types.LogicalAnd, unknown))
	if got := matching(t, e, f, r, nil); !sameIDs(got, []types.UserID{2}) {
		t.Errorf("matching users = %v, want [2]", got)
	}
}

func TestEvaluate_AdminValues(t *testing.T) {
	f := newFixture()
	e := NewEngine(f.dir)
	admin := f.user(2)

	t.Run("admin's own values", func(t *testing.T) {
		r := rule(types.LogicalAnd, expr(types.OperandSelect, "1", types.OpIs, types.AdminValue))
		if got := matching(t, e, f, r, admin); !sameIDs(got, []types.UserID{1, 2}) {
			t.Errorf("matching users = %v, want [1 2]", got)
		}
	})

	t.Run("empty admin set matches no one", func(t *testing.T) {
		noValues := &types.User{ID: 99}
		r := rule(types.LogicalAnd, expr(types.OperandSelect, "1", types.OpIs, types.AdminValue))
		if got := matching(t, e, f, r, noValues); len(got) != 0 {
			t.Errorf("matching users = %v, want none", got)
		}
		ok, err := e.Evaluate(context.Background(), r, noValues, noValues)
		if err != nil || ok {
			t.Errorf("Evaluate(admin) = %v, %v, want false, nil", ok, err)
		}
	})

	t.Run("empty admin set excludes matches no one", func(t *testing.T) {
		r := rule(types.LogicalOr, expr(types.OperandSelect, "1", types.OpExcludes, types.AdminValue))
		if got := matching(t, e, f, r, &types.User{ID: 99}); len(got) != 0 {
			t.Errorf("matching users = %v, want none", got)
		}
	})

	t.Run("hierarchy admin value", func(t *testing.T) {
		r := rule(types.LogicalOr, expr(types.OperandHierarchy, "2", types.OpIs, types.AdminValue))
		if got := matching(t, e, f, r, admin); !sameIDs(got, []types.UserID{1, 2}) {
			t.Errorf("matching users = %v, want [1 2]", got)
		}
	})

	t.Run("user to user admin", func(t *testing.T) {
		r := rule(types.LogicalAnd, expr(types.OperandUserToUser, "4", types.OpIsEqualToOrBelowTheAdmin, types.AdminValue))
		if got := matching(t, e, f, r, admin); !sameIDs(got, []types.UserID{1}) {
			t.Errorf("matching users = %v, want [1]", got)
		}
	})

	t.Run("admin required", func(t *testing.T) {
		r := rule(types.LogicalAnd, expr(types.OperandSelect, "1", types.OpIs, types.AdminValue))
		_, err := e.Evaluate(context.Background(), r, f.user(1), nil)
		if !errors.Is(err, types.ErrAdminRequired) {
			t.Errorf("Evaluate() error = %v, want ErrAdminRequired", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		r := rule(types.LogicalAnd, expr(types.OperandSelect, "77", types.OpIs, types.AdminValue))
		_, err := e.Evaluate(context.Background(), r, f.user(1), admin)
		if !errors.Is(err, types.ErrFieldNotFound) {
			t.Errorf("Evaluate() error = %v, want ErrFieldNotFound", err)
		}
	})
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rule    *types.Rule
		wantErr error
	}{
		{
			name:    "unknown conditional operator",
			rule:    rule(types.LogicalAnd, expr(types.OperandGroup, "", "contains", "5")),
			wantErr: types.ErrUnknownOperator,
		},
		{
			name:    "unknown logical operator",
			rule:    rule("xor", expr(types.OperandGroup, "", types.OpIs, "5")),
			wantErr: types.ErrUnknownOperator,
		},
		{
			name:    "comparison on a set family",
			rule:    rule(types.LogicalAnd, expr(types.OperandGroup, "", types.OpGt, "5")),
			wantErr: types.ErrInvalidOperator,
		},
		{
			name:    "excludes on a date",
			rule:    rule(types.LogicalAnd, expr(types.OperandDate, "3", types.OpExcludes, "2020-01-01")),
			wantErr: types.ErrInvalidOperator,
		},
		{
			name:    "date on a select field",
			rule:    rule(types.LogicalAnd, expr(types.OperandDate, "1", types.OpLt, "2000-01-01")),
			wantErr: types.ErrInvalidOperator,
		},
		{
			name:    "date on a user_to_user field",
			rule:    rule(types.LogicalOr, expr(types.OperandDate, "4", types.OpIs, "2020-01-15")),
			wantErr: types.ErrInvalidOperator,
		},
		{
			name:    "date on an unknown field",
			rule:    rule(types.LogicalAnd, expr(types.OperandDate, "77", types.OpGt, "2000-01-01")),
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "bad id",
			rule:    rule(types.LogicalAnd, expr(types.OperandGroup, "", types.OpIs, "five")),
			wantErr: types.ErrInvalidValue,
		},
		{
			name:    "unknown attribute",
			rule:    rule(types.LogicalAnd, expr(types.OperandUserAttribute, "password", types.OpIs, "x")),
			wantErr: types.ErrUnknownAttribute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := NewEngine(f.dir).Evaluate(context.Background(), tt.rule, f.user(1), nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Evaluate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate_AbilityCycle(t *testing.T) {
	f := newFixture()
	f.dir.RoleRules[1] = &types.Rule{
		ID:              "role-1-rule",
		LogicalOperator: types.LogicalAnd,
		Expressions:     []types.Expression{expr(types.OperandAbility, "", types.OpIs, "40")},
	}
	r := rule(types.LogicalAnd, expr(types.OperandAbility, "", types.OpIs, "40"))
	r.ID = "root"

	_, err := NewEngine(f.dir).Evaluate(context.Background(), r, f.user(1), nil)
	if !errors.Is(err, types.ErrRuleCycle) {
		t.Errorf("Evaluate() error = %v, want ErrRuleCycle", err)
	}
}

func TestEvaluate_AbilityDepth(t *testing.T) {
	f := newFixture()
	// Transient role rules carry no id, so only the depth cap stops them.
	f.dir.RoleRules[1] = rule(types.LogicalAnd, expr(types.OperandAbility, "", types.OpIs, "40"))
	r := rule(types.LogicalAnd, expr(types.OperandAbility, "", types.OpIs, "40"))

	_, err := NewEngine(f.dir, WithMaxAbilityDepth(4)).Evaluate(context.Background(), r, f.user(1), nil)
	if !errors.Is(err, types.ErrAbilityDepth) {
		t.Errorf("Evaluate() error = %v, want ErrAbilityDepth", err)
	}
}

func vocabulary() rulestest.Vocabulary {
	return rulestest.Vocabulary{
		SelectField:     fieldDept,
		SelectValues:    []int64{10, 20, 30},
		HierarchyField:  fieldRegion,
		HierarchyValues: []int64{7, 8, 9, 11},
		DateField:       fieldHired,
		Dates:           []string{"2019-06-01", "2020-01-15", "2021-01-01"},
		RelationField:   fieldReportsTo,
		Users:           []int64{1, 2, 3},
		Groups:          []int64{5, 6},
		Classes:         []int64{1, 2},
		Certifications:  []int64{100, 101},
		Abilities:       []int64{40, 41},
		Locales:         []string{"en_US", "nl_NL"},
		AdminValues:     true,
	}
}

// Property-based test: Combine(AND|OR, r1, r2) evaluates as r1 AND|OR r2.
func TestCombine_PropertyMatchesOperator(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	f := newFixture()
	e := NewEngine(f.dir)
	admin := f.user(2)
	ctx := context.Background()

	properties.Property("combined rule agrees with its operator", prop.ForAll(
		func(seed int64, and bool) bool {
			rng := rand.New(rand.NewSource(seed))
			r1 := rulestest.Rule(rng, vocabulary(), 2)
			r2 := rulestest.Rule(rng, vocabulary(), 2)
			op := types.LogicalOr
			if and {
				op = types.LogicalAnd
			}
			combined, err := types.Combine(op, r1.Clone(nil), r2.Clone(nil))
			if err != nil {
				return false
			}
			for _, u := range f.users {
				m1, err1 := e.Evaluate(ctx, r1, u, admin)
				m2, err2 := e.Evaluate(ctx, r2, u, admin)
				got, err := e.Evaluate(ctx, combined, u, admin)
				if err1 != nil || err2 != nil || err != nil {
					t.Logf("seed %d: errors %v %v %v", seed, err1, err2, err)
					return false
				}
				want := m1 && m2
				if !and {
					want = m1 || m2
				}
				if !combinedVacuous(r1, r2, combined) && got != want {
					t.Logf("seed %d user %d: combined = %v, want %v", seed, u.ID, got, want)
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// combinedVacuous reports whether combination semantics do not apply because
// an input is unconstrained (it admits everyone at the root but is left out
// once nested) or the combination has no expressions at all.
func combinedVacuous(r1, r2, combined *types.Rule) bool {
	f := newFixture()
	e := NewEngine(f.dir)
	return !combined.HasExpressions() || unconstrained(e, r1) || unconstrained(e, r2)
}

func unconstrained(e *Engine, r *types.Rule) bool {
	ev := &evaluator{engine: e, ctx: context.Background(), user: &types.User{}, admin: &types.User{}}
	_, constrained, err := ev.rule(r)
	return err == nil && !constrained
}

// Property-based test: evaluation is deterministic and never panics.
func TestEvaluate_PropertyDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	f := newFixture()
	e := NewEngine(f.dir)
	ctx := context.Background()

	properties.Property("same inputs give same result", prop.ForAll(
		func(seed int64) bool {
			r := rulestest.Rule(rand.New(rand.NewSource(seed)), vocabulary(), 3)
			for _, u := range f.users {
				a, errA := e.Evaluate(ctx, r, u, f.user(2))
				b, errB := e.Evaluate(ctx, r, u, f.user(2))
				if a != b || (errA == nil) != (errB == nil) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
