package rules

import (
	"github.com/solatis/rulekeeper/internal/types"
)

// Fixture layout:
//
//	field 1  select        values 10, 20, 30
//	field 2  hierarchy     7 /7/, 8 /7/8/, 9 /7/8/9/, 11 /11/
//	field 3  date
//	field 4  user_to_user  1 -> 2 -> 3
//
//	user 1  values 10 20 9, group 5, cert 100, no class, hired 2020-01-15, points 50
//	user 2  values 10 8,    group 6, class 1,             points 150, locale nl_NL
//	user 3  values 30 11,   class 2,                      points 10
//
//	role 1 holds ability 40 and delegates "group is 5"
//	role 2 is super admin without a delegated rule
const (
	fieldDept      types.FieldID = 1
	fieldRegion    types.FieldID = 2
	fieldHired     types.FieldID = 3
	fieldReportsTo types.FieldID = 4
)

type fixture struct {
	dir   *MemoryDirectory
	users []*types.User
}

func newFixture() *fixture {
	dir := NewMemoryDirectory()
	dir.Fields[fieldDept] = &types.Field{ID: fieldDept, Name: "Department", Type: types.FieldTypeSelect}
	dir.Fields[fieldRegion] = &types.Field{ID: fieldRegion, Name: "Region", Type: types.FieldTypeHierarchy}
	dir.Fields[fieldHired] = &types.Field{ID: fieldHired, Name: "Hire date", Type: types.FieldTypeDate}
	dir.Fields[fieldReportsTo] = &types.Field{ID: fieldReportsTo, Name: "Reports to", Type: types.FieldTypeUserToUser}

	dir.Paths[7] = "/7/"
	dir.Paths[8] = "/7/8/"
	dir.Paths[9] = "/7/8/9/"
	dir.Paths[11] = "/11/"

	users := []*types.User{
		{
			ID:              1,
			Email:           "one@example.com",
			Points:          50,
			PreferredLocale: "en_US",
			Values:          map[types.FieldID][]types.ValueID{fieldDept: {10, 20}, fieldRegion: {9}},
			Dates:           map[types.FieldID][]string{fieldHired: {"2020-01-15"}},
			Related:         map[types.FieldID][]types.UserID{fieldReportsTo: {2}},
			Groups:          []int64{5},
			Certifications:  []int64{100},
		},
		{
			ID:              2,
			Email:           "two@example.com",
			Points:          150,
			PreferredLocale: "nl_NL",
			Values:          map[types.FieldID][]types.ValueID{fieldDept: {10}, fieldRegion: {8}},
			Related:         map[types.FieldID][]types.UserID{fieldReportsTo: {3}},
			Groups:          []int64{6},
			Classes:         []int64{1},
		},
		{
			ID:              3,
			Email:           "three@example.com",
			Points:          10,
			PreferredLocale: "en_US",
			Values:          map[types.FieldID][]types.ValueID{fieldDept: {30}, fieldRegion: {11}},
			Classes:         []int64{2},
		},
	}
	for _, u := range users {
		dir.AddUser(u)
	}

	dir.Roles = []types.Role{
		{ID: 1, Name: "Manager"},
		{ID: 2, Name: "Owner", SuperAdmin: true},
	}
	dir.Abilities[1] = []int64{40}
	dir.RoleRules[1] = &types.Rule{
		ID:              "role-1-rule",
		LogicalOperator: types.LogicalAnd,
		Expressions:     []types.Expression{expr(types.OperandGroup, "", types.OpIs, "5")},
	}

	return &fixture{dir: dir, users: users}
}

func (f *fixture) user(id types.UserID) *types.User {
	return f.dir.Users[id]
}

func expr(t types.OperandType, operand string, op types.ConditionalOperator, value string) types.Expression {
	return types.Expression{OperandType: t, Operand: operand, ConditionalOperator: op, Value: value}
}

func rule(op types.LogicalOperator, exprs ...types.Expression) *types.Rule {
	return &types.Rule{LogicalOperator: op, Expressions: exprs}
}
