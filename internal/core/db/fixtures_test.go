package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

// Directory layout imported by the store tests:
//
//	field 1  select        values 10, 20, 30
//	field 2  hierarchy     7 /7/, 8 /7/8/, 9 /7/8/9/, 11 /11/
//	field 3  date          value ids 31.. assigned on import
//	field 4  user_to_user  4 -> 1 -> 2 -> 3
//
//	user 1  values 10 20 9, group 5,   cert 100, hired 2020-01-15
//	user 2  values 10 8,    group 6,   class 1
//	user 3  values 30 11,   class 2
//	user 4  values 20 7,    group 5 6, class 1 2, cert 101, hired 2019-06-01 2021-01-01
//
//	class 1 and 2 get membership groups 7 and 8
//	role 1 holds ability 40 and delegates "group is 5"
//	role 2 is super admin without a delegated rule
//	role 3 holds ability 41 and delegates "ability is 40"
const (
	fieldDept      types.FieldID = 1
	fieldRegion    types.FieldID = 2
	fieldHired     types.FieldID = 3
	fieldReportsTo types.FieldID = 4
)

func testDirectory() *rules.MemoryDirectory {
	dir := rules.NewMemoryDirectory()
	dir.Fields[fieldDept] = &types.Field{ID: fieldDept, Name: "Department", Type: types.FieldTypeSelect}
	dir.Fields[fieldRegion] = &types.Field{ID: fieldRegion, Name: "Region", Type: types.FieldTypeHierarchy}
	dir.Fields[fieldHired] = &types.Field{ID: fieldHired, Name: "Hire date", Type: types.FieldTypeDate}
	dir.Fields[fieldReportsTo] = &types.Field{ID: fieldReportsTo, Name: "Reports to", Type: types.FieldTypeUserToUser}

	dir.Paths[7] = "/7/"
	dir.Paths[8] = "/7/8/"
	dir.Paths[9] = "/7/8/9/"
	dir.Paths[11] = "/11/"

	dir.AddUser(&types.User{
		ID:              1,
		Email:           "one@example.com",
		Points:          50,
		PreferredLocale: "en_US",
		Values:          map[types.FieldID][]types.ValueID{fieldDept: {10, 20}, fieldRegion: {9}},
		Dates:           map[types.FieldID][]string{fieldHired: {"2020-01-15"}},
		Related:         map[types.FieldID][]types.UserID{fieldReportsTo: {2}},
		Groups:          []int64{5},
		Certifications:  []int64{100},
	})
	dir.AddUser(&types.User{
		ID:              2,
		Email:           "two@example.com",
		Points:          150,
		PreferredLocale: "nl_NL",
		Values:          map[types.FieldID][]types.ValueID{fieldDept: {10}, fieldRegion: {8}},
		Related:         map[types.FieldID][]types.UserID{fieldReportsTo: {3}},
		Groups:          []int64{6},
		Classes:         []int64{1},
	})
	dir.AddUser(&types.User{
		ID:              3,
		Email:           "three@example.com",
		Points:          10,
		PreferredLocale: "en_US",
		Values:          map[types.FieldID][]types.ValueID{fieldDept: {30}, fieldRegion: {11}},
		Classes:         []int64{2},
	})
	dir.AddUser(&types.User{
		ID:              4,
		Email:           "four@example.com",
		Points:          200,
		PreferredLocale: "nl_NL",
		Values:          map[types.FieldID][]types.ValueID{fieldDept: {20}, fieldRegion: {7}},
		Dates:           map[types.FieldID][]string{fieldHired: {"2021-01-01", "2019-06-01"}},
		Related:         map[types.FieldID][]types.UserID{fieldReportsTo: {1}},
		Groups:          []int64{5, 6},
		Classes:         []int64{1, 2},
		Certifications:  []int64{101},
	})

	dir.Roles = []types.Role{
		{ID: 1, Name: "Manager"},
		{ID: 2, Name: "Owner", SuperAdmin: true},
		{ID: 3, Name: "Auditor"},
	}
	dir.Abilities[1] = []int64{40}
	dir.Abilities[3] = []int64{41}
	dir.RoleRules[1] = types.NewRule(types.RuleDefinition{
		LogicalOperator: types.LogicalAnd,
		Expressions:     []types.ExpressionDefinition{{OperandType: types.OperandGroup, ConditionalOperator: types.OpIs, Value: "5"}},
	})
	dir.RoleRules[3] = types.NewRule(types.RuleDefinition{
		LogicalOperator: types.LogicalAnd,
		Expressions:     []types.ExpressionDefinition{{OperandType: types.OperandAbility, ConditionalOperator: types.OpIs, Value: "40"}},
	})
	return dir
}

// literalPathDirectory is testDirectory with hierarchy paths that LIKE would
// misread: "_" and "%" are wildcards there and ASCII case is folded.
//
//	7 /a_/, 8 /ab/x/, 9 /A_/y/, 11 /a_/z%/
func literalPathDirectory() *rules.MemoryDirectory {
	dir := testDirectory()
	dir.Paths[7] = "/a_/"
	dir.Paths[8] = "/ab/x/"
	dir.Paths[9] = "/A_/y/"
	dir.Paths[11] = "/a_/z%/"
	return dir
}

// newTestStore opens a migrated SQLite database in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "rulekeeper.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := MigrateUp(ctx, db, zerolog.Nop()); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

// newSeededStore is newTestStore with testDirectory imported.
func newSeededStore(t *testing.T) *Store {
	t.Helper()
	return newSeededStoreWith(t, testDirectory())
}

func newSeededStoreWith(t *testing.T, dir *rules.MemoryDirectory) *Store {
	t.Helper()
	store := newTestStore(t)
	if err := store.ImportDirectory(context.Background(), dir); err != nil {
		t.Fatalf("ImportDirectory() error = %v", err)
	}
	return store
}

func sampleDefinition() types.RuleDefinition {
	return types.RuleDefinition{
		Name:            "Managers in Europe",
		ClientID:        7,
		LogicalOperator: types.LogicalAnd,
		Expressions: []types.ExpressionDefinition{
			{OperandType: types.OperandGroup, ConditionalOperator: types.OpIs, Value: "5"},
			{OperandType: types.OperandSelect, Operand: "1", ConditionalOperator: types.OpIs, Value: types.AdminValue},
		},
		SubRules: []types.RuleDefinition{
			{
				LogicalOperator: types.LogicalOr,
				Expressions: []types.ExpressionDefinition{
					{OperandType: types.OperandUserToUser, Operand: "4", ConditionalOperator: types.OpIsEqualToOrBelow, Value: "3"},
					{OperandType: types.OperandDate, Operand: "3", ConditionalOperator: types.OpGt, Value: "2020-01-01"},
				},
				SubRules: []types.RuleDefinition{
					{
						LogicalOperator: types.LogicalAnd,
						Expressions:     []types.ExpressionDefinition{{OperandType: types.OperandClass, ConditionalOperator: types.OpIs, Value: types.ClassNone}},
					},
				},
			},
			{
				LogicalOperator: types.LogicalAnd,
				Expressions:     []types.ExpressionDefinition{{OperandType: types.OperandCertification, ConditionalOperator: types.OpExcludes, Value: "101"}},
			},
		},
	}
}
