// Package types provides domain models shared across rulekeeper components.
//
// The rule tree (Rule, Expression) and the read-side models consumed by the
// engine (User, Field, Role) live here so that internal/rules, internal/core/db
// and the transport layer agree on one vocabulary. Only google/uuid is
// imported (ids.go); everything else is plain data plus tree helpers.
package types

import "time"

// RuleID represents a UUIDv7 rule identifier.
// String alias enables type safety while maintaining JSON string serialization.
type RuleID string

// ExpressionID represents a UUIDv7 expression identifier.
type ExpressionID string

// UserID identifies a row in the users relation.
type UserID int64

// FieldID identifies a profile field.
type FieldID int64

// ValueID identifies a field value (select option, hierarchy node value, date value).
type ValueID int64

// RoleID identifies a role.
type RoleID int64

// FieldType is the declared type of a profile field.
type FieldType string

const (
	FieldTypeSelect     FieldType = "select"
	FieldTypeLinked     FieldType = "linked"
	FieldTypeHierarchy  FieldType = "hierarchy"
	FieldTypeDate       FieldType = "date"
	FieldTypeUserToUser FieldType = "user_to_user"
)

// Field is profile field metadata.
type Field struct {
	ID   FieldID   `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
	Type FieldType `db:"type" json:"type"`
}

// Role is a role that may hold abilities and own a delegated admin rule.
type Role struct {
	ID         RoleID `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	SuperAdmin bool   `db:"super_admin" json:"super_admin"`
}

// User is the profile of one user as seen by the in-memory evaluator.
// Dates holds normalized YYYY-MM-DD strings of non-deleted values only.
type User struct {
	ID              UserID                `db:"id" json:"id"`
	Email           string                `db:"email" json:"email"`
	Points          int64                 `db:"points" json:"points"`
	PreferredLocale string                `db:"preferred_locale" json:"preferred_locale"`
	Values          map[FieldID][]ValueID `db:"-" json:"values,omitempty"`
	Dates           map[FieldID][]string  `db:"-" json:"dates,omitempty"`
	Related         map[FieldID][]UserID  `db:"-" json:"related,omitempty"`
	Groups          []int64               `db:"-" json:"groups,omitempty"`
	Classes         []int64               `db:"-" json:"classes,omitempty"`
	Certifications  []int64               `db:"-" json:"certifications,omitempty"`
}

// HasValue reports whether the user holds value id v in any field.
func (u *User) HasValue(v ValueID) bool {
	for _, vals := range u.Values {
		for _, have := range vals {
			if have == v {
				return true
			}
		}
	}
	return false
}

// AllValues returns every value id the user holds, across fields.
func (u *User) AllValues() []ValueID {
	var out []ValueID
	for _, vals := range u.Values {
		out = append(out, vals...)
	}
	return out
}

// Revision is an immutable snapshot of a rule recorded on create and update.
type Revision struct {
	ID        string    `db:"id" json:"id"`
	RuleID    RuleID    `db:"rule_id" json:"rule_id"`
	Key       string    `db:"revision_key" json:"key"`
	Snapshot  string    `db:"new_value" json:"snapshot"`
	ActorID   *UserID   `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt time.Time `db:"-" json:"created_at"`
}

// Resource limits enforced by the rule engine.
const (
	// DefaultUserToUserDepthLimit bounds the transitive closure over user-to-user relationships.
	// Tenants override it; 3 covers manager -> director -> executive chains.
	DefaultUserToUserDepthLimit = 3

	// DefaultMaxAbilityDepth bounds nested ability delegation (rule -> role rule -> role rule ...).
	DefaultMaxAbilityDepth = 8
)
