package types

import "errors"

// Sentinel errors for rule engine operations.
var (
	// ErrUnknownOperator indicates an unregistered conditional or logical operator code.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrInvalidOperator indicates a registered operator used with an operand type that cannot apply it.
	ErrInvalidOperator = errors.New("invalid operator for operand type")

	// ErrInvalidValue indicates an expression value that cannot be parsed for its operand type.
	ErrInvalidValue = errors.New("invalid expression value")

	// ErrUnknownAttribute indicates a user_attribute operand outside the supported column set.
	ErrUnknownAttribute = errors.New("unknown user attribute")

	// ErrFieldNotFound indicates a field lookup for a nonexistent field.
	ErrFieldNotFound = errors.New("field not found")

	// ErrAdminRequired indicates an ADMIN_VALUE expression evaluated without an admin user.
	ErrAdminRequired = errors.New("admin user required for admin value expression")

	// ErrRuleNotFound indicates a rule id with no stored rule.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRoleNotFound indicates a role id with no stored role.
	ErrRoleNotFound = errors.New("role not found")

	// ErrUserNotFound indicates a user id with no stored user.
	ErrUserNotFound = errors.New("user not found")

	// ErrRuleCycle indicates an ability expression that delegates back into a rule already being expanded.
	ErrRuleCycle = errors.New("ability delegation cycle")

	// ErrAbilityDepth indicates ability delegation nested deeper than the configured limit.
	ErrAbilityDepth = errors.New("ability delegation exceeds maximum depth")

	// ErrEmptyCombine indicates a combine request with no rules.
	ErrEmptyCombine = errors.New("combine requires at least one rule")
)
