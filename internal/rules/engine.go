package rules

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/solatis/rulekeeper/internal/types"
)

// Directory supplies the read-side data the engine consumes while compiling
// and evaluating: field metadata, admin values, roles and relationships.
// Implementations must be safe for concurrent reads.
type Directory interface {
	// Field returns field metadata, or an error wrapping types.ErrFieldNotFound.
	Field(ctx context.Context, id types.FieldID) (*types.Field, error)

	// AdminValues returns the admin's current value ids for field. Empty is valid.
	AdminValues(ctx context.Context, field *types.Field, admin *types.User) ([]types.ValueID, error)

	// RolesWithAbility returns roles holding any of the abilities plus every super-admin role.
	RolesWithAbility(ctx context.Context, abilities []int64) ([]types.Role, error)

	// RoleRule returns the role's delegated admin rule, or nil when it has none.
	RoleRule(ctx context.Context, role types.RoleID) (*types.Rule, error)

	// HierarchyPath returns the hierarchy node path of a value; ok is false when
	// the value is not a hierarchy node.
	HierarchyPath(ctx context.Context, value types.ValueID) (path string, ok bool, err error)

	// RelatedUsers returns the users that user points at through a user-to-user field.
	RelatedUsers(ctx context.Context, field types.FieldID, user types.UserID) ([]types.UserID, error)
}

// Engine compiles rule trees into SQL predicates and evaluates them in memory.
// Stateless apart from its configuration; safe for concurrent use.
type Engine struct {
	dir             Directory
	depthLimit      int
	maxAbilityDepth int
	logger          zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for skipped expressions and compile summaries.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDepthLimit bounds the user-to-user transitive closure. Values below 1 are raised to 1.
func WithDepthLimit(n int) Option {
	return func(e *Engine) { e.depthLimit = max(n, 1) }
}

// WithMaxAbilityDepth bounds nested ability delegation. Values below 1 are raised to 1.
func WithMaxAbilityDepth(n int) Option {
	return func(e *Engine) { e.maxAbilityDepth = max(n, 1) }
}

// NewEngine creates a rules engine reading from dir.
func NewEngine(dir Directory, opts ...Option) *Engine {
	e := &Engine{
		dir:             dir,
		depthLimit:      types.DefaultUserToUserDepthLimit,
		maxAbilityDepth: types.DefaultMaxAbilityDepth,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DepthLimit returns the configured user-to-user depth limit.
func (e *Engine) DepthLimit() int {
	return e.depthLimit
}

// trail tracks the chain of rules entered through ability delegation.
type trail []types.RuleID

func (t trail) enter(rule *types.Rule, limit int) (trail, error) {
	if len(t) >= limit {
		return nil, types.ErrAbilityDepth
	}
	if rule.ID != "" {
		for _, id := range t {
			if id == rule.ID {
				return nil, types.ErrRuleCycle
			}
		}
	}
	next := make(trail, len(t), len(t)+1)
	copy(next, t)
	return append(next, rule.ID), nil
}
