// Package api provides the gRPC audience service for rulekeeper.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/core/metrics"
	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

// AudienceServer is the unary surface registered with the gRPC server.
// Requests and responses are google.protobuf.Struct documents.
type AudienceServer interface {
	MatchUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SelectUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ExplainRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AudienceService implements AudienceServer.
// Thin orchestration layer delegating to the store and the rules engine.
type AudienceService struct {
	store   *db.Store
	engine  *rules.Engine
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

var _ AudienceServer = (*AudienceService)(nil)

// NewAudienceService creates service instance with dependencies.
// m may be nil when metrics are disabled.
func NewAudienceService(store *db.Store, engine *rules.Engine, m *metrics.Metrics, logger zerolog.Logger) (*AudienceService, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	return &AudienceService{
		store:   store,
		engine:  engine,
		metrics: m,
		logger:  logger,
	}, nil
}

// compile runs Engine.Compile and records its metrics.
func (s *AudienceService) compile(ctx context.Context, rule *types.Rule, admin *types.User) (rules.Predicate, error) {
	start := time.Now()
	p, err := s.engine.Compile(ctx, rule, admin)
	s.metrics.ObserveCompile(time.Since(start), err)
	return p, err
}

// evaluate runs Engine.Evaluate and records its metrics.
func (s *AudienceService) evaluate(ctx context.Context, rule *types.Rule, user, admin *types.User) (bool, error) {
	start := time.Now()
	matched, err := s.engine.Evaluate(ctx, rule, user, admin)
	s.metrics.ObserveEvaluate(time.Since(start), matched, err)
	return matched, err
}

// target resolves the rule and admin a request refers to.
func (s *AudienceService) target(ctx context.Context, req *structpb.Struct) (*types.Rule, *types.User, error) {
	rule, err := s.ruleFromRequest(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	adminID, ok, err := idField(req, "admin_id")
	if err != nil || !ok {
		return rule, nil, err
	}
	admin, err := s.store.GetUser(ctx, types.UserID(adminID))
	if err != nil {
		return nil, nil, fmt.Errorf("admin: %w", err)
	}
	return rule, admin, nil
}

// ruleFromRequest loads the stored rule named by "rule_id", or builds a
// transient one from the inline "rule" definition.
func (s *AudienceService) ruleFromRequest(ctx context.Context, req *structpb.Struct) (*types.Rule, error) {
	if id := stringField(req, "rule_id"); id != "" {
		ruleID, err := types.ParseRuleID(id)
		if err != nil {
			return nil, fmt.Errorf("%w: rule_id %q", errBadRequest, id)
		}
		return s.store.GetRule(ctx, ruleID)
	}
	def, ok, err := definitionField(req, "rule")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: rule_id or rule required", errBadRequest)
	}
	if _, err := rules.LookupLogical(def.LogicalOperator); err != nil {
		return nil, err
	}
	return types.NewRule(def), nil
}
