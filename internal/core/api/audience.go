package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

// Match strategies accepted by MatchUser.
const (
	StrategyMemory = "memory"
	StrategySQL    = "sql"
)

// MatchUser reports whether one user satisfies a rule.
//
// Request: {rule_id | rule, user_id, admin_id?, strategy?}. The default
// "memory" strategy evaluates the loaded profile in process; "sql" runs the
// compiled predicate against the database.
// Response: {user_id, matched, strategy}.
func (s *AudienceService) MatchUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, ok, err := idField(req, "user_id")
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "user_id required")
	}
	strategy := stringField(req, "strategy")
	if strategy == "" {
		strategy = StrategyMemory
	}
	if strategy != StrategyMemory && strategy != StrategySQL {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("unknown strategy %q (use memory or sql)", strategy))
	}

	rule, admin, err := s.target(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	user, err := s.store.GetUser(ctx, types.UserID(userID))
	if err != nil {
		return nil, toStatus(err)
	}

	var matched bool
	if strategy == StrategyMemory {
		matched, err = s.evaluate(ctx, rule, user, admin)
	} else {
		var p rules.Predicate
		if p, err = s.compile(ctx, rule, admin); err == nil {
			matched, err = s.store.UserMatches(ctx, p, user.ID)
		}
	}
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Debug().
		Str("rule_id", string(rule.ID)).
		Int64("user_id", userID).
		Str("strategy", strategy).
		Bool("matched", matched).
		Msg("user matched")

	return structpb.NewStruct(map[string]any{
		"user_id":  userID,
		"matched":  matched,
		"strategy": strategy,
	})
}

// SelectUsers returns every user satisfying a rule.
//
// Request: {rule_id | rule, admin_id?}.
// Response: {user_ids: [...], count}.
func (s *AudienceService) SelectUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rule, admin, err := s.target(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.compile(ctx, rule, admin)
	if err != nil {
		return nil, toStatus(err)
	}
	ids, err := s.store.SelectUserIDs(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	s.metrics.ObserveSelected(len(ids))

	userIDs := make([]any, len(ids))
	for i, id := range ids {
		userIDs[i] = int64(id)
	}
	return structpb.NewStruct(map[string]any{
		"user_ids": userIDs,
		"count":    len(ids),
	})
}

// ExplainRule compiles a rule without running it.
//
// Request: {rule_id | rule, admin_id?}.
// Response: {sql, args, snapshot, contains_admin_value, contains_user_to_user}.
// sql is the full user selection with '?' placeholders.
func (s *AudienceService) ExplainRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rule, admin, err := s.target(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.compile(ctx, rule, admin)
	if err != nil {
		return nil, toStatus(err)
	}
	snapshot, err := rule.Snapshot()
	if err != nil {
		return nil, toStatus(err)
	}

	query, args := rules.SelectUserIDs(p)
	return structpb.NewStruct(map[string]any{
		"sql":                   query,
		"args":                  explainArgs(args),
		"snapshot":              snapshot,
		"contains_admin_value":  rule.ContainsAdminValueExpression(),
		"contains_user_to_user": rule.ContainsUserToUserExpression(),
	})
}

// explainArgs converts bound args to values structpb accepts.
func explainArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if _, err := structpb.NewValue(a); err != nil {
			out[i] = fmt.Sprint(a)
			continue
		}
		out[i] = a
	}
	return out
}
