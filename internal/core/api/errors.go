package api

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/rulekeeper/internal/types"
)

// Error mapping is done once per handler through toStatus.
// Missing rules and users map to NOT_FOUND.
// Malformed rules and requests map to INVALID_ARGUMENT.
// Ability delegation that cannot be expanded maps to FAILED_PRECONDITION.
// Lost database connections map to UNAVAILABLE.
// Context timeouts map to DEADLINE_EXCEEDED.

var invalidArgument = []error{
	errBadRequest,
	types.ErrUnknownOperator,
	types.ErrInvalidOperator,
	types.ErrInvalidValue,
	types.ErrUnknownAttribute,
	types.ErrFieldNotFound,
	types.ErrAdminRequired,
	types.ErrEmptyCombine,
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, types.ErrRuleNotFound),
		errors.Is(err, types.ErrUserNotFound),
		errors.Is(err, types.ErrRoleNotFound):
		return codes.NotFound
	case errors.Is(err, types.ErrRuleCycle), errors.Is(err, types.ErrAbilityDepth):
		return codes.FailedPrecondition
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn):
		return codes.Unavailable
	}
	for _, target := range invalidArgument {
		if errors.Is(err, target) {
			return codes.InvalidArgument
		}
	}
	return codes.Internal
}
