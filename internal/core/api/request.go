package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulekeeper/internal/types"
)

// errBadRequest marks malformed request documents.
var errBadRequest = errors.New("bad request")

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

// idField reads an integer id sent either as a JSON number or a decimal string.
func idField(req *structpb.Struct, key string) (int64, bool, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, false, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, false, nil
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false, fmt.Errorf("%w: %s must be an integer, got %v", errBadRequest, key, n)
		}
		return int64(n), true, nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(kind.StringValue, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s must be an integer, got %q", errBadRequest, key, kind.StringValue)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s must be an integer", errBadRequest, key)
	}
}

// definitionField decodes a nested rule definition through its JSON form.
func definitionField(req *structpb.Struct, key string) (types.RuleDefinition, bool, error) {
	var def types.RuleDefinition
	s := req.GetFields()[key].GetStructValue()
	if s == nil {
		return def, false, nil
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return def, false, fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return def, false, fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	return def, true, nil
}

// definitionValue converts def into a Struct for inline rule requests.
func definitionValue(def types.RuleDefinition) (*structpb.Struct, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

// RuleRequest builds a request document naming a stored rule, or carrying def
// inline when id is empty. admin is omitted when nil.
func RuleRequest(id types.RuleID, def *types.RuleDefinition, admin *types.UserID) (*structpb.Struct, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	switch {
	case id != "":
		req.Fields["rule_id"] = structpb.NewStringValue(string(id))
	case def != nil:
		s, err := definitionValue(*def)
		if err != nil {
			return nil, err
		}
		req.Fields["rule"] = structpb.NewStructValue(s)
	}
	if admin != nil {
		req.Fields["admin_id"] = structpb.NewNumberValue(float64(*admin))
	}
	return req, nil
}
