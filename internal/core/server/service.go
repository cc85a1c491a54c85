package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulekeeper/internal/core/api"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rulekeeper.audience.v1.AudienceService"

// Full method names.
const (
	MatchUserMethod   = "/" + ServiceName + "/MatchUser"
	SelectUsersMethod = "/" + ServiceName + "/SelectUsers"
	ExplainRuleMethod = "/" + ServiceName + "/ExplainRule"
)

type unaryMethod func(api.AudienceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// audienceServiceDesc is declared by hand: every message is a
// google.protobuf.Struct, so no generated stubs are needed.
var audienceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*api.AudienceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "MatchUser", Handler: unaryHandler(MatchUserMethod, api.AudienceServer.MatchUser)},
		{MethodName: "SelectUsers", Handler: unaryHandler(SelectUsersMethod, api.AudienceServer.SelectUsers)},
		{MethodName: "ExplainRule", Handler: unaryHandler(ExplainRuleMethod, api.AudienceServer.ExplainRule)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rulekeeper/audience/v1/audience.proto",
}

// RegisterAudienceServer registers srv on s.
func RegisterAudienceServer(s grpc.ServiceRegistrar, srv api.AudienceServer) {
	s.RegisterService(&audienceServiceDesc, srv)
}

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(api.AudienceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(api.AudienceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AudienceClient calls the audience service over a client connection.
type AudienceClient struct {
	cc grpc.ClientConnInterface
}

// NewAudienceClient wraps cc.
func NewAudienceClient(cc grpc.ClientConnInterface) *AudienceClient {
	return &AudienceClient{cc: cc}
}

func (c *AudienceClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// MatchUser calls AudienceService.MatchUser.
func (c *AudienceClient) MatchUser(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MatchUserMethod, req, opts...)
}

// SelectUsers calls AudienceService.SelectUsers.
func (c *AudienceClient) SelectUsers(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SelectUsersMethod, req, opts...)
}

// ExplainRule calls AudienceService.ExplainRule.
func (c *AudienceClient) ExplainRule(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ExplainRuleMethod, req, opts...)
}
