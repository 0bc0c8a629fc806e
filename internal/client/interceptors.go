package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const userIDMetadataKey = "x-user-id"

type actorKey struct{}

// WithActor marks ctx so outgoing calls carry uid as the caller identity.
func WithActor(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, actorKey{}, uid)
}

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata to outgoing calls and attaches the caller
// identity set with WithActor.
func forwardMetadata(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	if uid, _ := ctx.Value(actorKey{}).(string); uid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, userIDMetadataKey, uid)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
