package logging

import (
	"context"

	"go.viam.com/utils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type debugKeyCtxKey struct{}

const (
	// debugKeyMetadataKey carries the debug key in gRPC metadata.
	debugKeyMetadataKey = "slam-debug"
	// debugKeyField names the debug key on log entries.
	debugKeyField = "slam_debug"
)

// EnableDebugMode returns a context whose CDebugw calls log regardless of level, tagged with
// debugKey. An empty debugKey generates a random one.
func EnableDebugMode(ctx context.Context, debugKey string) context.Context {
	if debugKey == "" {
		debugKey = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugKeyCtxKey{}, debugKey)
}

// IsDebugMode returns whether ctx carries a debug key.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug key of ctx, or "".
func GetName(ctx context.Context) string {
	key, _ := ctx.Value(debugKeyCtxKey{}).(string)
	return key
}

// UnaryClientInterceptor forwards the debug key of the calling context (if any) to the server so
// a single slow or failing query can be traced through both processes.
func UnaryClientInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if key := GetName(ctx); key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, debugKeyMetadataKey, key)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// UnaryServerInterceptor enables debug mode on the handler context when the caller sent a debug key.
func UnaryServerInterceptor(
	ctx context.Context,
	req interface{},
	_ *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	if values := metadata.ValueFromIncomingContext(ctx, debugKeyMetadataKey); len(values) == 1 {
		ctx = EnableDebugMode(ctx, values[0])
	}
	return handler(ctx, req)
}
