package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor continues the caller's trace for incoming unary calls
// and logs each call with its status code.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = WithContext(ctx, FromMap(incomingMetadata(ctx)))
		start := time.Now()
		resp, err := handler(ctx, req)
		Logger(ctx).Debug("grpc call", "method", info.FullMethod, "code", status.Code(err), "duration", time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls such as health Watch.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := WithContext(ss.Context(), FromMap(incomingMetadata(ss.Context())))
		return handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func incomingMetadata(ctx context.Context) map[string]string {
	m := make(map[string]string, 2)
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return m
	}
	for _, key := range []string{TraceIDKey, SpanIDKey} {
		if vals := md.Get(key); len(vals) > 0 {
			m[key] = vals[0]
		}
	}
	return m
}
