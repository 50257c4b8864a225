package transformheaders

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// UnaryServerInterceptor transforms the incoming metadata of unary calls
func (p *Policy) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if p.skipped(info.FullMethod) {
			return handler(ctx, req)
		}

		newCtx, err := p.processIncomingMetadata(ctx, info.FullMethod)
		if err != nil {
			return nil, grpcStatus(err)
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor transforms the incoming metadata of streaming calls
func (p *Policy) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if p.skipped(info.FullMethod) {
			return handler(srv, ss)
		}

		ctx, err := p.processIncomingMetadata(ss.Context(), info.FullMethod)
		if err != nil {
			return grpcStatus(err)
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// processIncomingMetadata transforms a copy of the incoming metadata and
// returns a context carrying the result
func (p *Policy) processIncomingMetadata(ctx context.Context, method string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}
	md = md.Copy()

	vars := &Variables{APIID: p.apiID, Request: metadataRequestVars(ctx, method, md)}
	if err := p.apply(ctx, failureMessage, NewMetadataHeaders(md), vars); err != nil {
		return ctx, err
	}
	return metadata.NewIncomingContext(ctx, md), nil
}

func metadataRequestVars(ctx context.Context, method string, md metadata.MD) *RequestVars {
	headers := make(http.Header, len(md))
	for k, v := range md {
		headers[k] = append([]string(nil), v...)
	}
	vars := &RequestVars{
		Method:  http.MethodPost,
		Path:    method,
		Scheme:  "grpc",
		Headers: headers,
	}
	if ids := md.Get(strings.ToLower(RequestIDHeader)); len(ids) > 0 {
		vars.ID = ids[0]
	}
	if auth := md.Get(":authority"); len(auth) > 0 {
		vars.Host = auth[0]
	}
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		vars.RemoteAddress = pr.Addr.String()
	}
	return vars
}

// grpcStatus converts a transformation failure to a status error. Failures
// carry an ErrorInfo detail with FailureKey as reason.
func grpcStatus(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	st := status.New(codes.Internal, failureMessage)
	info := &errdetails.ErrorInfo{Reason: FailureKey, Domain: PolicyID}
	var failure *Failure
	if errors.As(err, &failure) {
		st = status.New(codes.Internal, failure.Message)
		info.Metadata = map[string]string{
			"api-id":       failure.APIID,
			"request-id":   failure.RequestID,
			"request-path": failure.Path,
		}
	}
	if detailed, derr := st.WithDetails(info); derr == nil {
		st = detailed
	}
	return st.Err()
}

// wrappedServerStream wraps a grpc.ServerStream to provide custom context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

var hopByHopHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
	"te":                true,
}

// HeaderMatcher forwards every HTTP header as gRPC metadata, so the server side
// interceptors see the full header set. Hop-by-hop headers are dropped.
func (p *Policy) HeaderMatcher() runtime.HeaderMatcherFunc {
	return func(key string) (string, bool) {
		if hopByHopHeaders[strings.ToLower(key)] {
			return "", false
		}
		if defaultKey, ok := runtime.DefaultHeaderMatcher(key); ok && defaultKey != "" {
			return defaultKey, true
		}
		return strings.ToLower(key), true
	}
}

// ResponseModifier transforms the HTTP response headers written by grpc-gateway
func (p *Policy) ResponseModifier() func(context.Context, http.ResponseWriter, proto.Message) error {
	return func(ctx context.Context, w http.ResponseWriter, _ proto.Message) error {
		vars := &Variables{
			APIID:    p.apiID,
			Request:  gatewayRequestVars(ctx),
			Response: &ResponseVars{Status: http.StatusOK, Headers: w.Header()},
		}
		if p.skipped(vars.Request.Path) {
			return nil
		}
		if err := p.apply(ctx, failureMessage, NewHTTPHeaders(w.Header()), vars); err != nil {
			return grpcStatus(err)
		}
		return nil
	}
}

func gatewayRequestVars(ctx context.Context) *RequestVars {
	vars := &RequestVars{Scheme: "http", Headers: http.Header{}}
	if pattern, ok := runtime.HTTPPathPattern(ctx); ok {
		vars.Path = pattern
	}
	if method, ok := runtime.RPCMethod(ctx); ok && vars.Path == "" {
		vars.Path = method
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		for k, v := range md {
			vars.Headers[k] = append([]string(nil), v...)
		}
		if ids := md.Get(strings.ToLower(RequestIDHeader)); len(ids) > 0 {
			vars.ID = ids[0]
		}
	}
	return vars
}

// CreateGatewayMux creates a grpc-gateway ServeMux that forwards every header
// and transforms response headers with p
func CreateGatewayMux(p *Policy, opts ...runtime.ServeMuxOption) *runtime.ServeMux {
	allOpts := []runtime.ServeMuxOption{
		runtime.WithIncomingHeaderMatcher(p.HeaderMatcher()),
		runtime.WithForwardResponseOption(p.ResponseModifier()),
	}
	allOpts = append(allOpts, opts...)
	return runtime.NewServeMux(allOpts...)
}
