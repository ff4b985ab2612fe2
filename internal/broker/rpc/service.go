package rpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"go.opentelemetry.io/otel/trace"

	"github.com/gcp-broker/tokenbroker/internal/broker/brokererr"
	"github.com/gcp-broker/tokenbroker/internal/broker/metrics"
	"github.com/gcp-broker/tokenbroker/internal/logger"
	"github.com/gcp-broker/tokenbroker/pkg/brokerapi"
)

// ServiceName is the gRPC service name the hand-authored ServiceDesc below
// registers. There is no .proto in this repository to generate it from.
const ServiceName = "broker.Broker"

// auditInfo is what a business method tells the envelope to record on the
// audit line, beyond the procedure name and outcome. Handlers that already
// know the fields from the request (GetSessionToken, GetAccessToken)
// prefill it; RenewSessionToken/CancelSessionToken only learn owner,
// renewer, and session ID once they've resolved the session token, so they
// fill it in via setAuditInfo after that lookup succeeds.
type auditInfo struct {
	owner, renewer, sessionID string
}

type auditInfoKey struct{}

func withAuditInfo(ctx context.Context, info *auditInfo) context.Context {
	return context.WithValue(ctx, auditInfoKey{}, info)
}

// setAuditInfo records the resolved session's owner/renewer/ID onto the
// current call's audit line. A no-op if called outside invoke's context.
func setAuditInfo(ctx context.Context, owner, renewer, sessionID string) {
	if info, ok := ctx.Value(auditInfoKey{}).(*auditInfo); ok {
		info.owner = owner
		info.renewer = renewer
		info.sessionID = sessionID
	}
}

// requestLogContext builds the *logger.LogContext attached to every call's
// context so auditLog (and anything else downstream) gets trace
// correlation, the procedure name, and the caller's address for free
// through the *Ctx logging functions.
func requestLogContext(ctx context.Context, procedure string) *logger.LogContext {
	lc := &logger.LogContext{Procedure: procedure}

	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		lc.TraceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		lc.SpanID = sc.SpanID().String()
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		lc.ClientIP = p.Addr.String()
	}

	return lc
}

// invoke is the error/audit envelope: it recovers a genuinely unexpected
// panic (declared failures are returned as *brokererr.Error and never
// panic), emits a single structured audit line, and
// maps the business error to a grpc status before it reaches the wire.
func invoke[Req, Resp any](
	ctx context.Context,
	procedure string,
	req *Req,
	info *auditInfo,
	fn func(context.Context, *Req) (*Resp, error),
) (resp *Resp, err error) {
	start := time.Now()
	ctx = withAuditInfo(ctx, info)
	ctx = logger.WithContext(ctx, requestLogContext(ctx, procedure))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			resp = nil
		}
		metrics.RecordRequest(procedure, time.Since(start), err)
		auditLog(ctx, procedure, info.owner, info.renewer, info.sessionID, err)
		if err != nil {
			err = toStatusError(err)
		}
	}()

	return fn(ctx, req)
}

func toStatusError(err error) error {
	if handled, ok := brokererr.As(err); ok {
		return status.Error(handled.Code, handled.Message)
	}
	return status.Error(codes.Unknown, brokererr.UnknownMessage)
}

// ServiceDesc is the hand-authored grpc.ServiceDesc wiring the four Broker
// endpoints onto a *Server, standing in for what protoc-gen-go-grpc would
// otherwise generate from a .proto this repository does not have.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSessionToken", Handler: getSessionTokenHandler},
		{MethodName: "RenewSessionToken", Handler: renewSessionTokenHandler},
		{MethodName: "CancelSessionToken", Handler: cancelSessionTokenHandler},
		{MethodName: "GetAccessToken", Handler: getAccessTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "broker.proto",
}

func getSessionTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	req := new(brokerapi.GetSessionTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req *brokerapi.GetSessionTokenRequest) (*brokerapi.GetSessionTokenResponse, error) {
		return invoke(ctx, "GetSessionToken", req, &auditInfo{owner: req.Owner, renewer: req.Renewer}, s.GetSessionToken)
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetSessionToken"}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return call(ctx, req.(*brokerapi.GetSessionTokenRequest))
	})
}

func renewSessionTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	req := new(brokerapi.RenewSessionTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req *brokerapi.RenewSessionTokenRequest) (*brokerapi.RenewSessionTokenResponse, error) {
		return invoke(ctx, "RenewSessionToken", req, &auditInfo{}, s.RenewSessionToken)
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RenewSessionToken"}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return call(ctx, req.(*brokerapi.RenewSessionTokenRequest))
	})
}

func cancelSessionTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	req := new(brokerapi.CancelSessionTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req *brokerapi.CancelSessionTokenRequest) (*brokerapi.CancelSessionTokenResponse, error) {
		return invoke(ctx, "CancelSessionToken", req, &auditInfo{}, s.CancelSessionToken)
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/CancelSessionToken"}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return call(ctx, req.(*brokerapi.CancelSessionTokenRequest))
	})
}

func getAccessTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	req := new(brokerapi.GetAccessTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req *brokerapi.GetAccessTokenRequest) (*brokerapi.GetAccessTokenResponse, error) {
		return invoke(ctx, "GetAccessToken", req, &auditInfo{owner: req.Owner}, s.GetAccessToken)
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetAccessToken"}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return call(ctx, req.(*brokerapi.GetAccessTokenRequest))
	})
}
