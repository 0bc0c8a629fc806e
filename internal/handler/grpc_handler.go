package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/middleware"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

// ApprovalServiceName is the fully qualified gRPC service name.
const ApprovalServiceName = "spend.approvals.v1.ApprovalService"

// ApprovalServiceServer is the server API for the approval service. Payloads
// are google.protobuf.Struct documents shaped like the HTTP JSON bodies.
type ApprovalServiceServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveCurrentStep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectCurrentStep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv ApprovalServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ApprovalServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ApprovalServiceDesc describes ApprovalServiceServer for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", ApprovalServiceServer.Submit)},
		{MethodName: "ApproveCurrentStep", Handler: unaryHandler("ApproveCurrentStep", ApprovalServiceServer.ApproveCurrentStep)},
		{MethodName: "RejectCurrentStep", Handler: unaryHandler("RejectCurrentStep", ApprovalServiceServer.RejectCurrentStep)},
		{MethodName: "Evaluate", Handler: unaryHandler("Evaluate", ApprovalServiceServer.Evaluate)},
		{MethodName: "GetRequest", Handler: unaryHandler("GetRequest", ApprovalServiceServer.GetRequest)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spend/approvals/v1/approvals.proto",
}

// RegisterApprovalServiceServer registers srv on s.
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

// GRPCHandler implements the ApprovalService gRPC interface
type GRPCHandler struct {
	approvals *service.ApprovalRoutingService
	logger    zerolog.Logger
}

var _ ApprovalServiceServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalRoutingService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// userID extracts the authenticated user ID from context, or returns empty string.
func userID(ctx context.Context) string {
	return middleware.UserIDFromContext(ctx)
}

// Submit submits a new spend request
func (h *GRPCHandler) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body submitRequestBody
	if err := fromStruct(req, &body); err != nil {
		return nil, err
	}

	h.logger.Info().
		Str("title", body.Title).
		Str("expense_type", body.ExpenseType).
		Msg("gRPC Submit called")

	submittedBy := userID(ctx)
	if submittedBy == "" {
		submittedBy = body.SubmittedBy
	}

	et, _ := repository.ParseExpenseType(body.ExpenseType)
	created, err := h.approvals.Submit(ctx, service.SubmitInput{
		Title:               body.Title,
		Amount:              body.Amount,
		Currency:            body.Currency,
		Category:            body.Category,
		ExpenseType:         et,
		Supplier:            body.Supplier,
		Justification:       body.Justification,
		DetailedDescription: body.DetailedDescription,
		IsBudgeted:          body.IsBudgeted,
	}, submittedBy)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to submit spend request")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(created)
}

// ApproveCurrentStep approves the active step of a request
func (h *GRPCHandler) ApproveCurrentStep(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body decisionBody
	if err := fromStruct(req, &body); err != nil {
		return nil, err
	}

	uid := userID(ctx)
	h.logger.Info().
		Str("id", body.ID).
		Str("acted_by", uid).
		Msg("gRPC ApproveCurrentStep called")

	if body.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	approvedBy := uid
	if approvedBy == "" {
		approvedBy = body.Approver
	}
	d, err := h.approvals.ApproveCurrentStep(ctx, body.ID, approvedBy, body.Notes)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to approve step")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(d)
}

// RejectCurrentStep rejects the active step and with it the request
func (h *GRPCHandler) RejectCurrentStep(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body decisionBody
	if err := fromStruct(req, &body); err != nil {
		return nil, err
	}

	uid := userID(ctx)
	h.logger.Info().
		Str("id", body.ID).
		Str("acted_by", uid).
		Msg("gRPC RejectCurrentStep called")

	if body.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if body.Reason == "" {
		return nil, status.Error(codes.InvalidArgument, "reason is required")
	}

	rejectedBy := uid
	if rejectedBy == "" {
		rejectedBy = body.Approver
	}
	d, err := h.approvals.RejectCurrentStep(ctx, body.ID, rejectedBy, body.Reason)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to reject step")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(d)
}

// Evaluate returns the approval chain a request would get, without storing it
func (h *GRPCHandler) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body evaluateBody
	if err := fromStruct(req, &body); err != nil {
		return nil, err
	}

	et, _ := repository.ParseExpenseType(body.ExpenseType)
	chain, err := h.approvals.PreviewChain(ctx, body.Amount, body.Category, et)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(chain)
}

// GetRequest returns a request with its steps
func (h *GRPCHandler) GetRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	found, err := h.approvals.GetRequest(ctx, id)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(found)
}

// NewGRPCServer builds a server with the approval service, the standard
// health service and reflection registered.
func NewGRPCServer(h *GRPCHandler, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryServerInterceptor(h.logger))}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterApprovalServiceServer(srv, h)

	hs := health.NewServer()
	hs.SetServingStatus(ApprovalServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv) // Enable reflection for debugging
	return srv, hs
}

// UnaryServerInterceptor copies the x-user-id metadata into the context and
// logs every call.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(strings.ToLower(middleware.HeaderUserID)); len(v) > 0 && v[0] != "" {
				ctx = middleware.WithUserID(ctx, v[0])
			}
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// Helper functions

func fromStruct(s *structpb.Struct, v interface{}) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, "invalid request payload: "+err.Error())
	}
	return nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	switch errors.Code(err) {
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, errMsg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, errMsg)
	case errors.ErrCodeAlreadyResolved, errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, errMsg)
	case errors.ErrCodeConcurrentConflict:
		return status.Error(codes.Aborted, errMsg)
	case errors.ErrCodeRuleSourceUnavailable:
		return status.Error(codes.Unavailable, errMsg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, errMsg)
	default:
		return status.Error(codes.Internal, errMsg)
	}
}
