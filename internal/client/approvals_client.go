package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const approvalServicePath = "/spend.approvals.v1.ApprovalService/"

// ApprovalsGRPCClient calls the spend ApprovalService over gRPC.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// Submit submits a spend request. payload uses the HTTP JSON field names.
func (c *ApprovalsGRPCClient) Submit(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return c.call(ctx, "Submit", payload)
}

// ApproveCurrentStep approves the active step of a request.
func (c *ApprovalsGRPCClient) ApproveCurrentStep(
	ctx context.Context,
	requestID, approver, notes string,
) (map[string]interface{}, error) {
	payload := map[string]interface{}{"id": requestID, "approver": approver}
	if notes != "" {
		payload["notes"] = notes
	}
	return c.call(ctx, "ApproveCurrentStep", payload)
}

// RejectCurrentStep rejects the active step and marks the request rejected.
func (c *ApprovalsGRPCClient) RejectCurrentStep(
	ctx context.Context,
	requestID, approver, reason string,
) (map[string]interface{}, error) {
	return c.call(ctx, "RejectCurrentStep", map[string]interface{}{
		"id":       requestID,
		"approver": approver,
		"reason":   reason,
	})
}

// Evaluate returns the chain a request with these attributes would get.
func (c *ApprovalsGRPCClient) Evaluate(
	ctx context.Context,
	amount, category, expenseType string,
) (map[string]interface{}, error) {
	return c.call(ctx, "Evaluate", map[string]interface{}{
		"amount":       amount,
		"category":     category,
		"expense_type": expenseType,
	})
}

// GetRequest returns a request with its steps, or nil if none exists.
func (c *ApprovalsGRPCClient) GetRequest(ctx context.Context, requestID string) (map[string]interface{}, error) {
	resp, err := c.call(ctx, "GetRequest", map[string]interface{}{"id": requestID})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, approvalServicePath+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
