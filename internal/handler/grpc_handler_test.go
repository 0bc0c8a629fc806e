package handler

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pesio-ai/be-spend-approvals/internal/client"
	"github.com/pesio-ai/be-spend-approvals/internal/errors"
)

func startGRPC(t *testing.T) (*services, *client.ApprovalsGRPCClient, *grpc.ClientConn) {
	t.Helper()
	svcs := newServices(t)

	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(NewGRPCHandler(svcs.approvals, zerolog.Nop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	c, err := client.NewApprovalsGRPCClient("passthrough:///bufnet", dialer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	raw, err := grpc.NewClient("passthrough:///bufnet", dialer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	return svcs, c, raw
}

func TestGRPC_SubmitAndDecide(t *testing.T) {
	_, c, _ := startGRPC(t)
	ctx := client.WithActor(context.Background(), "employee@cwit.lk")

	created, err := c.Submit(ctx, map[string]interface{}{
		"title":        "Forklift",
		"amount":       "2500",
		"currency":     "LKR",
		"category":     "Plant",
		"expense_type": "CAPEX",
	})
	require.NoError(t, err)
	assert.Equal(t, "SUBMITTED", created["status"])
	assert.Equal(t, "employee@cwit.lk", created["submitted_by"])
	id := created["id"].(string)

	got, err := c.GetRequest(ctx, id)
	require.NoError(t, err)
	steps := got["steps"].([]interface{})
	require.Len(t, steps, 1)
	assert.Equal(t, "Asset Manager", steps[0].(map[string]interface{})["role_name"])

	_, err = c.RejectCurrentStep(ctx, id, "asset.manager@cwit.lk", "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	d, err := c.ApproveCurrentStep(client.WithActor(context.Background(), "asset.manager@cwit.lk"), id, "", "ok")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", d["request_status"])

	_, err = c.ApproveCurrentStep(ctx, id, "asset.manager@cwit.lk", "")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	missing, err := c.GetRequest(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGRPC_Evaluate(t *testing.T) {
	_, c, _ := startGRPC(t)

	chain, err := c.Evaluate(context.Background(), "21000", "Office", "OPEX")
	require.NoError(t, err)
	steps := chain["steps"].([]interface{})
	require.Len(t, steps, 3)
	assert.Equal(t, "Head of Department", steps[2].(map[string]interface{})["role_name"])

	_, err = c.Evaluate(context.Background(), "10", "Office", "LEASE")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_ConcurrentApprovals(t *testing.T) {
	svcs, c, _ := startGRPC(t)

	created, err := c.Submit(context.Background(), map[string]interface{}{
		"title": "Chairs", "amount": "1500", "currency": "USD",
		"category": "Office", "expense_type": "CAPEX", "submitted_by": "employee@cwit.lk",
	})
	require.NoError(t, err)
	id := created["id"].(string)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = c.ApproveCurrentStep(context.Background(), id, "asset.manager@cwit.lk", "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		code := status.Code(err)
		assert.True(t, code == codes.FailedPrecondition || code == codes.Aborted, "unexpected code %s", code)
	}
	assert.Equal(t, 1, ok)

	req, err := svcs.approvals.GetRequest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", string(req.Status))
}

func TestGRPC_Health(t *testing.T) {
	_, _, raw := startGRPC(t)

	resp, err := healthpb.NewHealthClient(raw).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ApprovalServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errors.InvalidInput("title", "required"), codes.InvalidArgument},
		{errors.NotFound("spend_request", "x"), codes.NotFound},
		{errors.AlreadyResolved("x"), codes.FailedPrecondition},
		{errors.ConcurrentConflict("approval_step", "x"), codes.Aborted},
		{errors.New(errors.ErrCodeRuleSourceUnavailable, "down"), codes.Unavailable},
		{context.DeadlineExceeded, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(mapErrorToGRPC(tt.err)), tt.err.Error())
	}
	assert.NoError(t, mapErrorToGRPC(nil))
}
