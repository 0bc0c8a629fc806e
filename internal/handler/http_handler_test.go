package handler

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/client"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/middleware"
	"github.com/pesio-ai/be-spend-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

type services struct {
	store     *memory.Store
	approvals *service.ApprovalRoutingService
	rules     *service.RuleService
	inbox     *service.NotificationService
}

func newServices(t *testing.T) *services {
	t.Helper()
	log := logger.Nop()
	store := memory.New()

	rules := service.NewRuleService(store, log)
	_, err := rules.ImportRules(context.Background(), []service.RuleInput{
		{ExpenseType: "OPEX", MinAmount: "5000", RequiredRole: "Finance Manager"},
		{ExpenseType: "OPEX", MinAmount: "20000", RequiredRole: "Head of Department"},
		{ExpenseType: "CAPEX", MinAmount: "1000", RequiredRole: "Asset Manager"},
	})
	require.NoError(t, err)

	dispatcher := service.NewDispatcher(client.NewInboxNotifier(store), client.NewRoleDirectory(nil, "cwit.lk"), log)
	return &services{
		store:     store,
		approvals: service.NewApprovalRoutingService(store, service.NewChainBuilder(store, nil, log), dispatcher, log),
		rules:     rules,
		inbox:     service.NewNotificationService(store),
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return stderrors.New("db down") }

func newTestServer(t *testing.T, ready Pinger) (*services, http.Handler) {
	t.Helper()
	svcs := newServices(t)
	if ready == nil {
		ready = svcs.store
	}
	h := NewHTTPHandler(svcs.approvals, svcs.rules, svcs.inbox, ready, logger.Nop())
	mux := http.NewServeMux()
	h.Register(mux)
	return svcs, middleware.Chain(mux, middleware.RequestID, middleware.Identity)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func submitBody(amount string) map[string]interface{} {
	return map[string]interface{}{
		"title":        "Laptops",
		"amount":       amount,
		"currency":     "USD",
		"category":     "IT",
		"expense_type": "opex",
		"submitted_by": "employee@cwit.lk",
	}
}

func TestHTTP_SubmitApproveFlow(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/requests", submitBody("21000"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id := created["id"].(string)
	assert.Equal(t, "SUBMITTED", created["status"])
	steps := created["steps"].([]interface{})
	require.Len(t, steps, 3)
	assert.Equal(t, "Line Manager", steps[0].(map[string]interface{})["role_name"])

	rec = do(t, h, http.MethodPost, "/api/v1/requests/approve", map[string]string{"id": id},
		middleware.HeaderUserID, "will.riker@cwit.lk")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode(t, rec)
	assert.Equal(t, "IN_APPROVAL", d["request_status"])
	assert.Equal(t, "Finance Manager", d["next_role"])

	rec = do(t, h, http.MethodGet, "/api/v1/requests/get?id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	first := got["steps"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "APPROVED", first["status"])
	assert.Equal(t, "will.riker@cwit.lk", first["approver_identity"])

	rec = do(t, h, http.MethodGet, "/api/v1/approvals/pending?role=Finance+Manager", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	for _, approver := range []string{"sulu.fin@cwit.lk", "janeway.hod@cwit.lk"} {
		rec = do(t, h, http.MethodPost, "/api/v1/requests/approve", map[string]string{"id": id, "approver": approver})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Equal(t, "APPROVED", decode(t, rec)["request_status"])

	rec = do(t, h, http.MethodPost, "/api/v1/requests/approve", map[string]string{"id": id, "approver": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_RESOLVED", decode(t, rec)["code"])

	rec = do(t, h, http.MethodGet, "/api/v1/requests/history?id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["history"], 4)

	rec = do(t, h, http.MethodGet, "/api/v1/requests?status=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])
}

func TestHTTP_Reject(t *testing.T) {
	_, h := newTestServer(t, nil)

	created := decode(t, do(t, h, http.MethodPost, "/api/v1/requests", submitBody("6000")))
	id := created["id"].(string)

	rec := do(t, h, http.MethodPost, "/api/v1/requests/reject", map[string]string{"id": id, "approver": "will.riker@cwit.lk"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason", decode(t, rec)["field"])

	rec = do(t, h, http.MethodPost, "/api/v1/requests/reject",
		map[string]string{"id": id, "approver": "will.riker@cwit.lk", "reason": "Not budgeted"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "REJECTED", decode(t, rec)["request_status"])
}

func TestHTTP_Errors(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/requests", submitBody("0"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.Equal(t, "amount", body["field"])

	rec = do(t, h, http.MethodGet, "/api/v1/requests/get?id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/requests/approve", map[string]string{"id": "missing", "approver": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/requests/get", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/requests", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_RulesAndEvaluate(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/rules/evaluate",
		map[string]string{"amount": "1000.01", "category": "Plant", "expense_type": "CAPEX"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	chain := decode(t, rec)
	steps := chain["steps"].([]interface{})
	require.Len(t, steps, 1)
	assert.Equal(t, "Asset Manager", steps[0].(map[string]interface{})["role_name"])
	assert.Equal(t, false, chain["rules_unavailable"])

	rec = do(t, h, http.MethodPost, "/api/v1/rules", map[string]string{
		"expense_type": "Any", "category": "Any", "min_amount": "100000", "required_role": "CEO",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ruleID := decode(t, rec)["id"].(string)

	rec = do(t, h, http.MethodGet, "/api/v1/rules/matrix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode(t, rec)["groups"].([]interface{})
	require.Len(t, groups, 3)
	assert.Equal(t, "General", groups[1].(map[string]interface{})["expense_type"])

	rec = do(t, h, http.MethodPost, "/api/v1/rules/deactivate", map[string]string{"id": ruleID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/rules/get?id="+ruleID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, "CEO", got["required_role"])
	assert.Equal(t, false, got["is_active"])

	rec = do(t, h, http.MethodGet, "/api/v1/rules/get?id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/rules/get", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["total"])

	rec = do(t, h, http.MethodPost, "/api/v1/rules/import", map[string]interface{}{
		"rules": []map[string]string{{"min_amount": "-5", "required_role": "CFO"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_Notifications(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/requests", submitBody("100"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/notifications", nil, middleware.HeaderUserID, "will.riker@cwit.lk")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.EqualValues(t, 1, body["total"])
	n := body["notifications"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Action Required: New Approval Request", n["title"])
	assert.Equal(t, "ACTION", n["kind"])

	rec = do(t, h, http.MethodPost, "/api/v1/notifications/read", map[string]string{"recipient": "will.riker@cwit.lk"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["updated"])

	rec = do(t, h, http.MethodGet, "/api/v1/notifications?recipient=will.riker@cwit.lk", nil)
	assert.EqualValues(t, 0, decode(t, rec)["total"])
}

func TestHTTP_HealthAndReadiness(t *testing.T) {
	_, h := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", nil).Code)

	_, h = newTestServer(t, failingPinger{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz", nil).Code)
}
