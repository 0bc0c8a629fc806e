package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/middleware"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalRoutingService
	rules     *service.RuleService
	inbox     *service.NotificationService
	ready     Pinger
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	approvals *service.ApprovalRoutingService,
	rules *service.RuleService,
	inbox *service.NotificationService,
	ready Pinger,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		rules:     rules,
		inbox:     inbox,
		ready:     ready,
		log:       log,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListRequests(w, r)
		case http.MethodPost:
			h.SubmitRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/requests/get", h.GetRequest)
	mux.HandleFunc("/api/v1/requests/approve", h.ApproveRequest)
	mux.HandleFunc("/api/v1/requests/reject", h.RejectRequest)
	mux.HandleFunc("/api/v1/requests/history", h.GetHistory)
	mux.HandleFunc("/api/v1/approvals/pending", h.GetPending)

	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListRules(w, r)
		case http.MethodPost:
			h.CreateRule(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/rules/get", h.GetRule)
	mux.HandleFunc("/api/v1/rules/evaluate", h.EvaluateChain)
	mux.HandleFunc("/api/v1/rules/import", h.ImportRules)
	mux.HandleFunc("/api/v1/rules/deactivate", h.DeactivateRule)
	mux.HandleFunc("/api/v1/rules/matrix", h.GetMatrix)

	mux.HandleFunc("/api/v1/notifications", h.ListNotifications)
	mux.HandleFunc("/api/v1/notifications/read", h.MarkNotificationsRead)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready reports whether the store is reachable.
func (h *HTTPHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready.Ping(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ── Requests ──────────────────────────────────────────────────────────────────

type submitRequestBody struct {
	Title               string          `json:"title"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Category            string          `json:"category"`
	ExpenseType         string          `json:"expense_type"`
	Supplier            string          `json:"supplier"`
	Justification       string          `json:"justification"`
	DetailedDescription string          `json:"detailed_description"`
	IsBudgeted          bool            `json:"is_budgeted"`
	SubmittedBy         string          `json:"submitted_by"`
}

// SubmitRequest handles submit spend request HTTP requests
func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	et, _ := repository.ParseExpenseType(body.ExpenseType)
	req, err := h.approvals.Submit(r.Context(), service.SubmitInput{
		Title:               body.Title,
		Amount:              body.Amount,
		Currency:            body.Currency,
		Category:            body.Category,
		ExpenseType:         et,
		Supplier:            body.Supplier,
		Justification:       body.Justification,
		DetailedDescription: body.DetailedDescription,
		IsBudgeted:          body.IsBudgeted,
	}, actor(r, body.SubmittedBy))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// GetRequest handles get spend request HTTP requests
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	req, err := h.approvals.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// ListRequests handles list spend requests HTTP requests
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var filter repository.RequestFilter
	if s := strings.ToUpper(q.Get("status")); s != "" {
		filter.Status = repository.StatusPtr(repository.RequestStatus(s))
	}
	if by := q.Get("submitted_by"); by != "" {
		filter.SubmittedBy = &by
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	requests, total, err := h.approvals.ListRequests(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

type decisionBody struct {
	ID       string  `json:"id"`
	Approver string  `json:"approver"`
	Notes    *string `json:"notes"`
	Reason   string  `json:"reason"`
}

// ApproveRequest handles approve current step HTTP requests
func (h *HTTPHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	d, err := h.approvals.ApproveCurrentStep(r.Context(), body.ID, actor(r, body.Approver), body.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// RejectRequest handles reject current step HTTP requests
func (h *HTTPHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	d, err := h.approvals.RejectCurrentStep(r.Context(), body.ID, actor(r, body.Approver), body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// GetHistory handles approval history HTTP requests
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	history, err := h.approvals.GetApprovalHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// GetPending handles pending approvals HTTP requests
func (h *HTTPHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pending, err := h.approvals.GetPendingForRole(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": pending, "total": len(pending)})
}

// ── Rules ─────────────────────────────────────────────────────────────────────

type evaluateBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	ExpenseType string          `json:"expense_type"`
}

// EvaluateChain handles dry-run chain evaluation HTTP requests
func (h *HTTPHandler) EvaluateChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body evaluateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	et, _ := repository.ParseExpenseType(body.ExpenseType)
	chain, err := h.approvals.PreviewChain(r.Context(), body.Amount, body.Category, et)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chain)
}

// ListRules handles list rules HTTP requests
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"

	rules, err := h.rules.ListRules(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules, "total": len(rules)})
}

// GetRule handles get rule HTTP requests
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rule, err := h.rules.GetRule(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles create rule HTTP requests
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var body service.RuleInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// ImportRules handles bulk rule import HTTP requests
func (h *HTTPHandler) ImportRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Rules []service.RuleInput `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rules, err := h.rules.ImportRules(r.Context(), body.Rules)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"rules": rules, "total": len(rules)})
}

// DeactivateRule handles rule deactivation HTTP requests
func (h *HTTPHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.rules.DeactivateRule(r.Context(), body.ID); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// GetMatrix handles DoA matrix HTTP requests
func (h *HTTPHandler) GetMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	groups, err := h.rules.Matrix(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

// ── Notifications ─────────────────────────────────────────────────────────────

// ListNotifications handles unread inbox HTTP requests
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := h.inbox.Unread(r.Context(), actor(r, r.URL.Query().Get("recipient")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": items, "total": len(items)})
}

// MarkNotificationsRead marks one notification, or every notification of a
// recipient, as read.
func (h *HTTPHandler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID        string `json:"id"`
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if body.ID != "" {
		if err := h.inbox.MarkRead(r.Context(), body.ID); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"updated": 1})
		return
	}

	n, err := h.inbox.MarkAllRead(r.Context(), actor(r, body.Recipient))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// actor prefers the authenticated caller over a body-supplied identity.
func actor(r *http.Request, fallback string) string {
	if uid := middleware.UserIDFromContext(r.Context()); uid != "" {
		return uid
	}
	return fallback
}

func httpStatus(err error) int {
	switch errors.Code(err) {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeAlreadyResolved, errors.ErrCodeConcurrentConflict, errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeRuleSourceUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	code := errors.Code(err)

	body := map[string]interface{}{"code": code, "error": err.Error()}
	var svcErr *errors.Error
	if errors.As(err, &svcErr) && svcErr.Field != "" {
		body["field"] = svcErr.Field
	}
	if code == errors.ErrCodeConcurrentConflict {
		body["retryable"] = true
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		body["error"] = "internal server error"
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
