package leavehandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rittima/CRM-Team-sub000/internal/domain/auth"
	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
	"github.com/rittima/CRM-Team-sub000/internal/domain/notifications"
	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
	"github.com/rittima/CRM-Team-sub000/internal/platform/idempotency"
	"github.com/rittima/CRM-Team-sub000/internal/platform/jobs"
	"github.com/rittima/CRM-Team-sub000/internal/platform/metrics"
	"github.com/rittima/CRM-Team-sub000/internal/transport/http/api"
	"github.com/rittima/CRM-Team-sub000/internal/transport/http/middleware"
	"github.com/rittima/CRM-Team-sub000/internal/transport/http/shared"
)

const idempotencyEndpointApply = "leave.apply"

type Handler struct {
	Service     *leave.Service
	Perms       middleware.PermissionStore
	Notify      *notifications.Service
	Jobs        *jobs.Service
	Idempotency idempotency.Store
	Metrics     *metrics.Collector
}

func NewHandler(service *leave.Service, perms middleware.PermissionStore, notify *notifications.Service, jobsSvc *jobs.Service, idem idempotency.Store, collector *metrics.Collector) *Handler {
	return &Handler{Service: service, Perms: perms, Notify: notify, Jobs: jobsSvc, Idempotency: idem, Metrics: collector}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/leaves", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermLeaveWrite, h.Perms)).Post("/", h.handleApply)
		r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/me", h.handleListMine)
		r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/me/stats", h.handleStats)
		r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/allocation", h.handleMyAllocation)
		r.With(middleware.RequirePermission(auth.PermLeaveReview, h.Perms)).Get("/allocation/{userID}", h.handleUserAllocation)
		r.With(middleware.RequirePermission(auth.PermLeaveReview, h.Perms)).Get("/", h.handleListAll)
		r.With(middleware.RequirePermission(auth.PermLeaveReview, h.Perms)).Post("/reconcile", h.handleReconcile)
		r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/{leaveID}", h.handleGet)
		r.With(middleware.RequirePermission(auth.PermLeaveReview, h.Perms)).Patch("/{leaveID}/review", h.handleReview)
	})
}

type applyPayload struct {
	LeaveType string `json:"leaveType" validate:"required,oneof=Sick Casual Annual Maternity Paternity Emergency Other"`
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

type reviewPayload struct {
	Status          string `json:"status" validate:"required,oneof=Approved Rejected"`
	HRComments      string `json:"hrComments" validate:"max=500"`
	RejectionReason string `json:"rejectionReason" validate:"max=200"`
}

type leaveResponse struct {
	Message string             `json:"message"`
	Leave   leave.LeaveRequest `json:"leave"`
}

type myLeavesResponse struct {
	Leaves      []leave.LeaveRequest `json:"leaves"`
	TotalPages  int                  `json:"totalPages"`
	CurrentPage int                  `json:"currentPage"`
	TotalLeaves int                  `json:"totalLeaves"`
}

type pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalRecords int  `json:"totalRecords"`
	HasNext      bool `json:"hasNext"`
	HasPrev      bool `json:"hasPrev"`
}

type allLeavesResponse struct {
	Leaves     []leave.LeaveRequest `json:"leaves"`
	Pagination pagination           `json:"pagination"`
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	var payload applyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	validator := shared.NewValidator()
	validator.Struct(payload)
	start, end := time.Time{}, time.Time{}
	if payload.StartDate != "" && payload.EndDate != "" {
		start, _ = validator.Date("startDate", payload.StartDate)
		end, _ = validator.Date("endDate", payload.EndDate)
		validator.DateOrder("startDate", start, "endDate", end)
	}
	if validator.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	requestHash := idempotency.RequestHash(raw)
	if idempotencyKey != "" && h.Idempotency != nil {
		stored, found, err := h.Idempotency.Check(r.Context(), user.UserID, idempotencyEndpointApply, idempotencyKey, requestHash)
		if errors.Is(err, idempotency.ErrConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key was already used for a different request", middleware.GetRequestID(r.Context()))
			return
		}
		if err != nil {
			slog.Warn("idempotency check failed", "err", err)
		}
		if found {
			api.Raw(w, http.StatusCreated, stored, middleware.GetRequestID(r.Context()))
			return
		}
	}

	req, err := h.Service.Apply(r.Context(), leave.ApplyInput{
		UserID:    user.UserID,
		LeaveType: payload.LeaveType,
		StartDate: start,
		EndDate:   end,
		Reason:    payload.Reason,
	})
	if err != nil {
		h.writeError(w, r, err, "leave_apply_failed", "failed to submit leave application")
		return
	}
	h.Metrics.Inc(metrics.LeaveApplied)

	response := leaveResponse{Message: "Leave application submitted successfully", Leave: req}
	if idempotencyKey != "" && h.Idempotency != nil {
		encoded, err := json.Marshal(response)
		if err != nil {
			slog.Warn("idempotency response marshal failed", "err", err)
		} else if err := h.Idempotency.Save(r.Context(), user.UserID, idempotencyEndpointApply, idempotencyKey, requestHash, encoded); err != nil {
			slog.Warn("idempotency save failed", "err", err)
		}
	}
	api.Created(w, response, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	page := shared.ParsePage(r, shared.DefaultPageSize, shared.MaxPageSize)

	result, err := h.Service.List(r.Context(), leave.RequestFilter{
		UserID: user.UserID,
		Status: r.URL.Query().Get("status"),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		h.writeError(w, r, err, "leave_list_failed", "failed to list leave requests")
		return
	}
	api.Success(w, myLeavesResponse{
		Leaves:      nonNil(result.Requests),
		TotalPages:  shared.TotalPages(result.Total, page.Limit),
		CurrentPage: page.Page,
		TotalLeaves: result.Total,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListAll(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePage(r, shared.DefaultPageSize, shared.MaxPageSize)
	query := r.URL.Query()

	validator := shared.NewValidator()
	startFrom := validator.OptionalDate("startDate", query.Get("startDate"))
	endTo := validator.OptionalDate("endDate", query.Get("endDate"))
	if validator.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	result, err := h.Service.List(r.Context(), leave.RequestFilter{
		UserID:    query.Get("userId"),
		Status:    query.Get("status"),
		StartFrom: startFrom,
		EndTo:     endTo,
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		h.writeError(w, r, err, "leave_list_failed", "failed to list leave requests")
		return
	}
	totalPages := shared.TotalPages(result.Total, page.Limit)
	api.Success(w, allLeavesResponse{
		Leaves: nonNil(result.Requests),
		Pagination: pagination{
			CurrentPage:  page.Page,
			TotalPages:   totalPages,
			TotalRecords: result.Total,
			HasNext:      page.Page < totalPages,
			HasPrev:      page.Page > 1,
		},
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	stats, err := h.Service.Stats(r.Context(), user.UserID)
	if err != nil {
		h.writeError(w, r, err, "leave_stats_failed", "failed to load leave statistics")
		return
	}
	api.Success(w, stats, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMyAllocation(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	h.writeAllocation(w, r, user.UserID)
}

func (h *Handler) handleUserAllocation(w http.ResponseWriter, r *http.Request) {
	h.writeAllocation(w, r, chi.URLParam(r, "userID"))
}

func (h *Handler) writeAllocation(w http.ResponseWriter, r *http.Request, userID string) {
	year, month, ok := parseYearMonth(w, r)
	if !ok {
		return
	}
	view, err := h.Service.Allocation(r.Context(), userID, year, month)
	if err != nil {
		h.writeError(w, r, err, "leave_allocation_failed", "failed to load leave allocation")
		return
	}
	api.Success(w, view, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	req, err := h.Service.Get(r.Context(), chi.URLParam(r, "leaveID"))
	if err != nil {
		h.writeError(w, r, err, "leave_get_failed", "failed to load leave request")
		return
	}
	if req.UserID != user.UserID {
		canReview, err := h.Perms.HasPermission(r.Context(), user.RoleName, auth.PermLeaveReview)
		if err != nil || !canReview {
			// Do not reveal other users' request ids.
			api.Fail(w, http.StatusNotFound, "not_found", leave.ErrNotFound.Error(), middleware.GetRequestID(r.Context()))
			return
		}
	}
	api.Success(w, req, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload reviewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	validator := shared.NewValidator()
	validator.Struct(payload)
	if validator.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	res, err := h.Service.Review(r.Context(), leave.ReviewInput{
		LeaveID:         chi.URLParam(r, "leaveID"),
		Status:          payload.Status,
		ReviewerID:      user.UserID,
		HRComments:      payload.HRComments,
		RejectionReason: payload.RejectionReason,
	})
	if err != nil {
		h.writeError(w, r, err, "leave_review_failed", "failed to review leave request")
		return
	}

	req := res.LeaveRequest
	if res.StatusChanged {
		if req.Status == leave.StatusApproved {
			h.Metrics.Inc(metrics.LeaveApproved)
		} else {
			h.Metrics.Inc(metrics.LeaveRejected)
		}
		if h.Notify != nil {
			go h.Notify.LeaveDecided(context.WithoutCancel(r.Context()), req)
		}
	}

	api.Success(w, leaveResponse{
		Message: "Leave " + strings.ToLower(req.Status) + " successfully",
		Leave:   req,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parseYearMonth(w, r)
	if !ok {
		return
	}
	if year == 0 || month == 0 {
		now := time.Now()
		if h.Service.Now != nil {
			now = h.Service.Now()
		}
		if year == 0 {
			year = now.Year()
		}
		if month == 0 {
			month = int(now.Month())
		}
	}

	var (
		summary leave.ReconcileSummary
		err     error
	)
	if h.Jobs != nil {
		summary, err = h.Jobs.ReconcileNow(r.Context(), year, month)
	} else {
		summary, err = h.Service.ReconcileMonth(r.Context(), year, month)
	}
	if err != nil {
		h.writeError(w, r, err, "leave_reconcile_failed", "failed to reconcile leave allocations")
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func parseYearMonth(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	validator := shared.NewValidator()
	year := parseOptionalInt(validator, "year", r.URL.Query().Get("year"))
	month := parseOptionalInt(validator, "month", r.URL.Query().Get("month"))
	if validator.Reject(w, middleware.GetRequestID(r.Context())) {
		return 0, 0, false
	}
	return year, month, true
}

func parseOptionalInt(v *shared.Validator, field, raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.Add(field, "must be a whole number")
		return 0
	}
	return n
}

// writeError maps domain failures onto the API error envelope. Anything not
// recognised is logged and reported as a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, code, message string) {
	requestID := middleware.GetRequestID(r.Context())

	var balanceErr *leave.BalanceError
	var inputErr *leave.InputError
	switch {
	case errors.As(err, &balanceErr):
		h.Metrics.Inc(metrics.LeaveBalanceDenied)
		api.FailWithDetails(w, http.StatusBadRequest, "insufficient_balance", balanceErr.Error(), balanceErr, requestID)
	case errors.Is(err, leave.ErrOverlap):
		h.Metrics.Inc(metrics.LeaveOverlapDenied)
		api.Fail(w, http.StatusBadRequest, "leave_overlap", err.Error(), requestID)
	case errors.As(err, &inputErr):
		api.Fail(w, http.StatusBadRequest, "invalid_input", inputErr.Message, requestID)
	case errors.Is(err, users.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "user_not_found", err.Error(), requestID)
	case errors.Is(err, leave.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), requestID)
	case errors.Is(err, leave.ErrReviewConflict):
		api.Fail(w, http.StatusConflict, "review_conflict", leave.ErrReviewConflict.Error(), requestID)
	default:
		slog.Error(message, "requestId", requestID, "path", r.URL.Path, "err", err)
		api.Fail(w, http.StatusInternalServerError, code, message, requestID)
	}
}

func nonNil(requests []leave.LeaveRequest) []leave.LeaveRequest {
	if requests == nil {
		return []leave.LeaveRequest{}
	}
	return requests
}
