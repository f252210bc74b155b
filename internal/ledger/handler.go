package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/observability"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
	"github.com/atlas-dms/atlas-dms/internal/shared"
)

// Handler wires HTTP endpoints for ledger entries.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers ledger routes. Payment and debit recording hang off
// the booking subtree; entry workflow routes live under /ledger.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pending", h.listPending)
	r.Get("/entries/{id}", h.getEntry)
	r.Post("/entries/{id}/approve", h.approveEntry)
	r.Post("/entries/{id}/reject", h.rejectEntry)
	r.Post("/entries/{id}/amend", h.amendEntry)
}

// MountBookingRoutes registers the per-booking recording endpoints.
func (h *Handler) MountBookingRoutes(r chi.Router) {
	r.Post("/{id}/payments", h.recordPayment)
	r.Post("/{id}/debits", h.recordDebit)
}

type recordPaymentRequest struct {
	Kind         string  `json:"kind"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	PaymentMode  string  `json:"paymentMode" validate:"required"`
	CashLocation string  `json:"cashLocation"`
	BankID       int64   `json:"bankId"`
	SubMode      string  `json:"subMode"`
	Remark       string  `json:"remark"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid booking id")
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	result, err := h.service.RecordPayment(r.Context(), PaymentInput{
		BookingID: bookingID,
		Kind:      Kind(req.Kind),
		Amount:    req.Amount,
		Channel:   Channel(req.PaymentMode),
		Ref: ChannelRefInput{
			CashLocation: req.CashLocation,
			BankID:       req.BankID,
			SubMode:      req.SubMode,
		},
		Remark:         req.Remark,
		ActorID:        actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("record payment", slog.Int64("booking_id", bookingID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.CountPayment(string(result.Entry.Channel), string(result.Entry.ApprovalStatus))
	httpx.JSON(w, http.StatusCreated, result)
}

type recordDebitRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Reason string  `json:"reason" validate:"required"`
}

func (h *Handler) recordDebit(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid booking id")
		return
	}
	var req recordDebitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	result, err := h.service.RecordDebit(r.Context(), DebitInput{
		BookingID: bookingID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		ActorID:   actor.ID,
	})
	if err != nil {
		h.logger.Error("record debit", slog.Int64("booking_id", bookingID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type workflowRequest struct {
	Remark string `json:"remark"`
}

func (h *Handler) approveEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req workflowRequest
	_ = httpx.DecodeJSON(r, &req)
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	result, err := h.service.Approve(r.Context(), entryID, actor.ID, req.Remark)
	if err != nil {
		h.logger.Error("approve entry", slog.String("entry_id", entryID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.CountApproval("approved")
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) rejectEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req workflowRequest
	_ = httpx.DecodeJSON(r, &req)
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	entry, err := h.service.Reject(r.Context(), entryID, actor.ID, req.Remark)
	if err != nil {
		h.logger.Error("reject entry", slog.String("entry_id", entryID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.CountApproval("rejected")
	httpx.JSON(w, http.StatusOK, entry)
}

type amendRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) amendEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req amendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	result, err := h.service.Amend(r.Context(), entryID, req.Amount, actor.ID)
	if err != nil {
		h.logger.Error("amend entry", slog.String("entry_id", entryID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type pendingResponse struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := PendingFilter{
		NonCashOnly: q.Get("non_cash") == "true",
		Page:        page,
		PerPage:     perPage,
	}

	entries, pagination, err := h.service.ListPending(r.Context(), filter)
	if err != nil {
		h.logger.Error("list pending entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pendingResponse{Entries: entries, Pagination: pagination})
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), entryID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}
