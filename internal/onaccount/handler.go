package onaccount

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/observability"
	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
	"github.com/atlas-dms/atlas-dms/internal/shared"
)

// Handler wires HTTP endpoints for on-account receipts.
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

// MountRoutes registers receipt routes under /receipts.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createReceipt)
	r.Get("/", h.listReceipts)
	r.Get("/{id}", h.getReceipt)
	r.Post("/{id}/allocations", h.allocate)
	r.Delete("/{id}/allocations/{allocID}", h.deallocate)
}

type createReceiptRequest struct {
	SubdealerID  int64   `json:"subdealerId" validate:"required,gt=0"`
	RefNumber    string  `json:"refNumber" validate:"required"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	PaymentMode  string  `json:"paymentMode" validate:"required"`
	CashLocation string  `json:"cashLocation"`
	BankID       int64   `json:"bankId"`
	SubMode      string  `json:"subMode"`
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
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

	receipt, err := h.service.CreateReceipt(r.Context(), CreateReceiptInput{
		SubdealerID:  req.SubdealerID,
		RefNumber:    req.RefNumber,
		Amount:       req.Amount,
		Channel:      ledger.Channel(req.PaymentMode),
		CashLocation: req.CashLocation,
		BankID:       req.BankID,
		SubMode:      req.SubMode,
		ActorID:      actor.ID,
	})
	if err != nil {
		h.logger.Error("create receipt", slog.Int64("subdealer_id", req.SubdealerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	subdealerID, err := strconv.ParseInt(r.URL.Query().Get("subdealerId"), 10, 64)
	if err != nil || subdealerID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subdealerId query parameter required")
		return
	}
	receipts, err := h.service.ListBySubdealer(r.Context(), subdealerID)
	if err != nil {
		h.logger.Error("list receipts", slog.Int64("subdealer_id", subdealerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": receipts})
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	receipt, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

type allocationLine struct {
	BookingID int64   `json:"bookingId" validate:"required,gt=0"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Remark    string  `json:"remark"`
}

type allocateRequest struct {
	Allocations []allocationLine `json:"allocations" validate:"required,min=1,dive"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	var req allocateRequest
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

	batch := make([]AllocationRequest, 0, len(req.Allocations))
	for _, line := range req.Allocations {
		batch = append(batch, AllocationRequest{
			BookingID: line.BookingID,
			Amount:    line.Amount,
			Remark:    line.Remark,
		})
	}
	receipt, err := h.service.Allocate(r.Context(), id, batch, actor.ID)
	if err != nil {
		h.logger.Error("allocate receipt", slog.String("receipt_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.CountAllocation("allocate")
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) deallocate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	allocID, err := uuid.Parse(chi.URLParam(r, "allocID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid allocation id")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	receipt, err := h.service.Deallocate(r.Context(), id, allocID, actor.ID)
	if err != nil {
		h.logger.Error("deallocate receipt", slog.String("receipt_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.CountAllocation("deallocate")
	httpx.JSON(w, http.StatusOK, receipt)
}
