package commission

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
	"github.com/atlas-dms/atlas-dms/internal/shared"
)

// Handler wires HTTP endpoints for commission settlement.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers commission routes under /commissions.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/compute", h.compute)
	r.Post("/settle", h.settle)
	r.Post("/{id}/status", h.updateStatus)
}

type computeRequest struct {
	SubdealerID int64 `json:"subdealerId" validate:"required,gt=0"`
	Month       int   `json:"month" validate:"required,min=1,max=12"`
	Year        int   `json:"year" validate:"required,min=2000"`
}

func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Compute(r.Context(), req.SubdealerID, req.Month, req.Year)
	if err != nil {
		h.logger.Error("compute commission", slog.Int64("subdealer_id", req.SubdealerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type settleRequest struct {
	SubdealerID int64  `json:"subdealerId" validate:"required,gt=0"`
	Month       int    `json:"month" validate:"required,min=1,max=12"`
	Year        int    `json:"year" validate:"required,min=2000"`
	Mode        string `json:"mode" validate:"required"`
	BankID      int64  `json:"bankId"`
	BookingID   int64  `json:"bookingId"`
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
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

	settlement, err := h.service.Settle(r.Context(), SettleInput{
		SubdealerID: req.SubdealerID,
		Month:       req.Month,
		Year:        req.Year,
		Mode:        SettleMode(req.Mode),
		BankID:      req.BankID,
		BookingID:   req.BookingID,
		ActorID:     actor.ID,
	})
	if err != nil {
		h.logger.Error("settle commission", slog.Int64("subdealer_id", req.SubdealerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, settlement)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=PAID FAILED"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid settlement id")
		return
	}
	var req statusRequest
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

	settlement, err := h.service.UpdateStatus(r.Context(), id, SettlementStatus(req.Status), actor.ID)
	if err != nil {
		h.logger.Error("update settlement status", slog.String("settlement_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settlement)
}
