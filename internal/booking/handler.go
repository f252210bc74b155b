package booking

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-dms/atlas-dms/internal/platform/httpx"
)

// Handler wires HTTP endpoints for bookings and their ledger reports.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers booking routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createBooking)
	r.Get("/{id}", h.getBooking)
	r.Get("/{id}/ledger", h.getStatement)
	r.Get("/{id}/ledger.csv", h.getStatementCSV)
	r.Get("/{id}/reconciliation", h.getReconciliation)
}

type createBookingRequest struct {
	Code             string  `json:"code" validate:"required"`
	Classification   string  `json:"classification" validate:"required,oneof=INDIVIDUAL SUBDEALER"`
	SubdealerID      int64   `json:"subdealerId"`
	ModelID          int64   `json:"modelId" validate:"required"`
	ColorID          int64   `json:"colorId" validate:"required"`
	DiscountedAmount float64 `json:"discountedAmount" validate:"required,gt=0"`
	ChassisNo        string  `json:"chassisNo"`
	MotorNo          string  `json:"motorNo"`
	BatteryNo        string  `json:"batteryNo"`
	EngineNo         string  `json:"engineNo"`
	KeyNo            string  `json:"keyNo"`
	ChargerNo        string  `json:"chargerNo"`
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	b, err := h.service.Create(r.Context(), CreateInput{
		Code:             req.Code,
		Classification:   Classification(req.Classification),
		SubdealerID:      req.SubdealerID,
		ModelID:          req.ModelID,
		ColorID:          req.ColorID,
		DiscountedAmount: req.DiscountedAmount,
		ChassisNo:        req.ChassisNo,
		MotorNo:          req.MotorNo,
		BatteryNo:        req.BatteryNo,
		EngineNo:         req.EngineNo,
		KeyNo:            req.KeyNo,
		ChargerNo:        req.ChargerNo,
	})
	if err != nil {
		h.logger.Error("create booking", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid booking id")
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid booking id")
		return
	}
	st, err := h.service.Statement(r.Context(), id)
	if err != nil {
		h.logger.Error("booking statement", slog.Int64("booking_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) getStatementCSV(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid booking id")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=booking-"+strconv.FormatInt(id, 10)+"-ledger.csv")
	if err := h.service.WriteStatementCSV(r.Context(), w, id); err != nil {
		h.logger.Error("booking statement csv", slog.Int64("booking_id", id), slog.Any("error", err))
	}
}

func (h *Handler) getReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid booking id")
		return
	}
	report, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		h.logger.Error("booking reconciliation", slog.Int64("booking_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
