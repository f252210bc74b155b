package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-dms/atlas-dms/internal/booking"
	"github.com/atlas-dms/atlas-dms/internal/commission"
	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/observability"
	"github.com/atlas-dms/atlas-dms/internal/onaccount"
	"github.com/atlas-dms/atlas-dms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	BookingHandler    *booking.Handler
	LedgerHandler     *ledger.Handler
	OnAccountHandler  *onaccount.Handler
	CommissionHandler *commission.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Atlas defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(params.Config, params.Logger))

		r.Route("/bookings", func(r chi.Router) {
			params.BookingHandler.MountRoutes(r)
			params.LedgerHandler.MountBookingRoutes(r)
		})
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
		r.Route("/receipts", params.OnAccountHandler.MountRoutes)
		r.Route("/commissions", params.CommissionHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
