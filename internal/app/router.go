package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caravel-erp/caravel-erp/internal/batches"
	"github.com/caravel-erp/caravel-erp/internal/branchstock"
	"github.com/caravel-erp/caravel-erp/internal/movements"
	purchase "github.com/caravel-erp/caravel-erp/internal/orders/purchase"
	sales "github.com/caravel-erp/caravel-erp/internal/orders/sales"
	"github.com/caravel-erp/caravel-erp/internal/transfers"
	"github.com/caravel-erp/caravel-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	BatchHandler    *batches.Handler
	StockHandler    *branchstock.Handler
	MovementHandler *movements.Handler
	TransferHandler *transfers.Handler
	PurchaseHandler *purchase.Handler
	SalesHandler    *sales.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with Caravel defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/batches", params.BatchHandler.MountRoutes)
	r.Route("/branches", params.StockHandler.MountRoutes)
	r.Route("/transfers", params.TransferHandler.MountRoutes)
	r.Route("/purchase-orders", params.PurchaseHandler.MountRoutes)
	r.Route("/sales-orders", params.SalesHandler.MountRoutes)
	r.Route("/movements", params.MovementHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
