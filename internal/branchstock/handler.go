package branchstock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for branch stock.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the branch stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers branch stock routes under /branches.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{branchID}/stock", h.listByBranch)
	r.Get("/{branchID}/products/{productID}/stock", h.listByProductAndBranch)
	r.Get("/{branchID}/products/{productID}/availability", h.listAvailability)
	r.Post("/{branchID}/stock/adjust", h.adjust)
}

type adjustStockRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	BatchID   int64   `json:"batch_id" validate:"required,gt=0"`
	Delta     float64 `json:"delta" validate:"required"`
}

func (h *Handler) listByBranch(w http.ResponseWriter, r *http.Request) {
	branchID := urlID(r, "branchID")
	stocks, err := h.service.ListByBranch(r.Context(), branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": stocks})
}

func (h *Handler) listByProductAndBranch(w http.ResponseWriter, r *http.Request) {
	branchID := urlID(r, "branchID")
	productID := urlID(r, "productID")
	stocks, err := h.service.ListByProductAndBranch(r.Context(), productID, branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": stocks})
}

func (h *Handler) listAvailability(w http.ResponseWriter, r *http.Request) {
	branchID := urlID(r, "branchID")
	productID := urlID(r, "productID")
	rows, err := h.service.ListAvailability(r.Context(), productID, branchID)
	if err != nil {
		h.logger.Error("availability listing failed", slog.Any("error", err),
			slog.Int64("branch_id", branchID), slog.Int64("product_id", productID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"availability": rows})
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	branchID := urlID(r, "branchID")
	var req adjustStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	stock, err := h.service.Adjust(r.Context(), req.ProductID, branchID, req.BatchID, req.Delta, movements.ReasonAdjustment, 0)
	if err != nil {
		h.logger.Error("stock adjust failed", slog.Any("error", err), slog.Int64("branch_id", branchID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func urlID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id
}
