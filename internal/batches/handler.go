package batches

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler wires HTTP endpoints for the batches module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the batches handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.receive)
	r.Get("/{id}", h.get)
	r.Post("/{id}/adjust", h.adjust)
	r.Post("/{id}/consume", h.consume)
	r.Post("/{id}/status", h.setStatus)
	r.Get("/by-product/{productID}", h.listByProduct)
}

type receiptRequest struct {
	ProductID           int64   `json:"product_id" validate:"required,gt=0"`
	BatchNumber         string  `json:"batch_number" validate:"required"`
	Quantity            float64 `json:"quantity" validate:"required,gt=0"`
	CostPrice           float64 `json:"cost_price" validate:"gte=0"`
	PurchasePrice       float64 `json:"purchase_price" validate:"gte=0"`
	TradePrice          float64 `json:"trade_price" validate:"gte=0"`
	MRP                 float64 `json:"mrp" validate:"gte=0"`
	ManufacturingDate   *string `json:"manufacturing_date"`
	ExpiryDate          *string `json:"expiry_date"`
	SupplierBatchNumber string  `json:"supplier_batch_number"`
	OverwritePricing    bool    `json:"overwrite_pricing"`
	RequestRef          string  `json:"request_ref"`
}

type adjustRequest struct {
	Delta   float64  `json:"delta" validate:"required"`
	Pricing *Pricing `json:"pricing"`
}

type consumeRequest struct {
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiptInput{
		ProductID:   req.ProductID,
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		Pricing: Pricing{
			CostPrice:     req.CostPrice,
			PurchasePrice: req.PurchasePrice,
			TradePrice:    req.TradePrice,
			MRP:           req.MRP,
		},
		SupplierBatchNumber: req.SupplierBatchNumber,
		OverwritePricing:    req.OverwritePricing,
		RequestRef:          req.RequestRef,
	}
	var err error
	if input.ManufacturingDate, err = parseDate(req.ManufacturingDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid manufacturing_date")
		return
	}
	if input.ExpiryDate, err = parseDate(req.ExpiryDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expiry_date")
		return
	}

	batch, err := h.service.CreateOrMerge(r.Context(), input)
	if err != nil {
		h.logger.Error("batch receipt failed", slog.Any("error", err),
			slog.Int64("product_id", req.ProductID), slog.String("batch_number", req.BatchNumber))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.AdjustQuantity(r.Context(), id, req.Delta, req.Pricing)
	if err != nil {
		h.logger.Error("batch adjust failed", slog.Any("error", err), slog.Int64("batch_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.Consume(r.Context(), id, req.Quantity)
	if err != nil {
		h.logger.Error("batch consume failed", slog.Any("error", err), slog.Int64("batch_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.SetStatus(r.Context(), id, Status(req.Status)); err != nil {
		h.logger.Error("batch status change failed", slog.Any("error", err), slog.Int64("batch_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (h *Handler) listByProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ListByProduct(r.Context(), productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": result})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %w", name, shared.ErrValidation)
	}
	return id, nil
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
