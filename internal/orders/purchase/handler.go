package purchase

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the purchase handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers routes under /purchase-orders.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/items", h.addItems)
	r.Put("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.deleteItem)
	r.Post("/{id}/payments", h.recordPayment)
	r.Get("/{id}/payments", h.listPayments)
	r.Post("/{id}/recompute", h.recompute)
}

type createOrderRequest struct {
	BranchID      int64   `json:"branch_id" validate:"required,gt=0"`
	SupplierID    int64   `json:"supplier_id"`
	Note          string  `json:"note"`
	DiscountTotal float64 `json:"discount_total" validate:"gte=0"`
	TaxTotal      float64 `json:"tax_total" validate:"gte=0"`
	ShippingTotal float64 `json:"shipping_total" validate:"gte=0"`
	ActorID       int64   `json:"actor_id"`
}

type itemRequest struct {
	ProductID       int64   `json:"product_id" validate:"required,gt=0"`
	BatchNumber     string  `json:"batch_number"`
	Quantity        float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice       float64 `json:"unit_price" validate:"gte=0"`
	DiscountAmount  float64 `json:"discount_amount" validate:"gte=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"gte=0,lte=100"`
	ExpiryDate      string  `json:"expiry_date"`
}

type addItemsRequest struct {
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
	RequestRef string        `json:"request_ref"`
	ActorID    int64         `json:"actor_id"`
}

type updateItemRequest struct {
	BatchNumber     *string  `json:"batch_number"`
	Quantity        *float64 `json:"quantity" validate:"omitempty,gt=0"`
	UnitPrice       *float64 `json:"unit_price" validate:"omitempty,gte=0"`
	DiscountAmount  *float64 `json:"discount_amount" validate:"omitempty,gte=0"`
	DiscountPercent *float64 `json:"discount_percent" validate:"omitempty,gte=0,lte=100"`
	ActorID         int64    `json:"actor_id"`
}

type paymentRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
	ActorID   int64   `json:"actor_id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.Create(r.Context(), CreateInput{
		BranchID:      req.BranchID,
		SupplierID:    req.SupplierID,
		Note:          req.Note,
		DiscountTotal: req.DiscountTotal,
		TaxTotal:      req.TaxTotal,
		ShippingTotal: req.ShippingTotal,
		ActorID:       req.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Get(r.Context(), pathID(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) addItems(w http.ResponseWriter, r *http.Request) {
	orderID := pathID(r, "id")
	var req addItemsRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		input := ItemInput{
			ProductID:       item.ProductID,
			BatchNumber:     item.BatchNumber,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountAmount:  item.DiscountAmount,
			DiscountPercent: item.DiscountPercent,
		}
		if item.ExpiryDate != "" {
			parsed, err := time.Parse("2006-01-02", item.ExpiryDate)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
				return
			}
			input.ExpiryDate = &parsed
		}
		items = append(items, input)
	}
	order, err := h.service.AddItems(r.Context(), orderID, items, req.RequestRef, req.ActorID)
	if err != nil {
		h.logger.Error("purchase add items failed", slog.Any("error", err), slog.Int64("order_id", orderID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	itemID := pathID(r, "itemID")
	var req updateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.UpdateItem(r.Context(), itemID, UpdateItemInput{
		BatchNumber:     req.BatchNumber,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		DiscountAmount:  req.DiscountAmount,
		DiscountPercent: req.DiscountPercent,
	}, req.ActorID)
	if err != nil {
		h.logger.Error("purchase update item failed", slog.Any("error", err), slog.Int64("item_id", itemID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := pathID(r, "itemID")
	order, err := h.service.DeleteItem(r.Context(), itemID, 0)
	if err != nil {
		h.logger.Error("purchase delete item failed", slog.Any("error", err), slog.Int64("item_id", itemID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	orderID := pathID(r, "id")
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.RecordPayment(r.Context(), orderID, PaymentInput{
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		ActorID:   req.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context(), pathID(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Recompute(r.Context(), pathID(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id
}
