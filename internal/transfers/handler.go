package transfers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for transfers.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes under /transfers.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/by-branch/{branchID}", h.listByBranch)
}

type transferItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	BatchID   int64   `json:"batch_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
}

type createTransferRequest struct {
	FromBranchID int64                 `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID   int64                 `json:"to_branch_id" validate:"required,gt=0"`
	Note         string                `json:"note"`
	ActorID      int64                 `json:"actor_id"`
	Items        []transferItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInput{
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		Note:         req.Note,
		ActorID:      req.ActorID,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{
			ProductID: item.ProductID,
			BatchID:   item.BatchID,
			Quantity:  item.Quantity,
		})
	}

	transfer, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("transfer create failed", slog.Any("error", err),
			slog.Int64("from_branch", req.FromBranchID), slog.Int64("to_branch", req.ToBranchID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	transfer, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) listByBranch(w http.ResponseWriter, r *http.Request) {
	branchID, _ := strconv.ParseInt(chi.URLParam(r, "branchID"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := h.service.ListByBranch(r.Context(), branchID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": result})
}
