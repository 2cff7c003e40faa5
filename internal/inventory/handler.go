package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler exposes inventory HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.listMovements)
	r.Post("/movements", h.recordMovement)
	r.Get("/movements/{id}", h.getMovement)
	r.Post("/movements/{id}/reverse", h.reverseMovement)
	r.Get("/stock", h.stock)
	r.Get("/verify", h.verify)
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var in MovementInput
	if err := httpx.DecodeAndValidate(r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mv, err := h.service.Record(r.Context(), in)
	if err != nil {
		h.logger.Warn("record movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	mv, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mv)
}

type reverseRequest struct {
	Note string `json:"note"`
}

func (h *Handler) reverseMovement(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mv, err := h.service.Reverse(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.logger.Warn("reverse movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	movements, err := h.service.Movements(r.Context(), MovementFilter{
		ProductID:   q.Get("product_id"),
		WarehouseID: q.Get("warehouse_id"),
		RefDocument: q.Get("ref"),
		Limit:       limit,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	warehouseID := r.URL.Query().Get("warehouse_id")
	if productID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id required")
		return
	}
	if warehouseID == "" {
		levels, err := h.service.StockLevels(r.Context(), productID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"levels": levels})
		return
	}
	qty, err := h.service.StockOf(r.Context(), productID, warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   productID,
		"warehouse_id": warehouseID,
		"quantity":     qty,
	})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	drift, err := h.service.Verify(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"consistent": len(drift) == 0, "discrepancies": drift})
}
