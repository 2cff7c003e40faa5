package sequence

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler exposes numbering series.
type Handler struct {
	logger    *slog.Logger
	allocator *Allocator
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, allocator *Allocator) *Handler {
	return &Handler{logger: logger, allocator: allocator, validator: validator.New()}
}

// MountRoutes registers sequence routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/peek", h.peek)
	r.Post("/next", h.next)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	series, err := h.allocator.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"series": series})
}

func (h *Handler) peek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := Key{BranchID: q.Get("branch_id"), DocType: q.Get("doc_type"), Series: q.Get("series")}
	next, err := h.allocator.Peek(r.Context(), key)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"series_id": key.Normalize().ID(), "next_number": next})
}

func (h *Handler) next(w http.ResponseWriter, r *http.Request) {
	var key Key
	if err := httpx.DecodeAndValidate(r, h.validator, &key); err != nil {
		httpx.RespondError(w, err)
		return
	}
	alloc, err := h.allocator.Next(r.Context(), key)
	if err != nil {
		h.logger.Warn("allocate number", slog.String("doc_type", key.DocType), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, alloc)
}
