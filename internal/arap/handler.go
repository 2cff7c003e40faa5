package arap

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler exposes receivable and payable endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers arap routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/documents", h.list)
	r.Get("/documents/{id}", h.get)
	r.Get("/documents/{id}/payments", h.payments)
	r.Get("/documents/{id}/reconcile", h.reconcile)
	r.Get("/aging", h.aging)
	r.Post("/refresh-overdue", h.refreshOverdue)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := Kind(strings.ToUpper(q.Get("kind")))
	if kind != "" && !kind.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind must be RECEIVABLE or PAYABLE")
		return
	}
	docs, err := h.service.List(r.Context(), kind, Status(strings.ToUpper(q.Get("status"))))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.Payments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	kind := Kind(strings.ToUpper(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = KindReceivable
	}
	if !kind.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind must be RECEIVABLE or PAYABLE")
		return
	}
	asOf, ok := parseAsOf(w, r)
	if !ok {
		return
	}
	bucket, err := h.service.Aging(r.Context(), kind, asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"kind": kind, "as_of": asOf, "buckets": bucket, "total": bucket.Total()})
}

func (h *Handler) refreshOverdue(w http.ResponseWriter, r *http.Request) {
	asOf, ok := parseAsOf(w, r)
	if !ok {
		return
	}
	count, err := h.service.RefreshOverdue(r.Context(), asOf)
	if err != nil {
		h.logger.Error("refresh overdue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": count})
}

func parseAsOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now().UTC(), true
	}
	asOf, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return asOf, true
}
