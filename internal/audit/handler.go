package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// TimelineReader lists persisted entries.
type TimelineReader interface {
	Timeline(ctx context.Context, tenantID string, filters TimelineFilters) ([]shared.AuditLog, PagingInfo, error)
}

// Handler serves the audit timeline of the caller's tenant.
type Handler struct {
	reader TimelineReader
	logger *slog.Logger
}

// NewHandler builds Handler instance.
func NewHandler(reader TimelineReader, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, logger: logger}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/timeline", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	entries, paging, err := h.reader.Timeline(r.Context(), id.TenantID, TimelineFilters{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		h.logger.Error("audit timeline", slog.String("tenant_id", id.TenantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "paging": paging})
}
