package payments

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler exposes payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/collect", h.collect)
	r.Post("/documents/{id}", h.payDocument)
	r.Get("/receipts/{id}", h.get)
}

func (h *Handler) collect(w http.ResponseWriter, r *http.Request) {
	var in CollectInput
	if err := httpx.DecodeAndValidate(r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rcpt, err := h.service.Collect(r.Context(), in)
	if err != nil {
		h.logger.Warn("collect payment", slog.String("reference", in.Reference), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, rcpt)
}

func (h *Handler) payDocument(w http.ResponseWriter, r *http.Request) {
	var in PayDocumentInput
	if err := httpx.DecodeAndValidate(r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.DocumentID = chi.URLParam(r, "id")
	rcpt, err := h.service.PayDocument(r.Context(), in)
	if err != nil {
		h.logger.Warn("pay document", slog.String("document_id", in.DocumentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, rcpt)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rcpt, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rcpt)
}

func (h *Handler) respond(w http.ResponseWriter, rcpt Receipt) {
	status := http.StatusCreated
	if rcpt.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, rcpt)
}
