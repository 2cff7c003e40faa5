package cash

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler exposes cash register endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers cash routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.open)
	r.Get("/sessions/{id}", h.get)
	r.Get("/sessions/{id}/transactions", h.transactions)
	r.Post("/sessions/{id}/transactions", h.recordTransaction)
	r.Post("/sessions/{id}/close", h.close)
	r.Get("/registers/{registerID}/session", h.active)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var in OpenInput
	if err := httpx.DecodeAndValidate(r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.service.Open(r.Context(), in)
	if err != nil {
		h.logger.Warn("open cash session", slog.String("register_id", in.RegisterID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.ActiveSession(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.Transactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	var in TxInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.SessionID = chi.URLParam(r, "id")
	t, err := h.service.RecordTransaction(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if t.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, t)
}

type closeRequest struct {
	CountedAmount string `json:"counted_amount" validate:"required,numeric"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CloseInput{SessionID: chi.URLParam(r, "id")}
	if err := in.CountedAmount.UnmarshalText([]byte(req.CountedAmount)); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "counted_amount must be a number")
		return
	}
	sess, err := h.service.Close(r.Context(), in)
	if err != nil {
		h.logger.Warn("close cash session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}
