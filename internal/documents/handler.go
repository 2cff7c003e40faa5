package documents

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler exposes one document engine. Sales and purchases mount separate
// handlers so a path never reaches documents of the other kind.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	kind      Kind
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, kind Kind) *Handler {
	return &Handler{logger: logger, service: service, kind: kind, validator: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.updateHeader)
		r.Delete("/", h.deleteDraft)
		r.Post("/lines", h.addLine)
		r.Put("/lines/{lineID}", h.updateLine)
		r.Delete("/lines/{lineID}", h.removeLine)
		r.Post("/issue", h.issue)
		r.Post("/void", h.void)
		r.Post("/settle", h.settle)
		r.Get("/returns", h.returns)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	docs, meta, err := h.service.List(r.Context(), ListFilter{
		Kind:           h.kind,
		Status:         Status(strings.ToUpper(q.Get("status"))),
		CounterpartyID: q.Get("counterparty_id"),
		Page:           page,
		PerPage:        perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs, "pagination": meta})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Kind = h.kind
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondError(w, shared.Validationf("%v", err))
		return
	}
	doc, err := h.service.CreateDraft(r.Context(), in)
	if err != nil {
		h.logger.Warn("create document", slog.String("kind", string(h.kind)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

// load fetches the path document and hides documents of the other kind.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (Document, bool) {
	doc, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && doc.Kind != h.kind {
		err = shared.NotFoundf("documents: %s", doc.ID)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return Document{}, false
	}
	return doc, true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	var in HeaderInput
	if err := httpx.DecodeAndValidate(r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "update document header")(h.service.UpdateHeader(r.Context(), chi.URLParam(r, "id"), in))
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	var in LineInput
	if err := httpx.DecodeAndValidate(r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "add document line")(h.service.AddLine(r.Context(), chi.URLParam(r, "id"), in))
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	var in LineInput
	if err := httpx.DecodeAndValidate(r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "update document line")(h.service.UpdateLine(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), in))
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	h.respond(w, "remove document line")(h.service.RemoveLine(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID")))
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	h.respond(w, "issue document")(h.service.Issue(r.Context(), chi.URLParam(r, "id")))
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "void document")(h.service.Void(r.Context(), chi.URLParam(r, "id"), req.Reason))
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	h.respond(w, "settle document")(h.service.MarkSettled(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) returns(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	docs, err := h.service.Returns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": docs})
}

func (h *Handler) respond(w http.ResponseWriter, op string) func(Document, error) {
	return func(doc Document, err error) {
		if err != nil {
			h.logger.Warn(op, slog.String("kind", string(h.kind)), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}
