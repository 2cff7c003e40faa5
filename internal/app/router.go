package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/backoffice/internal/arap"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/payments"
	"github.com/odyssey-erp/backoffice/internal/sequence"
	"github.com/odyssey-erp/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SalesHandler     *documents.Handler
	PurchaseHandler  *documents.Handler
	InventoryHandler *inventory.Handler
	CashHandler      *cash.Handler
	ARAPHandler      *arap.Handler
	PaymentsHandler  *payments.Handler
	SequenceHandler  *sequence.Handler
	AuditHandler     *audit.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	perMinute := 0
	if params.Config != nil {
		perMinute = params.Config.RateLimitPerMinute
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Use(RateLimit(perMinute))

		if params.SalesHandler != nil {
			r.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.PurchaseHandler != nil {
			r.Route("/purchases", params.PurchaseHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.CashHandler != nil {
			r.Route("/cash", params.CashHandler.MountRoutes)
		}
		if params.ARAPHandler != nil {
			r.Route("/balances", params.ARAPHandler.MountRoutes)
		}
		if params.PaymentsHandler != nil {
			r.Route("/payments", params.PaymentsHandler.MountRoutes)
		}
		if params.SequenceHandler != nil {
			r.Route("/sequences", params.SequenceHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})
	return r
}
