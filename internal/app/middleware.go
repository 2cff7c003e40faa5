package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Identity headers set by the trusted gateway.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the global middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// RequireIdentity reads the caller identity from the gateway headers. Requests
// without a tenant are refused before reaching any engine.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		if tenantID == "" {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		id := shared.Identity{TenantID: tenantID, UserID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}

// RateLimit throttles each tenant independently.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 600
	}
	return httprate.Limit(perMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if id, ok := shared.IdentityFromContext(r.Context()); ok {
			return id.TenantID, nil
		}
		return httprate.KeyByIP(r)
	}))
}
