package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/tenant"
)

func memoryConfig() *Config {
	return &Config{
		AppEnv:             "test",
		StoreDriver:        "memory",
		LockDriver:         "local",
		LockWait:           time.Second,
		AuditSink:          "log",
		AuditBuffer:        16,
		PaymentAllocation:  "oldest",
		RateLimitPerMinute: 1000,
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "memory defaults", mutate: func(*Config) {}, ok: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StoreDriver = "postgres" }},
		{name: "postgres with dsn", mutate: func(c *Config) { c.StoreDriver = "postgres"; c.PGDSN = "postgres://x" }, ok: true},
		{name: "unknown store", mutate: func(c *Config) { c.StoreDriver = "bolt" }},
		{name: "unknown lock", mutate: func(c *Config) { c.LockDriver = "etcd" }},
		{name: "queue without redis", mutate: func(c *Config) { c.AuditSink = "queue"; c.RedisAddr = "" }},
		{name: "unknown policy", mutate: func(c *Config) { c.PaymentAllocation = "newest" }},
		{name: "due date policy", mutate: func(c *Config) { c.PaymentAllocation = "due_date" }, ok: true},
		{name: "zero lock wait", mutate: func(c *Config) { c.LockWait = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := memoryConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func newTestServer(t *testing.T) (*Container, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Build(context.Background(), memoryConfig(), logger)
	require.NoError(t, err)
	c.Directory.Register(tenant.Tenant{ID: "acme", Name: "Acme"})
	c.Directory.Register(tenant.Tenant{ID: "halted", Name: "Halted", Status: tenant.StatusSuspended})
	srv := httptest.NewServer(c.Router())
	t.Cleanup(func() {
		srv.Close()
		c.Close()
	})
	return c, srv
}

func doRequest(t *testing.T, method, url, tenantID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(HeaderTenantID, tenantID)
		req.Header.Set(HeaderUserID, "clerk-1")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresTenantIdentity(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/sequences/", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/sequences/", "halted", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/sequences/", "nobody", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSequenceEndpointsAllocateInOrder(t *testing.T) {
	_, srv := newTestServer(t)
	body := `{"branch_id":"main","doc_type":"inv"}`

	for want := int64(1); want <= 2; want++ {
		resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/sequences/next", "acme", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var alloc struct {
			SeriesID string `json:"series_id"`
			Number   int64  `json:"number"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&alloc))
		require.Equal(t, "main/INV/DEFAULT", alloc.SeriesID)
		require.Equal(t, want, alloc.Number)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/sequences/peek?branch_id=main&doc_type=INV", "acme", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var peek map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&peek))
	require.EqualValues(t, 3, peek["next_number"])
}

func TestInvalidBodyIsRejected(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/sequences/next", "acme", `{"branch_id":""}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
