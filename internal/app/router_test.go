package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

func testRouter(t *testing.T, ready func(*http.Request) error) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := accounting.NewEngine(accounting.MemoryStorage(logger), accounting.Config{Modules: []shared.Module{shared.ModuleGeneral}},
		accounting.WithLogger(logger))
	require.NoError(t, err)
	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            &Config{AppEnv: "test", RateLimit: 1000},
		AccountingHandler: accounting.NewHandler(logger, engine),
		AccountsHandler:   accounts.NewHandler(logger, engine),
		Metrics:           observability.NewMetrics(),
		Ready:             ready,
	})
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(appshared.ActorHeader, "4")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealth(t *testing.T) {
	h := testRouter(t, nil)

	rec := serve(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = serve(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterReadinessFailure(t *testing.T) {
	h := testRouter(t, func(*http.Request) error { return errors.New("pool closed") })
	rec := serve(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterMountsLedgerAndChart(t *testing.T) {
	h := testRouter(t, nil)

	rec := serve(h, http.MethodPost, "/gl/accounts/1/", `{"id":1100,"code":"1100","name":"Cash","type":"ASSET"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(h, http.MethodGet, "/gl/accounts/1/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"1100"`)

	rec = serve(h, http.MethodGet, "/gl/balances/1/1100/2025-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"ending_balance":"0"`)

	rec = serve(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "odyssey_http_requests_total")
}
