package accounting

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

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

func newRouter(t *testing.T) (*Engine, http.Handler) {
	t.Helper()
	e := newEngine(t)
	r := chi.NewRouter()
	r.Use(appshared.ActorMiddleware)
	NewHandler(nil, e).MountRoutes(r)
	return e, r
}

func do(t *testing.T, h http.Handler, method, path, body string, actor bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor {
		req.Header.Set(appshared.ActorHeader, "9")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const postingBody = `{
	"company_id": 1,
	"module": "general",
	"document_id": "INV-1",
	"posting_date": "2025-01-05",
	"lines": [
		{"account_code": "5010", "debit": "1000", "credit": "0"},
		{"account_code": "2000", "debit": "0", "credit": "1000"}
	]
}`

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlerSubmitAndQuery(t *testing.T) {
	_, h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/gl/postings", postingBody, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.Equal(t, false, created["duplicate"])

	rec = do(t, h, http.MethodPost, "/gl/postings", postingBody, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["duplicate"])

	rec = do(t, h, http.MethodGet, "/gl/balances/1/5010/2025-01", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", decodeBody(t, rec)["ending_balance"])

	rec = do(t, h, http.MethodGet, "/gl/trial-balance/1/2025-01", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["balanced"])
}

func TestHandlerRejectionCarriesLines(t *testing.T) {
	_, h := newRouter(t)
	body := strings.Replace(postingBody, `"5010"`, `"5000"`, 1)

	rec := do(t, h, http.MethodPost, "/gl/postings", body, true)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	problem := decodeBody(t, rec)
	assert.Equal(t, string(shared.ReasonAccountNotPostable), problem["reason"])
	assert.Equal(t, []any{float64(0)}, problem["indices"])
	assert.Equal(t, []any{"5000"}, problem["accounts"])
}

func TestHandlerRequiresActor(t *testing.T) {
	_, h := newRouter(t)
	rec := do(t, h, http.MethodPost, "/gl/postings", postingBody, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerValidationProblem(t *testing.T) {
	_, h := newRouter(t)
	rec := do(t, h, http.MethodPost, "/gl/postings", `{"company_id": 1, "module": "GENERAL", "posting_date": "05/01/2025"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields, ok := decodeBody(t, rec)["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "postingPayload.DocumentID")
	assert.Contains(t, fields, "postingPayload.PostingDate")
}

func TestHandlerClosedPeriodConflict(t *testing.T) {
	e, h := newRouter(t)
	rec := do(t, h, http.MethodPost, "/gl/periods/1/general/2025-01/close", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/gl/periods/1/GENERAL/2025-01", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["closed"])

	rec = do(t, h, http.MethodPost, "/gl/postings", postingBody, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(shared.ReasonPeriodClosed), decodeBody(t, rec)["reason"])

	rec = do(t, h, http.MethodPost, "/gl/periods/1/GENERAL/2025-03/close", "", true)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(shared.ReasonCannotCloseOutOfOrder), decodeBody(t, rec)["reason"])

	rec = do(t, h, http.MethodPost, "/gl/periods/1/GENERAL/2025-01/reopen", `{"reason": "late accrual"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	closed, err := e.IsClosed(context.Background(), 1, shared.ModuleGeneral, jan)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestHandlerRetryableRejection(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, shared.Reject(shared.ReasonPeriodClosing, "close running"), nopLogger())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	WriteError(rec, shared.Reject(shared.ReasonConsistencyViolation, "series halted"), nopLogger())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandlerReverseAndRecordLocks(t *testing.T) {
	e, h := newRouter(t)
	res, err := e.SubmitPosting(context.Background(), supplies("G1", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/gl/postings/"+res.GroupID.String()+"/reverse", `{"memo": "wrong supplier"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/gl/postings/"+res.GroupID.String()+"/reverse", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["duplicate"])

	lock := `{"company_id": 1, "module": "SALES", "document_id": "SO-1", "as_of": "2025-01-31", "quantity": "2", "price": "10"}`
	rec = do(t, h, http.MethodPost, "/gl/record-locks", lock, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/gl/record-locks?company=1&module=sales&document=SO-1&as_of=2025-02-15&latest=true", "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/gl/record-locks?company=1&module=sales&document=SO-1&as_of=2025-02-15", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/gl/postings/not-a-uuid", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerStatementsAndVerify(t *testing.T) {
	_, h := newRouter(t)
	rec := do(t, h, http.MethodPost, "/gl/postings", postingBody, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/gl/statements/1/2025-01", "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pl, ok := decodeBody(t, rec)["profit_and_loss"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "-1000", pl["net_income"])

	rec = do(t, h, http.MethodPost, "/gl/verify/1?rebuild=true", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody(t, rec)
	assert.Equal(t, true, report["consistent"])
	assert.Equal(t, false, report["rebuilt"])
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
