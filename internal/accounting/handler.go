package accounting

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recordlocks"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// RetryBackoff is advertised in Retry-After for retryable rejections.
const RetryBackoff = time.Second

// Handler exposes the engine over HTTP.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/gl", func(r chi.Router) {
		r.Post("/postings", h.submitPosting)
		r.Get("/postings/{id}", h.getPosting)
		r.Post("/postings/{id}/reverse", h.reversePosting)
		r.Get("/balances/{company}/{account}/{period}", h.queryBalance)
		r.Get("/balances/{company}/{account}/{period}/sub/{kind}/{id}", h.querySubAccountBalance)
		r.Get("/periods/{company}/{module}/{period}", h.lockStatus)
		r.Post("/periods/{company}/{module}/{period}/close", h.closePeriod)
		r.Post("/periods/{company}/{module}/{period}/reopen", h.reopenPeriod)
		r.Post("/record-locks", h.lockRecord)
		r.Get("/record-locks", h.lookupRecordLock)
		r.Get("/trial-balance/{company}/{period}", h.trialBalance)
		r.Get("/statements/{company}/{period}", h.statements)
		r.Post("/verify/{company}", h.verify)
	})
}

func (h *Handler) submitPosting(w http.ResponseWriter, r *http.Request) {
	var payload postingPayload
	if !h.decode(w, r, &payload) {
		return
	}
	actorID, ok := appshared.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, r, appshared.ErrActorMissing)
		return
	}
	req, err := payload.toRequest(actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.SubmitPosting(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) getPosting(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Group ID", err.Error())
		return
	}
	g, err := h.engine.Group(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) reversePosting(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Group ID", err.Error())
		return
	}
	var payload reversePayload
	if r.ContentLength != 0 && !h.decode(w, r, &payload) {
		return
	}
	actorID, ok := appshared.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, r, appshared.ErrActorMissing)
		return
	}
	in := journals.ReverseInput{GroupID: id, ActorID: actorID, Memo: payload.Memo}
	if payload.PostingDate != "" {
		date, err := time.Parse(time.DateOnly, payload.PostingDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "posting_date must be YYYY-MM-DD")
			return
		}
		in.PostingDate = &date
	}
	res, err := h.engine.ReverseEntry(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) queryBalance(w http.ResponseWriter, r *http.Request) {
	companyID, period, ok := h.companyPeriod(w, r)
	if !ok {
		return
	}
	row, err := h.engine.QueryBalance(r.Context(), companyID, chi.URLParam(r, "account"), period)
	h.respondBalance(w, r, row, err)
}

func (h *Handler) querySubAccountBalance(w http.ResponseWriter, r *http.Request) {
	companyID, period, ok := h.companyPeriod(w, r)
	if !ok {
		return
	}
	subID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Sub-Account", "sub-account id must be numeric")
		return
	}
	ref, err := shared.NewSubAccount(shared.SubAccountKind(chi.URLParam(r, "kind")), subID, "")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Sub-Account", err.Error())
		return
	}
	row, err := h.engine.QuerySubAccountBalance(r.Context(), companyID, chi.URLParam(r, "account"), shared.KeyOf(ref), period)
	h.respondBalance(w, r, row, err)
}

func (h *Handler) respondBalance(w http.ResponseWriter, r *http.Request, row balances.Balance, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) lockStatus(w http.ResponseWriter, r *http.Request) {
	companyID, module, period, ok := h.modulePeriod(w, r)
	if !ok {
		return
	}
	st, err := h.engine.QueryLockStatus(r.Context(), companyID, module, period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	companyID, module, period, ok := h.modulePeriod(w, r)
	if !ok {
		return
	}
	actorID, ok := appshared.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, r, appshared.ErrActorMissing)
		return
	}
	rec, err := h.engine.ClosePeriod(r.Context(), periods.CloseRequest{
		CompanyID: companyID, Module: module, Period: period, ActorID: actorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	companyID, module, period, ok := h.modulePeriod(w, r)
	if !ok {
		return
	}
	var payload reopenPayload
	if !h.decode(w, r, &payload) {
		return
	}
	actorID, ok := appshared.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, r, appshared.ErrActorMissing)
		return
	}
	rec, err := h.engine.ReopenPeriod(r.Context(), periods.ReopenRequest{
		CompanyID: companyID, Module: module, Period: period, ActorID: actorID, Reason: payload.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) lockRecord(w http.ResponseWriter, r *http.Request) {
	var payload recordLockPayload
	if !h.decode(w, r, &payload) {
		return
	}
	actorID, ok := appshared.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, r, appshared.ErrActorMissing)
		return
	}
	in, err := payload.toInput(actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.engine.LockRecord(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, snap)
}

// lookupRecordLock answers ?company=&module=&document=[&as_of=YYYY-MM-DD[&latest=true]].
// Without as_of it lists the document history.
func (h *Handler) lookupRecordLock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, err := strconv.ParseInt(q.Get("company"), 10, 64)
	if err != nil || companyID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Company", "company must be a positive integer")
		return
	}
	ref := recordlocks.DocumentRef{
		CompanyID:  companyID,
		Module:     shared.Module(strings.ToUpper(q.Get("module"))),
		DocumentID: q.Get("document"),
	}
	if q.Get("as_of") == "" {
		history, err := h.engine.RecordLockHistory(r.Context(), ref)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"snapshots": history})
		return
	}
	asOf, err := time.Parse(time.DateOnly, q.Get("as_of"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
		return
	}
	latest, _ := strconv.ParseBool(q.Get("latest"))
	snap, err := h.engine.LookupRecordLock(r.Context(), ref, asOf, latest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	companyID, period, ok := h.companyPeriod(w, r)
	if !ok {
		return
	}
	tb, err := h.engine.TrialBalance(r.Context(), companyID, period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) statements(w http.ResponseWriter, r *http.Request) {
	companyID, period, ok := h.companyPeriod(w, r)
	if !ok {
		return
	}
	st, err := h.engine.Statements(r.Context(), companyID, period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	drift, err := h.engine.Verify(r.Context(), companyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rebuilt := false
	if len(drift) > 0 && r.URL.Query().Get("rebuild") == "true" {
		if err := h.engine.Rebuild(r.Context(), companyID); err != nil {
			h.writeError(w, r, err)
			return
		}
		rebuilt = true
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"company_id": companyID, "drift": drift, "consistent": len(drift) == 0, "rebuilt": rebuilt})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			httpx.ProblemWith(w, httpx.ProblemDetail{
				Title:  "Validation Failed",
				Status: http.StatusBadRequest,
				Detail: "request body failed validation",
			}, map[string]any{"fields": fields})
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) company(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "company"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Company", "company must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) companyPeriod(w http.ResponseWriter, r *http.Request) (int64, shared.FiscalPeriod, bool) {
	companyID, ok := h.company(w, r)
	if !ok {
		return 0, shared.FiscalPeriod{}, false
	}
	period, err := shared.ParseFiscalPeriod(chi.URLParam(r, "period"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Period", err.Error())
		return 0, shared.FiscalPeriod{}, false
	}
	return companyID, period, true
}

func (h *Handler) modulePeriod(w http.ResponseWriter, r *http.Request) (int64, shared.Module, shared.FiscalPeriod, bool) {
	companyID, period, ok := h.companyPeriod(w, r)
	if !ok {
		return 0, "", shared.FiscalPeriod{}, false
	}
	module, err := shared.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Module", err.Error())
		return 0, "", shared.FiscalPeriod{}, false
	}
	return companyID, module, period, true
}

// writeError maps engine errors to problem responses. Rejections carry their reason,
// offending line indices and account codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, err, h.logger.With(slog.String("path", r.URL.Path)))
}

// WriteError renders err as an RFC7807 problem.
func WriteError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var pe *shared.PostingError
	if errors.As(err, &pe) {
		status := rejectionStatus(pe.Reason)
		if shared.IsRetryable(pe) {
			httpx.RetryAfter(w, RetryBackoff)
		}
		if pe.Reason == shared.ReasonConsistencyViolation {
			logger.Error("consistency violation", slog.Any("error", err))
		}
		httpx.ProblemWith(w, httpx.ProblemDetail{
			Type:   "urn:odyssey-gl:rejection:" + strings.ToLower(string(pe.Reason)),
			Title:  string(pe.Reason),
			Status: status,
			Detail: pe.Message,
		}, map[string]any{
			"reason":   pe.Reason,
			"lines":    pe.Lines,
			"indices":  pe.LineIndices(),
			"accounts": pe.Accounts,
		})
		return
	}
	switch {
	case errors.Is(err, appshared.ErrActorMissing):
		httpx.Problem(w, http.StatusUnauthorized, "Actor Required", "X-Actor-ID header is required")
	case errors.Is(err, shared.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		httpx.RetryAfter(w, RetryBackoff)
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", err.Error())
	case errors.Is(err, shared.ErrInvalidFiscalPeriod), errors.Is(err, shared.ErrUnknownModule):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, accounts.ErrChartNotLoaded),
		errors.Is(err, journals.ErrGroupNotFound),
		errors.Is(err, recordlocks.ErrSnapshotNotFound),
		errors.Is(err, periods.ErrRecordNotFound),
		errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, journals.ErrInvalidTransition),
		errors.Is(err, recordlocks.ErrSnapshotConflict),
		errors.Is(err, periods.ErrPeriodNotClosed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, recordlocks.ErrInvalidReference), errors.Is(err, recordlocks.ErrInvalidFigures):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Record Lock", err.Error())
	default:
		logger.Error("gl request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func rejectionStatus(reason shared.Reason) int {
	switch reason {
	case shared.ReasonPeriodClosed,
		shared.ReasonIdempotencyMismatch,
		shared.ReasonUnbalancedOpenEntries,
		shared.ReasonCannotCloseOutOfOrder,
		shared.ReasonCannotReopenOutOfOrder:
		return http.StatusConflict
	case shared.ReasonPeriodClosing:
		return http.StatusServiceUnavailable
	case shared.ReasonConsistencyViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
