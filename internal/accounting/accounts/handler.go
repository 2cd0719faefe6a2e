package accounts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Maintainer is the chart maintenance surface served over HTTP.
type Maintainer interface {
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	AddAccount(ctx context.Context, companyID, actorID int64, in NewAccountInput) (Account, error)
	MoveAccount(ctx context.Context, companyID, actorID int64, code, newParentCode string) (Account, error)
	SetAccountActive(ctx context.Context, companyID, actorID int64, code string, active bool) (Account, error)
	RemoveAccount(ctx context.Context, companyID, actorID int64, code string) error
}

// Handler serves chart of accounts maintenance.
type Handler struct {
	service Maintainer
	logger  *slog.Logger
}

// NewHandler builds the chart handler.
func NewHandler(logger *slog.Logger, service Maintainer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the chart endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/gl/accounts/{company}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.add)
		r.Post("/{code}/move", h.move)
		r.Post("/{code}/deactivate", h.setActive(false))
		r.Post("/{code}/reactivate", h.setActive(true))
		r.Delete("/{code}", h.remove)
	})
}

type accountPayload struct {
	ID         int64                `json:"id"`
	Code       string               `json:"code"`
	Name       string               `json:"name"`
	Type       AccountType          `json:"type"`
	Normal     shared.NormalBalance `json:"normal_balance"`
	Statement  StatementClass       `json:"statement"`
	ParentCode string               `json:"parent_code"`
}

type movePayload struct {
	ParentCode string `json:"parent_code"`
}

// List returns the company chart ordered by code.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyParam(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), companyID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	companyID, actorID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var p accountPayload
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	acct, err := h.service.AddAccount(r.Context(), companyID, actorID, NewAccountInput(p))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	companyID, actorID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var p movePayload
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	acct, err := h.service.MoveAccount(r.Context(), companyID, actorID, chi.URLParam(r, "code"), p.ParentCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID, actorID, ok := h.scope(w, r)
		if !ok {
			return
		}
		acct, err := h.service.SetAccountActive(r.Context(), companyID, actorID, chi.URLParam(r, "code"), active)
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, acct)
	}
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	companyID, actorID, ok := h.scope(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveAccount(r.Context(), companyID, actorID, chi.URLParam(r, "code")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	companyID, ok := companyParam(w, r)
	if !ok {
		return 0, 0, false
	}
	actorID, ok := appshared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Actor Required", "X-Actor-ID header is required")
		return 0, 0, false
	}
	return companyID, actorID, true
}

func companyParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "company"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Company", "company must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrChartNotLoaded):
		httpx.Problem(w, http.StatusNotFound, "Account Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode), errors.Is(err, ErrCycle), errors.Is(err, ErrHasHistory), errors.Is(err, ErrHasChildren):
		httpx.Problem(w, http.StatusConflict, "Chart Conflict", err.Error())
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInvalidType):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Account", err.Error())
	default:
		h.logger.Error("chart request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
