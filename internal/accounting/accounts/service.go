package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// HistorySource lists the accounts that already carry ledger postings.
type HistorySource interface {
	AccountsWithPostings(ctx context.Context, companyID int64) (map[int64]struct{}, error)
}

// AuditPort records chart maintenance events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service performs audited chart of accounts maintenance.
type Service struct {
	registry *Registry
	repo     Repository
	history  HistorySource
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the chart maintenance service. repo, history and audit may be nil.
func NewService(registry *Registry, repo Repository, history HistorySource, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: registry, repo: repo, history: history, audit: audit, logger: logger, now: time.Now}
}

// Registry exposes the loaded charts.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Load reads the company chart from storage into the registry.
func (s *Service) Load(ctx context.Context, companyID int64) (*Chart, error) {
	chart := s.registry.Ensure(companyID)
	if s.repo == nil {
		return chart, nil
	}
	rows, err := s.repo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("accounts: load company %d: %w", companyID, err)
	}
	if err := chart.Load(rows); err != nil {
		return nil, err
	}
	s.logger.Info("chart loaded", slog.Int64("company_id", companyID), slog.Int("accounts", len(rows)))
	return chart, nil
}

// List returns every account of the company ordered by code.
func (s *Service) List(ctx context.Context, companyID int64) ([]Account, error) {
	chart, err := s.registry.Chart(companyID)
	if err != nil {
		return nil, err
	}
	return chart.Accounts(), nil
}

// AddAccount creates a chart node.
func (s *Service) AddAccount(ctx context.Context, companyID, actorID int64, in NewAccountInput) (Account, error) {
	history, err := s.historyFunc(ctx, companyID)
	if err != nil {
		return Account{}, err
	}
	chart := s.registry.Ensure(companyID)
	acct, err := chart.Add(in, actorID, history)
	if err != nil {
		return Account{}, err
	}
	if err := s.persist(ctx, chart, acct.Code, parentCode(chart, acct)); err != nil {
		return Account{}, err
	}
	s.record(ctx, actorID, "coa.add", acct, map[string]any{"parent": in.ParentCode})
	return acct, nil
}

// MoveAccount re-parents an account.
func (s *Service) MoveAccount(ctx context.Context, companyID, actorID int64, code, newParentCode string) (Account, error) {
	chart, err := s.registry.Chart(companyID)
	if err != nil {
		return Account{}, err
	}
	before, err := chart.Resolve(code)
	if err != nil {
		return Account{}, err
	}
	history, err := s.historyFunc(ctx, companyID)
	if err != nil {
		return Account{}, err
	}
	acct, err := chart.Move(code, newParentCode, actorID, history)
	if err != nil {
		return Account{}, err
	}
	touched := []string{acct.Code, newParentCode}
	if before.ParentID != nil {
		if old, err := chart.ResolveID(*before.ParentID); err == nil {
			touched = append(touched, old.Code)
		}
	}
	if err := s.persist(ctx, chart, touched...); err != nil {
		return Account{}, err
	}
	s.record(ctx, actorID, "coa.move", acct, map[string]any{"parent": newParentCode})
	return acct, nil
}

// DeactivateAccount retires an account without dropping its history.
func (s *Service) DeactivateAccount(ctx context.Context, companyID, actorID int64, code string) (Account, error) {
	return s.setActive(ctx, companyID, actorID, code, false)
}

// ReactivateAccount makes a retired account postable again.
func (s *Service) ReactivateAccount(ctx context.Context, companyID, actorID int64, code string) (Account, error) {
	return s.setActive(ctx, companyID, actorID, code, true)
}

// RemoveAccount deletes a leaf without ledger history.
func (s *Service) RemoveAccount(ctx context.Context, companyID, actorID int64, code string) error {
	chart, err := s.registry.Chart(companyID)
	if err != nil {
		return err
	}
	acct, err := chart.Resolve(code)
	if err != nil {
		return err
	}
	history, err := s.historyFunc(ctx, companyID)
	if err != nil {
		return err
	}
	if err := chart.Remove(code, history); err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, companyID, acct.ID); err != nil {
			return err
		}
		if acct.ParentID != nil {
			if parent, err := chart.ResolveID(*acct.ParentID); err == nil {
				if err := s.repo.Upsert(ctx, parent); err != nil {
					return err
				}
			}
		}
	}
	s.record(ctx, actorID, "coa.remove", acct, nil)
	return nil
}

func (s *Service) setActive(ctx context.Context, companyID, actorID int64, code string, active bool) (Account, error) {
	chart, err := s.registry.Chart(companyID)
	if err != nil {
		return Account{}, err
	}
	acct, err := chart.SetActive(code, active, actorID)
	if err != nil {
		return Account{}, err
	}
	if err := s.persist(ctx, chart, code); err != nil {
		return Account{}, err
	}
	action := "coa.deactivate"
	if active {
		action = "coa.reactivate"
	}
	s.record(ctx, actorID, action, acct, nil)
	return acct, nil
}

func (s *Service) historyFunc(ctx context.Context, companyID int64) (HistoryFunc, error) {
	if s.history == nil {
		return noHistory, nil
	}
	ids, err := s.history.AccountsWithPostings(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("accounts: load history: %w", err)
	}
	return func(id int64) bool {
		_, ok := ids[id]
		return ok
	}, nil
}

// persist writes the listed nodes and their subtrees; levels change under a move.
func (s *Service) persist(ctx context.Context, chart *Chart, codes ...string) error {
	if s.repo == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var queue []string
	for _, code := range codes {
		if code != "" {
			queue = append(queue, code)
		}
	}
	for len(queue) > 0 {
		code := queue[0]
		queue = queue[1:]
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		acct, err := chart.Resolve(code)
		if err != nil {
			return err
		}
		if err := s.repo.Upsert(ctx, acct); err != nil {
			return fmt.Errorf("accounts: persist %s: %w", code, err)
		}
		children, err := chart.Children(code)
		if err != nil {
			return err
		}
		for _, child := range children {
			queue = append(queue, child.Code)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, acct Account, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["code"] = acct.Code
	meta["company_id"] = acct.CompanyID
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "chart_of_accounts",
		EntityID: fmt.Sprintf("%d", acct.ID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit chart change", slog.String("action", action), slog.Any("error", err))
	}
}

func parentCode(chart *Chart, acct Account) string {
	if acct.ParentID == nil {
		return ""
	}
	parent, err := chart.ResolveID(*acct.ParentID)
	if err != nil {
		return ""
	}
	return parent.Code
}
