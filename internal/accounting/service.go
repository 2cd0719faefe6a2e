package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recordlocks"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Metrics observes postings, balance incidents and period transitions.
type Metrics interface {
	journals.Metrics
	balances.Metrics
	periods.Metrics
}

// Config holds the engine tunables.
type Config struct {
	Calendar     shared.FiscalCalendar
	Modules      []shared.Module
	LockTimeout  time.Duration
	DrainTimeout time.Duration
}

type options struct {
	logger    *slog.Logger
	metrics   Metrics
	notifier  periods.Notifier
	mutex     periods.Mutex
	resolvers map[shared.Module]journals.SubAccountResolver
	pending   map[shared.Module]periods.PendingChecker
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches prometheus observations.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNotifier fans period transitions out to document modules.
func WithNotifier(n periods.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithCloseMutex serialises period closes across instances.
func WithCloseMutex(mu periods.Mutex) Option {
	return func(o *options) { o.mutex = mu }
}

// WithSubAccountResolver registers the callback validating sub-accounts of module.
func WithSubAccountResolver(module shared.Module, r journals.SubAccountResolver) Option {
	return func(o *options) { o.resolvers[module] = r }
}

// WithPendingChecker registers the pre-close open document check of module.
func WithPendingChecker(module shared.Module, c periods.PendingChecker) Option {
	return func(o *options) { o.pending[module] = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Engine is the posting and period balance core exposed to document modules and
// administrators. Company charts and balances load lazily on first use.
type Engine struct {
	registry  *accounts.Registry
	chart     *accounts.Service
	agg       *balances.Aggregator
	periods   *periods.Manager
	validator *journals.Validator
	store     *journals.Store
	locks     *recordlocks.Queue
	logger    *slog.Logger

	loads  singleflight.Group
	mu     sync.RWMutex
	loaded map[int64]struct{}
}

// ErrStorageIncomplete indicates a Storage without a required repository.
var ErrStorageIncomplete = errors.New("accounting: storage incomplete")

// NewEngine wires the chart, ledger, aggregator, lock manager and record-lock queue.
func NewEngine(storage Storage, cfg Config, opts ...Option) (*Engine, error) {
	if storage.Journals == nil || storage.Periods == nil || storage.RecordLocks == nil {
		return nil, ErrStorageIncomplete
	}
	o := options{
		logger:    slog.Default(),
		resolvers: make(map[shared.Module]journals.SubAccountResolver),
		pending:   make(map[shared.Module]periods.PendingChecker),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Calendar.StartMonth == 0 {
		cfg.Calendar = shared.DefaultCalendar
	}
	if len(cfg.Modules) == 0 {
		cfg.Modules = append([]shared.Module(nil), shared.AllModules...)
	}

	aggOpts := []balances.Option{
		balances.WithCalendar(cfg.Calendar),
		balances.WithLogger(o.logger),
		balances.WithClock(o.now),
		balances.WithPersister(storage.Balances),
	}
	if cfg.LockTimeout > 0 {
		aggOpts = append(aggOpts, balances.WithLockTimeout(cfg.LockTimeout))
	}
	if o.metrics != nil {
		aggOpts = append(aggOpts, balances.WithMetrics(o.metrics))
	}
	agg := balances.NewAggregator(aggOpts...)

	mgrOpts := []periods.Option{
		periods.WithModules(cfg.Modules...),
		periods.WithDrainTimeout(cfg.DrainTimeout),
		periods.WithLogger(o.logger),
		periods.WithNow(o.now),
	}
	if o.notifier != nil {
		mgrOpts = append(mgrOpts, periods.WithNotifier(o.notifier))
	}
	if o.mutex != nil {
		mgrOpts = append(mgrOpts, periods.WithMutex(o.mutex))
	}
	if storage.Audit != nil {
		mgrOpts = append(mgrOpts, periods.WithAudit(storage.Audit))
	}
	if o.metrics != nil {
		mgrOpts = append(mgrOpts, periods.WithMetrics(o.metrics))
	}
	for module, c := range o.pending {
		mgrOpts = append(mgrOpts, periods.WithPendingChecker(module, c))
	}
	mgr := periods.NewManager(storage.Periods, agg, mgrOpts...)

	registry := accounts.NewRegistry()
	validator := journals.NewValidator(registry, mgr, cfg.Calendar)
	for module, r := range o.resolvers {
		validator.RegisterResolver(module, r)
	}

	storeOpts := []journals.StoreOption{journals.WithLogger(o.logger), journals.WithClock(o.now)}
	if storage.Audit != nil {
		storeOpts = append(storeOpts, journals.WithAudit(storage.Audit))
	}
	if o.metrics != nil {
		storeOpts = append(storeOpts, journals.WithMetrics(o.metrics))
	}
	store := journals.NewStore(storage.Journals(mgr), validator, mgr, agg, storeOpts...)

	var chartAudit accounts.AuditPort
	var lockAudit recordlocks.AuditPort
	if storage.Audit != nil {
		chartAudit, lockAudit = storage.Audit, storage.Audit
	}
	return &Engine{
		registry:  registry,
		chart:     accounts.NewService(registry, storage.Accounts, store, chartAudit, o.logger),
		agg:       agg,
		periods:   mgr,
		validator: validator,
		store:     store,
		locks:     recordlocks.NewQueue(storage.RecordLocks, lockAudit, o.logger),
		logger:    o.logger,
		loaded:    make(map[int64]struct{}),
	}, nil
}

// Modules lists the modules whose closes together close a company period.
func (e *Engine) Modules() []shared.Module {
	return e.periods.Modules()
}

// Calendar returns the fiscal calendar.
func (e *Engine) Calendar() shared.FiscalCalendar {
	return e.validator.Calendar()
}

// Preload loads the chart and balances of each company.
func (e *Engine) Preload(ctx context.Context, companyIDs ...int64) error {
	for _, id := range companyIDs {
		if err := e.ensureCompany(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Companies lists the loaded companies in ascending order.
func (e *Engine) Companies() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]int64, 0, len(e.loaded))
	for id := range e.loaded {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) isLoaded(companyID int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.loaded[companyID]
	return ok
}

// ensureCompany loads the chart and replays the ledger into the aggregator once per company.
func (e *Engine) ensureCompany(ctx context.Context, companyID int64) error {
	if companyID <= 0 {
		return shared.Reject(shared.ReasonMalformedEntry, "company id is required")
	}
	if e.isLoaded(companyID) {
		return nil
	}
	_, err, _ := e.loads.Do(strconv.FormatInt(companyID, 10), func() (any, error) {
		if e.isLoaded(companyID) {
			return nil, nil
		}
		if _, err := e.chart.Load(ctx, companyID); err != nil {
			return nil, err
		}
		if err := e.rebuild(ctx, companyID); err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.loaded[companyID] = struct{}{}
		e.mu.Unlock()
		return nil, nil
	})
	return err
}

func (e *Engine) rebuild(ctx context.Context, companyID int64) error {
	if err := e.agg.Rebuild(ctx, e.store, companyID); err != nil {
		return err
	}
	rows, err := e.agg.Snapshot(ctx, companyID)
	if err != nil {
		return err
	}
	seen := make(map[shared.FiscalPeriod]struct{})
	var touched []shared.FiscalPeriod
	for _, row := range rows {
		if _, ok := seen[row.Period]; ok {
			continue
		}
		seen[row.Period] = struct{}{}
		touched = append(touched, row.Period)
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i].Before(touched[j]) })
	return e.periods.RestoreClosedRows(ctx, companyID, touched)
}

// SubmitPosting validates and appends a journal entry group.
func (e *Engine) SubmitPosting(ctx context.Context, req journals.PostingRequest) (journals.PostingResult, error) {
	if err := e.ensureCompany(ctx, req.CompanyID); err != nil {
		return journals.PostingResult{}, err
	}
	return e.store.Append(ctx, req)
}

// ReverseEntry appends the mirror of a posted group and voids the original.
func (e *Engine) ReverseEntry(ctx context.Context, in journals.ReverseInput) (journals.PostingResult, error) {
	g, err := e.store.Get(ctx, in.GroupID)
	if err != nil {
		return journals.PostingResult{}, err
	}
	if err := e.ensureCompany(ctx, g.CompanyID); err != nil {
		return journals.PostingResult{}, err
	}
	return e.store.Reverse(ctx, in)
}

// Group returns a posted journal entry group.
func (e *Engine) Group(ctx context.Context, id uuid.UUID) (journals.Group, error) {
	return e.store.Get(ctx, id)
}

// QueryBalance returns the account level balance of an account in a period. Accounts
// without movement up to the period report a zero row.
func (e *Engine) QueryBalance(ctx context.Context, companyID int64, accountCode string, period shared.FiscalPeriod) (balances.Balance, error) {
	return e.queryBalance(ctx, companyID, accountCode, shared.SubAccountKey{}, period)
}

// QuerySubAccountBalance returns the balance of one sub-account of an account.
func (e *Engine) QuerySubAccountBalance(ctx context.Context, companyID int64, accountCode string, sub shared.SubAccountKey, period shared.FiscalPeriod) (balances.Balance, error) {
	if sub.IsZero() {
		return balances.Balance{}, shared.Reject(shared.ReasonInvalidSubAccount, "sub-account kind and id are required")
	}
	return e.queryBalance(ctx, companyID, accountCode, sub, period)
}

func (e *Engine) queryBalance(ctx context.Context, companyID int64, accountCode string, sub shared.SubAccountKey, period shared.FiscalPeriod) (balances.Balance, error) {
	if !period.Valid() {
		return balances.Balance{}, fmt.Errorf("%w: %s", shared.ErrInvalidFiscalPeriod, period)
	}
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return balances.Balance{}, err
	}
	acct, err := e.registry.Resolve(companyID, accountCode)
	if err != nil {
		return balances.Balance{}, err
	}
	var row balances.Balance
	if sub.IsZero() {
		row, err = e.agg.Get(ctx, companyID, acct.ID, period)
	} else {
		row, err = e.agg.GetSub(ctx, companyID, acct.ID, sub, period)
	}
	if errors.Is(err, balances.ErrBalanceNotFound) {
		return e.zeroBalance(acct, sub, period), nil
	}
	return row, err
}

func (e *Engine) zeroBalance(acct accounts.Account, sub shared.SubAccountKey, period shared.FiscalPeriod) balances.Balance {
	start, end := e.Calendar().Bounds(period)
	return balances.Balance{
		CompanyID:   acct.CompanyID,
		AccountID:   acct.ID,
		AccountCode: acct.Code,
		Sub:         sub,
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   end,
		Normal:      acct.Normal,
		Closed:      e.agg.IsClosed(acct.CompanyID, period),
	}
}

// QueryLockStatus reports whether a module period is closed, closing or fully closed.
func (e *Engine) QueryLockStatus(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (periods.LockStatus, error) {
	if !module.Valid() {
		return periods.LockStatus{}, fmt.Errorf("%w: %q", shared.ErrUnknownModule, module)
	}
	return e.periods.Status(ctx, companyID, module, period)
}

// IsClosed is the posting hot path check.
func (e *Engine) IsClosed(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (bool, error) {
	return e.periods.IsClosed(ctx, companyID, module, period)
}

// ClosePeriod runs the close workflow of a module period.
func (e *Engine) ClosePeriod(ctx context.Context, req periods.CloseRequest) (periods.PostedPeriod, error) {
	if err := e.ensureCompany(ctx, req.CompanyID); err != nil {
		return periods.PostedPeriod{}, err
	}
	return e.periods.ClosePeriod(ctx, req)
}

// ReopenPeriod reopens the latest closed period of a module.
func (e *Engine) ReopenPeriod(ctx context.Context, req periods.ReopenRequest) (periods.PostedPeriod, error) {
	if err := e.ensureCompany(ctx, req.CompanyID); err != nil {
		return periods.PostedPeriod{}, err
	}
	return e.periods.ReopenPeriod(ctx, req)
}

// TrialBalance groups the account balances of a company period by account type.
func (e *Engine) TrialBalance(ctx context.Context, companyID int64, period shared.FiscalPeriod) (reports.TrialBalance, error) {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return reports.TrialBalance{}, err
	}
	tb, err := e.agg.TrialBalance(ctx, companyID, period)
	if err != nil {
		return reports.TrialBalance{}, err
	}
	return reports.BuildTrialBalance(companyID, period, reports.FromBalances(tb.Rows, e.registry)), nil
}

// Statements is the balance sheet and profit and loss of one company period.
type Statements struct {
	CompanyID     int64                 `json:"company_id"`
	Period        shared.FiscalPeriod   `json:"period"`
	BalanceSheet  reports.BalanceSheet  `json:"balance_sheet"`
	ProfitAndLoss reports.ProfitAndLoss `json:"profit_and_loss"`
}

// Statements builds the financial statements of a company period from its account balances.
func (e *Engine) Statements(ctx context.Context, companyID int64, period shared.FiscalPeriod) (Statements, error) {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return Statements{}, err
	}
	tb, err := e.agg.TrialBalance(ctx, companyID, period)
	if err != nil {
		return Statements{}, err
	}
	accts := reports.FromBalances(tb.Rows, e.registry)
	return Statements{
		CompanyID:     companyID,
		Period:        period,
		BalanceSheet:  reports.BuildBalanceSheet(accts),
		ProfitAndLoss: reports.BuildProfitAndLoss(accts),
	}, nil
}

// Verify replays the ledger of a company and reports rows drifting from it.
func (e *Engine) Verify(ctx context.Context, companyID int64) ([]balances.Drift, error) {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return nil, err
	}
	drift, err := e.agg.Verify(ctx, e.store, companyID)
	if err != nil {
		return nil, err
	}
	if len(drift) > 0 {
		e.logger.Error("balance drift detected", slog.Int64("company_id", companyID), slog.Int("rows", len(drift)))
	}
	return drift, nil
}

// Rebuild replaces the maintained balances of a company with a ledger replay and
// clears halted series.
func (e *Engine) Rebuild(ctx context.Context, companyID int64) error {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return err
	}
	return e.rebuild(ctx, companyID)
}

// ListAccounts returns the chart of a company ordered by code.
func (e *Engine) ListAccounts(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return nil, err
	}
	return e.chart.List(ctx, companyID)
}

// AddAccount creates a chart node.
func (e *Engine) AddAccount(ctx context.Context, companyID, actorID int64, in accounts.NewAccountInput) (accounts.Account, error) {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return accounts.Account{}, err
	}
	return e.chart.AddAccount(ctx, companyID, actorID, in)
}

// MoveAccount re-parents a chart node.
func (e *Engine) MoveAccount(ctx context.Context, companyID, actorID int64, code, newParentCode string) (accounts.Account, error) {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return accounts.Account{}, err
	}
	return e.chart.MoveAccount(ctx, companyID, actorID, code, newParentCode)
}

// SetAccountActive deactivates or reactivates an account.
func (e *Engine) SetAccountActive(ctx context.Context, companyID, actorID int64, code string, active bool) (accounts.Account, error) {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return accounts.Account{}, err
	}
	if active {
		return e.chart.ReactivateAccount(ctx, companyID, actorID, code)
	}
	return e.chart.DeactivateAccount(ctx, companyID, actorID, code)
}

// RemoveAccount deletes a leaf without ledger history.
func (e *Engine) RemoveAccount(ctx context.Context, companyID, actorID int64, code string) error {
	if err := e.ensureCompany(ctx, companyID); err != nil {
		return err
	}
	return e.chart.RemoveAccount(ctx, companyID, actorID, code)
}

// LockRecord freezes the costing snapshot of a sales or purchase document.
func (e *Engine) LockRecord(ctx context.Context, in recordlocks.LockInput) (recordlocks.Snapshot, error) {
	return e.locks.Lock(ctx, in)
}

// LookupRecordLock returns the snapshot as of a date. With latest set it returns the
// most recent snapshot on or before the date.
func (e *Engine) LookupRecordLock(ctx context.Context, ref recordlocks.DocumentRef, asOf time.Time, latest bool) (recordlocks.Snapshot, error) {
	if latest {
		return e.locks.LookupLatest(ctx, ref, asOf)
	}
	return e.locks.Lookup(ctx, ref, asOf)
}

// RecordLockHistory lists every snapshot of a document.
func (e *Engine) RecordLockHistory(ctx context.Context, ref recordlocks.DocumentRef) ([]recordlocks.Snapshot, error) {
	return e.locks.History(ctx, ref)
}
