package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// DefaultDrainTimeout bounds how long a close waits for in-flight postings.
const DefaultDrainTimeout = 5 * time.Second

// Aggregator is the balance side of a period close.
type Aggregator interface {
	TrialBalance(ctx context.Context, companyID int64, p shared.FiscalPeriod) (balances.TrialBalance, error)
	Halted(companyID int64) []balances.SeriesKey
	ClosePeriod(ctx context.Context, companyID int64, p shared.FiscalPeriod, at time.Time) error
	ReopenPeriod(ctx context.Context, companyID int64, p shared.FiscalPeriod) error
	IsClosed(companyID int64, p shared.FiscalPeriod) bool
}

// PendingChecker reports documents of a module still open in a period.
type PendingChecker interface {
	PendingDocuments(ctx context.Context, companyID int64, p shared.FiscalPeriod) ([]string, error)
}

// PendingCheckerFunc adapts a function to PendingChecker.
type PendingCheckerFunc func(ctx context.Context, companyID int64, p shared.FiscalPeriod) ([]string, error)

// PendingDocuments calls f.
func (f PendingCheckerFunc) PendingDocuments(ctx context.Context, companyID int64, p shared.FiscalPeriod) ([]string, error) {
	return f(ctx, companyID, p)
}

// Notifier fans period transitions out to document modules.
type Notifier interface {
	Notify(ctx context.Context, evt PeriodEvent) error
}

// AuditPort records period transitions.
type AuditPort interface {
	Record(ctx context.Context, log appshared.AuditLog) error
}

// Metrics observes close outcomes.
type Metrics interface {
	PeriodTransition(module, action, outcome string, elapsed time.Duration)
}

// Option configures a Manager.
type Option func(*Manager)

// WithModules sets the modules whose closes together close the company period.
func WithModules(modules ...shared.Module) Option {
	return func(m *Manager) {
		if len(modules) > 0 {
			m.modules = append([]shared.Module(nil), modules...)
		}
	}
}

// WithDrainTimeout bounds the wait for in-flight postings.
func WithDrainTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.drainTimeout = d
		}
	}
}

// WithPendingChecker registers a pre-close check for module.
func WithPendingChecker(module shared.Module, c PendingChecker) Option {
	return func(m *Manager) { m.pending[module] = append(m.pending[module], c) }
}

// WithNotifier publishes period events.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMutex serialises closes across instances.
func WithMutex(mu Mutex) Option {
	return func(m *Manager) { m.mutex = mu }
}

// WithAudit records transitions.
func WithAudit(a AuditPort) Option {
	return func(m *Manager) { m.audit = a }
}

// WithMetrics attaches close observations.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithNow overrides time.Now.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

type moduleKey struct {
	companyID int64
	module    shared.Module
}

func (k moduleKey) String() string {
	return strconv.FormatInt(k.companyID, 10) + "/" + string(k.module)
}

// gate tracks postings in flight per period and the close, if any, draining them.
type gate struct {
	inflight map[shared.FiscalPeriod]int
	closing  *shared.FiscalPeriod
	drained  chan struct{}
}

func (g *gate) inflightUpTo(p shared.FiscalPeriod) int {
	n := 0
	for period, c := range g.inflight {
		if !period.After(p) {
			n += c
		}
	}
	return n
}

// Manager owns the sequential close of (company, module, period) and the
// in-flight posting gate consulted by the ledger store.
type Manager struct {
	repo         Repository
	agg          Aggregator
	modules      []shared.Module
	drainTimeout time.Duration
	pending      map[shared.Module][]PendingChecker
	notifier     Notifier
	mutex        Mutex
	audit        AuditPort
	metrics      Metrics
	logger       *slog.Logger
	now          func() time.Time

	loads   singleflight.Group
	mu      sync.Mutex
	indexes map[moduleKey][]shared.FiscalPeriod
	gates   map[moduleKey]*gate
	ops     map[moduleKey]*sync.Mutex
}

// NewManager constructs a Manager over the posted period repository and the aggregator.
func NewManager(repo Repository, agg Aggregator, opts ...Option) *Manager {
	m := &Manager{
		repo:         repo,
		agg:          agg,
		modules:      append([]shared.Module(nil), shared.AllModules...),
		drainTimeout: DefaultDrainTimeout,
		pending:      make(map[shared.Module][]PendingChecker),
		logger:       slog.Default(),
		now:          time.Now,
		indexes:      make(map[moduleKey][]shared.FiscalPeriod),
		gates:        make(map[moduleKey]*gate),
		ops:          make(map[moduleKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Modules returns the modules taking part in the company close.
func (m *Manager) Modules() []shared.Module {
	return append([]shared.Module(nil), m.modules...)
}

// closedPeriods returns the sorted closed periods of a module, loading them once.
func (m *Manager) closedPeriods(ctx context.Context, key moduleKey) ([]shared.FiscalPeriod, error) {
	m.mu.Lock()
	idx, ok := m.indexes[key]
	m.mu.Unlock()
	if ok {
		return idx, nil
	}
	v, err, _ := m.loads.Do(key.String(), func() (any, error) {
		rows, err := m.repo.ListPosted(ctx, key.companyID, key.module)
		if err != nil {
			return nil, err
		}
		out := make([]shared.FiscalPeriod, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.Period)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
		m.mu.Lock()
		if cached, ok := m.indexes[key]; ok {
			out = cached
		} else {
			m.indexes[key] = out
		}
		m.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("periods: load %s: %w", key, err)
	}
	return v.([]shared.FiscalPeriod), nil
}

func watermark(idx []shared.FiscalPeriod) (shared.FiscalPeriod, bool) {
	if len(idx) == 0 {
		return shared.FiscalPeriod{}, false
	}
	return idx[len(idx)-1], true
}

// IsClosed reports whether period is at or before the latest closed period of the module.
func (m *Manager) IsClosed(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (bool, error) {
	idx, err := m.closedPeriods(ctx, moduleKey{companyID, module})
	if err != nil {
		return false, err
	}
	last, ok := watermark(idx)
	return ok && !period.After(last), nil
}

// Invalidate drops the cached close index so the next lookup reloads it.
func (m *Manager) Invalidate(companyID int64, module shared.Module) {
	m.mu.Lock()
	delete(m.indexes, moduleKey{companyID, module})
	m.mu.Unlock()
}

// BeginPosting admits a posting into period. The returned release must be called once
// the posting has committed or failed.
func (m *Manager) BeginPosting(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (func(), error) {
	key := moduleKey{companyID, module}
	m.mu.Lock()
	g := m.gates[key]
	if g != nil && g.closing != nil && !period.After(*g.closing) {
		closing := *g.closing
		m.mu.Unlock()
		return nil, shared.Reject(shared.ReasonPeriodClosing,
			fmt.Sprintf("period %s is being closed for %s in company %d", closing, module, companyID))
	}
	if g == nil {
		g = &gate{inflight: make(map[shared.FiscalPeriod]int)}
		m.gates[key] = g
	}
	g.inflight[period]++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			g.inflight[period]--
			if g.inflight[period] == 0 {
				delete(g.inflight, period)
			}
			if g.closing != nil && g.drained != nil && g.inflightUpTo(*g.closing) == 0 {
				close(g.drained)
				g.drained = nil
			}
			if g.closing == nil && len(g.inflight) == 0 {
				delete(m.gates, key)
			}
		})
	}, nil
}

// beginClose blocks new postings into period or earlier and returns a channel
// closed once earlier admitted postings have finished.
func (m *Manager) beginClose(key moduleKey, period shared.FiscalPeriod) (<-chan struct{}, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.gates[key]
	if g == nil {
		g = &gate{inflight: make(map[shared.FiscalPeriod]int)}
		m.gates[key] = g
	}
	if g.closing != nil {
		return nil, nil, shared.Reject(shared.ReasonPeriodClosing,
			fmt.Sprintf("a close of %s is already running for %s", *g.closing, key))
	}
	p := period
	g.closing = &p
	done := make(chan struct{})
	if g.inflightUpTo(period) == 0 {
		close(done)
	} else {
		g.drained = done
	}
	end := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		g.closing = nil
		g.drained = nil
		if len(g.inflight) == 0 {
			delete(m.gates, key)
		}
	}
	return done, end, nil
}

func (m *Manager) closing(key moduleKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.gates[key]
	return g != nil && g.closing != nil
}

// op serialises close and reopen of one (company, module) within this process.
func (m *Manager) op(key moduleKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ops[key]
	if !ok {
		l = &sync.Mutex{}
		m.ops[key] = l
	}
	return l
}

func (m *Manager) lockAcross(ctx context.Context, key moduleKey, period shared.FiscalPeriod) (func(), error) {
	if m.mutex == nil {
		return func() {}, nil
	}
	name := appshared.PeriodCloseLockKey(key.companyID, string(key.module), period.String())
	unlock, err := m.mutex.Lock(ctx, name)
	if errors.Is(err, ErrMutexHeld) {
		return nil, shared.Reject(shared.ReasonPeriodClosing,
			fmt.Sprintf("period %s of %s is being changed by another instance", period, key))
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("release period mutex", slog.String("key", name), slog.Any("error", err))
		}
	}, nil
}

func validateRequest(companyID int64, module shared.Module, period shared.FiscalPeriod, actorID int64) error {
	switch {
	case companyID <= 0:
		return shared.Reject(shared.ReasonMalformedEntry, "company is required")
	case !module.Valid():
		return shared.Reject(shared.ReasonMalformedEntry, fmt.Sprintf("unknown module %q", module))
	case !period.Valid():
		return shared.Reject(shared.ReasonMalformedEntry, fmt.Sprintf("invalid fiscal period %s", period))
	case actorID <= 0:
		return appshared.ErrActorMissing
	}
	return nil
}

// ClosePeriod closes a module period. Periods close in order: after the first close,
// only the period following the latest closed one may be closed. Closing a period that
// is already closed returns its record unchanged.
func (m *Manager) ClosePeriod(ctx context.Context, req CloseRequest) (PostedPeriod, error) {
	started := m.now()
	rec, err := m.closePeriod(ctx, req)
	m.observe(req.Module, "close", started, err)
	return rec, err
}

func (m *Manager) closePeriod(ctx context.Context, req CloseRequest) (PostedPeriod, error) {
	if err := validateRequest(req.CompanyID, req.Module, req.Period, req.ActorID); err != nil {
		return PostedPeriod{}, err
	}
	key := moduleKey{req.CompanyID, req.Module}
	serial := m.op(key)
	serial.Lock()
	defer serial.Unlock()

	idx, err := m.closedPeriods(ctx, key)
	if err != nil {
		return PostedPeriod{}, err
	}
	if last, ok := watermark(idx); ok {
		if !req.Period.After(last) {
			rec, err := m.repo.Get(ctx, req.CompanyID, req.Module, req.Period)
			if err != nil {
				return PostedPeriod{}, err
			}
			return rec, m.syncFullClose(ctx, req.CompanyID, req.Period)
		}
		if req.Period != last.Next() {
			return PostedPeriod{}, shared.Reject(shared.ReasonCannotCloseOutOfOrder,
				fmt.Sprintf("close %s first; latest closed period for %s is %s", last.Next(), req.Module, last))
		}
	}

	unlock, err := m.lockAcross(ctx, key, req.Period)
	if err != nil {
		return PostedPeriod{}, err
	}
	defer unlock()

	drained, endClose, err := m.beginClose(key, req.Period)
	if err != nil {
		return PostedPeriod{}, err
	}
	defer endClose()

	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		return PostedPeriod{}, fmt.Errorf("%w: postings into %s still in flight after %s", shared.ErrLockTimeout, req.Period, m.drainTimeout)
	case <-ctx.Done():
		return PostedPeriod{}, ctx.Err()
	}

	if err := m.checkPending(ctx, req); err != nil {
		return PostedPeriod{}, err
	}
	if err := m.checkBalances(ctx, req.CompanyID, req.Period); err != nil {
		return PostedPeriod{}, err
	}

	now := m.now()
	actor := req.ActorID
	rec := PostedPeriod{
		CompanyID: req.CompanyID,
		Module:    req.Module,
		Period:    req.Period,
		IsPosted:  true,
		PostedOn:  &now,
		PostedBy:  &actor,
	}
	if prev, err := m.repo.Get(ctx, req.CompanyID, req.Module, req.Period); err == nil {
		rec.ReopenedOn, rec.ReopenedBy = prev.ReopenedOn, prev.ReopenedBy
	}
	if err := m.repo.Save(ctx, rec); err != nil {
		return PostedPeriod{}, fmt.Errorf("periods: save %s %s: %w", key, req.Period, err)
	}
	m.mu.Lock()
	m.indexes[key] = append(append([]shared.FiscalPeriod(nil), idx...), req.Period)
	m.mu.Unlock()

	full, err := m.fullyClosed(ctx, req.CompanyID, req.Period)
	if err != nil {
		return rec, err
	}
	if full {
		if err := m.agg.ClosePeriod(ctx, req.CompanyID, req.Period, now); err != nil {
			return rec, fmt.Errorf("periods: close balances %s: %w", req.Period, err)
		}
	}
	m.logger.Info("period closed",
		slog.Int64("company_id", req.CompanyID),
		slog.String("module", string(req.Module)),
		slog.String("period", req.Period.String()),
		slog.Bool("fully_closed", full))
	m.publish(ctx, PeriodEvent{Type: EventPeriodClosed, CompanyID: req.CompanyID, Module: req.Module, Period: req.Period, FullyClosed: full, ActorID: req.ActorID, At: now})
	m.record(ctx, req.ActorID, "period.close", rec, map[string]any{"fully_closed": full})
	return rec, nil
}

func (m *Manager) checkPending(ctx context.Context, req CloseRequest) error {
	checkers := m.pending[req.Module]
	if len(checkers) == 0 {
		return nil
	}
	var (
		mu   sync.Mutex
		docs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range checkers {
		c := c
		g.Go(func() error {
			found, err := c.PendingDocuments(gctx, req.CompanyID, req.Period)
			if err != nil {
				return err
			}
			mu.Lock()
			docs = append(docs, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("periods: pending documents: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	sort.Strings(docs)
	issues := make([]shared.LineIssue, 0, len(docs))
	for i, d := range docs {
		issues = append(issues, shared.LineIssue{Index: i, Detail: "open document " + d})
	}
	return shared.Reject(shared.ReasonUnbalancedOpenEntries,
		fmt.Sprintf("%d open %s documents in %s", len(docs), req.Module, req.Period), issues...)
}

func (m *Manager) checkBalances(ctx context.Context, companyID int64, period shared.FiscalPeriod) error {
	if halted := m.agg.Halted(companyID); len(halted) > 0 {
		issues := make([]shared.LineIssue, 0, len(halted))
		for i, k := range halted {
			issues = append(issues, shared.LineIssue{Index: i, Detail: "halted balance series " + k.String()})
		}
		return shared.Reject(shared.ReasonUnbalancedOpenEntries, "balance series need a rebuild before closing", issues...)
	}
	tb, err := m.agg.TrialBalance(ctx, companyID, period)
	if err != nil {
		return fmt.Errorf("periods: trial balance: %w", err)
	}
	if tb.Balanced() {
		return nil
	}
	var issues []shared.LineIssue
	for i, row := range tb.Rows {
		if row.Net().IsZero() {
			continue
		}
		issues = append(issues, shared.LineIssue{Index: i, AccountCode: row.AccountCode,
			Detail: fmt.Sprintf("debit %s credit %s", shared.FormatAmount(row.DebitTotal), shared.FormatAmount(row.CreditTotal))})
	}
	return shared.Reject(shared.ReasonUnbalancedOpenEntries,
		fmt.Sprintf("trial balance for %s is off: debits %s credits %s", period,
			shared.FormatAmount(tb.TotalDebit), shared.FormatAmount(tb.TotalCredit)), issues...)
}

func (m *Manager) fullyClosed(ctx context.Context, companyID int64, period shared.FiscalPeriod) (bool, error) {
	for _, mod := range m.modules {
		closed, err := m.IsClosed(ctx, companyID, mod, period)
		if err != nil || !closed {
			return false, err
		}
	}
	return true, nil
}

// syncFullClose closes the aggregator rows when every module closed the period but
// an earlier attempt failed before the balances were marked.
func (m *Manager) syncFullClose(ctx context.Context, companyID int64, period shared.FiscalPeriod) error {
	full, err := m.fullyClosed(ctx, companyID, period)
	if err != nil || !full || m.agg.IsClosed(companyID, period) {
		return err
	}
	return m.agg.ClosePeriod(ctx, companyID, period, m.now())
}

// RestoreClosedRows re-marks balance rows of every listed period that all modules
// have closed. Call it after the aggregator was rebuilt from the ledger.
func (m *Manager) RestoreClosedRows(ctx context.Context, companyID int64, periods []shared.FiscalPeriod) error {
	for _, p := range periods {
		if err := m.syncFullClose(ctx, companyID, p); err != nil {
			return fmt.Errorf("periods: restore closed rows %s: %w", p, err)
		}
	}
	return nil
}

// ReopenPeriod reopens the latest closed period of a module.
func (m *Manager) ReopenPeriod(ctx context.Context, req ReopenRequest) (PostedPeriod, error) {
	started := m.now()
	rec, err := m.reopenPeriod(ctx, req)
	m.observe(req.Module, "reopen", started, err)
	return rec, err
}

func (m *Manager) reopenPeriod(ctx context.Context, req ReopenRequest) (PostedPeriod, error) {
	if err := validateRequest(req.CompanyID, req.Module, req.Period, req.ActorID); err != nil {
		return PostedPeriod{}, err
	}
	key := moduleKey{req.CompanyID, req.Module}
	serial := m.op(key)
	serial.Lock()
	defer serial.Unlock()

	idx, err := m.closedPeriods(ctx, key)
	if err != nil {
		return PostedPeriod{}, err
	}
	last, ok := watermark(idx)
	if !ok || req.Period.After(last) {
		return PostedPeriod{}, fmt.Errorf("%w: %s %s", ErrPeriodNotClosed, key, req.Period)
	}
	if req.Period != last {
		return PostedPeriod{}, shared.Reject(shared.ReasonCannotReopenOutOfOrder,
			fmt.Sprintf("reopen %s first; it is the latest closed period for %s", last, req.Module))
	}
	if m.closing(key) {
		return PostedPeriod{}, shared.Reject(shared.ReasonPeriodClosing, fmt.Sprintf("a close is running for %s", key))
	}
	unlock, err := m.lockAcross(ctx, key, req.Period)
	if err != nil {
		return PostedPeriod{}, err
	}
	defer unlock()

	wasFull, err := m.fullyClosed(ctx, req.CompanyID, req.Period)
	if err != nil {
		return PostedPeriod{}, err
	}
	rec, err := m.repo.Get(ctx, req.CompanyID, req.Module, req.Period)
	if err != nil {
		return PostedPeriod{}, err
	}
	now := m.now()
	actor := req.ActorID
	rec.IsPosted = false
	rec.ReopenedOn = &now
	rec.ReopenedBy = &actor
	if err := m.repo.Save(ctx, rec); err != nil {
		return PostedPeriod{}, fmt.Errorf("periods: save %s %s: %w", key, req.Period, err)
	}
	m.mu.Lock()
	m.indexes[key] = append([]shared.FiscalPeriod(nil), idx[:len(idx)-1]...)
	m.mu.Unlock()

	if wasFull {
		if err := m.agg.ReopenPeriod(ctx, req.CompanyID, req.Period); err != nil {
			return rec, fmt.Errorf("periods: reopen balances %s: %w", req.Period, err)
		}
	}
	m.logger.Info("period reopened",
		slog.Int64("company_id", req.CompanyID),
		slog.String("module", string(req.Module)),
		slog.String("period", req.Period.String()),
		slog.String("reason", req.Reason))
	m.publish(ctx, PeriodEvent{Type: EventPeriodReopened, CompanyID: req.CompanyID, Module: req.Module, Period: req.Period, ActorID: req.ActorID, At: now})
	m.record(ctx, req.ActorID, "period.reopen", rec, map[string]any{"reason": req.Reason})
	return rec, nil
}

// Status answers the lock status of a module period.
func (m *Manager) Status(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (LockStatus, error) {
	key := moduleKey{companyID, module}
	idx, err := m.closedPeriods(ctx, key)
	if err != nil {
		return LockStatus{}, err
	}
	st := LockStatus{CompanyID: companyID, Module: module, Period: period, Closing: m.closing(key)}
	if last, ok := watermark(idx); ok {
		st.Watermark = &last
		st.Closed = !period.After(last)
	}
	if rec, err := m.repo.Get(ctx, companyID, module, period); err == nil {
		st.Record = &rec
	} else if !errors.Is(err, ErrRecordNotFound) {
		return LockStatus{}, err
	}
	if st.FullyClosed, err = m.fullyClosed(ctx, companyID, period); err != nil {
		return LockStatus{}, err
	}
	return st, nil
}

func (m *Manager) publish(ctx context.Context, evt PeriodEvent) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(context.WithoutCancel(ctx), evt); err != nil {
		m.logger.Warn("notify period event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}

func (m *Manager) record(ctx context.Context, actorID int64, action string, rec PostedPeriod, meta map[string]any) {
	if m.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["module"] = string(rec.Module)
	meta["period"] = rec.Period.String()
	if err := m.audit.Record(context.WithoutCancel(ctx), appshared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "posted_period",
		EntityID: fmt.Sprintf("%d:%s:%s", rec.CompanyID, rec.Module, rec.Period),
		Meta:     meta,
		At:       m.now(),
	}); err != nil {
		m.logger.Warn("audit period event", slog.String("action", action), slog.Any("error", err))
	}
}

func (m *Manager) observe(module shared.Module, action string, started time.Time, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if reason, ok := shared.ReasonOf(err); ok {
			outcome = string(reason)
		}
	}
	m.metrics.PeriodTransition(string(module), action, outcome, m.now().Sub(started))
}
