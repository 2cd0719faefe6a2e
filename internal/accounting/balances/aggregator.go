package balances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// DefaultLockTimeout bounds series lock acquisition when no option overrides it.
const DefaultLockTimeout = 2 * time.Second

// Persister stores a write-through snapshot of balance rows.
type Persister interface {
	SaveBalances(ctx context.Context, rows []Balance) error
}

// Metrics counts aggregator incidents.
type Metrics interface {
	ConsistencyViolation(series string)
}

// LedgerSource yields the deltas of every posted line of a company.
type LedgerSource interface {
	Deltas(ctx context.Context, companyID int64) ([]Delta, error)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPersister enables snapshot persistence.
func WithPersister(p Persister) Option {
	return func(a *Aggregator) { a.persister = p }
}

// WithMetrics attaches incident counters.
func WithMetrics(m Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.lockTimeout = d
		}
	}
}

// WithCalendar sets the fiscal calendar used for period bounds.
func WithCalendar(c shared.FiscalCalendar) Option {
	return func(a *Aggregator) { a.calendar = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// gateWeight is the exclusive weight of a company gate. A posting holds one unit.
const gateWeight = 1 << 30

// series holds the rows of one SeriesKey ordered by period. Guarded by its stripe.
type series struct {
	key     SeriesKey
	code    string
	normal  shared.NormalBalance
	rows    map[shared.FiscalPeriod]*Balance
	periods []shared.FiscalPeriod
	halted  error
}

func newSeries(key SeriesKey) *series {
	return &series{key: key, rows: make(map[shared.FiscalPeriod]*Balance)}
}

// position returns the index of the first period not before p.
func (s *series) position(p shared.FiscalPeriod) int {
	return sort.Search(len(s.periods), func(i int) bool { return !s.periods[i].Before(p) })
}

// Aggregator maintains period balances derived from posted ledger lines.
// Deltas to the same series are serialised; different series proceed in parallel.
// Company-wide reads and rewrites hold the company gate exclusively, so they never
// observe a posting between its reservation and its release.
type Aggregator struct {
	mu      sync.Mutex
	gates   map[int64]*semaphore.Weighted
	stripes map[SeriesKey]*semaphore.Weighted
	series  map[SeriesKey]*series
	closed  map[int64]map[shared.FiscalPeriod]time.Time

	calendar    shared.FiscalCalendar
	lockTimeout time.Duration
	persister   Persister
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewAggregator constructs an empty Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		gates:       make(map[int64]*semaphore.Weighted),
		stripes:     make(map[SeriesKey]*semaphore.Weighted),
		series:      make(map[SeriesKey]*series),
		closed:      make(map[int64]map[shared.FiscalPeriod]time.Time),
		calendar:    shared.DefaultCalendar,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) stripeFor(key SeriesKey) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stripes[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		a.stripes[key] = s
	}
	return s
}

func (a *Aggregator) gateFor(companyID int64) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.gates[companyID]
	if !ok {
		g = semaphore.NewWeighted(gateWeight)
		a.gates[companyID] = g
	}
	return g
}

// lockErr maps a failed bounded acquisition to the caller's cancellation or ErrLockTimeout.
func lockErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.ErrLockTimeout
	}
	return err
}

// exclusive holds the company gate alone, waiting for every open reservation to release.
func (a *Aggregator) exclusive(ctx context.Context, companyID int64) (func(), error) {
	gate := a.gateFor(companyID)
	tctx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	defer cancel()
	if err := gate.Acquire(tctx, gateWeight); err != nil {
		return nil, fmt.Errorf("balances: lock company %d: %w", companyID, lockErr(ctx, err))
	}
	return func() { gate.Release(gateWeight) }, nil
}

func (a *Aggregator) seriesFor(key SeriesKey, create bool) *series {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.series[key]
	if !ok && create {
		s = newSeries(key)
		a.series[key] = s
	}
	return s
}

func (a *Aggregator) isPeriodClosed(companyID int64, p shared.FiscalPeriod) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.closed[companyID][p]
	return ok
}

// acquire locks the stripes of keys in a fixed order within the lock timeout.
func (a *Aggregator) acquire(ctx context.Context, keys []SeriesKey) (func(), error) {
	sorted := append([]SeriesKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })
	tctx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	defer cancel()
	held := make([]*semaphore.Weighted, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		st := a.stripeFor(key)
		if err := st.Acquire(tctx, 1); err != nil {
			release()
			return nil, fmt.Errorf("balances: lock series %s: %w", key, lockErr(ctx, err))
		}
		held = append(held, st)
	}
	return release, nil
}

// share holds one unit of the gate of every company in keys, in company order.
func (a *Aggregator) share(ctx context.Context, keys []SeriesKey) (func(), error) {
	var companies []int64
	seen := make(map[int64]struct{})
	for _, k := range keys {
		if _, ok := seen[k.CompanyID]; !ok {
			seen[k.CompanyID] = struct{}{}
			companies = append(companies, k.CompanyID)
		}
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i] < companies[j] })
	tctx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	defer cancel()
	held := make([]*semaphore.Weighted, 0, len(companies))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, id := range companies {
		gate := a.gateFor(id)
		if err := gate.Acquire(tctx, 1); err != nil {
			release()
			return nil, fmt.Errorf("balances: lock company %d: %w", id, lockErr(ctx, err))
		}
		held = append(held, gate)
	}
	return release, nil
}

// Reservation holds the series locks of one posting until released.
type Reservation struct {
	a        *Aggregator
	keys     map[SeriesKey]struct{}
	release  func()
	once     sync.Once
	released bool
}

// Reserve acquires every series lock the deltas of a posting will need. It fails
// with the recorded consistency violation when any of the series is halted, so the
// posting is rejected before anything is written.
func (a *Aggregator) Reserve(ctx context.Context, keys []SeriesKey) (*Reservation, error) {
	unshare, err := a.share(ctx, keys)
	if err != nil {
		return nil, err
	}
	unlock, err := a.acquire(ctx, keys)
	if err != nil {
		unshare()
		return nil, err
	}
	release := func() {
		unlock()
		unshare()
	}
	set := make(map[SeriesKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
		if s := a.seriesFor(k, true); s.halted != nil {
			release()
			return nil, s.halted
		}
	}
	return &Reservation{a: a, keys: set, release: release}, nil
}

// Apply folds deltas into the reserved series. Violations halt the affected series;
// the remaining deltas are still applied.
func (r *Reservation) Apply(ctx context.Context, deltas []Delta) error {
	if r == nil || r.released {
		return ErrReservationReleased
	}
	var errs []error
	var touched []Balance
	for _, d := range deltas {
		keys := []SeriesKey{d.Series()}
		if sub, ok := d.SubSeries(); ok {
			keys = append(keys, sub)
		}
		for _, key := range keys {
			if _, ok := r.keys[key]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s", ErrNotReserved, key))
				continue
			}
			rows, err := r.a.applyTo(r.a.seriesFor(key, true), d)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			touched = append(touched, rows...)
		}
	}
	r.a.persist(ctx, touched)
	return errors.Join(errs...)
}

// Release unlocks the reserved series. It is safe to call more than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.released = true
		r.release()
	})
}

// ApplyDelta folds one regular posting delta into its balance rows.
func (a *Aggregator) ApplyDelta(ctx context.Context, d Delta) error {
	d.Adjusting = false
	return a.applyOne(ctx, d)
}

// ApplyAdjustment folds a period-end adjusting delta into the adjustment columns only.
func (a *Aggregator) ApplyAdjustment(ctx context.Context, d Delta) error {
	d.Adjusting = true
	return a.applyOne(ctx, d)
}

func (a *Aggregator) applyOne(ctx context.Context, d Delta) error {
	res, err := a.Reserve(ctx, SeriesKeys([]Delta{d}))
	if err != nil {
		return err
	}
	defer res.Release()
	return res.Apply(ctx, []Delta{d})
}

// applyTo mutates one series. The caller holds the series stripe.
func (a *Aggregator) applyTo(s *series, d Delta) ([]Balance, error) {
	if s.halted != nil {
		return nil, s.halted
	}
	if s.normal == "" {
		s.normal = d.Normal
		s.code = d.AccountCode
	}
	if a.isPeriodClosed(s.key.CompanyID, d.Period) {
		return nil, a.halt(s, d.Period, "delta targets a closed period")
	}
	pos := s.position(d.Period)
	row := s.rows[d.Period]
	if row != nil && row.Closed {
		return nil, a.halt(s, d.Period, "delta targets a closed row")
	}
	start := pos
	if row != nil {
		start = pos + 1
	}
	for _, p := range s.periods[start:] {
		if s.rows[p].Closed {
			return nil, a.halt(s, d.Period, fmt.Sprintf("roll-forward reaches closed row %s", p))
		}
	}
	now := a.now()
	if row == nil {
		row = a.newRow(s, d.Period, pos, now)
		start = pos + 1
	}
	if d.Adjusting {
		row.AdjustmentDebit = row.AdjustmentDebit.Add(d.Debit)
		row.AdjustmentCredit = row.AdjustmentCredit.Add(d.Credit)
	} else {
		row.DebitTotal = row.DebitTotal.Add(d.Debit)
		row.CreditTotal = row.CreditTotal.Add(d.Credit)
	}
	row.recompute()
	row.UpdatedAt = now
	touched := []Balance{*row}
	net := s.normal.Signed(d.Debit, d.Credit)
	if net.IsZero() {
		return touched, nil
	}
	for _, p := range s.periods[start:] {
		later := s.rows[p]
		later.Beginning = later.Beginning.Add(net)
		later.recompute()
		later.UpdatedAt = now
		touched = append(touched, *later)
	}
	return touched, nil
}

// newRow inserts a row at pos carrying the previous row's adjusted ending balance.
func (a *Aggregator) newRow(s *series, p shared.FiscalPeriod, pos int, now time.Time) *Balance {
	first, last := a.calendar.Bounds(p)
	row := &Balance{
		CompanyID:   s.key.CompanyID,
		AccountID:   s.key.AccountID,
		AccountCode: s.code,
		Sub:         s.key.Sub,
		Period:      p,
		PeriodStart: first,
		PeriodEnd:   last,
		Normal:      s.normal,
		Beginning:   decimal.Zero,
		UpdatedAt:   now,
	}
	if pos > 0 {
		row.Beginning = s.rows[s.periods[pos-1]].AdjustedEnding
	}
	row.recompute()
	s.rows[p] = row
	s.periods = append(s.periods, shared.FiscalPeriod{})
	copy(s.periods[pos+1:], s.periods[pos:])
	s.periods[pos] = p
	return row
}

func (a *Aggregator) halt(s *series, p shared.FiscalPeriod, detail string) error {
	pe := shared.Reject(shared.ReasonConsistencyViolation,
		fmt.Sprintf("series %s period %s: %s; further writes halted", s.key, p, detail))
	if s.code != "" {
		pe.Accounts = []string{s.code}
	}
	a.mu.Lock()
	s.halted = pe
	a.mu.Unlock()
	a.logger.Error("balance consistency violation",
		slog.String("series", s.key.String()),
		slog.Int64("company_id", s.key.CompanyID),
		slog.Int64("account_id", s.key.AccountID),
		slog.String("account_code", s.code),
		slog.String("sub_account", s.key.Sub.String()),
		slog.String("period", p.String()),
		slog.String("detail", detail),
	)
	if a.metrics != nil {
		a.metrics.ConsistencyViolation(s.key.String())
	}
	return pe
}

func (a *Aggregator) persist(ctx context.Context, rows []Balance) {
	if a.persister == nil || len(rows) == 0 {
		return
	}
	if err := a.persister.SaveBalances(context.WithoutCancel(ctx), rows); err != nil {
		a.logger.Warn("persist balance snapshot", slog.Int("rows", len(rows)), slog.Any("error", err))
	}
}

// Get returns the account level balance row.
func (a *Aggregator) Get(ctx context.Context, companyID, accountID int64, p shared.FiscalPeriod) (Balance, error) {
	return a.get(ctx, Key{SeriesKey: SeriesKey{CompanyID: companyID, AccountID: accountID}, Period: p})
}

// GetSub returns the sub-account balance row.
func (a *Aggregator) GetSub(ctx context.Context, companyID, accountID int64, sub shared.SubAccountKey, p shared.FiscalPeriod) (Balance, error) {
	return a.get(ctx, Key{SeriesKey: SeriesKey{CompanyID: companyID, AccountID: accountID, Sub: sub}, Period: p})
}

func (a *Aggregator) get(ctx context.Context, key Key) (Balance, error) {
	s := a.seriesFor(key.SeriesKey, false)
	if s == nil {
		return Balance{}, fmt.Errorf("%w: %s %s", ErrBalanceNotFound, key.SeriesKey, key.Period)
	}
	release, err := a.acquire(ctx, []SeriesKey{key.SeriesKey})
	if err != nil {
		return Balance{}, err
	}
	defer release()
	if row, ok := s.rows[key.Period]; ok {
		return *row, nil
	}
	// no movement in the period; the balance carries from the previous row
	pos := s.position(key.Period)
	first, last := a.calendar.Bounds(key.Period)
	b := Balance{
		CompanyID:   key.CompanyID,
		AccountID:   key.AccountID,
		AccountCode: s.code,
		Sub:         key.Sub,
		Period:      key.Period,
		PeriodStart: first,
		PeriodEnd:   last,
		Normal:      s.normal,
	}
	if pos == 0 {
		return Balance{}, fmt.Errorf("%w: %s %s", ErrBalanceNotFound, key.SeriesKey, key.Period)
	}
	b.Beginning = s.rows[s.periods[pos-1]].AdjustedEnding
	b.recompute()
	b.Closed = a.isPeriodClosed(key.CompanyID, key.Period)
	return b, nil
}

func (a *Aggregator) companySeries(companyID int64) []SeriesKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []SeriesKey
	for key := range a.series {
		if key.CompanyID == companyID {
			keys = append(keys, key)
		}
	}
	return keys
}

// Snapshot copies every row of the company ordered by series and period.
func (a *Aggregator) Snapshot(ctx context.Context, companyID int64) ([]Balance, error) {
	unlock, err := a.exclusive(ctx, companyID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return a.snapshot(ctx, companyID)
}

// snapshot copies the company rows. The caller holds the company gate exclusively.
func (a *Aggregator) snapshot(ctx context.Context, companyID int64) ([]Balance, error) {
	keys := a.companySeries(companyID)
	release, err := a.acquire(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()
	return a.collect(keys), nil
}

func (a *Aggregator) collect(keys []SeriesKey) []Balance {
	var out []Balance
	for _, key := range keys {
		s := a.seriesFor(key, false)
		if s == nil {
			continue
		}
		for _, p := range s.periods {
			out = append(out, *s.rows[p])
		}
	}
	sortBalances(out)
	return out
}

// TrialBalance totals the account level rows of a company for one period.
func (a *Aggregator) TrialBalance(ctx context.Context, companyID int64, p shared.FiscalPeriod) (TrialBalance, error) {
	rows, err := a.Snapshot(ctx, companyID)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{CompanyID: companyID, Period: p, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, row := range rows {
		if !row.Sub.IsZero() || row.Period != p {
			continue
		}
		tb.Rows = append(tb.Rows, row)
		tb.TotalDebit = tb.TotalDebit.Add(row.DebitTotal).Add(row.AdjustmentDebit)
		tb.TotalCredit = tb.TotalCredit.Add(row.CreditTotal).Add(row.AdjustmentCredit)
	}
	return tb, nil
}

// ClosePeriod marks every row of the company in period p closed. Later deltas
// into the period are consistency violations.
func (a *Aggregator) ClosePeriod(ctx context.Context, companyID int64, p shared.FiscalPeriod, at time.Time) error {
	unlock, err := a.exclusive(ctx, companyID)
	if err != nil {
		return err
	}
	defer unlock()
	keys := a.companySeries(companyID)
	release, err := a.acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	a.mu.Lock()
	if a.closed[companyID] == nil {
		a.closed[companyID] = make(map[shared.FiscalPeriod]time.Time)
	}
	a.closed[companyID][p] = at
	a.mu.Unlock()
	var touched []Balance
	for _, key := range keys {
		s := a.seriesFor(key, false)
		if s == nil {
			continue
		}
		row, ok := s.rows[p]
		if !ok {
			continue
		}
		stamp := at
		row.Closed = true
		row.ClosedAt = &stamp
		row.UpdatedAt = at
		touched = append(touched, *row)
	}
	a.persist(ctx, touched)
	a.logger.Info("balances closed", slog.Int64("company_id", companyID), slog.String("period", p.String()), slog.Int("rows", len(touched)))
	return nil
}

// ReopenPeriod clears the closed flag of the company rows in period p.
func (a *Aggregator) ReopenPeriod(ctx context.Context, companyID int64, p shared.FiscalPeriod) error {
	unlock, err := a.exclusive(ctx, companyID)
	if err != nil {
		return err
	}
	defer unlock()
	keys := a.companySeries(companyID)
	release, err := a.acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	a.mu.Lock()
	delete(a.closed[companyID], p)
	a.mu.Unlock()
	now := a.now()
	var touched []Balance
	for _, key := range keys {
		s := a.seriesFor(key, false)
		if s == nil {
			continue
		}
		row, ok := s.rows[p]
		if !ok || !row.Closed {
			continue
		}
		row.Closed = false
		row.ClosedAt = nil
		row.UpdatedAt = now
		touched = append(touched, *row)
	}
	a.persist(ctx, touched)
	a.logger.Info("balances reopened", slog.Int64("company_id", companyID), slog.String("period", p.String()), slog.Int("rows", len(touched)))
	return nil
}

// IsClosed reports whether the company rows of period p are closed.
func (a *Aggregator) IsClosed(companyID int64, p shared.FiscalPeriod) bool {
	return a.isPeriodClosed(companyID, p)
}

// Halted lists the series of a company that stopped accepting writes.
func (a *Aggregator) Halted(companyID int64) []SeriesKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []SeriesKey
	for key, s := range a.series {
		if key.CompanyID == companyID && s.halted != nil {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// Replay recomputes rows from scratch without touching maintained state.
func (a *Aggregator) Replay(deltas []Delta) []Balance {
	scratch := NewAggregator(WithCalendar(a.calendar), WithClock(a.now), WithLogger(a.logger))
	for _, d := range deltas {
		for _, key := range SeriesKeys([]Delta{d}) {
			_, _ = scratch.applyTo(scratch.seriesFor(key, true), d)
		}
	}
	var keys []SeriesKey
	for key := range scratch.series {
		keys = append(keys, key)
	}
	return scratch.collect(keys)
}

// Rebuild replaces the maintained rows of a company with a replay of the ledger.
// Halted series are cleared; closed periods keep their flags.
func (a *Aggregator) Rebuild(ctx context.Context, src LedgerSource, companyID int64) error {
	unlock, err := a.exclusive(ctx, companyID)
	if err != nil {
		return err
	}
	defer unlock()
	deltas, err := src.Deltas(ctx, companyID)
	if err != nil {
		return fmt.Errorf("balances: load ledger deltas: %w", err)
	}
	replayed := a.Replay(deltas)
	keys := a.companySeries(companyID)
	release, err := a.acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	fresh := make(map[SeriesKey]*series)
	for i := range replayed {
		row := replayed[i]
		s, ok := fresh[row.Key().SeriesKey]
		if !ok {
			s = newSeries(row.Key().SeriesKey)
			s.code = row.AccountCode
			s.normal = row.Normal
			fresh[s.key] = s
		}
		a.mu.Lock()
		if at, closed := a.closed[companyID][row.Period]; closed {
			stamp := at
			row.Closed = true
			row.ClosedAt = &stamp
		}
		a.mu.Unlock()
		s.rows[row.Period] = &row
		s.periods = append(s.periods, row.Period)
	}
	a.mu.Lock()
	for _, key := range keys {
		delete(a.series, key)
	}
	for key, s := range fresh {
		a.series[key] = s
	}
	a.mu.Unlock()
	a.persist(ctx, replayed)
	a.logger.Info("balances rebuilt", slog.Int64("company_id", companyID), slog.Int("deltas", len(deltas)), slog.Int("rows", len(replayed)))
	return nil
}

// Verify compares maintained rows with a replay of the ledger and reports drift.
func (a *Aggregator) Verify(ctx context.Context, src LedgerSource, companyID int64) ([]Drift, error) {
	unlock, err := a.exclusive(ctx, companyID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	deltas, err := src.Deltas(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("balances: load ledger deltas: %w", err)
	}
	maintained, err := a.snapshot(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return Compare(maintained, a.Replay(deltas)), nil
}

// Compare reports maintained rows whose amounts differ from their replayed value,
// plus rows present on only one side, ordered by key.
func Compare(maintained, replayed []Balance) []Drift {
	byKey := make(map[Key]Balance, len(replayed))
	for _, row := range replayed {
		byKey[row.Key()] = row
	}
	var drift []Drift
	for _, row := range maintained {
		want, ok := byKey[row.Key()]
		if !ok {
			drift = append(drift, Drift{Key: row.Key(), Maintained: row, Missing: true})
			continue
		}
		delete(byKey, row.Key())
		if !sameAmounts(row, want) {
			drift = append(drift, Drift{Key: row.Key(), Maintained: row, Replayed: want})
		}
	}
	for key, want := range byKey {
		drift = append(drift, Drift{Key: key, Replayed: want, Missing: true})
	}
	sort.Slice(drift, func(i, j int) bool { return keyLess(drift[i].Key, drift[j].Key) })
	return drift
}

func sameAmounts(a, b Balance) bool {
	return a.Beginning.Equal(b.Beginning) &&
		a.DebitTotal.Equal(b.DebitTotal) &&
		a.CreditTotal.Equal(b.CreditTotal) &&
		a.Ending.Equal(b.Ending) &&
		a.AdjustmentDebit.Equal(b.AdjustmentDebit) &&
		a.AdjustmentCredit.Equal(b.AdjustmentCredit) &&
		a.AdjustedEnding.Equal(b.AdjustedEnding)
}

func keyLess(a, b Key) bool {
	if a.SeriesKey != b.SeriesKey {
		return a.SeriesKey.less(b.SeriesKey)
	}
	return a.Period.Before(b.Period)
}

func sortBalances(rows []Balance) {
	sort.Slice(rows, func(i, j int) bool { return keyLess(rows[i].Key(), rows[j].Key()) })
}
