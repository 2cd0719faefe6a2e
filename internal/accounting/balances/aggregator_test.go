package balances

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

var (
	jan = shared.FiscalPeriod{Year: 2025, Period: 1}
	feb = shared.FiscalPeriod{Year: 2025, Period: 2}
	mar = shared.FiscalPeriod{Year: 2025, Period: 3}
)

func supplies(p shared.FiscalPeriod, debit, credit string) Delta {
	return Delta{
		CompanyID:   1,
		AccountID:   5010,
		AccountCode: "5010",
		Normal:      shared.NormalDebit,
		Period:      p,
		Debit:       shared.Amount(debit),
		Credit:      shared.Amount(credit),
	}
}

func payables(p shared.FiscalPeriod, debit, credit string) Delta {
	return Delta{
		CompanyID:   1,
		AccountID:   2000,
		AccountCode: "2000",
		Normal:      shared.NormalCredit,
		Period:      p,
		Debit:       shared.Amount(debit),
		Credit:      shared.Amount(credit),
	}
}

type sliceSource []Delta

func (s sliceSource) Deltas(ctx context.Context, companyID int64) ([]Delta, error) {
	return s, nil
}

type countingMetrics struct {
	mu     sync.Mutex
	series []string
}

func (m *countingMetrics) ConsistencyViolation(series string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series = append(m.series, series)
}

type recordingPersister struct {
	mu   sync.Mutex
	rows []Balance
}

func (p *recordingPersister) SaveBalances(ctx context.Context, rows []Balance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = append(p.rows, rows...)
	return nil
}

func TestApplyDeltaUsesNormalBalanceSign(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()

	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "1000", "0")))
	require.NoError(t, agg.ApplyDelta(ctx, payables(jan, "0", "1000")))

	debitNormal, err := agg.Get(ctx, 1, 5010, jan)
	require.NoError(t, err)
	assert.True(t, debitNormal.Beginning.IsZero())
	assert.True(t, debitNormal.Ending.Equal(shared.Amount("1000")))

	creditNormal, err := agg.Get(ctx, 1, 2000, jan)
	require.NoError(t, err)
	assert.True(t, creditNormal.Ending.Equal(shared.Amount("1000")))
}

func TestLazyRowCarriesPreviousEnding(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()

	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "1000", "0")))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(mar, "0", "250")))

	row, err := agg.Get(ctx, 1, 5010, mar)
	require.NoError(t, err)
	assert.True(t, row.Beginning.Equal(shared.Amount("1000")))
	assert.True(t, row.Ending.Equal(shared.Amount("750")))

	gap, err := agg.Get(ctx, 1, 5010, feb)
	require.NoError(t, err)
	assert.True(t, gap.Ending.Equal(shared.Amount("1000")))
	assert.True(t, gap.DebitTotal.IsZero())
}

func TestBackdatedDeltaRollsForward(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()

	require.NoError(t, agg.ApplyDelta(ctx, supplies(feb, "100", "0")))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(mar, "50", "0")))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "30", "0")))

	febRow, err := agg.Get(ctx, 1, 5010, feb)
	require.NoError(t, err)
	assert.True(t, febRow.Beginning.Equal(shared.Amount("30")))
	assert.True(t, febRow.Ending.Equal(shared.Amount("130")))

	marRow, err := agg.Get(ctx, 1, 5010, mar)
	require.NoError(t, err)
	assert.True(t, marRow.Beginning.Equal(shared.Amount("130")))
	assert.True(t, marRow.Ending.Equal(shared.Amount("180")))
}

func TestApplyAdjustmentTouchesOnlyAdjustmentColumns(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()

	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "1000", "0")))
	require.NoError(t, agg.ApplyAdjustment(ctx, supplies(jan, "0", "200")))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(feb, "10", "0")))

	row, err := agg.Get(ctx, 1, 5010, jan)
	require.NoError(t, err)
	assert.True(t, row.DebitTotal.Equal(shared.Amount("1000")))
	assert.True(t, row.CreditTotal.IsZero())
	assert.True(t, row.Ending.Equal(shared.Amount("1000")))
	assert.True(t, row.AdjustmentCredit.Equal(shared.Amount("200")))
	assert.True(t, row.AdjustedEnding.Equal(shared.Amount("800")))

	next, err := agg.Get(ctx, 1, 5010, feb)
	require.NoError(t, err)
	assert.True(t, next.Beginning.Equal(shared.Amount("800")))
}

func TestSubAccountRowsAreKeptSeparately(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()
	customer := shared.SubAccountKey{Kind: shared.SubAccountCustomer, ID: 7}

	d := supplies(jan, "40", "0")
	d.Sub = customer
	require.NoError(t, agg.ApplyDelta(ctx, d))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "60", "0")))

	total, err := agg.Get(ctx, 1, 5010, jan)
	require.NoError(t, err)
	assert.True(t, total.Ending.Equal(shared.Amount("100")))

	sub, err := agg.GetSub(ctx, 1, 5010, customer, jan)
	require.NoError(t, err)
	assert.True(t, sub.Ending.Equal(shared.Amount("40")))

	_, err = agg.GetSub(ctx, 1, 5010, shared.SubAccountKey{Kind: shared.SubAccountCustomer, ID: 8}, jan)
	assert.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestDeltaIntoClosedPeriodHaltsSeries(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	agg := NewAggregator(WithMetrics(metrics))

	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "1000", "0")))
	require.NoError(t, agg.ClosePeriod(ctx, 1, jan, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))

	row, err := agg.Get(ctx, 1, 5010, jan)
	require.NoError(t, err)
	assert.True(t, row.Closed)
	require.NotNil(t, row.ClosedAt)

	err = agg.ApplyDelta(ctx, supplies(jan, "1", "0"))
	require.ErrorIs(t, err, shared.ErrConsistencyViolation)

	// the series now rejects even valid periods
	err = agg.ApplyDelta(ctx, supplies(feb, "1", "0"))
	require.ErrorIs(t, err, shared.ErrConsistencyViolation)
	assert.Equal(t, []SeriesKey{{CompanyID: 1, AccountID: 5010}}, agg.Halted(1))
	assert.Len(t, metrics.series, 1)

	// other series keep working
	require.NoError(t, agg.ApplyDelta(ctx, payables(feb, "0", "5")))
}

func TestRollForwardIntoClosedRowIsViolation(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()

	require.NoError(t, agg.ApplyDelta(ctx, supplies(feb, "10", "0")))
	require.NoError(t, agg.ClosePeriod(ctx, 1, feb, time.Now()))

	err := agg.ApplyDelta(ctx, supplies(jan, "5", "0"))
	require.ErrorIs(t, err, shared.ErrConsistencyViolation)

	row, err := agg.Get(ctx, 1, 5010, feb)
	require.NoError(t, err)
	assert.True(t, row.Beginning.IsZero())
}

func TestReopenPeriodAcceptsDeltasAgain(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()

	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "10", "0")))
	require.NoError(t, agg.ClosePeriod(ctx, 1, jan, time.Now()))
	require.NoError(t, agg.ReopenPeriod(ctx, 1, jan))
	assert.False(t, agg.IsClosed(1, jan))

	require.NoError(t, agg.ApplyDelta(ctx, payables(jan, "0", "10")))
	row, err := agg.Get(ctx, 1, 5010, jan)
	require.NoError(t, err)
	assert.False(t, row.Closed)
}

func TestTrialBalanceTotalsAccountRows(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()
	customer := shared.SubAccountKey{Kind: shared.SubAccountCustomer, ID: 1}

	d := supplies(jan, "1000", "0")
	d.Sub = customer
	require.NoError(t, agg.ApplyDelta(ctx, d))
	require.NoError(t, agg.ApplyDelta(ctx, payables(jan, "0", "1000")))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(feb, "5", "0")))

	tb, err := agg.TrialBalance(ctx, 1, jan)
	require.NoError(t, err)
	assert.Len(t, tb.Rows, 2)
	assert.True(t, tb.Balanced())
	assert.True(t, tb.TotalDebit.Equal(shared.Amount("1000")))

	unbalanced, err := agg.TrialBalance(ctx, 1, feb)
	require.NoError(t, err)
	assert.False(t, unbalanced.Balanced())
}

func TestReplayMatchesIncrementalState(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()
	deltas := []Delta{
		supplies(mar, "50", "0"),
		supplies(jan, "1000", "0"),
		payables(jan, "0", "1000"),
		supplies(feb, "0", "250.1234"),
		payables(mar, "0", "50"),
	}
	adjust := supplies(feb, "12.5", "0")
	adjust.Adjusting = true
	deltas = append(deltas, adjust)

	for _, d := range deltas {
		if d.Adjusting {
			require.NoError(t, agg.ApplyAdjustment(ctx, d))
			continue
		}
		require.NoError(t, agg.ApplyDelta(ctx, d))
	}

	// replay in a different order
	reversed := make([]Delta, len(deltas))
	for i, d := range deltas {
		reversed[len(deltas)-1-i] = d
	}
	drift, err := agg.Verify(ctx, sliceSource(reversed), 1)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestVerifyReportsDrift(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()
	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "10", "0")))

	drift, err := agg.Verify(ctx, sliceSource{supplies(jan, "11", "0")}, 1)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.True(t, drift[0].Maintained.Ending.Equal(shared.Amount("10")))
	assert.True(t, drift[0].Replayed.Ending.Equal(shared.Amount("11")))

	require.NoError(t, agg.Rebuild(ctx, sliceSource{supplies(jan, "11", "0")}, 1))
	drift, err = agg.Verify(ctx, sliceSource{supplies(jan, "11", "0")}, 1)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestReserveTimesOutWhenSeriesHeld(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(WithLockTimeout(20 * time.Millisecond))
	keys := SeriesKeys([]Delta{supplies(jan, "1", "0")})

	held, err := agg.Reserve(ctx, keys)
	require.NoError(t, err)

	_, err = agg.Reserve(ctx, keys)
	require.ErrorIs(t, err, shared.ErrLockTimeout)
	assert.True(t, shared.IsRetryable(err))

	held.Release()
	held.Release()
	again, err := agg.Reserve(ctx, keys)
	require.NoError(t, err)
	again.Release()
}

func TestReservationRejectsUnreservedSeries(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator()
	res, err := agg.Reserve(ctx, SeriesKeys([]Delta{supplies(jan, "1", "0")}))
	require.NoError(t, err)
	defer res.Release()

	err = res.Apply(ctx, []Delta{payables(jan, "0", "1")})
	assert.True(t, errors.Is(err, ErrNotReserved))
}

func TestConcurrentDeltasAreLinearised(t *testing.T) {
	ctx := context.Background()
	persister := &recordingPersister{}
	agg := NewAggregator(WithPersister(persister), WithLockTimeout(5*time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := jan
			if i%2 == 0 {
				p = feb
			}
			assert.NoError(t, agg.ApplyDelta(ctx, supplies(p, "1.0001", "0")))
		}(i)
	}
	wg.Wait()

	row, err := agg.Get(ctx, 1, 5010, feb)
	require.NoError(t, err)
	assert.True(t, row.Ending.Equal(decimal.RequireFromString("50.005")))
	assert.NotEmpty(t, persister.rows)
}

func TestReserveRejectsHaltedSeries(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(WithLockTimeout(50 * time.Millisecond))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "10", "0")))
	require.NoError(t, agg.ClosePeriod(ctx, 1, jan, time.Now()))
	require.ErrorIs(t, agg.ApplyDelta(ctx, supplies(jan, "1", "0")), shared.ErrConsistencyViolation)

	group := []Delta{supplies(feb, "1", "0"), payables(feb, "0", "1")}
	_, err := agg.Reserve(ctx, SeriesKeys(group))
	require.ErrorIs(t, err, shared.ErrConsistencyViolation)

	// the failed reservation holds nothing
	res, err := agg.Reserve(ctx, SeriesKeys([]Delta{payables(feb, "0", "1")}))
	require.NoError(t, err)
	res.Release()
	_, err = agg.Snapshot(ctx, 1)
	require.NoError(t, err)
	_, err = agg.Get(ctx, 1, 2000, feb)
	assert.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestTrialBalanceWaitsForOpenReservation(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(WithLockTimeout(5 * time.Second))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "10", "0")))
	require.NoError(t, agg.ApplyDelta(ctx, payables(jan, "0", "10")))

	sales := Delta{
		CompanyID:   1,
		AccountID:   4000,
		AccountCode: "4000",
		Normal:      shared.NormalCredit,
		Period:      jan,
		Debit:       shared.Amount("0"),
		Credit:      shared.Amount("50"),
	}
	group := []Delta{supplies(jan, "50", "0"), sales}
	res, err := agg.Reserve(ctx, SeriesKeys(group))
	require.NoError(t, err)

	done := make(chan TrialBalance, 1)
	go func() {
		tb, err := agg.TrialBalance(ctx, 1, jan)
		assert.NoError(t, err)
		done <- tb
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("trial balance completed while a posting was reserved")
	default:
	}

	require.NoError(t, res.Apply(ctx, group))
	res.Release()

	tb := <-done
	assert.True(t, tb.Balanced())
	assert.True(t, tb.TotalDebit.Equal(shared.Amount("60")), tb.TotalDebit.String())
	assert.Len(t, tb.Rows, 3)
}

type hookSource struct {
	deltas []Delta
	after  func()
}

func (s hookSource) Deltas(ctx context.Context, companyID int64) ([]Delta, error) {
	if s.after != nil {
		s.after()
	}
	return s.deltas, nil
}

func TestRebuildKeepsPostingAppliedDuringLedgerRead(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(WithLockTimeout(5 * time.Second))
	require.NoError(t, agg.ApplyDelta(ctx, supplies(jan, "100", "0")))

	applied := make(chan error, 1)
	src := hookSource{
		deltas: []Delta{supplies(jan, "100", "0")},
		after: func() {
			go func() { applied <- agg.ApplyDelta(ctx, supplies(jan, "25", "0")) }()
		},
	}
	require.NoError(t, agg.Rebuild(ctx, src, 1))
	require.NoError(t, <-applied)

	row, err := agg.Get(ctx, 1, 5010, jan)
	require.NoError(t, err)
	assert.True(t, row.DebitTotal.Equal(shared.Amount("125")), row.DebitTotal.String())
	assert.True(t, row.Ending.Equal(shared.Amount("125")), row.Ending.String())
}

func TestSnapshotTimesOutWhileReservationHeld(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(WithLockTimeout(20 * time.Millisecond))
	res, err := agg.Reserve(ctx, SeriesKeys([]Delta{supplies(jan, "1", "0")}))
	require.NoError(t, err)
	defer res.Release()

	_, err = agg.Snapshot(ctx, 1)
	require.ErrorIs(t, err, shared.ErrLockTimeout)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = agg.Snapshot(cancelled, 1)
	require.ErrorIs(t, err, context.Canceled)
}
