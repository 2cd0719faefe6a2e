package periods

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

var (
	jan = shared.FiscalPeriod{Year: 2025, Period: 1}
	feb = shared.FiscalPeriod{Year: 2025, Period: 2}
	mar = shared.FiscalPeriod{Year: 2025, Period: 3}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []PeriodEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, evt PeriodEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func newManager(t *testing.T, opts ...Option) (*Manager, *balances.Aggregator) {
	t.Helper()
	agg := balances.NewAggregator()
	opts = append([]Option{WithModules(shared.ModuleGeneral, shared.ModuleSales)}, opts...)
	return NewManager(NewMemoryRepository(), agg, opts...), agg
}

func closeReq(module shared.Module, p shared.FiscalPeriod) CloseRequest {
	return CloseRequest{CompanyID: 1, Module: module, Period: p, ActorID: 7}
}

func reopenReq(module shared.Module, p shared.FiscalPeriod) ReopenRequest {
	return ReopenRequest{CompanyID: 1, Module: module, Period: p, ActorID: 7, Reason: "late invoice"}
}

func reasonOf(t *testing.T, err error) shared.Reason {
	t.Helper()
	require.Error(t, err)
	reason, ok := shared.ReasonOf(err)
	require.True(t, ok, "unexpected error %v", err)
	return reason
}

func TestCloseSequential(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	rec, err := m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
	require.NoError(t, err)
	assert.True(t, rec.IsPosted)
	require.NotNil(t, rec.PostedBy)
	assert.Equal(t, int64(7), *rec.PostedBy)

	_, err = m.ClosePeriod(ctx, closeReq(shared.ModuleSales, mar))
	assert.Equal(t, shared.ReasonCannotCloseOutOfOrder, reasonOf(t, err))
	assert.ErrorIs(t, err, shared.ErrCannotCloseOutOfOrder)

	_, err = m.ClosePeriod(ctx, closeReq(shared.ModuleSales, feb))
	require.NoError(t, err)

	closed, err := m.IsClosed(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = m.IsClosed(ctx, 1, shared.ModuleSales, mar)
	require.NoError(t, err)
	assert.False(t, closed)
	closed, err = m.IsClosed(ctx, 1, shared.ModulePurchase, jan)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestFirstCloseMayStartAnywhere(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.ClosePeriod(ctx, closeReq(shared.ModuleGeneral, feb))
	require.NoError(t, err)

	closed, err := m.IsClosed(ctx, 1, shared.ModuleGeneral, jan)
	require.NoError(t, err)
	assert.True(t, closed, "periods before the first close count as closed")
}

func TestCloseAlreadyClosedReturnsRecord(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	first, err := m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
	require.NoError(t, err)

	again, err := m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestReopenOnlyLatest(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	for _, p := range []shared.FiscalPeriod{jan, feb} {
		_, err := m.ClosePeriod(ctx, closeReq(shared.ModuleSales, p))
		require.NoError(t, err)
	}

	_, err := m.ReopenPeriod(ctx, reopenReq(shared.ModuleSales, jan))
	assert.Equal(t, shared.ReasonCannotReopenOutOfOrder, reasonOf(t, err))

	_, err = m.ReopenPeriod(ctx, reopenReq(shared.ModuleSales, mar))
	assert.ErrorIs(t, err, ErrPeriodNotClosed)

	rec, err := m.ReopenPeriod(ctx, reopenReq(shared.ModuleSales, feb))
	require.NoError(t, err)
	assert.False(t, rec.IsPosted)
	require.NotNil(t, rec.ReopenedBy)

	closed, err := m.IsClosed(ctx, 1, shared.ModuleSales, feb)
	require.NoError(t, err)
	assert.False(t, closed)
	closed, err = m.IsClosed(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	assert.True(t, closed)

	_, err = m.ReopenPeriod(ctx, reopenReq(shared.ModuleSales, jan))
	require.NoError(t, err)
	closed, err = m.IsClosed(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestFullCloseMarksBalances(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	m, agg := newManager(t, WithNotifier(notifier))

	_, err := m.ClosePeriod(ctx, closeReq(shared.ModuleGeneral, jan))
	require.NoError(t, err)
	assert.False(t, agg.IsClosed(1, jan))

	_, err = m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
	require.NoError(t, err)
	assert.True(t, agg.IsClosed(1, jan))

	st, err := m.Status(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	assert.True(t, st.Closed)
	assert.True(t, st.FullyClosed)
	require.NotNil(t, st.Record)

	_, err = m.ReopenPeriod(ctx, reopenReq(shared.ModuleSales, jan))
	require.NoError(t, err)
	assert.False(t, agg.IsClosed(1, jan))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.events, 3)
	assert.Equal(t, EventPeriodClosed, notifier.events[0].Type)
	assert.False(t, notifier.events[0].FullyClosed)
	assert.True(t, notifier.events[1].FullyClosed)
	assert.Equal(t, EventPeriodReopened, notifier.events[2].Type)
}

func TestBeginPostingRejectedWhileClosing(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, WithDrainTimeout(time.Second))

	release, err := m.BeginPosting(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
		done <- err
	}()

	require.Eventually(t, func() bool {
		st, err := m.Status(ctx, 1, shared.ModuleSales, jan)
		return err == nil && st.Closing
	}, time.Second, 5*time.Millisecond)

	_, err = m.BeginPosting(ctx, 1, shared.ModuleSales, jan)
	assert.Equal(t, shared.ReasonPeriodClosing, reasonOf(t, err))
	assert.True(t, shared.IsRetryable(err))

	later, err := m.BeginPosting(ctx, 1, shared.ModuleSales, feb)
	require.NoError(t, err, "later periods stay open during the close")
	later()

	release()
	require.NoError(t, <-done)

	closed, err := m.IsClosed(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestCloseDrainTimeout(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, WithDrainTimeout(20*time.Millisecond))

	release, err := m.BeginPosting(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	defer release()

	_, err = m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLockTimeout)
	assert.True(t, shared.IsRetryable(err))

	closed, err := m.IsClosed(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	assert.False(t, closed)

	next, err := m.BeginPosting(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err, "a failed close lifts the gate")
	next()
}

func TestPendingDocumentsBlockClose(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t,
		WithPendingChecker(shared.ModuleSales, PendingCheckerFunc(func(ctx context.Context, companyID int64, p shared.FiscalPeriod) ([]string, error) {
			return []string{"SO-2", "SO-1"}, nil
		})),
		WithPendingChecker(shared.ModuleSales, PendingCheckerFunc(func(ctx context.Context, companyID int64, p shared.FiscalPeriod) ([]string, error) {
			return nil, nil
		})),
	)

	_, err := m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
	assert.Equal(t, shared.ReasonUnbalancedOpenEntries, reasonOf(t, err))
	var pe *shared.PostingError
	require.True(t, errors.As(err, &pe))
	require.Len(t, pe.Lines, 2)
	assert.Contains(t, pe.Lines[0].Detail, "SO-1")

	_, err = m.ClosePeriod(ctx, closeReq(shared.ModuleGeneral, jan))
	require.NoError(t, err, "checkers are per module")
}

func TestPendingCheckerFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("sales unavailable")
	m, _ := newManager(t, WithPendingChecker(shared.ModuleSales, PendingCheckerFunc(func(ctx context.Context, companyID int64, p shared.FiscalPeriod) ([]string, error) {
		return nil, boom
	})))

	_, err := m.ClosePeriod(ctx, closeReq(shared.ModuleSales, jan))
	assert.ErrorIs(t, err, boom)
}

func TestUnbalancedTrialBalanceBlocksClose(t *testing.T) {
	ctx := context.Background()
	m, agg := newManager(t)
	require.NoError(t, agg.ApplyDelta(ctx, balances.Delta{
		CompanyID: 1, AccountID: 5010, AccountCode: "5010", Normal: shared.NormalDebit,
		Period: jan, Debit: shared.Amount("10"), Credit: shared.Amount("0"),
	}))

	_, err := m.ClosePeriod(ctx, closeReq(shared.ModuleGeneral, jan))
	assert.Equal(t, shared.ReasonUnbalancedOpenEntries, reasonOf(t, err))
	var pe *shared.PostingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{"5010"}, pe.Accounts)
}

func TestCloseValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.ClosePeriod(ctx, CloseRequest{CompanyID: 1, Module: "TREASURY", Period: jan, ActorID: 7})
	assert.Equal(t, shared.ReasonMalformedEntry, reasonOf(t, err))

	_, err = m.ClosePeriod(ctx, CloseRequest{CompanyID: 1, Module: shared.ModuleSales, Period: shared.FiscalPeriod{Year: 2025, Period: 13}, ActorID: 7})
	assert.Equal(t, shared.ReasonMalformedEntry, reasonOf(t, err))
}

type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) ListPosted(ctx context.Context, companyID int64, module shared.Module) ([]PostedPeriod, error) {
	return nil, errors.New("db down")
}

func TestIsClosedSurfacesLoadErrors(t *testing.T) {
	m := NewManager(failingRepo{NewMemoryRepository()}, balances.NewAggregator())
	_, err := m.IsClosed(context.Background(), 1, shared.ModuleSales, jan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestIndexLoadedFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, PostedPeriod{CompanyID: 1, Module: shared.ModuleSales, Period: jan, IsPosted: true, PostedOn: &now}))
	m := NewManager(repo, balances.NewAggregator())

	closed, err := m.IsClosed(ctx, 1, shared.ModuleSales, jan)
	require.NoError(t, err)
	assert.True(t, closed)

	_, err = m.ClosePeriod(ctx, closeReq(shared.ModuleSales, mar))
	assert.Equal(t, shared.ReasonCannotCloseOutOfOrder, reasonOf(t, err))
}
