package accounting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recordlocks"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

var (
	jan = shared.FiscalPeriod{Year: 2025, Period: 1}
	feb = shared.FiscalPeriod{Year: 2025, Period: 2}
)

type capturingNotifier struct {
	mu     sync.Mutex
	events []periods.PeriodEvent
}

func (n *capturingNotifier) Notify(ctx context.Context, evt periods.PeriodEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSubAccountResolver(shared.ModuleGeneral, journals.EchoResolver)}, opts...)
	e, err := NewEngine(MemoryStorage(nil), Config{Modules: []shared.Module{shared.ModuleGeneral}}, opts...)
	require.NoError(t, err)
	ctx := context.Background()
	for _, in := range []accounts.NewAccountInput{
		{ID: 1100, Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset},
		{ID: 2000, Code: "2000", Name: "Accounts Payable", Type: accounts.AccountTypeLiability},
		{ID: 5000, Code: "5000", Name: "Expenses", Type: accounts.AccountTypeExpense},
		{ID: 5010, Code: "5010", Name: "Supplies", Type: accounts.AccountTypeExpense, ParentCode: "5000"},
	} {
		_, err := e.AddAccount(ctx, 1, 1, in)
		require.NoError(t, err)
	}
	return e
}

func supplies(doc string, date time.Time) journals.PostingRequest {
	return journals.PostingRequest{
		CompanyID:   1,
		Module:      shared.ModuleGeneral,
		DocumentID:  doc,
		PostingDate: date,
		ActorID:     9,
		Lines: []journals.LineInput{
			{AccountCode: "5010", Debit: shared.Amount("1000"), Credit: shared.Amount("0")},
			{AccountCode: "2000", Debit: shared.Amount("0"), Credit: shared.Amount("1000")},
		},
	}
}

func TestEngineSupplyScenario(t *testing.T) {
	ctx := context.Background()
	notifier := &capturingNotifier{}
	e := newEngine(t, WithNotifier(notifier))
	g1 := supplies("G1", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC))

	_, err := e.SubmitPosting(ctx, g1)
	require.NoError(t, err)

	bal, err := e.QueryBalance(ctx, 1, "5010", jan)
	require.NoError(t, err)
	assert.Equal(t, "1000.0000", shared.FormatAmount(bal.Ending))

	rec, err := e.ClosePeriod(ctx, periods.CloseRequest{CompanyID: 1, Module: shared.ModuleGeneral, Period: jan, ActorID: 2})
	require.NoError(t, err)
	assert.True(t, rec.IsPosted)

	bal, err = e.QueryBalance(ctx, 1, "5010", jan)
	require.NoError(t, err)
	assert.True(t, bal.Closed)

	st, err := e.QueryLockStatus(ctx, 1, shared.ModuleGeneral, jan)
	require.NoError(t, err)
	assert.True(t, st.Closed)
	assert.True(t, st.FullyClosed)

	g1.DocumentID = "G1-resubmitted"
	_, err = e.SubmitPosting(ctx, g1)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, periods.EventPeriodClosed, notifier.events[0].Type)
}

func TestEngineQueryBalanceWithoutMovement(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	_, err := e.SubmitPosting(ctx, supplies("G1", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	carried, err := e.QueryBalance(ctx, 1, "2000", feb)
	require.NoError(t, err)
	assert.Equal(t, "1000.0000", shared.FormatAmount(carried.Beginning))
	assert.Equal(t, "1000.0000", shared.FormatAmount(carried.Ending))

	untouched, err := e.QueryBalance(ctx, 1, "1100", jan)
	require.NoError(t, err)
	assert.True(t, untouched.Ending.IsZero())
	assert.Equal(t, shared.NormalDebit, untouched.Normal)

	_, err = e.QueryBalance(ctx, 1, "9999", jan)
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestEngineSubAccountBalance(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	req := supplies("G1", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC))
	req.Lines[1].SubAccount = shared.SupplierRef{ID: 44, Name: "Acme"}
	_, err := e.SubmitPosting(ctx, req)
	require.NoError(t, err)

	key := shared.SubAccountKey{Kind: shared.SubAccountSupplier, ID: 44}
	bal, err := e.QuerySubAccountBalance(ctx, 1, "2000", key, jan)
	require.NoError(t, err)
	assert.Equal(t, "1000.0000", shared.FormatAmount(bal.Ending))

	other, err := e.QuerySubAccountBalance(ctx, 1, "2000", shared.SubAccountKey{Kind: shared.SubAccountSupplier, ID: 45}, jan)
	require.NoError(t, err)
	assert.True(t, other.Ending.IsZero())

	_, err = e.QuerySubAccountBalance(ctx, 1, "2000", shared.SubAccountKey{}, jan)
	require.ErrorIs(t, err, shared.ErrInvalidSubAccount)
}

func TestEngineTrialBalanceAndVerify(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	for _, doc := range []string{"G1", "G2", "G3"} {
		_, err := e.SubmitPosting(ctx, supplies(doc, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)))
		require.NoError(t, err)
	}

	tb, err := e.TrialBalance(ctx, 1, jan)
	require.NoError(t, err)
	assert.True(t, tb.Balanced)
	assert.Equal(t, "3000.0000", shared.FormatAmount(tb.TotalDebit))

	drift, err := e.Verify(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestEngineStatements(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	_, err := e.SubmitPosting(ctx, supplies("S1", time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	st, err := e.Statements(ctx, 1, jan)
	require.NoError(t, err)
	require.Len(t, st.ProfitAndLoss.Expense.Accounts, 1)
	assert.Equal(t, "5010", st.ProfitAndLoss.Expense.Accounts[0].Code)
	assert.Equal(t, "1000.0000", shared.FormatAmount(st.ProfitAndLoss.Expense.Total))
	assert.Equal(t, "-1000.0000", shared.FormatAmount(st.ProfitAndLoss.NetIncome))
	require.Len(t, st.BalanceSheet.Liabilities.Accounts, 1)
	assert.Equal(t, "1000.0000", shared.FormatAmount(st.BalanceSheet.Liabilities.Total))
}

func TestEngineRebuildKeepsClosedRows(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	_, err := e.SubmitPosting(ctx, supplies("G1", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = e.ClosePeriod(ctx, periods.CloseRequest{CompanyID: 1, Module: shared.ModuleGeneral, Period: jan, ActorID: 2})
	require.NoError(t, err)

	require.NoError(t, e.Rebuild(ctx, 1))

	bal, err := e.QueryBalance(ctx, 1, "5010", jan)
	require.NoError(t, err)
	assert.Equal(t, "1000.0000", shared.FormatAmount(bal.Ending))
	assert.True(t, bal.Closed)
	assert.Equal(t, []int64{1}, e.Companies())
}

func TestEngineReverseIntoOpenPeriod(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	res, err := e.SubmitPosting(ctx, supplies("G1", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = e.ClosePeriod(ctx, periods.CloseRequest{CompanyID: 1, Module: shared.ModuleGeneral, Period: jan, ActorID: 2})
	require.NoError(t, err)

	_, err = e.ReverseEntry(ctx, journals.ReverseInput{GroupID: res.GroupID, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	date := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	rev, err := e.ReverseEntry(ctx, journals.ReverseInput{GroupID: res.GroupID, ActorID: 3, PostingDate: &date})
	require.NoError(t, err)
	assert.NotEqual(t, res.GroupID, rev.GroupID)

	original, err := e.Group(ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, journals.StatusVoided, original.Status)

	bal, err := e.QueryBalance(ctx, 1, "5010", feb)
	require.NoError(t, err)
	assert.True(t, bal.Ending.IsZero())
}

func TestEngineReopenThenPost(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	_, err := e.ClosePeriod(ctx, periods.CloseRequest{CompanyID: 1, Module: shared.ModuleGeneral, Period: jan, ActorID: 2})
	require.NoError(t, err)
	_, err = e.ReopenPeriod(ctx, periods.ReopenRequest{CompanyID: 1, Module: shared.ModuleGeneral, Period: jan, ActorID: 2, Reason: "late invoice"})
	require.NoError(t, err)

	_, err = e.SubmitPosting(ctx, supplies("LATE", time.Date(2025, time.January, 30, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
}

func TestEngineRecordLocks(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ref := recordlocks.DocumentRef{CompanyID: 1, Module: shared.ModulePurchase, DocumentID: "PO-7"}
	asOf := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
	_, err := e.LockRecord(ctx, recordlocks.LockInput{Document: ref, AsOf: asOf, Quantity: shared.Amount("3"), Price: shared.Amount("12.5"), ActorID: 4})
	require.NoError(t, err)

	snap, err := e.LookupRecordLock(ctx, ref, asOf.AddDate(0, 0, 10), true)
	require.NoError(t, err)
	assert.Equal(t, "37.5000", shared.FormatAmount(snap.Amount()))

	_, err = e.LookupRecordLock(ctx, ref, asOf.AddDate(0, 0, 10), false)
	require.ErrorIs(t, err, recordlocks.ErrSnapshotNotFound)
}

func TestEngineRejectsMissingCompany(t *testing.T) {
	e := newEngine(t)
	req := supplies("G1", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC))
	req.CompanyID = 0
	_, err := e.SubmitPosting(context.Background(), req)
	require.ErrorIs(t, err, shared.ErrMalformedEntry)
}

func TestNewEngineRequiresStorage(t *testing.T) {
	_, err := NewEngine(Storage{}, Config{})
	require.True(t, errors.Is(err, ErrStorageIncomplete))
}
