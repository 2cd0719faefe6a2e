package journals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

var (
	jan = shared.FiscalPeriod{Year: 2025, Period: 1}
	feb = shared.FiscalPeriod{Year: 2025, Period: 2}
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	registry  *accounts.Registry
	agg       *balances.Aggregator
	periods   *periods.Manager
	repo      *MemoryRepository
	validator *Validator
	store     *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := accounts.NewRegistry()
	chart := registry.Ensure(1)
	for _, in := range []accounts.NewAccountInput{
		{ID: 1000, Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset},
		{ID: 1100, Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset, ParentCode: "1000"},
		{ID: 1200, Code: "1200", Name: "Receivables", Type: accounts.AccountTypeAsset, ParentCode: "1000"},
		{ID: 2000, Code: "2000", Name: "Accounts Payable", Type: accounts.AccountTypeLiability},
		{ID: 4000, Code: "4000", Name: "Sales", Type: accounts.AccountTypeRevenue},
		{ID: 5000, Code: "5000", Name: "Expenses", Type: accounts.AccountTypeExpense},
		{ID: 5010, Code: "5010", Name: "Office Supplies", Type: accounts.AccountTypeExpense, ParentCode: "5000"},
		{ID: 6000, Code: "6000", Name: "Retired", Type: accounts.AccountTypeExpense},
	} {
		_, err := chart.Add(in, 1, nil)
		require.NoError(t, err)
	}
	_, err := chart.SetActive("6000", false, 1)
	require.NoError(t, err)

	agg := balances.NewAggregator()
	mgr := periods.NewManager(periods.NewMemoryRepository(), agg, periods.WithModules(shared.ModuleGeneral))
	repo := NewMemoryRepository(mgr)
	validator := NewValidator(registry, mgr, shared.DefaultCalendar)
	validator.RegisterResolver(shared.ModuleGeneral, EchoResolver)
	return &fixture{
		registry:  registry,
		agg:       agg,
		periods:   mgr,
		repo:      repo,
		validator: validator,
		store:     NewStore(repo, validator, mgr, agg),
	}
}

func debit(code, amt string) LineInput {
	return LineInput{AccountCode: code, Debit: shared.Amount(amt), Credit: shared.Amount("0")}
}

func credit(code, amt string) LineInput {
	return LineInput{AccountCode: code, Debit: shared.Amount("0"), Credit: shared.Amount(amt)}
}

func supplyPurchase(doc string) PostingRequest {
	return PostingRequest{
		CompanyID:   1,
		Module:      shared.ModuleGeneral,
		DocumentID:  doc,
		PostingDate: day(2025, time.January, 5),
		ActorID:     9,
		Lines:       []LineInput{debit("5010", "1000"), credit("2000", "1000")},
	}
}

func (f *fixture) ending(t *testing.T, accountID int64, p shared.FiscalPeriod) string {
	t.Helper()
	b, err := f.agg.Get(context.Background(), 1, accountID, p)
	require.NoError(t, err)
	return shared.FormatAmount(b.Ending)
}
