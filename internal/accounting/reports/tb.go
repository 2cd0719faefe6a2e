package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// AccountResolver looks up chart accounts by id.
type AccountResolver interface {
	ResolveID(companyID, id int64) (accounts.Account, error)
}

// AccountBalance models a general ledger account with aggregated period balances.
type AccountBalance struct {
	Code    string
	Name    string
	Type    accounts.AccountType
	Normal  shared.NormalBalance
	Opening decimal.Decimal
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Closing computes the closing balance in the direction of the normal balance.
func (a AccountBalance) Closing() decimal.Decimal {
	return a.Opening.Add(a.Normal.Signed(a.Debit, a.Credit))
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// FromBalances joins account level balance rows with their chart entries. Adjustments
// are folded into the debit and credit columns.
func FromBalances(rows []balances.Balance, chart AccountResolver) []AccountBalance {
	out := make([]AccountBalance, 0, len(rows))
	for _, row := range rows {
		if !row.Sub.IsZero() {
			continue
		}
		ab := AccountBalance{
			Code:    row.AccountCode,
			Normal:  row.Normal,
			Opening: row.Beginning,
			Debit:   row.DebitTotal.Add(row.AdjustmentDebit),
			Credit:  row.CreditTotal.Add(row.AdjustmentCredit),
		}
		if chart != nil {
			if acct, err := chart.ResolveID(row.CompanyID, row.AccountID); err == nil {
				ab.Name = acct.Name
				ab.Type = acct.Type
			}
		}
		out = append(out, ab)
	}
	return out
}

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Opening decimal.Decimal `json:"opening"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Closing decimal.Decimal `json:"closing"`
}

// TrialBalanceGroup aggregates accounts for presentation.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Debit    decimal.Decimal       `json:"debit"`
	Credit   decimal.Decimal       `json:"credit"`
}

// TrialBalance is the grouped report of one company and period.
type TrialBalance struct {
	CompanyID   int64               `json:"company_id"`
	Period      shared.FiscalPeriod `json:"period"`
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
	Balanced    bool                `json:"balanced"`
}

// BuildTrialBalance converts account balances into grouped trial balance data.
// Opening and closing amounts are signed by each account's normal balance, so
// only the movement columns are totalled.
func BuildTrialBalance(companyID int64, period shared.FiscalPeriod, accts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range accts {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key, Debit: decimal.Zero, Credit: decimal.Zero}
			groups[key] = grp
			keys = append(keys, key)
		}
		grp.Accounts = append(grp.Accounts, TrialBalanceAccount{
			Code:    acc.Code,
			Name:    acc.Name,
			Opening: acc.Opening,
			Debit:   acc.Debit,
			Credit:  acc.Credit,
			Closing: acc.Closing(),
		})
		grp.Debit = grp.Debit.Add(acc.Debit)
		grp.Credit = grp.Credit.Add(acc.Credit)
	}

	sort.Strings(keys)
	result := TrialBalance{CompanyID: companyID, Period: period, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
	}
	result.Balanced = result.TotalDebit.Equal(result.TotalCredit)
	return result
}
