package balances

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// SeriesKey identifies one running balance: an account, optionally narrowed to a sub-account.
type SeriesKey struct {
	CompanyID int64
	AccountID int64
	Sub       shared.SubAccountKey
}

func (k SeriesKey) String() string {
	if k.Sub.IsZero() {
		return fmt.Sprintf("%d/%d", k.CompanyID, k.AccountID)
	}
	return fmt.Sprintf("%d/%d/%s", k.CompanyID, k.AccountID, k.Sub)
}

func (k SeriesKey) less(o SeriesKey) bool {
	if k.CompanyID != o.CompanyID {
		return k.CompanyID < o.CompanyID
	}
	if k.AccountID != o.AccountID {
		return k.AccountID < o.AccountID
	}
	if k.Sub.Kind != o.Sub.Kind {
		return k.Sub.Kind < o.Sub.Kind
	}
	return k.Sub.ID < o.Sub.ID
}

// Key identifies one balance row.
type Key struct {
	SeriesKey
	Period shared.FiscalPeriod
}

// Delta is the movement one posted line contributes to a balance series.
type Delta struct {
	CompanyID   int64
	AccountID   int64
	AccountCode string
	Normal      shared.NormalBalance
	Sub         shared.SubAccountKey
	Period      shared.FiscalPeriod
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Adjusting   bool
}

// Series returns the account level series key of d.
func (d Delta) Series() SeriesKey {
	return SeriesKey{CompanyID: d.CompanyID, AccountID: d.AccountID}
}

// SubSeries returns the sub-account series key of d and whether d carries one.
func (d Delta) SubSeries() (SeriesKey, bool) {
	if d.Sub.IsZero() {
		return SeriesKey{}, false
	}
	return SeriesKey{CompanyID: d.CompanyID, AccountID: d.AccountID, Sub: d.Sub}, true
}

// SeriesKeys lists every series the deltas touch.
func SeriesKeys(deltas []Delta) []SeriesKey {
	seen := map[SeriesKey]struct{}{}
	var out []SeriesKey
	add := func(k SeriesKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for _, d := range deltas {
		add(d.Series())
		if sub, ok := d.SubSeries(); ok {
			add(sub)
		}
	}
	return out
}

// Balance is a period balance row. Rows with a non-zero Sub are sub-account balances.
type Balance struct {
	CompanyID        int64                `json:"company_id"`
	AccountID        int64                `json:"account_id"`
	AccountCode      string               `json:"account_code"`
	Sub              shared.SubAccountKey `json:"sub_account,omitempty"`
	Period           shared.FiscalPeriod  `json:"period"`
	PeriodStart      time.Time            `json:"period_start"`
	PeriodEnd        time.Time            `json:"period_end"`
	Normal           shared.NormalBalance `json:"normal_balance"`
	Beginning        decimal.Decimal      `json:"beginning_balance"`
	DebitTotal       decimal.Decimal      `json:"debit_total"`
	CreditTotal      decimal.Decimal      `json:"credit_total"`
	Ending           decimal.Decimal      `json:"ending_balance"`
	AdjustmentDebit  decimal.Decimal      `json:"adjustment_debit"`
	AdjustmentCredit decimal.Decimal      `json:"adjustment_credit"`
	AdjustedEnding   decimal.Decimal      `json:"adjusted_ending_balance"`
	Closed           bool                 `json:"is_closed"`
	ClosedAt         *time.Time           `json:"closed_at,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Key returns the row identity.
func (b Balance) Key() Key {
	return Key{SeriesKey: SeriesKey{CompanyID: b.CompanyID, AccountID: b.AccountID, Sub: b.Sub}, Period: b.Period}
}

func (b *Balance) recompute() {
	b.Ending = b.Beginning.Add(b.Normal.Signed(b.DebitTotal, b.CreditTotal))
	b.AdjustedEnding = b.Ending.Add(b.Normal.Signed(b.AdjustmentDebit, b.AdjustmentCredit))
}

// Net returns the signed movement of the row including adjustments.
func (b Balance) Net() decimal.Decimal {
	return b.AdjustedEnding.Sub(b.Beginning)
}

// TrialBalance summarises account level rows of one company and period.
type TrialBalance struct {
	CompanyID   int64               `json:"company_id"`
	Period      shared.FiscalPeriod `json:"period"`
	Rows        []Balance           `json:"rows"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
}

// Balanced reports whether company-wide debits equal credits.
func (t TrialBalance) Balanced() bool {
	return t.TotalDebit.Equal(t.TotalCredit)
}

// Drift reports a maintained row that differs from its replayed value.
type Drift struct {
	Key        Key     `json:"key"`
	Maintained Balance `json:"maintained"`
	Replayed   Balance `json:"replayed"`
	Missing    bool    `json:"missing,omitempty"`
}

var (
	// ErrBalanceNotFound indicates no row exists for the key yet.
	ErrBalanceNotFound = errors.New("balances: balance not found")
	// ErrReservationReleased indicates use of a released reservation.
	ErrReservationReleased = errors.New("balances: reservation already released")
	// ErrNotReserved indicates a delta outside the reserved series.
	ErrNotReserved = errors.New("balances: series not reserved")
)
