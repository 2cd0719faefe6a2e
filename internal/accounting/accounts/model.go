package accounts

import (
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// DefaultNormalBalance returns the conventional normal balance for t.
func (t AccountType) DefaultNormalBalance() shared.NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return shared.NormalDebit
	default:
		return shared.NormalCredit
	}
}

// DefaultStatement returns the statement an account of type t reports on.
func (t AccountType) DefaultStatement() StatementClass {
	switch t {
	case AccountTypeRevenue, AccountTypeExpense:
		return StatementIncome
	default:
		return StatementBalanceSheet
	}
}

// StatementClass is the financial statement classification of an account.
type StatementClass string

const (
	StatementBalanceSheet StatementClass = "BALANCE_SHEET"
	StatementIncome       StatementClass = "INCOME_STATEMENT"
)

// Account models a chart of accounts node.
type Account struct {
	ID          int64                `json:"id"`
	CompanyID   int64                `json:"company_id"`
	Code        string               `json:"code"`
	Name        string               `json:"name"`
	Type        AccountType          `json:"type"`
	Normal      shared.NormalBalance `json:"normal_balance"`
	Statement   StatementClass       `json:"statement"`
	Level       int                  `json:"level"`
	ParentID    *int64               `json:"parent_id,omitempty"`
	HasChildren bool                 `json:"has_children"`
	IsActive    bool                 `json:"is_active"`
	CreatedBy   int64                `json:"created_by"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedBy   int64                `json:"updated_by"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewAccountInput describes a chart node to create.
type NewAccountInput struct {
	ID         int64
	Code       string
	Name       string
	Type       AccountType
	Normal     shared.NormalBalance
	Statement  StatementClass
	ParentCode string
}

var (
	// ErrAccountNotFound indicates an unknown account code or id.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrDuplicateCode indicates the code already exists for the company.
	ErrDuplicateCode = errors.New("accounts: account code already exists")
	// ErrInvalidCode indicates a non numeric or empty code.
	ErrInvalidCode = errors.New("accounts: account code must be numeric")
	// ErrInvalidType indicates an unknown account type or normal balance.
	ErrInvalidType = errors.New("accounts: invalid account type")
	// ErrCycle indicates a structural change would make the tree cyclic.
	ErrCycle = errors.New("accounts: hierarchy cycle")
	// ErrHasHistory indicates the change would turn a posted leaf into a rollup or drop history.
	ErrHasHistory = errors.New("accounts: account has ledger history")
	// ErrHasChildren indicates a rollup cannot be removed.
	ErrHasChildren = errors.New("accounts: account has children")
	// ErrChartNotLoaded indicates no chart is registered for the company.
	ErrChartNotLoaded = errors.New("accounts: chart not loaded for company")
)
