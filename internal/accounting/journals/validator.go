package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// ChartResolver looks accounts up in a company chart.
type ChartResolver interface {
	Resolve(companyID int64, code string) (accounts.Account, error)
}

// LockChecker answers whether a (company, module, period) is closed.
type LockChecker interface {
	IsClosed(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (bool, error)
}

// SubAccountResolver is the owning module's callback resolving a sub-account to its display name.
type SubAccountResolver interface {
	ResolveSubAccount(ctx context.Context, ref shared.SubAccount) (string, error)
}

// SubAccountResolverFunc adapts a function to SubAccountResolver.
type SubAccountResolverFunc func(ctx context.Context, ref shared.SubAccount) (string, error)

// ResolveSubAccount calls f.
func (f SubAccountResolverFunc) ResolveSubAccount(ctx context.Context, ref shared.SubAccount) (string, error) {
	return f(ctx, ref)
}

// EchoResolver accepts every sub-account and returns its cached display name.
var EchoResolver = SubAccountResolverFunc(func(ctx context.Context, ref shared.SubAccount) (string, error) {
	return ref.DisplayName(), nil
})

// CheckedLine is a validated line with its resolved account.
type CheckedLine struct {
	LineInput
	Account accounts.Account
	SubName string
}

// Checked is the outcome of a successful validation.
type Checked struct {
	Request PostingRequest
	Period  shared.FiscalPeriod
	Lines   []CheckedLine
}

// Validator is the pure pre-commit check of a journal entry group.
type Validator struct {
	chart     ChartResolver
	locks     LockChecker
	calendar  shared.FiscalCalendar
	resolvers map[shared.Module]SubAccountResolver
}

// NewValidator constructs a Validator.
func NewValidator(chart ChartResolver, locks LockChecker, calendar shared.FiscalCalendar) *Validator {
	return &Validator{chart: chart, locks: locks, calendar: calendar, resolvers: make(map[shared.Module]SubAccountResolver)}
}

// RegisterResolver installs the sub-account resolver of module. Call during wiring only.
func (v *Validator) RegisterResolver(module shared.Module, r SubAccountResolver) {
	v.resolvers[module] = r
}

// Calendar returns the fiscal calendar used to derive periods.
func (v *Validator) Calendar() shared.FiscalCalendar {
	return v.calendar
}

// Validate runs the checks in order: group header, account postability, line count,
// line shape, balance, period lock, sub-account resolution. Each check reports every offending line.
func (v *Validator) Validate(ctx context.Context, req PostingRequest) (Checked, error) {
	if err := checkStructure(req); err != nil {
		return Checked{}, err
	}
	lines := make([]CheckedLine, len(req.Lines))

	var issues []shared.LineIssue
	for i, l := range req.Lines {
		code := strings.TrimSpace(l.AccountCode)
		acct, err := v.chart.Resolve(req.CompanyID, code)
		switch {
		case err != nil:
			issues = append(issues, shared.LineIssue{Index: i, AccountCode: code, Detail: "account not found"})
		case !acct.IsActive:
			issues = append(issues, shared.LineIssue{Index: i, AccountCode: code, Detail: "account inactive"})
		case acct.HasChildren:
			issues = append(issues, shared.LineIssue{Index: i, AccountCode: code, Detail: "rollup account"})
		}
		lines[i] = CheckedLine{LineInput: l, Account: acct}
		lines[i].AccountCode = code
	}
	if len(issues) > 0 {
		return Checked{}, shared.Reject(shared.ReasonAccountNotPostable, "lines reference accounts that cannot receive postings", issues...)
	}
	if len(req.Lines) < 2 {
		return Checked{}, shared.Reject(shared.ReasonMalformedEntry, "an entry group needs at least two lines")
	}

	for i, l := range req.Lines {
		if detail := lineDefect(l); detail != "" {
			issues = append(issues, shared.LineIssue{Index: i, AccountCode: lines[i].AccountCode, Detail: detail})
		}
	}
	if len(issues) > 0 {
		return Checked{}, shared.Reject(shared.ReasonMalformedLine, "each line needs exactly one positive side", issues...)
	}

	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range req.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if !debit.Equal(credit) {
		return Checked{}, shared.Reject(shared.ReasonUnbalancedEntry,
			fmt.Sprintf("debits %s do not equal credits %s", shared.FormatAmount(debit), shared.FormatAmount(credit)))
	}

	period := v.calendar.PeriodOf(req.PostingDate)
	if v.locks != nil {
		closed, err := v.locks.IsClosed(ctx, req.CompanyID, req.Module, period)
		if err != nil {
			return Checked{}, fmt.Errorf("journals: lock status: %w", err)
		}
		if closed {
			return Checked{}, shared.Reject(shared.ReasonPeriodClosed,
				fmt.Sprintf("period %s is closed for %s in company %d", period, req.Module, req.CompanyID))
		}
	}

	for i, l := range req.Lines {
		if l.SubAccount == nil {
			continue
		}
		name, err := v.resolveSub(ctx, req.Module, l.SubAccount)
		if err != nil {
			if ctx.Err() != nil {
				return Checked{}, ctx.Err()
			}
			issues = append(issues, shared.LineIssue{Index: i, AccountCode: lines[i].AccountCode,
				Detail: fmt.Sprintf("%s: %v", shared.KeyOf(l.SubAccount), err)})
			continue
		}
		lines[i].SubName = name
	}
	if len(issues) > 0 {
		return Checked{}, shared.Reject(shared.ReasonInvalidSubAccount, "sub-accounts not resolvable by the owning module", issues...)
	}
	return Checked{Request: req, Period: period, Lines: lines}, nil
}

func (v *Validator) resolveSub(ctx context.Context, module shared.Module, ref shared.SubAccount) (string, error) {
	r, ok := v.resolvers[module]
	if !ok {
		return "", fmt.Errorf("%w %s", ErrNoResolver, module)
	}
	return r.ResolveSubAccount(ctx, ref)
}

func checkStructure(req PostingRequest) error {
	var missing []string
	if req.CompanyID <= 0 {
		missing = append(missing, "company")
	}
	if !req.Module.Valid() {
		missing = append(missing, "module")
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		missing = append(missing, "document id")
	}
	if req.DocumentVersion < 0 {
		missing = append(missing, "document version")
	}
	if req.PostingDate.IsZero() {
		missing = append(missing, "posting date")
	}
	if len(missing) > 0 {
		return shared.Reject(shared.ReasonMalformedEntry, "missing or invalid "+strings.Join(missing, ", "))
	}
	return nil
}

func lineDefect(l LineInput) string {
	switch {
	case l.Debit.IsNegative() || l.Credit.IsNegative():
		return "negative amount"
	case !l.Debit.IsZero() && !l.Credit.IsZero():
		return "both debit and credit set"
	case l.Debit.IsZero() && l.Credit.IsZero():
		return "zero amount"
	case !shared.HasValidScale(l.Debit) || !shared.HasValidScale(l.Credit):
		return fmt.Sprintf("more than %d fractional digits", shared.Scale)
	default:
		return ""
	}
}

// IsRejection reports whether err is a validation rejection rather than an infrastructure failure.
func IsRejection(err error) bool {
	var pe *shared.PostingError
	return errors.As(err, &pe)
}
